package schema

import "context"

// ModelPricing holds per-million-token pricing for a model. Zero values mean
// the backend is free (local or embedded).
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// ModelInfo describes one model a backend can serve.
type ModelInfo struct {
	ID            string
	DisplayName   string
	ContextWindow int
	Pricing       ModelPricing
	SupportsTools bool
}

// Cost computes the dollar cost of a call against this model's pricing.
func (m ModelInfo) Cost(usage TokenUsage) float64 {
	return float64(usage.InputTokens)/1_000_000*m.Pricing.InputPerMillion +
		float64(usage.OutputTokens)/1_000_000*m.Pricing.OutputPerMillion
}

// UsageRecord is the accounting entry for one completed backend call. A tool
// loop emits one record per round-trip, reflecting actual backend spend.
type UsageRecord struct {
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	ProjectID    string
	SessionID    string
	APIKeyID     string
}

// UsageRecorder is the external collaborator that persists usage records.
// Recording failures are logged by the caller and never abort a turn.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, rec UsageRecord) error
}

// CredentialStore resolves the identifier of the active API key for a
// provider, used only to tag usage records — never the secret itself.
type CredentialStore interface {
	ActiveAPIKeyID(provider string) string
}
