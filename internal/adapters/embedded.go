package adapters

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelgate/modelgate/internal/schema"
)

// Engine is the in-process generation backend the embedded adapter wraps.
// Generate runs synchronously within the call, invoking emit once per
// produced token; it returns when generation finishes or ctx is cancelled.
type Engine interface {
	Loaded() bool
	ModelID() string
	Generate(ctx context.Context, prompt string, opts GenerateOptions, emit func(token string)) error
}

// GenerateOptions are the sampling settings passed to the engine.
type GenerateOptions struct {
	MaxTokens   int
	Temperature float64
}

// EmbeddedAdapter drives an in-process model. There is no network: chunks are
// delivered from the engine's token callback on the calling goroutine. The
// embedded backend never supports tool use.
type EmbeddedAdapter struct {
	engine Engine
}

// NewEmbeddedAdapter wraps engine; a nil engine means no model runtime was
// compiled in or attached, and every call fails with a clear error.
func NewEmbeddedAdapter(engine Engine) *EmbeddedAdapter {
	return &EmbeddedAdapter{engine: engine}
}

func (a *EmbeddedAdapter) Name() string                      { return "embedded" }
func (a *EmbeddedAdapter) SupportsToolUse() bool             { return false }
func (a *EmbeddedAdapter) ToolDefinitions() []map[string]any { return nil }

type embeddedRequest struct {
	model  string
	prompt string
	opts   GenerateOptions
}

func (r *embeddedRequest) Model() string { return r.model }

func (*embeddedRequest) adapterRequest() {}

// FormatRequest flattens the turn into a single prompt string. The embedded
// runtime has no structured message format.
func (a *EmbeddedAdapter) FormatRequest(chat schema.ChatContext, model string) (Request, error) {
	if a.engine == nil || !a.engine.Loaded() {
		return nil, &schema.ConfigError{Reason: "no embedded model is loaded"}
	}

	prefs := effectivePrefs(chat.Prefs)

	var sb strings.Builder
	sb.WriteString(buildSystemPrompt(chat, false))
	sb.WriteString("\n\n")
	for _, msg := range chat.Session.Previous {
		switch msg.Role {
		case "user":
			fmt.Fprintf(&sb, "User: %s\n", msg.Content)
		case "assistant":
			fmt.Fprintf(&sb, "Assistant: %s\n", msg.Content)
		}
	}
	if chat.UserMessage != "" {
		fmt.Fprintf(&sb, "User: %s\n", chat.UserMessage)
	}
	sb.WriteString("Assistant:")

	return &embeddedRequest{
		model:  a.engine.ModelID(),
		prompt: sb.String(),
		opts: GenerateOptions{
			MaxTokens:   prefs.MaxTokens,
			Temperature: prefs.Temperature,
		},
	}, nil
}

// Send generates synchronously, relaying each engine token as a chunk.
func (a *EmbeddedAdapter) Send(ctx context.Context, req Request, h Handlers) (schema.Completion, error) {
	er, ok := req.(*embeddedRequest)
	if !ok {
		err := fmt.Errorf("embedded: foreign request type %T", req)
		h.fail(err)
		return schema.Completion{}, err
	}
	if a.engine == nil || !a.engine.Loaded() {
		err := &schema.ConfigError{Reason: "no embedded model is loaded"}
		h.fail(err)
		return schema.Completion{}, err
	}

	var content strings.Builder
	err := a.engine.Generate(ctx, er.prompt, er.opts, func(token string) {
		content.WriteString(token)
		h.chunk(token)
	})
	if err != nil {
		h.fail(err)
		return schema.Completion{}, err
	}

	c := schema.Completion{
		Content:      content.String(),
		FinishReason: "stop",
	}
	h.complete(c)
	return c, nil
}

// ParseToolCalls always returns nothing: the embedded backend has no tool use.
func (a *EmbeddedAdapter) ParseToolCalls(schema.Completion) []schema.ToolCall { return nil }

func (a *EmbeddedAdapter) FormatToolResult(callID string, res schema.ToolResultBlock) schema.ToolResultBlock {
	res.CallID = callID
	return res
}

// Models reports the loaded model, or a placeholder when nothing is loaded.
func (a *EmbeddedAdapter) Models(_ context.Context) []schema.ModelInfo {
	if a.engine == nil || !a.engine.Loaded() {
		return []schema.ModelInfo{{ID: "unknown", DisplayName: "Unknown (no model loaded)"}}
	}
	return []schema.ModelInfo{{
		ID:          a.engine.ModelID(),
		DisplayName: a.engine.ModelID(),
		// In-process generation is free; zero pricing yields zero cost.
	}}
}

// ValidateCredential reports whether a model is loaded; there is no secret.
func (a *EmbeddedAdapter) ValidateCredential(context.Context) bool {
	return a.engine != nil && a.engine.Loaded()
}

// ErrorMessage maps engine failures to actionable text.
func (a *EmbeddedAdapter) ErrorMessage(err error) string {
	var cfg *schema.ConfigError
	if errors.As(err, &cfg) {
		return "No embedded model is loaded — load one before using the embedded provider."
	}
	return fmt.Sprintf("Embedded model error: %v", err)
}
