package adapters

import (
	"fmt"
	"strings"
)

// Kind names the wire protocol family an adapter implements. Providers are
// resolved through the Specs table, never by runtime type inspection.
type Kind string

const (
	KindEventStream Kind = "event-stream" // typed SSE with a terminal event
	KindSSECompat   Kind = "sse-compat"   // data-line SSE with a [DONE] sentinel
	KindNDJSON      Kind = "ndjson"       // newline-delimited JSON, done:true terminal
	KindEmbedded    Kind = "embedded"     // in-process generation, no network
)

// Spec is the metadata record for one provider. Order = display priority.
type Spec struct {
	Name           string // config key, e.g. "anthropic"
	DisplayName    string
	Kind           Kind
	DefaultBaseURL string
	EnvKey         string // env var conventionally holding the API key
	RequiresKey    bool
}

// Specs is the provider registry.
var Specs = []Spec{
	{
		Name:           "anthropic",
		DisplayName:    "Anthropic",
		Kind:           KindEventStream,
		DefaultBaseURL: "https://api.anthropic.com",
		EnvKey:         "ANTHROPIC_API_KEY",
		RequiresKey:    true,
	},
	{
		Name:           "openai",
		DisplayName:    "OpenAI",
		Kind:           KindSSECompat,
		DefaultBaseURL: "https://api.openai.com/v1",
		EnvKey:         "OPENAI_API_KEY",
		RequiresKey:    true,
	},
	{
		Name:           "openrouter",
		DisplayName:    "OpenRouter",
		Kind:           KindSSECompat,
		DefaultBaseURL: "https://openrouter.ai/api/v1",
		EnvKey:         "OPENROUTER_API_KEY",
		RequiresKey:    true,
	},
	{
		Name:           "ollama",
		DisplayName:    "Ollama",
		Kind:           KindNDJSON,
		DefaultBaseURL: "http://localhost:11434",
	},
	{
		Name:        "embedded",
		DisplayName: "Embedded",
		Kind:        KindEmbedded,
	},
}

// FindByName returns the Spec whose Name equals name (case-insensitive).
func FindByName(name string) *Spec {
	name = strings.ToLower(name)
	for i := range Specs {
		if Specs[i].Name == name {
			return &Specs[i]
		}
	}
	return nil
}

// Params are the raw values needed to construct any Adapter. The caller
// extracts these from its config to avoid an import cycle.
type Params struct {
	Name         string
	APIKey       string
	BaseURL      string
	DefaultModel string
	Engine       Engine // embedded only
}

// New constructs the adapter for the named provider from the Specs table.
func New(p Params) (Adapter, error) {
	spec := FindByName(p.Name)
	if spec == nil {
		return nil, fmt.Errorf("unknown provider %q", p.Name)
	}
	baseURL := p.BaseURL
	if baseURL == "" {
		baseURL = spec.DefaultBaseURL
	}

	switch spec.Kind {
	case KindEventStream:
		return NewAnthropicAdapter(p.APIKey, baseURL, p.DefaultModel), nil
	case KindSSECompat:
		return NewOpenAIAdapter(spec.Name, p.APIKey, baseURL, p.DefaultModel, nil), nil
	case KindNDJSON:
		return NewOllamaAdapter(baseURL, p.DefaultModel), nil
	case KindEmbedded:
		return NewEmbeddedAdapter(p.Engine), nil
	}
	return nil, fmt.Errorf("provider %q has unsupported kind %q", p.Name, spec.Kind)
}
