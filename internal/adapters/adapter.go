// Package adapters contains the per-backend protocol translators. Each
// adapter converts the canonical schema.ChatContext into its backend's wire
// format, normalises the backend's streaming response into one chunk/terminal
// event contract, and maps backend errors to actionable text. Adapters hold
// only static configuration (credentials, endpoint) and are safe to share
// across concurrent calls.
package adapters

import (
	"context"

	"github.com/modelgate/modelgate/internal/schema"
)

// Request is an adapter-specific serialised request, built fresh per call and
// never reused. Its payload is opaque outside the adapter that built it, but
// Model exposes the model id the request resolved to after default-model
// fallback, so usage can be priced against the model actually served.
type Request interface {
	Model() string

	adapterRequest()
}

// Handlers are the per-call streaming callbacks. OnChunk fires zero or more
// times with text increments in arrival order; exactly one of OnComplete or
// OnError fires as the terminal action. Callbacks run synchronously on the
// goroutine driving Send — callers must not assume a separate thread.
type Handlers struct {
	OnChunk    func(text string)
	OnComplete func(c schema.Completion)
	OnError    func(err error)
}

func (h Handlers) chunk(text string) {
	if h.OnChunk != nil && text != "" {
		h.OnChunk(text)
	}
}

func (h Handlers) complete(c schema.Completion) {
	if h.OnComplete != nil {
		h.OnComplete(c)
	}
}

func (h Handlers) fail(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

// Adapter is the capability set every backend implementation satisfies.
type Adapter interface {
	// Name returns the registry name of the provider this adapter serves.
	Name() string

	// FormatRequest deterministically translates a turn into the backend's
	// wire format. It returns *schema.ConfigError when required credentials
	// or the model are absent, and never mutates chat.
	FormatRequest(chat schema.ChatContext, model string) (Request, error)

	// Send performs the backend call, streaming text increments through
	// h.OnChunk and finishing with exactly one terminal callback. The same
	// outcome is returned, so callers may await or register callbacks.
	Send(ctx context.Context, req Request, h Handlers) (schema.Completion, error)

	// ParseToolCalls extracts the tool invocations from a completed
	// response. It is pure and returns an empty slice when the backend made
	// no tool calls or does not support tools.
	ParseToolCalls(c schema.Completion) []schema.ToolCall

	// FormatToolResult shapes one tool outcome for replay to the backend.
	FormatToolResult(callID string, res schema.ToolResultBlock) schema.ToolResultBlock

	// Models lists the models this backend can serve. Backends that need a
	// network round trip degrade to a single "unknown" placeholder when
	// unreachable.
	Models(ctx context.Context) []schema.ModelInfo

	// ValidateCredential reports whether the configured credential (or
	// endpoint, for local backends) is usable.
	ValidateCredential(ctx context.Context) bool

	// SupportsToolUse reports whether this backend accepts tool definitions.
	SupportsToolUse() bool

	// ToolDefinitions renders the tool catalog in this backend's shape.
	// Empty when SupportsToolUse is false.
	ToolDefinitions() []map[string]any

	// ErrorMessage maps a transport or backend error to human-actionable
	// text ("invalid API key", "service not running", ...).
	ErrorMessage(err error) string
}
