package schema

// TokenUsage is the token accounting reported by a backend for one call.
// Counts default to zero when the backend omits them.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// Completion is the normalised terminal result of one backend call.
//
// Content is the concatenation of every text increment the backend streamed,
// in arrival order. ToolCalls holds the structured tool invocations the
// backend embedded in the response; they are extracted from the content
// stream, never concatenated into Content.
type Completion struct {
	Content      string
	ToolCalls    []ToolCall
	Usage        TokenUsage
	FinishReason string
}

// AssistantMessage converts the completion into the history entry that
// represents it in a follow-up request.
func (c Completion) AssistantMessage() Message {
	return NewAssistantMessage(c.Content, c.ToolCalls)
}

// StreamEvent is the wire form of one normalised streaming event, used where
// the event contract crosses a process boundary (the serve relay). Exactly one
// terminal event ("complete" or "error") ends every stream.
type StreamEvent struct {
	Kind       string      `json:"kind"` // "chunk" | "complete" | "error"
	Text       string      `json:"text,omitempty"`
	Completion *Completion `json:"completion,omitempty"`
	Error      string      `json:"error,omitempty"`
}
