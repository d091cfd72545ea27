package schema

// ContextFile is one workspace file attached to a turn.
type ContextFile struct {
	Path            string
	Content         string
	Language        string
	LineCount       int
	EstimatedTokens int
}

// SessionContext carries the conversational state that precedes the current
// user message: prior messages, an optional rolling summary, and the tool
// results produced by the previous round of a tool loop.
type SessionContext struct {
	Previous    []Message
	Summary     string
	ToolResults []ToolResultBlock
}

// Preferences are the per-turn generation settings supplied by the caller.
type Preferences struct {
	Temperature float64
	MaxTokens   int
	EnableTools bool
}

// ChatContext is the canonical, adapter-agnostic representation of one
// conversational turn. It is immutable once constructed: the tool loop never
// mutates an existing ChatContext, it builds a new one per round-trip.
type ChatContext struct {
	Files       []ContextFile
	UserMessage string
	Session     SessionContext
	Prefs       Preferences
}

// WithToolRound returns a new ChatContext for the follow-up request after a
// batch of tool calls. The pending user message and the assistant's response
// (tool-invocation requests included) are folded into the history, and the
// batch's result blocks become the context's pending tool results.
func (c ChatContext) WithToolRound(assistant Message, results []ToolResultBlock) ChatContext {
	prev := make([]Message, 0, len(c.Session.Previous)+2)
	prev = append(prev, c.Session.Previous...)
	if c.UserMessage != "" {
		prev = append(prev, NewUserMessage(c.UserMessage))
	}
	for _, r := range c.Session.ToolResults {
		prev = append(prev, NewToolResultMessage(r.CallID, r.Name, r.Content))
	}
	prev = append(prev, assistant)

	next := c
	next.UserMessage = ""
	next.Session = SessionContext{
		Previous:    prev,
		Summary:     c.Session.Summary,
		ToolResults: results,
	}
	return next
}
