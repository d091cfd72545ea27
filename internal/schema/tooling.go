package schema

import (
	"context"
	"encoding/json"
)

// ToolResultBlock is the outcome of executing one ToolCall. A block exists for
// every call issued in a batch, success or failure, before the follow-up
// request is sent.
type ToolResultBlock struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// FailedToolResult builds the recoverable failure block for a tool call whose
// execution raised an error.
func FailedToolResult(call ToolCall, err error) ToolResultBlock {
	payload, _ := json.Marshal(map[string]any{
		"kind":        "execution_error",
		"message":     err.Error(),
		"recoverable": true,
	})
	return ToolResultBlock{
		CallID:  call.ID,
		Name:    call.Name,
		Content: string(payload),
		IsError: true,
	}
}

// ApprovalContext carries what the tool executor needs to decide whether a
// mutating tool call may proceed.
type ApprovalContext struct {
	ProjectRoot string
	// Approve is consulted for tools that require approval. nil means
	// auto-deny everything that is not read-only.
	Approve func(call ToolCall) bool
}

// ToolExecutor is the external collaborator that runs tool calls. The
// orchestration loop calls ExecuteTool once per ToolCall and converts any
// returned error into a failed ToolResultBlock.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, call ToolCall, approval ApprovalContext) (string, error)
	SetProjectRoot(path string)
}
