package gateway

import (
	"context"
	"encoding/json"

	"github.com/modelgate/modelgate/internal/adapters"
	"github.com/modelgate/modelgate/internal/schema"
	"github.com/modelgate/modelgate/internal/shared/llmutils"
)

// SendOptions configures one turn. The callbacks mirror the streaming
// contract: OnChunk fires per text increment across every round of a tool
// loop; exactly one of OnComplete/OnError fires once, for the final response.
type SendOptions struct {
	Provider string // explicit provider; empty selects the active provider
	Model    string // empty selects the provider's default model

	// Executor runs tool calls. When nil the turn never enters the tool
	// loop, even if the backend requests tools.
	Executor schema.ToolExecutor
	Approval schema.ApprovalContext

	SessionID string
	ProjectID string

	OnChunk    func(text string)
	OnComplete func(c schema.Completion)
	OnError    func(err error)
}

// SendMessage drives one full turn: format, stream, record usage, and — when
// the response requests tools and an executor was supplied — execute the
// batch and re-query with the results until the backend answers without tool
// calls or the round limit is hit.
func (g *Gateway) SendMessage(ctx context.Context, chat schema.ChatContext, opts SendOptions) (schema.Completion, error) {
	provider, err := g.resolveProvider(opts.Provider)
	if err != nil {
		return g.fail(opts.Provider, "provider selection failed", err, opts.OnError)
	}

	adapter, err := g.Adapter(provider)
	if err != nil {
		return g.fail(provider, "adapter construction failed", err, opts.OnError)
	}

	toolsEnabled := chat.Prefs.EnableTools && adapter.SupportsToolUse() && opts.Executor != nil
	chat.Prefs.EnableTools = toolsEnabled
	if toolsEnabled && opts.Approval.ProjectRoot != "" {
		opts.Executor.SetProjectRoot(opts.Approval.ProjectRoot)
	}

	limit := g.maxToolRounds()
	for round := 0; ; round++ {
		if err := ctx.Err(); err != nil {
			return g.fail(provider, "turn cancelled", err, opts.OnError)
		}
		if round >= limit {
			return g.fail(provider, "tool loop aborted", &schema.ToolLoopLimitError{Limit: limit}, opts.OnError)
		}

		req, err := adapter.FormatRequest(chat, opts.Model)
		if err != nil {
			return g.fail(provider, "request formatting failed", err, opts.OnError)
		}

		// Only chunks stream through to the caller here; the terminal
		// callback fires once, below, for the whole turn.
		completion, err := adapter.Send(ctx, req, adapters.Handlers{OnChunk: opts.OnChunk})
		if err != nil {
			return g.fail(provider, "backend call failed", err, opts.OnError)
		}

		// Price against the model the request resolved to, not opts.Model:
		// an empty opts.Model falls back to the adapter's configured default.
		g.recordUsage(ctx, adapter, provider, req.Model(), opts.SessionID, opts.ProjectID, completion.Usage)

		var calls []schema.ToolCall
		if toolsEnabled {
			calls = adapter.ParseToolCalls(completion)
		}
		if len(calls) == 0 {
			if opts.OnComplete != nil {
				opts.OnComplete(completion)
			}
			return completion, nil
		}

		g.log.Info("tool round", "round", round+1, "calls", llmutils.ToolHint(calls))
		results := g.executeToolBatch(ctx, adapter, calls, opts.Executor, opts.Approval)
		chat = chat.WithToolRound(completion.AssistantMessage(), results)
	}
}

// executeToolBatch runs a batch of tool calls sequentially — never
// concurrently, so side effects such as dependent file edits keep a
// deterministic order. A failing call produces a recoverable failure block
// and the batch continues: every issued call yields exactly one result block.
func (g *Gateway) executeToolBatch(
	ctx context.Context,
	adapter adapters.Adapter,
	calls []schema.ToolCall,
	executor schema.ToolExecutor,
	approval schema.ApprovalContext,
) []schema.ToolResultBlock {
	results := make([]schema.ToolResultBlock, 0, len(calls))
	for _, call := range calls {
		argsJSON, _ := json.Marshal(call.Arguments)
		g.log.Info("tool call", "name", call.Name, "args", llmutils.Truncate(string(argsJSON), 200))

		var block schema.ToolResultBlock
		output, err := executor.ExecuteTool(ctx, call, approval)
		if err != nil {
			g.log.Warn("tool execution failed", "name", call.Name, "err", err)
			block = schema.FailedToolResult(call, err)
		} else {
			block = schema.ToolResultBlock{CallID: call.ID, Name: call.Name, Content: output}
		}
		results = append(results, adapter.FormatToolResult(call.ID, block))
	}
	return results
}
