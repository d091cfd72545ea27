package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/modelgate/modelgate/internal/schema"
	"github.com/modelgate/modelgate/internal/toolschema"
)

// OllamaAdapter speaks the local HTTP model runtime's newline-delimited JSON
// protocol: one JSON object per line, done:true terminal. Some model families
// emit the tool-call structure only on a later partial line than the one
// announcing it, so streamed message objects are merged with field-level
// precedence; models without native structured tool output are covered by
// scanning the accumulated text for an inline tagged notation.
type OllamaAdapter struct {
	baseURL      string
	defaultModel string
	httpClient   *http.Client
}

// NewOllamaAdapter constructs the adapter from raw config values.
func NewOllamaAdapter(baseURL, defaultModel string) *OllamaAdapter {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaAdapter{
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		httpClient:   &http.Client{Timeout: 300 * time.Second},
	}
}

func (a *OllamaAdapter) Name() string          { return "ollama" }
func (a *OllamaAdapter) SupportsToolUse() bool { return true }

func (a *OllamaAdapter) ToolDefinitions() []map[string]any {
	return toolschema.FunctionDefinitions()
}

type ollamaRequest struct {
	model string
	body  []byte
}

func (r *ollamaRequest) Model() string { return r.model }

func (*ollamaRequest) adapterRequest() {}

// FormatRequest translates a turn into the local runtime's chat body. No
// credential is required; only the model must be known.
func (a *OllamaAdapter) FormatRequest(chat schema.ChatContext, model string) (Request, error) {
	if model == "" {
		model = a.defaultModel
	}
	if model == "" {
		return nil, &schema.ConfigError{Reason: "no model selected for ollama"}
	}

	withTools := chat.Prefs.EnableTools
	prefs := effectivePrefs(chat.Prefs)

	messages := []map[string]any{
		{"role": "system", "content": buildSystemPrompt(chat, withTools)},
	}
	for _, msg := range chat.Session.Previous {
		messages = append(messages, ollamaMessage(msg))
	}
	for _, r := range chat.Session.ToolResults {
		messages = append(messages, map[string]any{
			"role":    "tool",
			"content": r.Content,
		})
	}
	if chat.UserMessage != "" {
		messages = append(messages, map[string]any{"role": "user", "content": chat.UserMessage})
	}

	body := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   true,
		"options": map[string]any{
			"temperature": prefs.Temperature,
			"num_predict": prefs.MaxTokens,
		},
	}
	if withTools {
		body["tools"] = a.ToolDefinitions()
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}
	return &ollamaRequest{model: model, body: data}, nil
}

func ollamaMessage(msg schema.Message) map[string]any {
	wire := map[string]any{"role": msg.Role, "content": msg.Content}
	if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
		raw := make([]map[string]any, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			raw[i] = map[string]any{
				"function": map[string]any{
					"name":      tc.Name,
					"arguments": tc.Arguments,
				},
			}
		}
		wire["tool_calls"] = raw
	}
	return wire
}

// ollamaToolCall mirrors the runtime's structured tool-call shape. Arguments
// arrive as an object, not a JSON string.
type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

// mergeToolCalls merges the tool_calls field of a streamed message object
// into the accumulated state with field-level precedence: a field that has
// appeared survives a later chunk that omits it, and a later non-empty field
// always overrides an earlier value.
func mergeToolCalls(acc, next []ollamaToolCall) []ollamaToolCall {
	if len(next) == 0 {
		return acc
	}
	if len(acc) == 0 {
		return next
	}
	merged := make([]ollamaToolCall, 0, max(len(acc), len(next)))
	for i := range next {
		call := next[i]
		if i < len(acc) {
			if call.Function.Name == "" {
				call.Function.Name = acc[i].Function.Name
			}
			if len(call.Function.Arguments) == 0 {
				call.Function.Arguments = acc[i].Function.Arguments
			}
		}
		merged = append(merged, call)
	}
	if len(acc) > len(next) {
		merged = append(merged, acc[len(next):]...)
	}
	return merged
}

// inlineToolCallRe matches the textual tool-call notation some models emit in
// plain content instead of the structured field.
var inlineToolCallRe = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)

// scanInlineToolCalls extracts tagged tool calls from accumulated text and
// returns the text with the tag spans removed. Malformed embedded JSON is
// skipped without aborting.
func scanInlineToolCalls(content string) (string, []schema.ToolCall) {
	matches := inlineToolCallRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return content, nil
	}
	var calls []schema.ToolCall
	for _, m := range matches {
		var payload struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(m[1]), &payload); err != nil || payload.Name == "" {
			slog.Warn("ollama: skipping malformed inline tool call", "err", err)
			continue
		}
		if payload.Arguments == nil {
			payload.Arguments = map[string]any{}
		}
		calls = append(calls, schema.ToolCall{
			ID:        fmt.Sprintf("call_%d", len(calls)),
			Name:      payload.Name,
			Arguments: payload.Arguments,
		})
	}
	stripped := strings.TrimSpace(inlineToolCallRe.ReplaceAllString(content, ""))
	return stripped, calls
}

// Send performs the streaming call and normalises the NDJSON records.
func (a *OllamaAdapter) Send(ctx context.Context, req Request, h Handlers) (schema.Completion, error) {
	or, ok := req.(*ollamaRequest)
	if !ok {
		err := fmt.Errorf("ollama: foreign request type %T", req)
		h.fail(err)
		return schema.Completion{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/api/chat", bytes.NewReader(or.body))
	if err != nil {
		h.fail(err)
		return schema.Completion{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		terr := &schema.TransportError{Provider: a.Name(), Err: err}
		h.fail(terr)
		return schema.Completion{}, terr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		perr := &schema.ProviderHTTPError{Provider: a.Name(), Status: resp.StatusCode, Body: truncateBody(raw)}
		h.fail(perr)
		return schema.Completion{}, perr
	}

	c, err := a.consumeNDJSON(ctx, resp.Body, h)
	if err != nil {
		h.fail(err)
		return schema.Completion{}, err
	}
	h.complete(c)
	return c, nil
}

func (a *OllamaAdapter) consumeNDJSON(ctx context.Context, body io.Reader, h Handlers) (schema.Completion, error) {
	var (
		lines   LineDecoder
		content strings.Builder
		usage   schema.TokenUsage
		finish  = "stop"
		merged  []ollamaToolCall
	)

	handle := func(line string) bool {
		if strings.TrimSpace(line) == "" {
			return true
		}
		var record struct {
			Message struct {
				Content   string           `json:"content"`
				ToolCalls []ollamaToolCall `json:"tool_calls"`
			} `json:"message"`
			Done            bool   `json:"done"`
			DoneReason      string `json:"done_reason"`
			PromptEvalCount int    `json:"prompt_eval_count"`
			EvalCount       int    `json:"eval_count"`
		}
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			slog.Warn("ollama: skipping malformed record", "err", err)
			return true
		}

		if record.Message.Content != "" {
			content.WriteString(record.Message.Content)
			h.chunk(record.Message.Content)
		}
		merged = mergeToolCalls(merged, record.Message.ToolCalls)

		if record.Done {
			usage.InputTokens = record.PromptEvalCount
			usage.OutputTokens = record.EvalCount
			if record.DoneReason != "" {
				finish = record.DoneReason
			}
			return false
		}
		return true
	}

	err := readStream(ctx, body, func(p []byte) bool {
		for _, line := range lines.Feed(p) {
			if !handle(line) {
				return false
			}
		}
		return true
	})
	if err != nil {
		return schema.Completion{}, &schema.TransportError{Provider: a.Name(), Err: err}
	}
	if line, ok := lines.Flush(); ok {
		handle(line)
	}

	calls := make([]schema.ToolCall, 0, len(merged))
	for i, mc := range merged {
		if mc.Function.Name == "" {
			continue
		}
		args := mc.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, schema.ToolCall{
			ID:        fmt.Sprintf("call_%d", i),
			Name:      mc.Function.Name,
			Arguments: args,
		})
	}

	text := content.String()
	if len(calls) == 0 {
		var inline []schema.ToolCall
		text, inline = scanInlineToolCalls(text)
		calls = append(calls, inline...)
	}

	return schema.Completion{
		Content:      text,
		ToolCalls:    calls,
		Usage:        usage,
		FinishReason: finish,
	}, nil
}

// ParseToolCalls returns the structured calls merged during streaming, or the
// inline tagged calls recovered from the text.
func (a *OllamaAdapter) ParseToolCalls(c schema.Completion) []schema.ToolCall {
	if len(c.ToolCalls) > 0 {
		return append([]schema.ToolCall(nil), c.ToolCalls...)
	}
	_, calls := scanInlineToolCalls(c.Content)
	return calls
}

// FormatToolResult shapes one outcome for replay; the wire-level tool message
// is assembled by FormatRequest.
func (a *OllamaAdapter) FormatToolResult(callID string, res schema.ToolResultBlock) schema.ToolResultBlock {
	res.CallID = callID
	return res
}

// Models asks the runtime which models are installed. A local runtime may not
// be running at all, so unreachability degrades to a single placeholder.
func (a *OllamaAdapter) Models(ctx context.Context) []schema.ModelInfo {
	placeholder := []schema.ModelInfo{{ID: "unknown", DisplayName: "Unknown (service unreachable)"}}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return placeholder
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return placeholder
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return placeholder
	}

	var listing struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return placeholder
	}

	out := make([]schema.ModelInfo, 0, len(listing.Models))
	for _, m := range listing.Models {
		out = append(out, schema.ModelInfo{
			ID:            m.Name,
			DisplayName:   m.Name,
			SupportsTools: true,
			// Local models are free; zero pricing yields zero cost.
		})
	}
	if len(out) == 0 {
		return placeholder
	}
	return out
}

// ValidateCredential reports whether the local service is reachable.
func (a *OllamaAdapter) ValidateCredential(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ErrorMessage maps transport and HTTP failures to actionable text.
func (a *OllamaAdapter) ErrorMessage(err error) string {
	if isConnectionRefused(err) {
		return "The Ollama service is not running — start it with `ollama serve`."
	}
	switch status := httpStatusOf(err); {
	case status == http.StatusNotFound:
		return "Model not found — pull it first with `ollama pull <model>`."
	case status >= 500:
		return "The Ollama service returned an internal error — check its logs."
	}
	return err.Error()
}
