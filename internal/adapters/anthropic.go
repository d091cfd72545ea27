package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/modelgate/modelgate/internal/schema"
	"github.com/modelgate/modelgate/internal/toolschema"
)

// AnthropicAdapter speaks the Anthropic Messages API: typed SSE events where
// text arrives as text_delta fragments, tool invocations arrive as tool_use
// blocks interleaved with text blocks, and message_stop is terminal.
type AnthropicAdapter struct {
	apiKey       string
	baseURL      string
	defaultModel string
	httpClient   *http.Client
}

const anthropicVersion = "2023-06-01"

// NewAnthropicAdapter constructs the adapter from raw config values.
func NewAnthropicAdapter(apiKey, baseURL, defaultModel string) *AnthropicAdapter {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &AnthropicAdapter{
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
	}
}

func (a *AnthropicAdapter) Name() string          { return "anthropic" }
func (a *AnthropicAdapter) SupportsToolUse() bool { return true }

func (a *AnthropicAdapter) ToolDefinitions() []map[string]any {
	return toolschema.FlatDefinitions()
}

type anthropicRequest struct {
	model string
	body  []byte
}

func (r *anthropicRequest) Model() string { return r.model }

func (*anthropicRequest) adapterRequest() {}

// FormatRequest translates a turn into the Messages API body.
func (a *AnthropicAdapter) FormatRequest(chat schema.ChatContext, model string) (Request, error) {
	if a.apiKey == "" {
		return nil, &schema.ConfigError{Reason: "no Anthropic API key configured"}
	}
	if model == "" {
		model = a.defaultModel
	}
	if model == "" {
		return nil, &schema.ConfigError{Reason: "no model selected for anthropic"}
	}

	withTools := chat.Prefs.EnableTools
	prefs := effectivePrefs(chat.Prefs)

	body := map[string]any{
		"model":       model,
		"max_tokens":  prefs.MaxTokens,
		"temperature": prefs.Temperature,
		"stream":      true,
		"system":      buildSystemPrompt(chat, withTools),
		"messages":    anthropicMessages(chat),
	}
	if withTools {
		body["tools"] = a.ToolDefinitions()
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}
	return &anthropicRequest{model: model, body: data}, nil
}

// anthropicMessages converts the canonical history into Anthropic wire
// messages. Tool results become tool_result blocks; consecutive tool results
// merge into one user message, as the API requires.
func anthropicMessages(chat schema.ChatContext) []map[string]any {
	var out []map[string]any

	appendToolResult := func(block map[string]any) {
		if len(out) > 0 && out[len(out)-1]["role"] == "user" {
			prev := out[len(out)-1]
			if blocks, ok := prev["content"].([]any); ok {
				prev["content"] = append(blocks, block)
				return
			}
		}
		out = append(out, map[string]any{"role": "user", "content": []any{block}})
	}

	convert := func(msg schema.Message) {
		switch msg.Role {
		case "user":
			out = append(out, map[string]any{"role": "user", "content": msg.Content})

		case "tool":
			appendToolResult(map[string]any{
				"type":        "tool_result",
				"tool_use_id": msg.ToolCallID,
				"content":     msg.Content,
			})

		case "assistant":
			var blocks []any
			if msg.Content != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Name,
					"input": tc.Arguments,
				})
			}
			if len(blocks) == 0 {
				blocks = []any{map[string]any{"type": "text", "text": ""}}
			}
			out = append(out, map[string]any{"role": "assistant", "content": blocks})
		}
	}

	for _, msg := range chat.Session.Previous {
		convert(msg)
	}
	for _, r := range chat.Session.ToolResults {
		appendToolResult(map[string]any{
			"type":        "tool_result",
			"tool_use_id": r.CallID,
			"content":     r.Content,
			"is_error":    r.IsError,
		})
	}
	if chat.UserMessage != "" {
		out = append(out, map[string]any{"role": "user", "content": chat.UserMessage})
	}
	return out
}

// Send performs the streaming call and normalises the typed SSE events.
func (a *AnthropicAdapter) Send(ctx context.Context, req Request, h Handlers) (schema.Completion, error) {
	ar, ok := req.(*anthropicRequest)
	if !ok {
		err := fmt.Errorf("anthropic: foreign request type %T", req)
		h.fail(err)
		return schema.Completion{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/v1/messages", bytes.NewReader(ar.body))
	if err != nil {
		h.fail(err)
		return schema.Completion{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("Accept", "text/event-stream")

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

	c, err := a.consumeEventStream(ctx, resp.Body, h)
	if err != nil {
		h.fail(err)
		return schema.Completion{}, err
	}
	h.complete(c)
	return c, nil
}

// toolUseBuffer accumulates one tool_use block across its argument deltas.
type toolUseBuffer struct {
	id   string
	name string
	args strings.Builder
}

func (a *AnthropicAdapter) consumeEventStream(ctx context.Context, body io.Reader, h Handlers) (schema.Completion, error) {
	var (
		dec       SSEDecoder
		content   strings.Builder
		usage     schema.TokenUsage
		finish    = "stop"
		open      = map[int]*toolUseBuffer{} // index → in-flight tool_use block
		calls     []schema.ToolCall
		terminal  bool
		streamErr error
	)

	closeBlock := func(index int) {
		buf, ok := open[index]
		if !ok {
			return
		}
		delete(open, index)
		args, err := repairJSON(buf.args.String())
		if err != nil {
			slog.Warn("anthropic: unparsable tool_use input", "tool", buf.name, "err", err)
			args = map[string]any{}
		}
		calls = append(calls, schema.ToolCall{ID: buf.id, Name: buf.name, Arguments: args})
	}

	handle := func(ev SSEEvent) bool {
		var payload struct {
			Type  string `json:"type"`
			Index int    `json:"index"`
			Message struct {
				Usage struct {
					InputTokens int `json:"input_tokens"`
				} `json:"usage"`
			} `json:"message"`
			ContentBlock struct {
				Type string `json:"type"`
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"content_block"`
			Delta struct {
				Type        string `json:"type"`
				Text        string `json:"text"`
				PartialJSON string `json:"partial_json"`
				StopReason  string `json:"stop_reason"`
			} `json:"delta"`
			Usage struct {
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
			slog.Warn("anthropic: skipping malformed event", "err", err)
			return true
		}

		switch payload.Type {
		case "message_start":
			usage.InputTokens = payload.Message.Usage.InputTokens
		case "content_block_start":
			if payload.ContentBlock.Type == "tool_use" {
				open[payload.Index] = &toolUseBuffer{
					id:   payload.ContentBlock.ID,
					name: payload.ContentBlock.Name,
				}
			}
		case "content_block_delta":
			switch payload.Delta.Type {
			case "text_delta":
				content.WriteString(payload.Delta.Text)
				h.chunk(payload.Delta.Text)
			case "input_json_delta":
				if buf, ok := open[payload.Index]; ok {
					buf.args.WriteString(payload.Delta.PartialJSON)
				}
			}
		case "content_block_stop":
			closeBlock(payload.Index)
		case "message_delta":
			if payload.Usage.OutputTokens > 0 {
				usage.OutputTokens = payload.Usage.OutputTokens
			}
			if payload.Delta.StopReason != "" {
				finish = payload.Delta.StopReason
			}
		case "message_stop":
			terminal = true
			return false
		case "error":
			streamErr = &schema.ProviderHTTPError{
				Provider: a.Name(),
				Status:   http.StatusOK,
				Body:     payload.Error.Message,
			}
			return false
		}
		return true
	}

	err := readStream(ctx, body, func(p []byte) bool {
		for _, ev := range dec.Feed(p) {
			if !handle(ev) {
				return false
			}
		}
		return true
	})
	if streamErr != nil {
		return schema.Completion{}, streamErr
	}
	if err != nil {
		return schema.Completion{}, &schema.TransportError{Provider: a.Name(), Err: err}
	}
	if !terminal {
		if ev, ok := dec.Flush(); ok {
			handle(ev)
		}
	}
	// Close any block the stream dropped without a content_block_stop.
	for index := range open {
		closeBlock(index)
	}

	return schema.Completion{
		Content:      content.String(),
		ToolCalls:    calls,
		Usage:        usage,
		FinishReason: finish,
	}, nil
}

// ParseToolCalls returns the tool_use blocks extracted during streaming.
func (a *AnthropicAdapter) ParseToolCalls(c schema.Completion) []schema.ToolCall {
	return append([]schema.ToolCall(nil), c.ToolCalls...)
}

// FormatToolResult shapes one outcome for replay; the wire-level tool_result
// block is assembled by FormatRequest.
func (a *AnthropicAdapter) FormatToolResult(callID string, res schema.ToolResultBlock) schema.ToolResultBlock {
	res.CallID = callID
	return res
}

// Models returns the static Anthropic catalog with per-million pricing.
func (a *AnthropicAdapter) Models(_ context.Context) []schema.ModelInfo {
	return []schema.ModelInfo{
		{
			ID: "claude-sonnet-4-20250514", DisplayName: "Claude Sonnet 4",
			ContextWindow: 200_000,
			Pricing:       schema.ModelPricing{InputPerMillion: 3.0, OutputPerMillion: 15.0},
			SupportsTools: true,
		},
		{
			ID: "claude-opus-4-20250514", DisplayName: "Claude Opus 4",
			ContextWindow: 200_000,
			Pricing:       schema.ModelPricing{InputPerMillion: 15.0, OutputPerMillion: 75.0},
			SupportsTools: true,
		},
		{
			ID: "claude-haiku-4-5-20251001", DisplayName: "Claude Haiku 4.5",
			ContextWindow: 200_000,
			Pricing:       schema.ModelPricing{InputPerMillion: 0.80, OutputPerMillion: 4.0},
			SupportsTools: true,
		},
	}
}

// ValidateCredential probes the models endpoint with the configured key.
func (a *AnthropicAdapter) ValidateCredential(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ErrorMessage maps transport and HTTP failures to actionable text.
func (a *AnthropicAdapter) ErrorMessage(err error) string {
	if isConnectionRefused(err) {
		return "Cannot reach the Anthropic API — check your network connection."
	}
	switch status := httpStatusOf(err); {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "Invalid Anthropic API key — check your configured credentials."
	case status == http.StatusTooManyRequests:
		return "Anthropic rate limit exceeded — wait a moment and retry."
	case status == http.StatusRequestEntityTooLarge:
		return "The request exceeds the model's context window — remove some context files."
	case status == http.StatusBadRequest && strings.Contains(err.Error(), "too long"):
		return "The request exceeds the model's context window — remove some context files."
	case status >= 500:
		return "The Anthropic API is currently unavailable — try again later."
	}
	return err.Error()
}
