package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/modelgate/modelgate/internal/schema"
	"github.com/modelgate/modelgate/internal/toolschema"
)

// OpenAIAdapter speaks the OpenAI-compatible chat completions protocol:
// line-oriented "data: {json}" records terminated by a literal [DONE]
// sentinel. The same adapter serves every OpenAI-compatible gateway
// (OpenRouter etc.) under its registry name.
type OpenAIAdapter struct {
	name         string
	apiKey       string
	baseURL      string
	defaultModel string
	models       []schema.ModelInfo
	httpClient   *http.Client
}

// NewOpenAIAdapter constructs the adapter from raw config values. models is
// the static catalog served by Models; gateways pass their own list.
func NewOpenAIAdapter(name, apiKey, baseURL, defaultModel string, models []schema.ModelInfo) *OpenAIAdapter {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if len(models) == 0 {
		models = defaultOpenAIModels()
	}
	return &OpenAIAdapter{
		name:         name,
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		models:       models,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
	}
}

func (a *OpenAIAdapter) Name() string          { return a.name }
func (a *OpenAIAdapter) SupportsToolUse() bool { return true }

func (a *OpenAIAdapter) ToolDefinitions() []map[string]any {
	return toolschema.FunctionDefinitions()
}

type openAIRequest struct {
	model string
	body  []byte
}

func (r *openAIRequest) Model() string { return r.model }

func (*openAIRequest) adapterRequest() {}

// FormatRequest translates a turn into the chat completions body.
func (a *OpenAIAdapter) FormatRequest(chat schema.ChatContext, model string) (Request, error) {
	if a.apiKey == "" {
		return nil, &schema.ConfigError{Reason: "no API key configured for " + a.name}
	}
	if model == "" {
		model = a.defaultModel
	}
	if model == "" {
		return nil, &schema.ConfigError{Reason: "no model selected for " + a.name}
	}

	withTools := chat.Prefs.EnableTools
	prefs := effectivePrefs(chat.Prefs)

	messages := []map[string]any{
		{"role": "system", "content": buildSystemPrompt(chat, withTools)},
	}
	for _, msg := range chat.Session.Previous {
		messages = append(messages, openAIMessage(msg))
	}
	for _, r := range chat.Session.ToolResults {
		messages = append(messages, map[string]any{
			"role":         "tool",
			"tool_call_id": r.CallID,
			"name":         r.Name,
			"content":      r.Content,
		})
	}
	if chat.UserMessage != "" {
		messages = append(messages, map[string]any{"role": "user", "content": chat.UserMessage})
	}

	body := map[string]any{
		"model":          model,
		"messages":       messages,
		"max_tokens":     prefs.MaxTokens,
		"temperature":    prefs.Temperature,
		"stream":         true,
		"stream_options": map[string]any{"include_usage": true},
	}
	if withTools {
		body["tools"] = a.ToolDefinitions()
		body["tool_choice"] = "auto"
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", a.name, err)
	}
	return &openAIRequest{model: model, body: data}, nil
}

func openAIMessage(msg schema.Message) map[string]any {
	wire := map[string]any{"role": msg.Role, "content": msg.Content}
	switch msg.Role {
	case "assistant":
		if len(msg.ToolCalls) > 0 {
			raw := make([]map[string]any, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				raw[i] = tc.ToWireMap()
			}
			wire["tool_calls"] = raw
		}
	case "tool":
		wire["tool_call_id"] = msg.ToolCallID
		wire["name"] = msg.ToolName
	}
	return wire
}

// Send performs the streaming call and normalises the data-line records.
func (a *OpenAIAdapter) Send(ctx context.Context, req Request, h Handlers) (schema.Completion, error) {
	or, ok := req.(*openAIRequest)
	if !ok {
		err := fmt.Errorf("%s: foreign request type %T", a.name, req)
		h.fail(err)
		return schema.Completion{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/chat/completions", bytes.NewReader(or.body))
	if err != nil {
		h.fail(err)
		return schema.Completion{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		terr := &schema.TransportError{Provider: a.name, Err: err}
		h.fail(terr)
		return schema.Completion{}, terr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		perr := &schema.ProviderHTTPError{Provider: a.name, Status: resp.StatusCode, Body: truncateBody(raw)}
		h.fail(perr)
		return schema.Completion{}, perr
	}

	c, err := a.consumeDataLines(ctx, resp.Body, h)
	if err != nil {
		h.fail(err)
		return schema.Completion{}, err
	}
	h.complete(c)
	return c, nil
}

// toolCallDelta mirrors the incremental tool_calls entries in a delta record.
type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func (a *OpenAIAdapter) consumeDataLines(ctx context.Context, body io.Reader, h Handlers) (schema.Completion, error) {
	var (
		lines   LineDecoder
		content strings.Builder
		usage   schema.TokenUsage
		finish  = "stop"
		buffers = map[int]*toolUseBuffer{} // delta index → accumulating call
	)

	handle := func(line string) bool {
		if !strings.HasPrefix(line, "data:") {
			return true
		}
		data := strings.TrimSpace(line[len("data:"):])
		if data == "" {
			return true
		}
		if data == "[DONE]" {
			return false
		}

		var record struct {
			Choices []struct {
				Delta struct {
					Content   string          `json:"content"`
					ToolCalls []toolCallDelta `json:"tool_calls"`
				} `json:"delta"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
			Usage *struct {
				PromptTokens     int `json:"prompt_tokens"`
				CompletionTokens int `json:"completion_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			slog.Warn("openai: skipping malformed record", "provider", a.name, "err", err)
			return true
		}

		// A record may carry usage even after content stopped streaming;
		// latch from the last record that has it, never un-latch.
		if record.Usage != nil {
			usage.InputTokens = record.Usage.PromptTokens
			usage.OutputTokens = record.Usage.CompletionTokens
		}

		if len(record.Choices) == 0 {
			return true
		}
		choice := record.Choices[0]
		if choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
			h.chunk(choice.Delta.Content)
		}
		for _, tc := range choice.Delta.ToolCalls {
			buf, ok := buffers[tc.Index]
			if !ok {
				buf = &toolUseBuffer{}
				buffers[tc.Index] = buf
			}
			if tc.ID != "" {
				buf.id = tc.ID
			}
			if tc.Function.Name != "" {
				buf.name = tc.Function.Name
			}
			buf.args.WriteString(tc.Function.Arguments)
		}
		if choice.FinishReason != "" {
			finish = choice.FinishReason
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
		return schema.Completion{}, &schema.TransportError{Provider: a.name, Err: err}
	}
	if line, ok := lines.Flush(); ok {
		handle(line)
	}

	indexes := make([]int, 0, len(buffers))
	for i := range buffers {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	var calls []schema.ToolCall
	for _, i := range indexes {
		buf := buffers[i]
		args, err := repairJSON(buf.args.String())
		if err != nil {
			slog.Warn("openai: unparsable tool arguments", "tool", buf.name, "err", err)
			args = map[string]any{}
		}
		id := buf.id
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		calls = append(calls, schema.ToolCall{ID: id, Name: buf.name, Arguments: args})
	}

	return schema.Completion{
		Content:      content.String(),
		ToolCalls:    calls,
		Usage:        usage,
		FinishReason: finish,
	}, nil
}

// ParseToolCalls returns the tool calls accumulated during streaming.
func (a *OpenAIAdapter) ParseToolCalls(c schema.Completion) []schema.ToolCall {
	return append([]schema.ToolCall(nil), c.ToolCalls...)
}

// FormatToolResult shapes one outcome for replay; the wire-level tool message
// is assembled by FormatRequest.
func (a *OpenAIAdapter) FormatToolResult(callID string, res schema.ToolResultBlock) schema.ToolResultBlock {
	res.CallID = callID
	return res
}

// Models returns this endpoint's static catalog.
func (a *OpenAIAdapter) Models(_ context.Context) []schema.ModelInfo {
	return append([]schema.ModelInfo(nil), a.models...)
}

func defaultOpenAIModels() []schema.ModelInfo {
	return []schema.ModelInfo{
		{
			ID: "gpt-4o", DisplayName: "GPT-4o",
			ContextWindow: 128_000,
			Pricing:       schema.ModelPricing{InputPerMillion: 2.50, OutputPerMillion: 10.0},
			SupportsTools: true,
		},
		{
			ID: "gpt-4o-mini", DisplayName: "GPT-4o mini",
			ContextWindow: 128_000,
			Pricing:       schema.ModelPricing{InputPerMillion: 0.15, OutputPerMillion: 0.60},
			SupportsTools: true,
		},
		{
			ID: "gpt-4.1", DisplayName: "GPT-4.1",
			ContextWindow: 1_000_000,
			Pricing:       schema.ModelPricing{InputPerMillion: 2.0, OutputPerMillion: 8.0},
			SupportsTools: true,
		},
		{
			ID: "o4-mini", DisplayName: "o4-mini",
			ContextWindow: 200_000,
			Pricing:       schema.ModelPricing{InputPerMillion: 1.10, OutputPerMillion: 4.40},
			SupportsTools: true,
		},
	}
}

// ValidateCredential probes the models endpoint with the configured key.
func (a *OpenAIAdapter) ValidateCredential(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ErrorMessage maps transport and HTTP failures to actionable text.
func (a *OpenAIAdapter) ErrorMessage(err error) string {
	if isConnectionRefused(err) {
		return fmt.Sprintf("Cannot reach %s at %s — check the endpoint and your network.", a.name, a.baseURL)
	}
	switch status := httpStatusOf(err); {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Sprintf("Invalid API key for %s — check your configured credentials.", a.name)
	case status == http.StatusTooManyRequests:
		return fmt.Sprintf("%s rate limit exceeded — wait a moment and retry.", a.name)
	case status == http.StatusBadRequest && strings.Contains(err.Error(), "context_length"):
		return "The request exceeds the model's context window — remove some context files."
	case status >= 500:
		return fmt.Sprintf("The %s API is currently unavailable — try again later.", a.name)
	}
	return err.Error()
}
