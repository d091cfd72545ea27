package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/modelgate/modelgate/internal/adapters"
	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/schema"
)

// fakeAdapter plays back a scripted sequence of completions, one per round,
// and records every chat it was asked to format.
type fakeAdapter struct {
	name         string
	defaultModel string
	scripts      []schema.Completion
	models       []schema.ModelInfo
	chunks       []string

	round int
	chats []schema.ChatContext
}

// fakeRequest satisfies adapters.Request by embedding it; only Model is
// implemented, matching how real requests resolve the default model.
type fakeRequest struct {
	adapters.Request
	model string
}

func (r fakeRequest) Model() string { return r.model }

func (f *fakeAdapter) FormatRequest(chat schema.ChatContext, model string) (adapters.Request, error) {
	f.chats = append(f.chats, chat)
	if model == "" {
		model = f.defaultModel
	}
	return fakeRequest{model: model}, nil
}

func (f *fakeAdapter) Name() string          { return f.name }
func (f *fakeAdapter) SupportsToolUse() bool { return true }

func (f *fakeAdapter) Send(_ context.Context, _ adapters.Request, h adapters.Handlers) (schema.Completion, error) {
	c := f.scripts[f.round%len(f.scripts)]
	f.round++
	for _, chunk := range f.chunks {
		if h.OnChunk != nil {
			h.OnChunk(chunk)
		}
	}
	if h.OnComplete != nil {
		h.OnComplete(c)
	}
	return c, nil
}

func (f *fakeAdapter) ParseToolCalls(c schema.Completion) []schema.ToolCall {
	return append([]schema.ToolCall(nil), c.ToolCalls...)
}

func (f *fakeAdapter) FormatToolResult(callID string, res schema.ToolResultBlock) schema.ToolResultBlock {
	res.CallID = callID
	return res
}

func (f *fakeAdapter) Models(context.Context) []schema.ModelInfo { return f.models }
func (f *fakeAdapter) ValidateCredential(context.Context) bool   { return true }
func (f *fakeAdapter) ToolDefinitions() []map[string]any         { return nil }
func (f *fakeAdapter) ErrorMessage(err error) string             { return err.Error() }

// fakeExecutor runs tool calls, failing any whose name matches failName.
type fakeExecutor struct {
	failName string
	root     string
	calls    []schema.ToolCall
}

func (e *fakeExecutor) ExecuteTool(_ context.Context, call schema.ToolCall, _ schema.ApprovalContext) (string, error) {
	e.calls = append(e.calls, call)
	if call.Name == e.failName {
		return "", errors.New("boom")
	}
	return "ok:" + call.Name, nil
}

func (e *fakeExecutor) SetProjectRoot(path string) { e.root = path }

// memRecorder collects usage records in memory.
type memRecorder struct {
	mu      sync.Mutex
	records []schema.UsageRecord
}

func (r *memRecorder) RecordUsage(_ context.Context, rec schema.UsageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func newTestGateway(fa *fakeAdapter, rec schema.UsageRecorder, maxRounds int) *Gateway {
	cfg := &config.Config{ActiveProvider: fa.name, MaxToolRounds: maxRounds}
	g := New(cfg, rec, nil, nil, nil)
	g.cache[fa.name] = fa
	return g
}

func toolChat() schema.ChatContext {
	return schema.ChatContext{
		UserMessage: "do the thing",
		Prefs:       schema.Preferences{EnableTools: true},
	}
}

func TestSendMessage_ExactlyOneTerminalCallback(t *testing.T) {
	fa := &fakeAdapter{
		name:    "fake",
		scripts: []schema.Completion{{Content: "answer", FinishReason: "stop"}},
		chunks:  []string{"ans", "wer"},
	}
	g := newTestGateway(fa, &memRecorder{}, 8)

	var chunks []string
	var completed, failed int
	c, err := g.SendMessage(context.Background(), toolChat(), SendOptions{
		OnChunk:    func(text string) { chunks = append(chunks, text) },
		OnComplete: func(schema.Completion) { completed++ },
		OnError:    func(error) { failed++ },
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if c.Content != "answer" {
		t.Errorf("content = %q", c.Content)
	}
	if strings.Join(chunks, "") != "answer" {
		t.Errorf("chunks = %v", chunks)
	}
	if completed != 1 || failed != 0 {
		t.Errorf("terminal callbacks: complete=%d error=%d, want 1/0", completed, failed)
	}
}

func TestSendMessage_ToolLoopWithFailureSubstitution(t *testing.T) {
	calls := []schema.ToolCall{
		{ID: "c1", Name: "read_file", Arguments: map[string]any{"path": "a.go"}},
		{ID: "c2", Name: "edit_file", Arguments: map[string]any{"path": "a.go"}},
	}
	fa := &fakeAdapter{
		name: "fake",
		scripts: []schema.Completion{
			{Content: "", ToolCalls: calls, FinishReason: "tool_use", Usage: schema.TokenUsage{InputTokens: 10, OutputTokens: 5}},
			{Content: "done", FinishReason: "stop", Usage: schema.TokenUsage{InputTokens: 20, OutputTokens: 8}},
		},
	}
	rec := &memRecorder{}
	g := newTestGateway(fa, rec, 8)
	exec := &fakeExecutor{failName: "edit_file"}

	c, err := g.SendMessage(context.Background(), toolChat(), SendOptions{
		Executor: exec,
		Approval: schema.ApprovalContext{ProjectRoot: "/proj"},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if c.Content != "done" {
		t.Errorf("final content = %q", c.Content)
	}
	if exec.root != "/proj" {
		t.Errorf("project root = %q, want /proj", exec.root)
	}
	if len(exec.calls) != 2 {
		t.Fatalf("executor ran %d calls, want 2", len(exec.calls))
	}

	// The follow-up request must carry one result block per issued call, the
	// failed one substituted with a recoverable error payload.
	if len(fa.chats) != 2 {
		t.Fatalf("adapter formatted %d requests, want 2", len(fa.chats))
	}
	results := fa.chats[1].Session.ToolResults
	if len(results) != 2 {
		t.Fatalf("follow-up carries %d result blocks, want 2", len(results))
	}
	if results[0].IsError || results[0].Content != "ok:read_file" {
		t.Errorf("result 0 = %+v", results[0])
	}
	if !results[1].IsError || !strings.Contains(results[1].Content, "execution_error") {
		t.Errorf("result 1 = %+v, want recoverable execution_error payload", results[1])
	}
	if !strings.Contains(results[1].Content, `"recoverable":true`) {
		t.Errorf("failure payload must be marked recoverable: %s", results[1].Content)
	}

	// The user message folds into history for the follow-up round.
	if fa.chats[1].UserMessage != "" {
		t.Errorf("follow-up user message = %q, want empty", fa.chats[1].UserMessage)
	}

	// One usage record per backend round trip.
	if len(rec.records) != 2 {
		t.Errorf("got %d usage records, want 2", len(rec.records))
	}
}

func TestSendMessage_ToolLoopLimit(t *testing.T) {
	fa := &fakeAdapter{
		name: "fake",
		scripts: []schema.Completion{{
			ToolCalls:    []schema.ToolCall{{ID: "c", Name: "read_file", Arguments: map[string]any{}}},
			FinishReason: "tool_use",
		}},
	}
	rec := &memRecorder{}
	g := newTestGateway(fa, rec, 3)

	var failed int
	_, err := g.SendMessage(context.Background(), toolChat(), SendOptions{
		Executor: &fakeExecutor{},
		OnError:  func(error) { failed++ },
	})
	if err == nil {
		t.Fatal("expected loop limit error")
	}

	var limitErr *schema.ToolLoopLimitError
	if !errors.As(err, &limitErr) || limitErr.Limit != 3 {
		t.Fatalf("got %v, want ToolLoopLimitError{3}", err)
	}
	var gerr *schema.GatewayError
	if !errors.As(err, &gerr) {
		t.Error("loop limit must surface through the gateway error funnel")
	}
	if failed != 1 {
		t.Errorf("error callback fired %d times, want 1", failed)
	}
	if len(rec.records) != 3 {
		t.Errorf("got %d usage records, want 3 (one per completed round)", len(rec.records))
	}
}

func TestSendMessage_CostComputedFromModelPricing(t *testing.T) {
	fa := &fakeAdapter{
		name: "fake",
		scripts: []schema.Completion{{
			Content: "hi", FinishReason: "stop",
			Usage: schema.TokenUsage{InputTokens: 1000, OutputTokens: 500},
		}},
		models: []schema.ModelInfo{{
			ID:      "priced-model",
			Pricing: schema.ModelPricing{InputPerMillion: 3.0, OutputPerMillion: 15.0},
		}},
	}
	rec := &memRecorder{}
	g := newTestGateway(fa, rec, 8)

	_, err := g.SendMessage(context.Background(), toolChat(), SendOptions{Model: "priced-model"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(rec.records) != 1 {
		t.Fatalf("got %d records, want 1", len(rec.records))
	}
	want := 0.0105 // 1000/1e6*3 + 500/1e6*15
	if got := rec.records[0].CostUSD; math.Abs(got-want) > 1e-9 {
		t.Errorf("cost = %v, want %v", got, want)
	}
	if got := rec.records[0].Model; got != "priced-model" {
		t.Errorf("record model = %q, want priced-model", got)
	}
}

func TestSendMessage_DefaultModelResolvedInUsageRecord(t *testing.T) {
	fa := &fakeAdapter{
		name:         "fake",
		defaultModel: "house-model",
		scripts: []schema.Completion{{
			Content: "hi", FinishReason: "stop",
			Usage: schema.TokenUsage{InputTokens: 1000, OutputTokens: 500},
		}},
		models: []schema.ModelInfo{{
			ID:      "house-model",
			Pricing: schema.ModelPricing{InputPerMillion: 3.0, OutputPerMillion: 15.0},
		}},
	}
	rec := &memRecorder{}
	g := newTestGateway(fa, rec, 8)

	// No explicit model: the adapter falls back to its configured default,
	// and the usage record must carry that resolved model, priced.
	_, err := g.SendMessage(context.Background(), toolChat(), SendOptions{})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(rec.records) != 1 {
		t.Fatalf("got %d records, want 1", len(rec.records))
	}
	if got := rec.records[0].Model; got != "house-model" {
		t.Errorf("record model = %q, want the resolved default house-model", got)
	}
	want := 0.0105
	if got := rec.records[0].CostUSD; math.Abs(got-want) > 1e-9 {
		t.Errorf("cost = %v, want %v", got, want)
	}
}

func TestSendMessage_DefaultModelPricedOverWire(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":1000000,\"completion_tokens\":0}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	a, err := adapters.New(adapters.Params{
		Name: "openai", APIKey: "sk-test", BaseURL: srv.URL, DefaultModel: "gpt-4o",
	})
	if err != nil {
		t.Fatalf("adapters.New: %v", err)
	}
	rec := &memRecorder{}
	g := New(&config.Config{ActiveProvider: "openai"}, rec, nil, nil, nil)
	g.cache["openai"] = a

	_, err = g.SendMessage(context.Background(), schema.ChatContext{UserMessage: "hello"}, SendOptions{})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(rec.records) != 1 {
		t.Fatalf("got %d records, want 1", len(rec.records))
	}
	r := rec.records[0]
	if r.Model != "gpt-4o" {
		t.Errorf("record model = %q, want gpt-4o", r.Model)
	}
	if r.InputTokens != 1_000_000 {
		t.Errorf("input tokens = %d, want 1000000", r.InputTokens)
	}
	want := 2.50 // 1M input tokens at $2.50/1M
	if got := r.CostUSD; math.Abs(got-want) > 1e-9 {
		t.Errorf("cost = %v, want %v", got, want)
	}
}

func TestSendMessage_NilExecutorSkipsToolLoop(t *testing.T) {
	fa := &fakeAdapter{
		name: "fake",
		scripts: []schema.Completion{{
			Content:      "wants tools",
			ToolCalls:    []schema.ToolCall{{ID: "c", Name: "read_file", Arguments: map[string]any{}}},
			FinishReason: "tool_use",
		}},
	}
	rec := &memRecorder{}
	g := newTestGateway(fa, rec, 8)

	var completed int
	c, err := g.SendMessage(context.Background(), toolChat(), SendOptions{
		OnComplete: func(schema.Completion) { completed++ },
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if completed != 1 {
		t.Errorf("complete fired %d times, want 1", completed)
	}
	if c.Content != "wants tools" {
		t.Errorf("content = %q", c.Content)
	}
	if len(fa.chats) != 1 {
		t.Errorf("adapter formatted %d requests, want 1 (no follow-up)", len(fa.chats))
	}
	if len(rec.records) != 1 {
		t.Errorf("got %d records, want 1", len(rec.records))
	}
}

func TestSendMessage_UnknownProvider(t *testing.T) {
	g := New(&config.Config{ActiveProvider: "nope"}, nil, nil, nil, nil)

	var failed int
	_, err := g.SendMessage(context.Background(), toolChat(), SendOptions{
		OnError: func(error) { failed++ },
	})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	var gerr *schema.GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("got %T, want GatewayError", err)
	}
	var cfgErr *schema.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("gateway error should wrap the config error, got %v", err)
	}
	if failed != 1 {
		t.Errorf("error callback fired %d times, want 1", failed)
	}
}

func TestSendMessage_CancelledContext(t *testing.T) {
	fa := &fakeAdapter{name: "fake", scripts: []schema.Completion{{Content: "x"}}}
	g := newTestGateway(fa, nil, 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.SendMessage(ctx, toolChat(), SendOptions{})
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled through the funnel", err)
	}
}

func TestAdapter_ConcurrentFirstUseBuildsOneInstance(t *testing.T) {
	g := New(&config.Config{ActiveProvider: "ollama"}, nil, nil, nil, nil)

	const n = 32
	results := make([]adapters.Adapter, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := g.Adapter("ollama")
			if err != nil {
				t.Errorf("Adapter: %v", err)
				return
			}
			results[i] = a
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatalf("goroutine %d got a different adapter instance", i)
		}
	}
}

func TestReconfigure_DropsCachedAdapter(t *testing.T) {
	g := New(&config.Config{}, nil, nil, nil, nil)

	first, err := g.Adapter("ollama")
	if err != nil {
		t.Fatalf("Adapter: %v", err)
	}
	g.Reconfigure("ollama")
	second, err := g.Adapter("ollama")
	if err != nil {
		t.Fatalf("Adapter after Reconfigure: %v", err)
	}
	if first == second {
		t.Error("Reconfigure must force a rebuild")
	}
}

func TestErrorText_FallsBackToRawError(t *testing.T) {
	g := New(&config.Config{}, nil, nil, nil, nil)
	raw := fmt.Errorf("something broke")
	if got := g.ErrorText("not-a-provider", raw); got != "something broke" {
		t.Errorf("ErrorText = %q", got)
	}
}
