package usage

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/modelgate/modelgate/internal/schema"
)

func TestTracker_RecordsAndTotals(t *testing.T) {
	tr := NewTracker()
	ctx := context.Background()

	if err := tr.RecordUsage(ctx, schema.UsageRecord{
		Provider: "anthropic", Model: "claude-sonnet-4-20250514",
		InputTokens: 1000, OutputTokens: 500, CostUSD: 0.0105,
	}); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if err := tr.RecordUsage(ctx, schema.UsageRecord{
		Provider: "ollama", Model: "llama3.2",
		InputTokens: 200, OutputTokens: 80, CostUSD: 0,
	}); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	if tr.Count() != 2 {
		t.Errorf("Count = %d, want 2", tr.Count())
	}
	if math.Abs(tr.TotalCost()-0.0105) > 1e-9 {
		t.Errorf("TotalCost = %v, want 0.0105", tr.TotalCost())
	}
}

func TestTracker_Summary(t *testing.T) {
	tr := NewTracker()

	if got := tr.Summary(); got != "No usage recorded." {
		t.Errorf("empty summary = %q", got)
	}

	_ = tr.RecordUsage(context.Background(), schema.UsageRecord{
		Provider: "openai", Model: "gpt-4o",
		InputTokens: 100, OutputTokens: 50, CostUSD: 0.00075,
	})

	s := tr.Summary()
	if !strings.Contains(s, "openai/gpt-4o") {
		t.Errorf("summary missing provider/model: %s", s)
	}
	if !strings.Contains(s, "100 input + 50 output") {
		t.Errorf("summary missing token totals: %s", s)
	}
}
