// Package usage implements the in-memory usage recorder: one record per
// completed backend call, with session totals for display. Durable storage
// stays behind the schema.UsageRecorder interface.
package usage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/modelgate/modelgate/internal/schema"
)

// Entry is one recorded backend call with its arrival time.
type Entry struct {
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	SessionID    string
	Timestamp    time.Time
}

// Tracker accumulates usage records across a process lifetime. It satisfies
// schema.UsageRecorder.
type Tracker struct {
	mu      sync.Mutex
	entries []Entry
	total   float64
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordUsage implements schema.UsageRecorder.
func (t *Tracker) RecordUsage(_ context.Context, rec schema.UsageRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, Entry{
		Provider:     rec.Provider,
		Model:        rec.Model,
		InputTokens:  rec.InputTokens,
		OutputTokens: rec.OutputTokens,
		CostUSD:      rec.CostUSD,
		SessionID:    rec.SessionID,
		Timestamp:    time.Now(),
	})
	t.total += rec.CostUSD
	return nil
}

// TotalCost returns the accumulated dollar cost.
func (t *Tracker) TotalCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Count returns the number of recorded backend calls.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Summary returns a formatted report of every recorded call and the totals.
func (t *Tracker) Summary() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) == 0 {
		return "No usage recorded."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Session cost: $%.4f (%d calls)\n\n", t.total, len(t.entries))

	totalIn, totalOut := 0, 0
	for i, e := range t.entries {
		totalIn += e.InputTokens
		totalOut += e.OutputTokens
		fmt.Fprintf(&sb, "  Call %d: %s/%s  in=%d out=%d  $%.4f\n",
			i+1, e.Provider, e.Model, e.InputTokens, e.OutputTokens, e.CostUSD)
	}
	fmt.Fprintf(&sb, "\nTotal tokens: %d input + %d output = %d",
		totalIn, totalOut, totalIn+totalOut)

	return sb.String()
}
