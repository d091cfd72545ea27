package session

import (
	"sync"
	"testing"

	"github.com/modelgate/modelgate/internal/schema"
)

func TestManager_GetOrCreateReturnsSameInstance(t *testing.T) {
	m := NewManager()

	a := m.GetOrCreate("cli:direct")
	b := m.GetOrCreate("cli:direct")
	if a != b {
		t.Error("same key must yield the same session")
	}
	if m.GetOrCreate("other") == a {
		t.Error("different keys must yield different sessions")
	}
}

func TestManager_ConcurrentGetOrCreate(t *testing.T) {
	m := NewManager()

	const n = 16
	results := make([]*Session, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.GetOrCreate("shared")
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatalf("goroutine %d got a different session", i)
		}
	}
}

func TestSession_HistoryWindow(t *testing.T) {
	s := &Session{Key: "k"}
	s.AddUser("one")
	s.AddAssistant("two", nil)
	s.AddUser("three")

	all := s.History(0)
	if len(all) != 3 {
		t.Fatalf("History(0) = %d messages, want 3", len(all))
	}

	last := s.History(2)
	if len(last) != 2 || last[0].Content != "two" || last[1].Content != "three" {
		t.Errorf("History(2) = %+v", last)
	}

	// The returned slice is a copy.
	all[0].Content = "mutated"
	if s.History(0)[0].Content != "one" {
		t.Error("History must return an independent slice")
	}
}

func TestSession_Clear(t *testing.T) {
	s := &Session{Key: "k"}
	s.AddUser("hello")
	s.SetSummary("summary")
	s.Clear()

	if len(s.History(0)) != 0 {
		t.Error("Clear must drop messages")
	}
	if s.Summary() != "" {
		t.Error("Clear must drop the summary")
	}
}

func TestSession_Context(t *testing.T) {
	s := &Session{Key: "k"}
	s.AddUser("earlier question")
	s.AddAssistant("earlier answer", nil)
	s.SetSummary("the gist")

	chat := s.Context("new question", schema.Preferences{EnableTools: true}, nil)
	if chat.UserMessage != "new question" {
		t.Errorf("user message = %q", chat.UserMessage)
	}
	if len(chat.Session.Previous) != 2 {
		t.Errorf("previous = %d messages, want 2", len(chat.Session.Previous))
	}
	if chat.Session.Summary != "the gist" {
		t.Errorf("summary = %q", chat.Session.Summary)
	}
	if !chat.Prefs.EnableTools {
		t.Error("prefs not carried")
	}
}
