// Package session keeps per-conversation history in memory for the chat REPL
// and the serve relay. Durable session storage is an external collaborator;
// this store only spans one process lifetime.
package session

import (
	"sync"
	"time"

	"github.com/modelgate/modelgate/internal/schema"
)

// Session holds one conversation's messages.
type Session struct {
	Key       string
	CreatedAt time.Time
	UpdatedAt time.Time

	mu       sync.Mutex
	messages []schema.Message
	summary  string
}

// AddUser appends a user message.
func (s *Session) AddUser(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, schema.NewUserMessage(content))
	s.UpdatedAt = time.Now()
}

// AddAssistant appends an assistant message.
func (s *Session) AddAssistant(content string, toolCalls []schema.ToolCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, schema.NewAssistantMessage(content, toolCalls))
	s.UpdatedAt = time.Now()
}

// History returns up to the last window messages (all of them when window
// <= 0), as an independent slice.
func (s *Session) History(window int) []schema.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages
	if window > 0 && len(msgs) > window {
		msgs = msgs[len(msgs)-window:]
	}
	return append([]schema.Message(nil), msgs...)
}

// Summary returns the rolling summary text, if one was set.
func (s *Session) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// SetSummary replaces the rolling summary text.
func (s *Session) SetSummary(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = text
}

// Clear removes all messages and the summary.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.summary = ""
	s.UpdatedAt = time.Now()
}

// Context builds the canonical turn context for the next user message.
func (s *Session) Context(userMessage string, prefs schema.Preferences, files []schema.ContextFile) schema.ChatContext {
	return schema.ChatContext{
		Files:       files,
		UserMessage: userMessage,
		Session: schema.SessionContext{
			Previous: s.History(0),
			Summary:  s.Summary(),
		},
		Prefs: prefs,
	}
}

// Manager hands out sessions by key, creating them on first use.
type Manager struct {
	cache sync.Map // key → *Session
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// GetOrCreate returns the session for key, creating an empty one if needed.
func (m *Manager) GetOrCreate(key string) *Session {
	if v, ok := m.cache.Load(key); ok {
		return v.(*Session)
	}
	s := &Session{Key: key, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	actual, _ := m.cache.LoadOrStore(key, s)
	return actual.(*Session)
}

// Invalidate drops the session for key.
func (m *Manager) Invalidate(key string) {
	m.cache.Delete(key)
}
