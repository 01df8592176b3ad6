package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/wikirag-core/server/internal/agent/memory"
	"github.com/wikirag-core/server/internal/agent/model"
)

// Session owns the per-conversation state: the append-only conversation
// memory (the only cross-turn artifact) and the turn-scoped sources
// list. Turns on one session are serialized through BeginTurn/EndTurn;
// independent sessions run fully in parallel.
type Session struct {
	ID     string
	Memory memory.Memory

	mu      sync.Mutex
	sources []model.ToolOutput
}

func NewSession(id string, mem memory.Memory) *Session {
	return &Session{ID: id, Memory: mem}
}

// BeginTurn blocks until any in-flight turn on this session finishes.
func (s *Session) BeginTurn() {
	s.mu.Lock()
}

// EndTurn releases the session for the next turn.
func (s *Session) EndTurn() {
	s.mu.Unlock()
}

// ResetSources clears the turn-scoped sources list. Called at the start
// of every turn, regardless of the previous turn's outcome.
func (s *Session) ResetSources() {
	s.sources = s.sources[:0]
}

// AddSource records one tool output as supporting evidence for the turn.
func (s *Session) AddSource(out model.ToolOutput) {
	s.sources = append(s.sources, out)
}

// Sources returns a frozen snapshot of the turn's sources.
func (s *Session) Sources() []model.ToolOutput {
	out := make([]model.ToolOutput, len(s.sources))
	copy(out, s.sources)
	return out
}

// Manager hands out sessions by conversation ID, creating them on first
// use. The memory factory decides how a conversation's history is backed.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	newMem   func(conversationID string) memory.Memory
}

func NewManager(newMem func(conversationID string) memory.Memory) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		newMem:   newMem,
	}
}

// Get returns the session for the conversation ID, creating it if needed.
// An empty ID gets a fresh random conversation.
func (m *Manager) Get(conversationID string) *Session {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[conversationID]; ok {
		return s
	}
	s := NewSession(conversationID, m.newMem(conversationID))
	m.sessions[conversationID] = s
	return s
}

// Drop discards a session. History in the backing store is untouched.
func (m *Manager) Drop(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, conversationID)
}
