package missions

import (
	"context"
	"sync"
)

// Manager owns one Session per user, creating them lazily on first access.
// It is the only place sessions are constructed, so the per-user listener
// state never leaks into globals.
type Manager struct {
	deps SessionDeps

	mu       sync.Mutex
	sessions map[string]*Session
	baseCtx  context.Context
	closed   bool
}

// NewManager returns a Manager that starts sessions under ctx.
func NewManager(ctx context.Context, deps SessionDeps) *Manager {
	return &Manager{
		deps:     deps,
		sessions: make(map[string]*Session),
		baseCtx:  ctx,
	}
}

// Session returns the user's session, starting a new one when none exists.
// Returns nil after Shutdown.
func (m *Manager) Session(userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	if s, ok := m.sessions[userID]; ok {
		return s
	}
	s := NewSession(userID, m.deps)
	m.sessions[userID] = s
	s.Start(m.baseCtx)
	return s
}

// Sessions returns the currently live sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Shutdown tears down every session and rejects further access.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
