package session

import (
	"context"
	"sync"

	"github.com/KeertanaGupta/mediprior-V0/internal/auth"
)

// Manager enforces exclusive ownership: the UI shows one chat window at a
// time, so opening a conversation closes whichever one was open before.
type Manager struct {
	cfg Config

	mu  sync.Mutex
	cur *Session
}

func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Open attaches to a conversation, tearing down the previously open session
// first. The credential is passed explicitly per call.
func (m *Manager) Open(ctx context.Context, conversationID, selfID string, cred auth.Credential) (*Session, error) {
	m.mu.Lock()
	prev := m.cur
	m.cur = nil
	m.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	s, err := Dial(ctx, m.cfg, conversationID, selfID, cred)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cur = s
	m.mu.Unlock()
	return s, nil
}

// Current returns the open session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// Close tears down the open session, if any.
func (m *Manager) Close() {
	m.mu.Lock()
	cur := m.cur
	m.cur = nil
	m.mu.Unlock()
	if cur != nil {
		_ = cur.Close()
	}
}
