package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KeertanaGupta/mediprior-V0/internal/models"
)

// MemoryStore is an in-process Store used by tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	convs    map[string]models.Conversation
	msgs     map[string][]models.Message
	lastTime map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs:    make(map[string]models.Conversation),
		msgs:     make(map[string][]models.Message),
		lastTime: make(map[string]time.Time),
	}
}

// PutConversation seeds a conversation. Test helper; conversations are
// created by the external portal in production.
func (s *MemoryStore) PutConversation(c models.Conversation) {
	s.mu.Lock()
	s.convs[c.ID] = c
	s.mu.Unlock()
}

func (s *MemoryStore) Conversation(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemoryStore) ConversationsForUser(_ context.Context, userID string) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Conversation
	for _, c := range s.convs {
		if c.HasParticipant(userID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, m *models.Message) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[m.ConversationID]; !ok {
		return nil, ErrNotFound
	}
	stamped := *m
	stamped.ID = uuid.NewString()
	stamped.CreatedAt = s.nextTimestamp(m.ConversationID)
	s.msgs[m.ConversationID] = append(s.msgs[m.ConversationID], stamped)
	return &stamped, nil
}

// nextTimestamp keeps per-conversation timestamps strictly non-decreasing
// even when the wall clock stalls within a nanosecond.
func (s *MemoryStore) nextTimestamp(convID string) time.Time {
	now := time.Now().UTC()
	if last := s.lastTime[convID]; !now.After(last) {
		now = last.Add(time.Nanosecond)
	}
	s.lastTime[convID] = now
	return now
}

func (s *MemoryStore) History(_ context.Context, conversationID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.msgs[conversationID]
	out := make([]models.Message, len(src))
	copy(out, src)
	return out, nil
}

func (s *MemoryStore) ClearHistory(_ context.Context, conversationID string) error {
	s.mu.Lock()
	delete(s.msgs, conversationID)
	s.mu.Unlock()
	return nil
}
