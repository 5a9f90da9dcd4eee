package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KeertanaGupta/mediprior-V0/internal/models"
)

func seeded() *MemoryStore {
	s := NewMemoryStore()
	s.PutConversation(models.Conversation{ID: "c1", PatientID: "p1", DoctorID: "d1"})
	return s
}

func TestAppendAssignsMonotonicTimestamps(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, err := s.AppendMessage(ctx, &models.Message{
			ConversationID: "c1", SenderID: "p1", Body: fmt.Sprintf("m%d", i),
		})
		require.NoError(t, err)
	}

	history, err := s.History(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, history, 50)
	for i := 1; i < len(history); i++ {
		assert.True(t, history[i].CreatedAt.After(history[i-1].CreatedAt),
			"timestamp %d not after %d", i, i-1)
	}
}

func TestAppendToUnknownConversation(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.AppendMessage(context.Background(), &models.Message{ConversationID: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClearHistory(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	_, err := s.AppendMessage(ctx, &models.Message{ConversationID: "c1", SenderID: "p1", Body: "x"})
	require.NoError(t, err)

	require.NoError(t, s.ClearHistory(ctx, "c1"))
	history, err := s.History(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestConversationsForUser(t *testing.T) {
	s := seeded()
	s.PutConversation(models.Conversation{ID: "c2", PatientID: "p2", DoctorID: "d1"})

	convs, err := s.ConversationsForUser(context.Background(), "d1")
	require.NoError(t, err)
	assert.Len(t, convs, 2)

	convs, err = s.ConversationsForUser(context.Background(), "p2")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "c2", convs[0].ID)
}

func TestConversationLookup(t *testing.T) {
	s := seeded()
	c, err := s.Conversation(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, c.HasParticipant("p1"))
	assert.Equal(t, "d1", c.Counterpart("p1"))

	_, err = s.Conversation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
