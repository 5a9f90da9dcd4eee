// Package store persists conversations and message history for the chat
// gateway. Mongo backs production; the memory store backs tests.
package store

import (
	"context"
	"errors"

	"github.com/KeertanaGupta/mediprior-V0/internal/models"
)

var ErrNotFound = errors.New("store: not found")

type Store interface {
	// Conversation fetches one conversation by id, ErrNotFound if absent.
	Conversation(ctx context.Context, id string) (*models.Conversation, error)
	// ConversationsForUser lists every conversation the user participates in.
	ConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	// AppendMessage persists m, filling in ID and CreatedAt. Timestamps are
	// assigned here so they are monotonic per conversation.
	AppendMessage(ctx context.Context, m *models.Message) (*models.Message, error)
	// History returns the conversation's messages in chronological order.
	History(ctx context.Context, conversationID string) ([]models.Message, error)
	// ClearHistory deletes every message in the conversation.
	ClearHistory(ctx context.Context, conversationID string) error
}
