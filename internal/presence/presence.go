// Package presence keeps the doctor availability tri-state in Redis so any
// gateway node can consult it. Last-write-wins, no versioning.
package presence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/KeertanaGupta/mediprior-V0/internal/models"
)

// Store is the read/write surface the gateway uses. The doctor client is the
// only writer; everyone else reads.
type Store interface {
	SetStatus(ctx context.Context, userID string, status models.Availability) error
	Status(ctx context.Context, userID string) (models.Availability, error)
}

type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "mediprior"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(userID string) string {
	return fmt.Sprintf("%s:presence:%s", s.prefix, userID)
}

func (s *RedisStore) SetStatus(ctx context.Context, userID string, status models.Availability) error {
	if !status.Valid() {
		return fmt.Errorf("presence: invalid status %q", status)
	}
	// no TTL: availability is an explicit operator setting, not a liveness probe
	return s.rdb.Set(ctx, s.key(userID), string(status), 0).Err()
}

// Status returns the stored availability. A doctor who never set a status
// counts as available.
func (s *RedisStore) Status(ctx context.Context, userID string) (models.Availability, error) {
	val, err := s.rdb.Get(ctx, s.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return models.Available, nil
	}
	if err != nil {
		return "", err
	}
	st := models.Availability(val)
	if !st.Valid() {
		return models.Available, nil
	}
	return st, nil
}

// MemoryStore is the test double.
type MemoryStore struct {
	statuses map[string]models.Availability
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{statuses: make(map[string]models.Availability)}
}

func (s *MemoryStore) SetStatus(_ context.Context, userID string, status models.Availability) error {
	if !status.Valid() {
		return fmt.Errorf("presence: invalid status %q", status)
	}
	s.statuses[userID] = status
	return nil
}

func (s *MemoryStore) Status(_ context.Context, userID string) (models.Availability, error) {
	if st, ok := s.statuses[userID]; ok {
		return st, nil
	}
	return models.Available, nil
}
