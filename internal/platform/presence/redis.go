// Package presence stores which relay instance holds a subject's live
// connection, so sibling services can check who is reachable in real time.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Rief3550/go-tracking-relay/pkg/tracking"
)

// redisStore is the slice of go-redis the store needs.
type redisStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore implements realtime.PresenceStore on Redis. Keys carry a TTL so
// a crashed instance's presence entries expire on their own.
type RedisStore struct {
	client redisStore
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisStore creates a presence store with the given key TTL.
func NewRedisStore(client redisStore, ttl time.Duration, logger zerolog.Logger) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("presence TTL must be positive, got %s", ttl)
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "PresenceStore").Logger(),
	}, nil
}

func presenceKey(subjectID string) string {
	return "presence:" + subjectID
}

// Set records info for subjectID.
func (s *RedisStore) Set(ctx context.Context, subjectID string, info tracking.ConnectionInfo) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal presence info: %w", err)
	}
	if err := s.client.Set(ctx, presenceKey(subjectID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	return nil
}

// Fetch returns the presence entry for subjectID, or redis.Nil if absent.
func (s *RedisStore) Fetch(ctx context.Context, subjectID string) (tracking.ConnectionInfo, error) {
	var info tracking.ConnectionInfo
	payload, err := s.client.Get(ctx, presenceKey(subjectID)).Result()
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal([]byte(payload), &info); err != nil {
		return info, fmt.Errorf("failed to unmarshal presence info: %w", err)
	}
	return info, nil
}

// Delete removes the presence entry for subjectID.
func (s *RedisStore) Delete(ctx context.Context, subjectID string) error {
	if err := s.client.Del(ctx, presenceKey(subjectID)).Err(); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}
	return nil
}
