package entities

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix prefixes the hash key used by RedisStore.
const DefaultRedisPrefix = "alarm_panel:"

// RedisStore keeps entity states in one Redis hash so several panel
// processes and external feeders can share them.
type RedisStore struct {
	client *redis.Client
	key    string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store using the hash "<prefix>entities".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	return &RedisStore{client: client, key: prefix + "entities"}
}

// Snapshot reads the whole hash.
func (s *RedisStore) Snapshot(ctx context.Context) (map[string]string, error) {
	states, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read entity states from Redis: %w", err)
	}

	return states, nil
}

// Get reads one field.
func (s *RedisStore) Get(ctx context.Context, entityID string) (string, bool, error) {
	state, err := s.client.HGet(ctx, s.key, entityID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("failed to read entity %q from Redis: %w", entityID, err)
	}

	return state, true, nil
}

// Set writes one field.
func (s *RedisStore) Set(ctx context.Context, entityID, state string) error {
	if err := s.client.HSet(ctx, s.key, entityID, state).Err(); err != nil {
		return fmt.Errorf("failed to write entity %q to Redis: %w", entityID, err)
	}

	return nil
}
