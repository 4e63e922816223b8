package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/keychain/core"
	"github.com/layer-3/keychain/ports"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of the Store interface
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ ports.Store = (*RedisStore)(nil)

// NewRedisStore creates a new Redis store
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "keychain:",
	}
}

// Set stores value under key with expiration
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Get retrieves a value by key
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", core.ErrNotFound
		}
		return "", fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

// Delete removes keys
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = s.prefix + key
	}
	if err := s.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}
