package ports

import (
	"context"
	"time"
)

// Store is the key/value facade over persisted keychain state. Get returns
// core.ErrNotFound for missing or expired keys. A zero ttl never expires.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}
