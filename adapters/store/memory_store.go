package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/keychain/core"
	"github.com/layer-3/keychain/ports"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is an in-memory implementation of the Store interface
type MemoryStore struct {
	entries map[string]memoryEntry
	mu      sync.RWMutex
	now     func() time.Time
}

var _ ports.Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Set stores value under key. Expired entries are dropped lazily on read.
func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = entry
	return nil
}

// Get retrieves a value by key
func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return "", core.ErrNotFound
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		s.mu.Lock()
		if current, ok := s.entries[key]; ok && current == entry {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return "", core.ErrNotFound
	}
	return entry.value, nil
}

// Delete removes keys; missing keys are ignored.
func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
