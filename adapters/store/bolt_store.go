package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/layer-3/keychain/core"
	"github.com/layer-3/keychain/ports"
	"go.etcd.io/bbolt"
)

var boltBucket = []byte("keychain")

type boltRecord struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at,omitempty"` // unix nanoseconds
}

// BoltStore implements the Store interface on a BBolt database file.
type BoltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

var _ ports.Store = (*BoltStore)(nil)

// NewBoltStore returns a Store backed by db.
func NewBoltStore(db *bbolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	return &BoltStore{db: db, now: time.Now}, nil
}

// OpenBoltStore opens a BBolt database at path and returns a Store on it.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := NewBoltStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Set stores value under key. A positive ttl expires the record.
func (s *BoltStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	rec := boltRecord{Value: value}
	if ttl > 0 {
		rec.ExpiresAt = s.now().Add(ttl).UnixNano()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), data)
	})
}

// Get retrieves a value by key. Expired records are deleted and reported
// as core.ErrNotFound.
func (s *BoltStore) Get(ctx context.Context, key string) (string, error) {
	var rec boltRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(boltBucket).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s: %w", key, core.ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return "", err
	}
	if rec.ExpiresAt != 0 && s.now().UnixNano() >= rec.ExpiresAt {
		// drop the expired record
		if err := s.Delete(ctx, key); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%s: %w", key, core.ErrNotFound)
	}
	return rec.Value, nil
}

// Delete removes keys; missing keys are ignored.
func (s *BoltStore) Delete(ctx context.Context, keys ...string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltBucket)
		for _, key := range keys {
			if err := b.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
}
