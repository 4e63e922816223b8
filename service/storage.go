package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/keychain/core"
	"github.com/layer-3/keychain/ports"
)

// Storage is a typed view of the keychain keys held by a ports.Store.
// Readers re-validate expiry on every load and never cache.
type Storage struct {
	store ports.Store
}

// NewStorage creates typed storage over a key-value store
func NewStorage(store ports.Store) *Storage {
	return &Storage{store: store}
}

// loadJSON returns false when the key is absent.
func (s *Storage) loadJSON(ctx context.Context, key string, out any) (bool, error) {
	raw, err := s.store.Get(ctx, key)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Storage) saveJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.store.Set(ctx, key, string(data), ttl); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// Controller returns the signed-in identity. Without an explicit controller
// record it falls back to a valid session registration. Nil means none.
func (s *Storage) Controller(ctx context.Context, now time.Time) (*core.Controller, error) {
	var c core.Controller
	ok, err := s.loadJSON(ctx, core.KeyController, &c)
	if err != nil {
		return nil, err
	}
	if ok && c.Address != "" {
		return &c, nil
	}

	reg, err := s.Registration(ctx, now)
	if err != nil || reg == nil {
		return nil, err
	}
	return reg.Controller(), nil
}

// SaveController records the signed-in identity.
func (s *Storage) SaveController(ctx context.Context, c *core.Controller) error {
	return s.saveJSON(ctx, core.KeyController, c, 0)
}

// Session returns the unexpired session granted to origin, or nil.
func (s *Storage) Session(ctx context.Context, address, origin string, now time.Time) (*core.Session, error) {
	var sess core.Session
	ok, err := s.loadJSON(ctx, core.SessionKey(address, origin), &sess)
	if err != nil || !ok {
		return nil, err
	}
	if !sess.Valid(now) {
		return nil, nil
	}
	return &sess, nil
}

// SaveSession replaces the session for (address, origin). The record expires
// with the session.
func (s *Storage) SaveSession(ctx context.Context, address, origin string, sess *core.Session, now time.Time) error {
	ttl := sess.TTL(now)
	if ttl <= 0 {
		return core.ErrSessionExpired
	}
	return s.saveJSON(ctx, core.SessionKey(address, origin), sess, ttl)
}

// Registration returns the unexpired redirect registration, or nil.
func (s *Storage) Registration(ctx context.Context, now time.Time) (*core.SessionRegistration, error) {
	var reg core.SessionRegistration
	ok, err := s.loadJSON(ctx, core.KeySession, &reg)
	if err != nil || !ok {
		return nil, err
	}
	if !reg.Valid(now) {
		return nil, nil
	}
	return &reg, nil
}

func (s *Storage) SaveRegistration(ctx context.Context, reg *core.SessionRegistration) error {
	return s.saveJSON(ctx, core.KeySession, reg, 0)
}

// SessionSigner returns the public key of the local session signer.
func (s *Storage) SessionSigner(ctx context.Context) (*SessionSigner, error) {
	var signer SessionSigner
	ok, err := s.loadJSON(ctx, core.KeySessionSigner, &signer)
	if err != nil || !ok {
		return nil, err
	}
	return &signer, nil
}

func (s *Storage) SaveSessionSigner(ctx context.Context, signer *SessionSigner) error {
	return s.saveJSON(ctx, core.KeySessionSigner, signer, 0)
}

func (s *Storage) SetLastUsedConnector(ctx context.Context, connector string) error {
	return s.store.Set(ctx, core.KeyLastUsedConnector, connector, 0)
}

func (s *Storage) LastUsedConnector(ctx context.Context) (string, error) {
	v, err := s.store.Get(ctx, core.KeyLastUsedConnector)
	if errors.Is(err, core.ErrNotFound) {
		return "", nil
	}
	return v, err
}

// Approval returns the raw approval token for requestID, or "".
func (s *Storage) Approval(ctx context.Context, requestID string) (string, error) {
	v, err := s.store.Get(ctx, core.ApprovalKey(requestID))
	if errors.Is(err, core.ErrNotFound) {
		return "", nil
	}
	return v, err
}

// SaveApproval keeps a detached approval token until ttl passes.
func (s *Storage) SaveApproval(ctx context.Context, requestID, token string, ttl time.Duration) error {
	return s.store.Set(ctx, core.ApprovalKey(requestID), token, ttl)
}

func (s *Storage) DeleteApproval(ctx context.Context, requestID string) error {
	return s.store.Delete(ctx, core.ApprovalKey(requestID))
}

// Clear removes the identity and session state of address for origin.
func (s *Storage) Clear(ctx context.Context, address, origin string) error {
	keys := []string{core.KeyController, core.KeySession, core.KeySessionSigner, core.KeyLastUsedConnector}
	if address != "" {
		keys = append(keys, core.SessionKey(address, origin))
	}
	return s.store.Delete(ctx, keys...)
}
