package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/layer-3/keychain/core"
	"github.com/rs/zerolog"
)

// DefaultRedirectParam is the query parameter carrying a registration token.
const DefaultRedirectParam = "startapp"

// EncodeRegistration renders reg as unpadded base64url JSON.
func EncodeRegistration(reg *core.SessionRegistration) (string, error) {
	data, err := json.Marshal(reg)
	if err != nil {
		return "", fmt.Errorf("failed to encode registration: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeRegistration accepts padded or unpadded tokens in either the URL or
// the standard base64 alphabet.
func DecodeRegistration(token string) (*core.SessionRegistration, error) {
	token = strings.TrimRight(strings.TrimSpace(token), "=")
	if token == "" {
		return nil, core.ErrInvalidRedirectPayload
	}
	if rem := len(token) % 4; rem != 0 {
		token += strings.Repeat("=", 4-rem)
	}

	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		if data, err = base64.StdEncoding.DecodeString(token); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidRedirectPayload, err)
		}
	}

	var reg core.SessionRegistration
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidRedirectPayload, err)
	}
	if reg.Address == "" || reg.ExpiresAt == 0 {
		return nil, fmt.Errorf("%w: missing address or expiresAt", core.ErrInvalidRedirectPayload)
	}
	return &reg, nil
}

// IngestResult is what a return navigation resolved to. A nil Controller
// means not connected.
type IngestResult struct {
	Controller *core.Controller
	// CleanURL is the requested URL with the token parameter removed.
	CleanURL *url.URL
	// FromToken is set when the controller came from the URL rather than
	// the persisted registration.
	FromToken bool
	ExpiresAt int64
}

// RedirectService consumes registration tokens on return navigations.
type RedirectService struct {
	storage *Storage
	param   string
	logger  zerolog.Logger
	now     func() time.Time
}

func NewRedirectService(storage *Storage, param string, logger zerolog.Logger) *RedirectService {
	if param == "" {
		param = DefaultRedirectParam
	}
	return &RedirectService{
		storage: storage,
		param:   param,
		logger:  logger.With().Str("component", "redirect").Logger(),
		now:     time.Now,
	}
}

// Ingest reads the token from u, persists it when usable and falls back to
// the persisted registration otherwise. Bad tokens are ignored.
func (s *RedirectService) Ingest(ctx context.Context, u *url.URL) (*IngestResult, error) {
	clean := *u
	query := clean.Query()
	token := query.Get(s.param)
	if query.Has(s.param) {
		query.Del(s.param)
		clean.RawQuery = query.Encode()
	}
	res := &IngestResult{CleanURL: &clean}
	now := s.now()

	if token != "" {
		reg, err := DecodeRegistration(token)
		switch {
		case err != nil:
			s.logger.Debug().Err(err).Msg("ignoring malformed redirect token")
		case !reg.Valid(now):
			s.logger.Debug().Str("address", reg.Address).Int64("expires_at", reg.ExpiresAt).Msg("ignoring expired redirect token")
		default:
			if err := s.storage.SaveRegistration(ctx, reg); err != nil {
				return nil, err
			}
			res.Controller = reg.Controller()
			res.FromToken = true
			res.ExpiresAt = reg.ExpiresAt
			return res, nil
		}
	}

	reg, err := s.storage.Registration(ctx, now)
	if err != nil {
		return nil, err
	}
	if reg != nil {
		res.Controller = reg.Controller()
		res.ExpiresAt = reg.ExpiresAt
	}
	return res, nil
}
