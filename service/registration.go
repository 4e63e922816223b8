package service

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/layer-3/keychain/core"
	"github.com/layer-3/keychain/ports"
	"github.com/rs/zerolog"
)

type RegistrationState string

const (
	RegistrationSucceeded RegistrationState = "succeeded"
	RegistrationFailed    RegistrationState = "failed"
)

// RegistrationRequest is an out-of-band session registration completed by
// the user for origin.
type RegistrationRequest struct {
	Origin            string        `json:"origin"`
	Username          string        `json:"username"`
	Address           string        `json:"address"`
	OwnerGUID         string        `json:"ownerGuid"`
	Policies          []core.Policy `json:"policies"`
	ExpiresAt         int64         `json:"expiresAt"`
	GuardianKeyGUID   string        `json:"guardianKeyGuid"`
	MetadataHash      string        `json:"metadataHash"`
	SessionKeyPublic  string        `json:"sessionKeyPublic,omitempty"`
	TransactionHash   string        `json:"transactionHash,omitempty"`
	AlreadyRegistered bool          `json:"alreadyRegistered,omitempty"`
	CallbackURI       string        `json:"callbackUri,omitempty"`
	RedirectURI       string        `json:"redirectUri,omitempty"`
}

type RegistrationResult struct {
	State       RegistrationState `json:"state"`
	Token       string            `json:"token"`
	RedirectURL string            `json:"redirectUrl,omitempty"`
}

// RegistrationService is the keychain side of the redirect flow.
type RegistrationService struct {
	storage  *Storage
	notifier ports.CallbackNotifier
	param    string
	logger   zerolog.Logger
	now      func() time.Time
}

func NewRegistrationService(storage *Storage, notifier ports.CallbackNotifier, param string, logger zerolog.Logger) *RegistrationService {
	if param == "" {
		param = DefaultRedirectParam
	}
	return &RegistrationService{
		storage:  storage,
		notifier: notifier,
		param:    param,
		logger:   logger.With().Str("component", "registration").Logger(),
		now:      time.Now,
	}
}

// Complete persists the grant, builds the redirect token and delivers it to
// the callback and redirect targets of req.
func (s *RegistrationService) Complete(ctx context.Context, req RegistrationRequest) (*RegistrationResult, error) {
	if req.Origin == "" {
		return nil, core.ErrMissingOrigin
	}
	if req.Address == "" {
		return nil, fmt.Errorf("missing address: %w", core.ErrInvalidParams)
	}
	if err := core.ValidatePolicies(req.Policies); err != nil {
		return nil, err
	}
	now := s.now()
	if now.Unix() >= req.ExpiresAt {
		return nil, core.ErrSessionExpired
	}

	var redirect *url.URL
	if req.RedirectURI != "" {
		u, err := url.Parse(req.RedirectURI)
		if err != nil || !u.IsAbs() {
			return nil, fmt.Errorf("bad redirect uri: %w", core.ErrInvalidParams)
		}
		redirect = u
	}

	pubKey := req.SessionKeyPublic
	if pubKey == "" {
		signer, err := ensureSessionSigner(ctx, s.storage)
		if err != nil {
			return nil, err
		}
		pubKey = signer.PublicKey
	}
	sess := &core.Session{Policies: req.Policies, ExpiresAt: req.ExpiresAt, SessionKeyPublic: pubKey, Metadata: req.MetadataHash}
	if err := s.storage.SaveSession(ctx, req.Address, req.Origin, sess, now); err != nil {
		return nil, err
	}

	token, err := EncodeRegistration(&core.SessionRegistration{
		Username:        req.Username,
		Address:         req.Address,
		OwnerGUID:       req.OwnerGUID,
		ExpiresAt:       req.ExpiresAt,
		GuardianKeyGUID: req.GuardianKeyGUID,
		MetadataHash:    req.MetadataHash,
	})
	if err != nil {
		return nil, err
	}
	res := &RegistrationResult{State: RegistrationSucceeded, Token: token}

	if req.CallbackURI != "" && s.notifier != nil {
		err := s.notifier.Notify(ctx, req.CallbackURI, core.CallbackPayload{
			Username:          req.Username,
			Address:           req.Address,
			StarkPubKey:       pubKey,
			TransactionHash:   req.TransactionHash,
			AlreadyRegistered: req.AlreadyRegistered,
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("origin", req.Origin).Msg("registration callback failed")
			res.State = RegistrationFailed
		}
	}

	if redirect != nil {
		q := redirect.Query()
		q.Set(s.param, token)
		redirect.RawQuery = q.Encode()
		res.RedirectURL = redirect.String()
	}

	s.logger.Info().Str("origin", req.Origin).Str("address", req.Address).Str("state", string(res.State)).Msg("session registered")
	return res, nil
}
