package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/keychain/core"
	"github.com/layer-3/keychain/internal/webauthn"
	"github.com/layer-3/keychain/ports"
	"github.com/rs/zerolog"
)

const (
	DefaultSessionTTL  = 7 * 24 * time.Hour
	DefaultConnectorID = "controller"
)

var (
	errBroadcasterUnavailable = errors.New("broadcaster not configured")
	errTokenizerUnavailable   = errors.New("approval tokenizer not configured")
)

// Config tunes the connection state machine.
type Config struct {
	PollInterval    time.Duration
	ApprovalTimeout time.Duration
	SessionTTL      time.Duration
	// Detached makes connect poll the store for approval records written by
	// a separate approval process instead of waiting for Approve.
	Detached    bool
	ConnectorID string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ApprovalTimeout <= 0 {
		c.ApprovalTimeout = DefaultApprovalTimeout
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.ConnectorID == "" {
		c.ConnectorID = DefaultConnectorID
	}
	return c
}

// Dependencies are the capabilities injected into the keychain. Store and
// Account are required; nil optional ports disable the flows that need them.
type Dependencies struct {
	Store       ports.Store
	Account     ports.Account
	Surface     ports.ApprovalSurface
	Hooks       ports.HostHooks
	Broadcaster ports.Broadcaster
	Tokenizer   ports.ApprovalTokenizer
	Events      ports.EventPublisher
	Headless    ports.HeadlessAuthenticator
}

type Option func(*Keychain)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(k *Keychain) { k.now = now }
}

// Keychain owns the current authorization context. At most one context is
// active; opening a new one cancels the previous.
type Keychain struct {
	storage     *Storage
	account     ports.Account
	surface     ports.ApprovalSurface
	hooks       ports.HostHooks
	broadcaster ports.Broadcaster
	tokenizer   ports.ApprovalTokenizer
	events      ports.EventPublisher
	headless    ports.HeadlessAuthenticator

	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	active *connectionContext
	state  core.State
}

// NewKeychain wires the state machine over deps. A nil Surface presents
// nothing, which suits hosts that drive Approve from elsewhere.
func NewKeychain(deps Dependencies, cfg Config, logger zerolog.Logger, opts ...Option) *Keychain {
	k := &Keychain{
		storage:     NewStorage(deps.Store),
		account:     deps.Account,
		surface:     deps.Surface,
		hooks:       deps.Hooks,
		broadcaster: deps.Broadcaster,
		tokenizer:   deps.Tokenizer,
		events:      deps.Events,
		headless:    deps.Headless,
		cfg:         cfg.withDefaults(),
		logger:      logger.With().Str("component", "keychain").Logger(),
		now:         time.Now,
		state:       core.StateIdle,
	}
	if k.surface == nil {
		k.surface = nopSurface{}
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// State returns the current state of the connection state machine.
func (k *Keychain) State() core.State {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// Active returns the view of the pending context, if any.
func (k *Keychain) Active() (core.View, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.active == nil || k.active.settled() {
		return core.View{}, false
	}
	return k.active.view, true
}

// Connect authorizes origin for policies. An unexpired session that covers
// the policies resolves right away without involving the approval surface.
func (k *Keychain) Connect(ctx context.Context, origin string, policies []core.Policy) (*core.Result, error) {
	if origin == "" {
		return nil, core.ErrMissingOrigin
	}
	if err := core.ValidatePolicies(policies); err != nil {
		return nil, err
	}

	k.setState(core.StateAwaitingControllerLookup)
	ctrl, err := k.storage.Controller(ctx, k.now())
	if err != nil {
		k.setState(core.StateIdle)
		return nil, err
	}

	if ctrl == nil {
		cc := newConnectionContext(core.KindConnect, origin, core.View{Kind: core.ViewLogin, Policies: policies})
		cc.approve = k.approveConnect(origin, nil, policies)
		return k.present(ctx, cc, core.StateConnectNoSession)
	}

	sess, err := k.storage.Session(ctx, ctrl.Address, origin, k.now())
	if err != nil {
		k.setState(core.StateIdle)
		return nil, err
	}
	if sess.Covers(policies) {
		k.setState(core.StateConnectExistingSession)
		k.recordConnector(ctx)
		k.setState(core.StateResolved)
		k.logger.Debug().Str("origin", origin).Str("address", ctrl.Address).Msg("reusing session")
		return &core.Result{Code: core.CodeSuccess, Address: ctrl.Address, Policies: policies}, nil
	}

	cc := newConnectionContext(core.KindConnect, origin, core.View{
		Kind:     core.ViewConnect,
		Address:  ctrl.Address,
		Policies: policies,
	})
	cc.approve = k.approveConnect(origin, ctrl, policies)
	if k.cfg.Detached {
		return k.connectDetached(ctx, cc, ctrl, policies)
	}
	return k.present(ctx, cc, core.StateConnectNoSession)
}

func (k *Keychain) approveConnect(origin string, ctrl *core.Controller, policies []core.Policy) approveFunc {
	return func(ctx context.Context, p ApproveParams) (*core.Result, error) {
		c := ctrl
		if c == nil {
			if p.Controller == nil || p.Controller.Address == "" {
				return nil, core.ErrControllerNotReady
			}
			c = p.Controller
			if err := k.storage.SaveController(ctx, c); err != nil {
				return nil, err
			}
		}

		signer, err := ensureSessionSigner(ctx, k.storage)
		if err != nil {
			return nil, err
		}
		sess := &core.Session{
			Policies:         policies,
			ExpiresAt:        k.now().Add(k.cfg.SessionTTL).Unix(),
			SessionKeyPublic: signer.PublicKey,
		}
		return k.grant(ctx, c, origin, sess)
	}
}

// grant persists a new session and resolves the connect with it.
func (k *Keychain) grant(ctx context.Context, ctrl *core.Controller, origin string, sess *core.Session) (*core.Result, error) {
	if err := k.storage.SaveSession(ctx, ctrl.Address, origin, sess, k.now()); err != nil {
		return nil, err
	}
	k.recordConnector(ctx)
	if k.events != nil {
		safeCall(ctx, k.logger, "publish-session-created", func(ctx context.Context) error {
			return k.events.PublishSessionCreated(ctx, ctrl.Address, origin)
		})
	}
	k.logger.Info().Str("origin", origin).Str("address", ctrl.Address).Int("policies", len(sess.Policies)).Msg("session granted")
	return &core.Result{Code: core.CodeSuccess, Address: ctrl.Address, Policies: sess.Policies}, nil
}

func (k *Keychain) connectDetached(ctx context.Context, cc *connectionContext, ctrl *core.Controller, policies []core.Policy) (*core.Result, error) {
	requestID := uuid.NewString()
	cc.view.RequestID = requestID

	flowCtx, cancel := context.WithCancel(ctx)
	cc.cancel = cancel
	k.open(cc, core.StateConnectNoSession)

	go func() {
		defer cancel()
		approval, err := k.pollApproval(flowCtx, cc.origin, requestID)
		if err != nil {
			cc.resolve(nil, err)
			return
		}
		if !cc.claim() {
			k.logger.Debug().Str("request_id", requestID).Msg("approval arrived after the request was settled")
			return
		}
		cc.settle(k.grantApproval(flowCtx, cc.origin, approval, ctrl, policies))
	}()

	if err := k.surface.Present(ctx, cc.view); err != nil {
		cc.resolve(nil, fmt.Errorf("failed to present %s: %w", cc.view.Kind, err))
	} else if k.hooks != nil {
		safeCall(ctx, k.logger, "open-approval", func(ctx context.Context) error {
			return k.hooks.OpenApproval(ctx, requestID)
		})
	}
	return k.await(ctx, cc)
}

// pollApproval waits for the detached approval record of requestID and
// consumes it.
func (k *Keychain) pollApproval(ctx context.Context, origin, requestID string) (*core.Approval, error) {
	if k.tokenizer == nil {
		return nil, errTokenizerUnavailable
	}

	approval, err := Poll(ctx, k.cfg.PollInterval, k.cfg.ApprovalTimeout, func(ctx context.Context) (*core.Approval, bool, error) {
		token, err := k.storage.Approval(ctx, requestID)
		if err != nil {
			k.logger.Warn().Err(err).Str("request_id", requestID).Msg("approval lookup failed")
			return nil, false, nil
		}
		if token == "" {
			return nil, false, nil
		}
		a, err := k.tokenizer.TokenToApproval(token)
		if err == nil && (a.Origin != origin || a.RequestID != requestID) {
			err = fmt.Errorf("approval for %s/%s: %w", a.Origin, a.RequestID, core.ErrInvalidToken)
		}
		if err != nil {
			k.logger.Warn().Err(err).Str("request_id", requestID).Msg("ignoring approval record")
			if err := k.storage.DeleteApproval(ctx, requestID); err != nil {
				k.logger.Warn().Err(err).Msg("failed to delete approval record")
			}
			return nil, false, nil
		}
		return a, true, nil
	})
	if err != nil {
		return nil, err
	}

	if err := k.storage.DeleteApproval(ctx, requestID); err != nil {
		k.logger.Warn().Err(err).Str("request_id", requestID).Msg("failed to consume approval record")
	}
	return approval, nil
}

// grantApproval turns a detached approval into a session for origin.
func (k *Keychain) grantApproval(ctx context.Context, origin string, approval *core.Approval, ctrl *core.Controller, policies []core.Policy) (*core.Result, error) {
	c := ctrl
	if c == nil || core.NormalizeAddress(c.Address) != core.NormalizeAddress(approval.Address) {
		c = &core.Controller{Address: approval.Address}
		if err := k.storage.SaveController(ctx, c); err != nil {
			return nil, err
		}
	}

	sess := &core.Session{
		Policies:         approval.Policies,
		ExpiresAt:        approval.SessionExpiresAt,
		SessionKeyPublic: approval.SessionKeyPublic,
	}
	if sess.Policies == nil {
		sess.Policies = policies
	}
	if sess.SessionKeyPublic == "" {
		signer, err := ensureSessionSigner(ctx, k.storage)
		if err != nil {
			return nil, err
		}
		sess.SessionKeyPublic = signer.PublicKey
	}
	return k.grant(ctx, c, origin, sess)
}

// RecordApproval stores an approval record the detached approval process
// already signed. Tokens that do not verify are refused; the record lives
// until the token expires.
func (k *Keychain) RecordApproval(ctx context.Context, token string) error {
	if k.tokenizer == nil {
		return errTokenizerUnavailable
	}
	approval, err := k.tokenizer.TokenToApproval(token)
	if err != nil {
		return err
	}
	if approval.RequestID == "" || approval.Origin == "" {
		return fmt.Errorf("approval without request id or origin: %w", core.ErrInvalidToken)
	}
	ttl := approval.ExpiresAt.Sub(k.now())
	if ttl <= 0 {
		return core.ErrSessionExpired
	}
	return k.storage.SaveApproval(ctx, approval.RequestID, token, ttl)
}

// Signal publishes a completion signal on the origin-scoped channel id.
func (k *Keychain) Signal(ctx context.Context, origin, id string, signal core.Signal) error {
	if origin == "" {
		return core.ErrMissingOrigin
	}
	if k.broadcaster == nil {
		return errBroadcasterUnavailable
	}
	return k.broadcaster.Publish(ctx, core.ChannelName(origin, id), signal)
}

// Approve claims the active context, runs its continuation and settles it
// with the outcome. Only the first of concurrent Approve, Cancel or Reject
// calls gets to act; the others see ErrNoPendingRequest. A malformed
// assertion is rejected before the claim so the request stays pending.
func (k *Keychain) Approve(ctx context.Context, p ApproveParams) (*core.Result, error) {
	cc := k.current()
	if cc == nil || cc.approve == nil {
		return nil, core.ErrNoPendingRequest
	}
	if p.Assertion != nil {
		if _, err := webauthn.Calldata(*p.Assertion); err != nil {
			return nil, err
		}
	}
	if !cc.claim() {
		return nil, core.ErrNoPendingRequest
	}
	res, err := cc.approve(ctx, p)
	cc.settle(res, err)
	return res, err
}

// Cancel resolves the active context with a Canceled result.
func (k *Keychain) Cancel() error {
	cc := k.current()
	if cc == nil || !cc.resolve(core.Canceled(), nil) {
		return core.ErrNoPendingRequest
	}
	return nil
}

// Reject fails the active context with err.
func (k *Keychain) Reject(err error) error {
	cc := k.current()
	if cc == nil || !cc.resolve(nil, err) {
		return core.ErrNoPendingRequest
	}
	return nil
}

// Probe reports the connected address without any approval check.
func (k *Keychain) Probe(ctx context.Context, origin string) (*core.Result, error) {
	if origin == "" {
		return nil, core.ErrMissingOrigin
	}
	ctrl, err := k.storage.Controller(ctx, k.now())
	if err != nil {
		return nil, err
	}
	if ctrl == nil {
		return &core.Result{Code: core.CodeNotConnected}, nil
	}
	return &core.Result{Code: core.CodeSuccess, Address: ctrl.Address}, nil
}

// Logout revokes the account session and forgets the identity and the
// session granted to origin.
func (k *Keychain) Logout(ctx context.Context, origin string) (*core.Result, error) {
	if origin == "" {
		return nil, core.ErrMissingOrigin
	}
	cc := newConnectionContext(core.KindLogout, origin, core.View{})
	k.open(cc, core.StateLogout)
	cc.claim()

	ctrl, err := k.storage.Controller(ctx, k.now())
	if err != nil {
		cc.settle(nil, err)
		return k.await(ctx, cc)
	}

	var address string
	if ctrl != nil {
		address = ctrl.Address
	}
	if k.account != nil {
		safeCall(ctx, k.logger, "revoke-session", k.account.RevokeSession)
	}
	if err := k.storage.Clear(ctx, address, origin); err != nil {
		cc.settle(nil, err)
		return k.await(ctx, cc)
	}
	if ctrl != nil && k.events != nil {
		safeCall(ctx, k.logger, "publish-logout", func(ctx context.Context) error {
			return k.events.PublishLogout(ctx, address, origin)
		})
	}
	cc.settle(&core.Result{Code: core.CodeSuccess, Address: address}, nil)
	return k.await(ctx, cc)
}

func (k *Keychain) present(ctx context.Context, cc *connectionContext, state core.State) (*core.Result, error) {
	k.open(cc, state)
	if err := k.surface.Present(ctx, cc.view); err != nil {
		cc.resolve(nil, fmt.Errorf("failed to present %s: %w", cc.view.Kind, err))
	}
	return k.await(ctx, cc)
}

func (k *Keychain) open(cc *connectionContext, state core.State) {
	k.mu.Lock()
	prev := k.active
	k.active = cc
	k.state = state
	k.mu.Unlock()

	if prev != nil && prev.resolve(core.Canceled(), nil) {
		k.logger.Debug().Str("context", string(prev.kind)).Str("origin", prev.origin).Msg("superseded pending request")
	}
}

func (k *Keychain) await(ctx context.Context, cc *connectionContext) (*core.Result, error) {
	select {
	case <-cc.done:
	case <-ctx.Done():
		// A claimed context is mid-flight; its outcome is still reported.
		cc.resolve(nil, ctx.Err())
	}
	<-cc.done

	k.mu.Lock()
	if k.active == cc {
		k.active = nil
		if cc.err == nil && cc.result != nil && cc.result.Code == core.CodeSuccess {
			k.state = core.StateResolved
		} else {
			k.state = core.StateIdle
		}
	}
	k.mu.Unlock()

	return cc.result, cc.err
}

func (k *Keychain) current() *connectionContext {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.active
}

func (k *Keychain) setState(s core.State) {
	k.mu.Lock()
	k.state = s
	k.mu.Unlock()
}

func (k *Keychain) recordConnector(ctx context.Context) {
	if err := k.storage.SetLastUsedConnector(ctx, k.cfg.ConnectorID); err != nil {
		k.logger.Warn().Err(err).Msg("failed to record connector")
	}
}

type nopSurface struct{}

func (nopSurface) Present(context.Context, core.View) error { return nil }
