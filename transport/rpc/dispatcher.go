package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/layer-3/keychain/core"
	"github.com/layer-3/keychain/ports"
	"github.com/rs/zerolog"
)

// Keychain is the part of the keychain service the dispatcher drives.
type Keychain interface {
	Connect(ctx context.Context, origin string, policies []core.Policy) (*core.Result, error)
	HeadlessConnect(ctx context.Context, origin string, policies []core.Policy, cred core.HeadlessCredential) (*core.Result, error)
	Execute(ctx context.Context, origin string, req core.ExecuteRequest) (*core.Result, error)
	SignMessage(ctx context.Context, origin string, req core.SignMessageRequest) (*core.Result, error)
	Probe(ctx context.Context, origin string) (*core.Result, error)
	Logout(ctx context.Context, origin string) (*core.Result, error)
}

// Response carries exactly one of Result and Error.
type Response struct {
	Method string `json:"method"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	err error
}

// Err returns the error behind Error.
func (r Response) Err() error { return r.err }

// Dispatcher routes decoded envelopes to the keychain, or straight to the
// account for methods that need no approval.
type Dispatcher struct {
	keychain Keychain
	account  ports.Account
	hasher   ports.MessageHasher
	logger   zerolog.Logger
}

// NewDispatcher returns a dispatcher over keychain. Account answers
// get-nonce; hasher answers the message hashing and verification methods.
func NewDispatcher(keychain Keychain, account ports.Account, hasher ports.MessageHasher, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		keychain: keychain,
		account:  account,
		hasher:   hasher,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch decodes env and runs it. Failures, panics included, become an
// error response.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) (resp Response) {
	resp.Method = env.Method
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Str("method", env.Method).Interface("panic", r).Msg("dispatch panicked")
			resp.Result = nil
			resp.err = fmt.Errorf("internal error: %v", r)
			resp.Error = resp.err.Error()
		}
	}()

	result, err := d.dispatch(ctx, env)
	if errors.Is(err, errNoResult) {
		err = fmt.Errorf("%s: %w", env.Method, err)
	}
	if err != nil {
		d.logger.Debug().Err(err).
			Str("method", env.Method).
			Str("origin", env.Origin).
			Bool("authenticated", Method(env.Method).Authenticated()).
			Msg("request failed")
		resp.err = err
		resp.Error = err.Error()
		return resp
	}
	resp.Result = result
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, env Envelope) (any, error) {
	req, err := Decode(env)
	if err != nil {
		return nil, err
	}
	origin := env.Origin

	switch r := req.(type) {
	case *ConnectRequest:
		if r.Credential != nil {
			return keychainResult(d.keychain.HeadlessConnect(ctx, origin, r.Policies, *r.Credential))
		}
		return keychainResult(d.keychain.Connect(ctx, origin, r.Policies))
	case *ExecuteRequest:
		return keychainResult(d.keychain.Execute(ctx, origin, r.ExecuteRequest))
	case *SignMessageRequest:
		return keychainResult(d.keychain.SignMessage(ctx, origin, r.SignMessageRequest))
	case *HashMessageRequest:
		return d.hasher.HashMessage(ctx, r.TypedData)
	case *VerifyMessageRequest:
		return d.hasher.VerifyMessage(ctx, r.TypedData, r.Signature)
	case *VerifyMessageHashRequest:
		return d.hasher.VerifyMessageHash(ctx, r.Hash, r.Signature)
	case *GetNonceRequest:
		return d.account.GetNonce(ctx)
	case *ProbeRequest:
		return keychainResult(d.keychain.Probe(ctx, origin))
	case *DisconnectRequest:
		return keychainResult(d.keychain.Logout(ctx, origin))
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownMethod, env.Method)
	}
}

var errNoResult = errors.New("no result")

// keychainResult keeps a nil *core.Result from escaping as a non-nil any.
func keychainResult(res *core.Result, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errNoResult
	}
	return res, nil
}
