package service

import (
	"context"
	"fmt"

	"github.com/layer-3/keychain/core"
	"github.com/layer-3/keychain/internal/webauthn"
)

// Execute runs calls through the account. Calls covered by the session for
// origin go straight to the account; anything else needs approval.
func (k *Keychain) Execute(ctx context.Context, origin string, req core.ExecuteRequest) (*core.Result, error) {
	if origin == "" {
		return nil, core.ErrMissingOrigin
	}
	if len(req.Calls) == 0 {
		return nil, fmt.Errorf("no calls: %w", core.ErrInvalidParams)
	}
	if req.Details.MaxFee != nil && req.Details.MaxFee.IsNegative() {
		return nil, fmt.Errorf("negative max fee: %w", core.ErrInvalidParams)
	}
	// Only an approved assertion may carry an owner signature.
	req.Details.Signature = nil

	ctrl, sess, err := k.requireConnection(ctx, origin)
	if err != nil {
		return nil, err
	}
	if res, err := k.awaitCorrelation(ctx, origin, req.CorrelationID); res != nil || err != nil {
		return res, err
	}

	if sess.Covers(core.PoliciesFromCalls(req.Calls)) {
		ok, err := k.account.HasSession(ctx, req.Calls)
		if err != nil {
			k.logger.Warn().Err(err).Str("origin", origin).Msg("session check failed")
		}
		if ok {
			return k.execute(ctx, ctrl, req)
		}
	}

	cc := newConnectionContext(core.KindExecute, origin, core.View{
		Kind:    core.ViewExecute,
		Address: ctrl.Address,
		Calls:   req.Calls,
	})
	cc.approve = func(ctx context.Context, p ApproveParams) (*core.Result, error) {
		if p.Assertion != nil {
			sig, err := webauthn.Calldata(*p.Assertion)
			if err != nil {
				return nil, err
			}
			req.Details.Signature = sig
		}
		return k.execute(ctx, ctrl, req)
	}
	return k.present(ctx, cc, core.StateExecute)
}

func (k *Keychain) execute(ctx context.Context, ctrl *core.Controller, req core.ExecuteRequest) (*core.Result, error) {
	hash, err := k.account.Execute(ctx, req.Calls, req.Details)
	if err != nil {
		return nil, fmt.Errorf("failed to execute: %w", err)
	}
	k.logger.Info().Str("address", ctrl.Address).Str("tx", hash).Int("calls", len(req.Calls)).Msg("executed")
	return &core.Result{Code: core.CodeSuccess, Address: ctrl.Address, TransactionHash: hash}, nil
}

// SignMessage signs typed data with the account once the user approves.
func (k *Keychain) SignMessage(ctx context.Context, origin string, req core.SignMessageRequest) (*core.Result, error) {
	if origin == "" {
		return nil, core.ErrMissingOrigin
	}
	if len(req.TypedData) == 0 {
		return nil, fmt.Errorf("missing typed data: %w", core.ErrInvalidParams)
	}

	ctrl, _, err := k.requireConnection(ctx, origin)
	if err != nil {
		return nil, err
	}
	if res, err := k.awaitCorrelation(ctx, origin, req.CorrelationID); res != nil || err != nil {
		return res, err
	}

	cc := newConnectionContext(core.KindSignMessage, origin, core.View{
		Kind:      core.ViewSignMessage,
		Address:   ctrl.Address,
		TypedData: req.TypedData,
	})
	cc.approve = func(ctx context.Context, p ApproveParams) (*core.Result, error) {
		if p.Assertion != nil {
			sig, err := webauthn.Calldata(*p.Assertion)
			if err != nil {
				return nil, err
			}
			return &core.Result{Code: core.CodeSuccess, Address: ctrl.Address, Signature: sig}, nil
		}
		sig, err := k.account.SignMessage(ctx, req.TypedData)
		if err != nil {
			return nil, fmt.Errorf("failed to sign message: %w", err)
		}
		return &core.Result{Code: core.CodeSuccess, Address: ctrl.Address, Signature: sig}, nil
	}
	return k.present(ctx, cc, core.StateSignMessage)
}

// requireConnection loads the identity and the session of origin. Both must
// exist.
func (k *Keychain) requireConnection(ctx context.Context, origin string) (*core.Controller, *core.Session, error) {
	now := k.now()
	ctrl, err := k.storage.Controller(ctx, now)
	if err != nil {
		return nil, nil, err
	}
	if ctrl == nil {
		return nil, nil, core.ErrNotConnected
	}
	sess, err := k.storage.Session(ctx, ctrl.Address, origin, now)
	if err != nil {
		return nil, nil, err
	}
	if sess == nil {
		return nil, nil, fmt.Errorf("no session for %s: %w", origin, core.ErrNotConnected)
	}
	return ctrl, sess, nil
}

// awaitCorrelation blocks on the completion signal of a request that carries
// a correlation id. A Canceled signal short-circuits with a Canceled result;
// nil, nil means proceed. A correlated request cannot proceed without a
// broadcaster to wait on.
func (k *Keychain) awaitCorrelation(ctx context.Context, origin, id string) (*core.Result, error) {
	if id == "" {
		return nil, nil
	}
	if k.broadcaster == nil {
		return nil, fmt.Errorf("correlation %s: %w", id, errBroadcasterUnavailable)
	}
	pending, err := k.broadcaster.Listen(ctx, core.ChannelName(origin, id))
	if err != nil {
		return nil, err
	}
	defer pending.Cancel()

	signal, err := pending.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if signal.Code == core.CodeCanceled {
		return core.Canceled(), nil
	}
	return nil, nil
}
