package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/layer-3/keychain/core"
)

var errHeadlessUnavailable = errors.New("headless authentication not configured")

// HeadlessConnect authenticates with a non-interactive credential. When the
// authenticator asks for user interaction the approval surface is opened once
// and the connect waits for the signal on the request channel.
func (k *Keychain) HeadlessConnect(ctx context.Context, origin string, policies []core.Policy, cred core.HeadlessCredential) (*core.Result, error) {
	if origin == "" {
		return nil, core.ErrMissingOrigin
	}
	if err := core.ValidatePolicies(policies); err != nil {
		return nil, err
	}
	if k.headless == nil {
		return nil, errHeadlessUnavailable
	}

	cc := newConnectionContext(core.KindConnect, origin, core.View{Kind: core.ViewHeadlessApproval, Policies: policies})
	flowCtx, cancel := context.WithCancel(ctx)
	cc.cancel = cancel
	k.open(cc, core.StateAwaitingControllerLookup)

	go func() {
		defer cancel()
		cc.resolve(k.headlessFlow(flowCtx, cc, policies, cred))
	}()
	return k.await(ctx, cc)
}

func (k *Keychain) headlessFlow(ctx context.Context, cc *connectionContext, policies []core.Policy, cred core.HeadlessCredential) (*core.Result, error) {
	outcome, err := k.headless.Authenticate(ctx, cc.origin, policies, cred)
	if err != nil {
		return nil, err
	}

	switch outcome.Code {
	case core.CodeSuccess:
		if outcome.Address == "" {
			return nil, core.ErrControllerNotReady
		}
		ctrl := &core.Controller{Username: cred.Username, Address: outcome.Address}
		if err := k.storage.SaveController(ctx, ctrl); err != nil {
			return nil, err
		}
		return k.headlessResolved(ctx, ctrl, policies), nil
	case core.CodeUserInteractionRequired:
		return k.headlessApproval(ctx, cc, policies, outcome.RequestID)
	default:
		return nil, fmt.Errorf("unexpected headless outcome %q", outcome.Code)
	}
}

func (k *Keychain) headlessApproval(ctx context.Context, cc *connectionContext, policies []core.Policy, requestID string) (*core.Result, error) {
	if requestID == "" {
		return nil, fmt.Errorf("missing request id: %w", core.ErrInvalidParams)
	}
	if k.broadcaster == nil {
		return nil, errBroadcasterUnavailable
	}

	// Subscribe before the surface opens so a fast approval is not missed.
	pending, err := k.broadcaster.Listen(ctx, core.ChannelName(cc.origin, requestID))
	if err != nil {
		return nil, err
	}
	defer pending.Cancel()

	k.mu.Lock()
	cc.view.RequestID = requestID
	if k.active == cc {
		k.state = core.StateConnectNoSession
	}
	view := cc.view
	k.mu.Unlock()

	if err := k.surface.Present(ctx, view); err != nil {
		return nil, fmt.Errorf("failed to present %s: %w", view.Kind, err)
	}
	if k.hooks != nil {
		safeCall(ctx, k.logger, "open-approval", func(ctx context.Context) error {
			return k.hooks.OpenApproval(ctx, requestID)
		})
	}

	signal, err := pending.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if signal.Code == core.CodeCanceled {
		return core.Canceled(), nil
	}

	ctrl, err := k.storage.Controller(ctx, k.now())
	if err != nil {
		return nil, err
	}
	if ctrl == nil {
		return nil, core.ErrControllerNotReady
	}
	return k.headlessResolved(ctx, ctrl, policies), nil
}

func (k *Keychain) headlessResolved(ctx context.Context, ctrl *core.Controller, policies []core.Policy) *core.Result {
	k.recordConnector(ctx)
	if k.hooks != nil {
		safeCall(ctx, k.logger, "session-created", func(ctx context.Context) error {
			return k.hooks.SessionCreated(ctx, ctrl.Address)
		})
	}
	return &core.Result{Code: core.CodeSuccess, Address: ctrl.Address, Policies: policies}
}
