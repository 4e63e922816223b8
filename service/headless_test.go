package service

import (
	"context"
	"testing"

	"github.com/layer-3/keychain/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var password = core.HeadlessCredential{Username: "alice", Method: "password", Secret: "hunter2"}

func TestHeadlessConnectSuccess(t *testing.T) {
	f := newFixture(t, Config{})
	f.headless.outcome = core.HeadlessOutcome{Code: core.CodeSuccess, Address: testAddress}
	f.hooks.err = errBoom
	ctx := context.Background()

	res, err := f.kc.HeadlessConnect(ctx, testOrigin, []core.Policy{policyTransfer}, password)
	require.NoError(t, err)
	assert.Equal(t, core.CodeSuccess, res.Code)
	assert.Equal(t, testAddress, res.Address)
	assert.EqualValues(t, 1, f.hooks.sessionCreated.Load())
	assert.Zero(t, f.hooks.openApproval.Load())
	assert.Zero(t, f.surface.presented())

	ctrl, err := f.storage.Controller(ctx, f.clock.now())
	require.NoError(t, err)
	assert.Equal(t, "alice", ctrl.Username)
}

func TestHeadlessConnectErrorPropagates(t *testing.T) {
	f := newFixture(t, Config{})
	f.headless.err = errBoom

	_, err := f.kc.HeadlessConnect(context.Background(), testOrigin, nil, password)
	require.Equal(t, errBoom, err)
	assert.Zero(t, f.hooks.sessionCreated.Load())
}

func TestHeadlessConnectInteraction(t *testing.T) {
	f := newFixture(t, Config{})
	f.headless.outcome = core.HeadlessOutcome{Code: core.CodeUserInteractionRequired, RequestID: "req-7"}
	ctx := context.Background()

	out := async(func() (*core.Result, error) {
		return f.kc.HeadlessConnect(ctx, testOrigin, []core.Policy{policyTransfer}, password)
	})

	view := f.surface.next(t)
	assert.Equal(t, core.ViewHeadlessApproval, view.Kind)
	assert.Equal(t, "req-7", view.RequestID)
	assert.Equal(t, 1, f.broadcaster.Listeners())

	// The approval surface signs the user in, then signals completion.
	f.signIn(t)
	require.NoError(t, f.kc.Signal(ctx, testOrigin, "req-7", core.Signal{Code: core.CodeSuccess, Address: testAddress}))

	res, err := wait(t, out)
	require.NoError(t, err)
	assert.Equal(t, core.CodeSuccess, res.Code)
	assert.Equal(t, testAddress, res.Address)
	assert.EqualValues(t, 1, f.hooks.openApproval.Load())
	assert.EqualValues(t, 1, f.hooks.sessionCreated.Load())
	assert.Zero(t, f.broadcaster.Listeners())
	assert.Zero(t, f.surface.presented())
}

func TestHeadlessConnectInteractionOutcomes(t *testing.T) {
	for name, tc := range map[string]struct {
		signal  core.ResponseCode
		want    core.ResponseCode
		wantErr error
	}{
		"canceled":           {signal: core.CodeCanceled, want: core.CodeCanceled},
		"controller missing": {signal: core.CodeSuccess, wantErr: core.ErrControllerNotReady},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, Config{})
			f.headless.outcome = core.HeadlessOutcome{Code: core.CodeUserInteractionRequired, RequestID: "req-8"}
			ctx := context.Background()

			out := async(func() (*core.Result, error) {
				return f.kc.HeadlessConnect(ctx, testOrigin, nil, password)
			})
			f.surface.next(t)
			require.NoError(t, f.kc.Signal(ctx, testOrigin, "req-8", core.Signal{Code: tc.signal}))

			res, err := wait(t, out)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Code)
			assert.Zero(t, f.hooks.sessionCreated.Load())
		})
	}
}

func TestHeadlessConnectUnavailable(t *testing.T) {
	f := newFixture(t, Config{})
	f.kc.headless = nil

	_, err := f.kc.HeadlessConnect(context.Background(), testOrigin, nil, password)
	require.ErrorIs(t, err, errHeadlessUnavailable)
}
