package ports

import (
	"context"

	"github.com/layer-3/keychain/core"
)

// ApprovalSurface renders views that need a user gesture.
type ApprovalSurface interface {
	Present(ctx context.Context, view core.View) error
}

// HostHooks notify the surface hosting the keychain. Calls are best effort.
type HostHooks interface {
	SessionCreated(ctx context.Context, address string) error
	OpenApproval(ctx context.Context, requestID string) error
}

// CallbackNotifier delivers a registration result to a callback_uri.
type CallbackNotifier interface {
	Notify(ctx context.Context, uri string, payload core.CallbackPayload) error
}
