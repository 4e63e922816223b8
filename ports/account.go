package ports

import (
	"context"
	"encoding/json"

	"github.com/layer-3/keychain/core"
)

// Account is the external account component. It owns transaction
// construction and signing; the keychain only drives it.
type Account interface {
	Execute(ctx context.Context, calls []core.Call, details core.ExecuteDetails) (string, error)
	SignMessage(ctx context.Context, typedData core.TypedData) ([]string, error)
	HasSession(ctx context.Context, calls []core.Call) (bool, error)
	SessionJSON(ctx context.Context) (json.RawMessage, error)
	RevokeSession(ctx context.Context) error
	GetNonce(ctx context.Context) (string, error)
}

// MessageHasher serves the unauthenticated message helpers.
type MessageHasher interface {
	HashMessage(ctx context.Context, typedData core.TypedData) (string, error)
	VerifyMessage(ctx context.Context, typedData core.TypedData, signature []string) (bool, error)
	VerifyMessageHash(ctx context.Context, hash string, signature []string) (bool, error)
}

// HeadlessAuthenticator runs an authentication ceremony without UI. An error
// return is the error outcome and is propagated unchanged.
type HeadlessAuthenticator interface {
	Authenticate(ctx context.Context, origin string, policies []core.Policy, cred core.HeadlessCredential) (core.HeadlessOutcome, error)
}
