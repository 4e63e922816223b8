// Package account talks to the external account component over JSON-RPC.
package account

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/layer-3/keychain/core"
	"github.com/layer-3/keychain/ports"
)

// RPCAccount implements the Account, MessageHasher and HeadlessAuthenticator
// ports on top of a go-ethereum JSON-RPC client. Account calls live in the
// "account" namespace, headless authentication in "auth".
type RPCAccount struct {
	client *rpc.Client
}

var (
	_ ports.Account               = (*RPCAccount)(nil)
	_ ports.MessageHasher         = (*RPCAccount)(nil)
	_ ports.HeadlessAuthenticator = (*RPCAccount)(nil)
)

// NewRPCAccount creates an account over an established RPC client
func NewRPCAccount(client *rpc.Client) *RPCAccount {
	return &RPCAccount{client: client}
}

// Dial connects to the account service at url (http, ws or ipc).
func Dial(ctx context.Context, url string) (*RPCAccount, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial account service: %w", err)
	}
	return NewRPCAccount(client), nil
}

// Close closes the RPC connection.
func (a *RPCAccount) Close() {
	a.client.Close()
}

func (a *RPCAccount) call(ctx context.Context, result any, method string, args ...any) error {
	if err := a.client.CallContext(ctx, result, method, args...); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// Execute submits calls and returns the transaction hash. Details carry the
// owner signature when the calls were approved with a passkey.
func (a *RPCAccount) Execute(ctx context.Context, calls []core.Call, details core.ExecuteDetails) (string, error) {
	var txHash string
	err := a.call(ctx, &txHash, "account_execute", calls, details)
	return txHash, err
}

// SignMessage signs typed data with the session key.
func (a *RPCAccount) SignMessage(ctx context.Context, typedData core.TypedData) ([]string, error) {
	var signature []string
	err := a.call(ctx, &signature, "account_signMessage", typedData)
	return signature, err
}

// HasSession reports whether the account session authorizes calls.
func (a *RPCAccount) HasSession(ctx context.Context, calls []core.Call) (bool, error) {
	var ok bool
	err := a.call(ctx, &ok, "account_hasSession", calls)
	return ok, err
}

// SessionJSON returns the serialized account session.
func (a *RPCAccount) SessionJSON(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	err := a.call(ctx, &raw, "account_sessionJson")
	return raw, err
}

// RevokeSession revokes the account session.
func (a *RPCAccount) RevokeSession(ctx context.Context) error {
	return a.call(ctx, nil, "account_revokeSession")
}

// GetNonce returns the next account nonce.
func (a *RPCAccount) GetNonce(ctx context.Context) (string, error) {
	var nonce string
	err := a.call(ctx, &nonce, "account_getNonce")
	return nonce, err
}

// HashMessage returns the typed data hash.
func (a *RPCAccount) HashMessage(ctx context.Context, typedData core.TypedData) (string, error) {
	var hash string
	err := a.call(ctx, &hash, "account_hashMessage", typedData)
	return hash, err
}

// VerifyMessage checks signature against typed data.
func (a *RPCAccount) VerifyMessage(ctx context.Context, typedData core.TypedData, signature []string) (bool, error) {
	var ok bool
	err := a.call(ctx, &ok, "account_verifyMessage", typedData, signature)
	return ok, err
}

// VerifyMessageHash checks signature against a precomputed hash.
func (a *RPCAccount) VerifyMessageHash(ctx context.Context, hash string, signature []string) (bool, error) {
	var ok bool
	err := a.call(ctx, &ok, "account_verifyMessageHash", hash, signature)
	return ok, err
}

// Authenticate runs headless authentication for origin.
func (a *RPCAccount) Authenticate(ctx context.Context, origin string, policies []core.Policy, cred core.HeadlessCredential) (core.HeadlessOutcome, error) {
	var outcome core.HeadlessOutcome
	err := a.call(ctx, &outcome, "auth_authenticate", origin, policies, cred)
	return outcome, err
}
