// Package rpc decodes dApp request envelopes into typed requests and
// dispatches them to the keychain.
package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/layer-3/keychain/core"
)

// Envelope is the inbound message of a dApp.
type Envelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	Origin string          `json:"origin"`
}

type Method string

const (
	MethodConnect           Method = "connect"
	MethodExecute           Method = "execute"
	MethodSignMessage       Method = "sign-message"
	MethodHashMessage       Method = "hash-message"
	MethodVerifyMessage     Method = "verify-message"
	MethodVerifyMessageHash Method = "verify-message-hash"
	MethodGetNonce          Method = "get-nonce"
	MethodProbe             Method = "probe"
	MethodDisconnect        Method = "disconnect"
)

// Authenticated reports whether the method needs an approved controller and
// session.
func (m Method) Authenticated() bool {
	switch m {
	case MethodConnect, MethodExecute, MethodSignMessage, MethodDisconnect:
		return true
	}
	return false
}

// Request is one of the request variants below.
type Request interface {
	Method() Method
	validate() error
}

// ConnectRequest runs a headless connect when Credential is set.
type ConnectRequest struct {
	Policies   []core.Policy            `json:"policies"`
	Credential *core.HeadlessCredential `json:"credential,omitempty"`
}

type ExecuteRequest struct {
	core.ExecuteRequest
}

type SignMessageRequest struct {
	core.SignMessageRequest
}

type HashMessageRequest struct {
	TypedData core.TypedData `json:"typedData"`
}

type VerifyMessageRequest struct {
	TypedData core.TypedData `json:"typedData"`
	Signature []string       `json:"signature"`
}

type VerifyMessageHashRequest struct {
	Hash      string   `json:"hash"`
	Signature []string `json:"signature"`
}

type GetNonceRequest struct{}

type ProbeRequest struct{}

type DisconnectRequest struct{}

func (ConnectRequest) Method() Method           { return MethodConnect }
func (ExecuteRequest) Method() Method           { return MethodExecute }
func (SignMessageRequest) Method() Method       { return MethodSignMessage }
func (HashMessageRequest) Method() Method       { return MethodHashMessage }
func (VerifyMessageRequest) Method() Method     { return MethodVerifyMessage }
func (VerifyMessageHashRequest) Method() Method { return MethodVerifyMessageHash }
func (GetNonceRequest) Method() Method          { return MethodGetNonce }
func (ProbeRequest) Method() Method             { return MethodProbe }
func (DisconnectRequest) Method() Method        { return MethodDisconnect }

func (r ConnectRequest) validate() error {
	if err := core.ValidatePolicies(r.Policies); err != nil {
		return err
	}
	if r.Credential != nil && r.Credential.Username == "" {
		return fmt.Errorf("credential without username: %w", core.ErrInvalidParams)
	}
	return nil
}

func (r ExecuteRequest) validate() error {
	if len(r.Calls) == 0 {
		return fmt.Errorf("no calls: %w", core.ErrInvalidParams)
	}
	for i, c := range r.Calls {
		if c.ContractAddress == "" || c.Entrypoint == "" {
			return fmt.Errorf("call %d: missing contractAddress or entrypoint: %w", i, core.ErrInvalidParams)
		}
	}
	if r.Details.MaxFee != nil && r.Details.MaxFee.IsNegative() {
		return fmt.Errorf("negative maxFee: %w", core.ErrInvalidParams)
	}
	return nil
}

func (r SignMessageRequest) validate() error {
	return requireTypedData(r.TypedData)
}

func (r HashMessageRequest) validate() error {
	return requireTypedData(r.TypedData)
}

func (r VerifyMessageRequest) validate() error {
	if err := requireTypedData(r.TypedData); err != nil {
		return err
	}
	return requireSignature(r.Signature)
}

func (r VerifyMessageHashRequest) validate() error {
	if r.Hash == "" {
		return fmt.Errorf("missing hash: %w", core.ErrInvalidParams)
	}
	return requireSignature(r.Signature)
}

func (GetNonceRequest) validate() error   { return nil }
func (ProbeRequest) validate() error      { return nil }
func (DisconnectRequest) validate() error { return nil }

func requireTypedData(td core.TypedData) error {
	if len(bytes.TrimSpace(td)) == 0 || bytes.Equal(bytes.TrimSpace(td), []byte("null")) {
		return fmt.Errorf("missing typedData: %w", core.ErrInvalidParams)
	}
	return nil
}

func requireSignature(sig []string) error {
	if len(sig) == 0 {
		return fmt.Errorf("missing signature: %w", core.ErrInvalidParams)
	}
	return nil
}

// Decode maps env to its request variant. The origin is never inferred.
func Decode(env Envelope) (Request, error) {
	if env.Origin == "" {
		return nil, core.ErrMissingOrigin
	}

	var req Request
	switch Method(env.Method) {
	case MethodConnect:
		req = &ConnectRequest{}
	case MethodExecute:
		req = &ExecuteRequest{}
	case MethodSignMessage:
		req = &SignMessageRequest{}
	case MethodHashMessage:
		req = &HashMessageRequest{}
	case MethodVerifyMessage:
		req = &VerifyMessageRequest{}
	case MethodVerifyMessageHash:
		req = &VerifyMessageHashRequest{}
	case MethodGetNonce:
		req = &GetNonceRequest{}
	case MethodProbe:
		req = &ProbeRequest{}
	case MethodDisconnect:
		req = &DisconnectRequest{}
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownMethod, env.Method)
	}

	params := bytes.TrimSpace(env.Params)
	if len(params) > 0 && !bytes.Equal(params, []byte("null")) {
		if err := json.Unmarshal(params, req); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidParams, err)
		}
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	return req, nil
}
