package core

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Call is a single contract invocation.
type Call struct {
	ContractAddress string   `json:"contractAddress"`
	Entrypoint      string   `json:"entrypoint"`
	Calldata        []string `json:"calldata,omitempty"`
}

// ExecuteDetails tunes transaction submission.
type ExecuteDetails struct {
	MaxFee *decimal.Decimal `json:"maxFee,omitempty"`
	Nonce  string           `json:"nonce,omitempty"`
	// Signature is the owner's webauthn calldata, attached only when the
	// calls were approved with a passkey assertion.
	Signature []string `json:"signature,omitempty"`
}

// TypedData is an opaque typed-data document handed to the account.
type TypedData = json.RawMessage

// ExecuteRequest asks the account to execute calls.
type ExecuteRequest struct {
	Calls         []Call          `json:"calls"`
	ABI           json.RawMessage `json:"abi,omitempty"`
	Details       ExecuteDetails  `json:"details"`
	CorrelationID string          `json:"id,omitempty"`
}

// SignMessageRequest asks the account to sign typed data.
type SignMessageRequest struct {
	TypedData     TypedData `json:"typedData"`
	CorrelationID string    `json:"id,omitempty"`
}
