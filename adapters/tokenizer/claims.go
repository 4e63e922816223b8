package tokenizer

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/keychain/core"
)

// ApprovalClaims carry a detached approval. Subject is the account address
// and ID the approval request id.
type ApprovalClaims struct {
	jwt.RegisteredClaims
	Origin           string        `json:"origin"`
	Policies         []core.Policy `json:"policies"`
	SessionExpiresAt int64         `json:"session_expires_at"`
	SessionKey       string        `json:"session_key,omitempty"`
}

// SurfaceClaims authenticate an approval surface. Subject names the surface.
type SurfaceClaims struct {
	jwt.RegisteredClaims
}
