package ports

import (
	"time"

	"github.com/layer-3/keychain/core"
)

// ApprovalTokenizer converts detached approval records to and from signed tokens
type ApprovalTokenizer interface {
	ApprovalToToken(approval *core.Approval) (string, error)
	TokenToApproval(token string) (*core.Approval, error)
}

// SurfaceTokenizer issues and verifies the bearer tokens held by approval
// surfaces. Only a surface token may approve, cancel or signal a request.
type SurfaceTokenizer interface {
	SurfaceToken(subject string, ttl time.Duration) (string, error)
	VerifySurfaceToken(token string) (subject string, err error)
}
