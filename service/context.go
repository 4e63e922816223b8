package service

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/layer-3/keychain/core"
	"github.com/layer-3/keychain/internal/webauthn"
)

// ApproveParams is what the approval surface hands back on approval.
type ApproveParams struct {
	// Controller completes a login when the connect found no identity.
	Controller *core.Controller `json:"controller,omitempty"`
	// Assertion is the owner's passkey signature over the request. Execute
	// hands it to the account as calldata; sign-message returns it as the
	// signature.
	Assertion *webauthn.Assertion `json:"assertion,omitempty"`
}

type approveFunc func(ctx context.Context, p ApproveParams) (*core.Result, error)

// connectionContext is one pending request. Whoever claims it first is the
// only party allowed to act on it and settle it; it settles exactly once.
type connectionContext struct {
	kind    core.ContextKind
	origin  string
	view    core.View
	approve approveFunc

	claimed atomic.Bool
	once    sync.Once
	done    chan struct{}
	result  *core.Result
	err     error
	cancel  context.CancelFunc
}

func newConnectionContext(kind core.ContextKind, origin string, view core.View) *connectionContext {
	view.Context = kind
	view.Origin = origin
	return &connectionContext{
		kind:   kind,
		origin: origin,
		view:   view,
		done:   make(chan struct{}),
	}
}

// claim reserves the context for the caller. It fails once another party
// claimed it or it already settled.
func (c *connectionContext) claim() bool {
	return !c.settled() && c.claimed.CompareAndSwap(false, true)
}

// resolve claims and settles in one step.
func (c *connectionContext) resolve(result *core.Result, err error) bool {
	return c.claim() && c.settle(result, err)
}

func (c *connectionContext) settle(result *core.Result, err error) bool {
	settled := false
	c.once.Do(func() {
		c.result, c.err = result, err
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		settled = true
	})
	return settled
}

func (c *connectionContext) settled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
