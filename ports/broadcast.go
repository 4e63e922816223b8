package ports

import (
	"context"

	"github.com/layer-3/keychain/core"
)

// Broadcaster delivers completion signals over named channels.
type Broadcaster interface {
	Publish(ctx context.Context, channel string, signal core.Signal) error
	// Listen subscribes to channel. A later Listen on the same channel
	// cancels this one.
	Listen(ctx context.Context, channel string) (Pending, error)
}

// Pending is a single-shot wait for one signal. It unsubscribes after the
// first delivery or on Cancel.
type Pending interface {
	Wait(ctx context.Context) (core.Signal, error)
	Cancel()
}
