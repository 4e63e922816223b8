package service

import (
	"context"
	"time"

	"github.com/layer-3/keychain/core"
)

const (
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultApprovalTimeout = 3 * time.Minute
)

// Poll calls check right away and then every interval until it reports done,
// returns an error, ctx ends, or timeout elapses (core.ErrTimeout). The
// ticker is stopped on every exit path.
func Poll[T any](ctx context.Context, interval, timeout time.Duration, check func(context.Context) (T, bool, error)) (T, error) {
	var zero T
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultApprovalTimeout
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		v, done, err := check(ctx)
		if err != nil {
			return zero, err
		}
		if done {
			return v, nil
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-deadline.C:
			return zero, core.ErrTimeout
		case <-ticker.C:
		}
	}
}
