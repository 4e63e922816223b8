package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// safeCall runs a best-effort side hook. Errors and panics are logged and
// never reach the caller.
func safeCall(ctx context.Context, logger zerolog.Logger, name string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("hook", name).Err(fmt.Errorf("panic: %v", r)).Msg("hook panicked")
		}
	}()
	if fn == nil {
		return
	}
	if err := fn(ctx); err != nil {
		logger.Warn().Str("hook", name).Err(err).Msg("hook failed")
	}
}
