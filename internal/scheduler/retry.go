package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kasmix/internal/config"
)

// WithRetry retries fn using exponential backoff starting at
// config.RPCRetryBaseDelay and doubling on each attempt, up to
// config.RPCRetryMaxAttempts tries or config.RPCRetryMaxCumulative total
// wait, whichever comes first. Only transient errors are retried (§9's RPC
// error handling); any other error, or ctx cancellation, surfaces
// immediately.
func WithRetry(ctx context.Context, fn func(context.Context) error) error {
	delay := config.RPCRetryBaseDelay
	var cumulative time.Duration
	var lastErr error

	for attempt := 1; attempt <= config.RPCRetryMaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == config.RPCRetryMaxAttempts {
			break
		}
		if cumulative+delay > config.RPCRetryMaxCumulative {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		cumulative += delay
		delay *= 2
	}

	return fmt.Errorf("giving up after retries: %w", lastErr)
}

func isRetryable(err error) bool {
	if config.IsTransient(err) {
		return true
	}
	return errors.Is(err, config.ErrNodeUnreachable) || errors.Is(err, config.ErrNodeTimeout) || errors.Is(err, config.ErrSequenceLock)
}
