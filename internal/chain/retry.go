package chain

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// withRetry runs fn until it succeeds, ctx is done or maxRetries retries have
// failed. The delay doubles after every failed attempt.
func withRetry(ctx context.Context, logger *zap.Logger, op string, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	delay := baseDelay
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt > maxRetries {
			if attempt > 1 {
				return fmt.Errorf("%s: giving up after %d attempts: %w", op, attempt, err)
			}
			return err
		}

		logger.Warn("rpc call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
	}
}
