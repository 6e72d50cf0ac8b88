// Package retry runs connection attempts with exponential backoff.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// MaxBackoff caps the wait between attempts.
const MaxBackoff = 16 * time.Second

// Do calls fn up to attempts times, sleeping with exponential backoff
// between failures. It returns the last error, or the context error when
// ctx is cancelled while waiting.
func Do(ctx context.Context, name string, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			slog.Info("connected", "target", name, "attempts", attempt)
			return nil
		}
		if attempt == attempts {
			break
		}

		backoff := Backoff(attempt)
		slog.Warn("connection failed, retrying",
			"target", name,
			"attempt", attempt,
			"max_attempts", attempts,
			"backoff", backoff,
			"error", lastErr,
		)
		if !sleep(ctx, backoff) {
			return fmt.Errorf("%s connection cancelled: %w", name, ctx.Err())
		}
	}

	return fmt.Errorf("connect to %s after %d attempts: %w", name, attempts, lastErr)
}

// Backoff returns the wait after the given failed attempt, doubling from
// one second up to MaxBackoff.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 5 {
		return MaxBackoff
	}
	return min(time.Duration(1<<(attempt-1))*time.Second, MaxBackoff)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
