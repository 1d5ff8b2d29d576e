package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrRetriesExhausted is wrapped by errors from operations that failed on
// every attempt.
var ErrRetriesExhausted = errors.New("ble: retries exhausted")

// RetryPolicy bounds retries of transport operations.
type RetryPolicy struct {
	MaxAttempts int
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy returns sensible defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		MaxBackoff:  30 * time.Second,
	}
}

// backoffDelay returns the retry delay for attempt n, capped at max.
func backoffDelay(attempt int, max time.Duration) time.Duration {
	// Beyond 30 doublings the shift overflows; every such delay is capped anyway.
	if attempt > 30 {
		return max
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > max {
		return max
	}
	return delay
}

// Backoff returns the delay before retry n (0-based), capped at MaxBackoff
// or the default cap when MaxBackoff is unset.
func (p RetryPolicy) Backoff(n int) time.Duration {
	max := p.MaxBackoff
	if max <= 0 {
		max = DefaultRetryPolicy().MaxBackoff
	}
	return backoffDelay(n, max)
}

// do runs fn until it succeeds, the attempts run out, or ctx is done.
// The first attempt is immediate; later ones wait backoffDelay.
func (p RetryPolicy) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := p.Backoff(attempt - 1)
			slog.Info("[BLE] retry backoff", "op", op, "attempt", attempt+1, "delay", delay)
			if serr := sleepCtx(ctx, delay); serr != nil {
				return serr
			}
		}

		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("[BLE] operation failed", "op", op, "error", err, "attempt", attempt+1)
	}
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrRetriesExhausted, op, attempts, err)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
