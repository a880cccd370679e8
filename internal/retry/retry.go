package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy holds the back-off parameters: delay(attempt) = min(initial ·
// base^attempt, max), retried up to MaxRetries times.
type Policy struct {
	Initial    time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	MaxRetries int
}

// DefaultPolicy returns the stated defaults.
func DefaultPolicy() Policy {
	return Policy{
		Initial:    time.Second,
		Multiplier: 2,
		MaxDelay:   60 * time.Second,
		MaxRetries: 3,
	}
}

// Do runs fn, retrying retryable failures per the policy. A server-provided
// Retry-After hint overrides the computed delay (capped at MaxDelay). After
// the final failure the original error is returned.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.Initial
	bo.Multiplier = policy.Multiplier
	bo.MaxInterval = policy.MaxDelay
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if !Classify(lastErr).Retryable() {
			return lastErr
		}

		if attempt >= policy.MaxRetries {
			return lastErr
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			return lastErr
		}
		if hint := RetryAfterHint(lastErr); hint > 0 {
			delay = hint
			if delay > policy.MaxDelay {
				delay = policy.MaxDelay
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
