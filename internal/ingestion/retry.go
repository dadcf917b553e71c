package ingestion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/dxbevents/eventkeeper/internal/apperr"
)

// RetryPolicy bounds how long a store call is retried during ingest before
// the batch gives up.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	Jitter         bool
}

// DefaultRetryPolicy returns the policy used around store calls during ingest.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

// IsRetryable reports whether err is a transient store outage. Validation,
// not-found and unclassified failures are returned at once.
func IsRetryable(err error) bool {
	return apperr.Is(err, apperr.KindStoreUnavailable)
}

// Retry runs fn until it succeeds, fails with a non-retryable error, or the
// policy is exhausted. The last error stays in the chain so callers can still
// read its kind.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt == policy.MaxRetries {
			break
		}

		timer := time.NewTimer(backoff(policy, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", errors.Join(ctx.Err(), lastErr))
		case <-timer.C:
		}
	}

	if !IsRetryable(lastErr) {
		return lastErr
	}
	return fmt.Errorf("store still unavailable after %d retries: %w", policy.MaxRetries, lastErr)
}

// backoff returns the wait before retry number attempt+1, with +/-10% jitter
// when enabled.
func backoff(policy RetryPolicy, attempt int) time.Duration {
	wait := float64(policy.InitialBackoff) * math.Pow(policy.BackoffFactor, float64(attempt))
	if wait > float64(policy.MaxBackoff) {
		wait = float64(policy.MaxBackoff)
	}
	if policy.Jitter {
		wait += wait * 0.1 * (2*rand.Float64() - 1)
	}
	return time.Duration(wait)
}
