package service

import (
	"context"
	"math/rand"
	"time"

	"github.com/forgemirror/mirror-layer/internal/app/core/apperr"
)

// RetryPolicy governs retry behavior.
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter is the fractional jitter applied to each backoff, e.g. 0.2 for ±20%.
	Jitter float64
	// Retryable reports whether err should trigger another attempt. A nil
	// Retryable retries every non-nil error.
	Retryable func(err error) bool
}

// DefaultRetryPolicy preserves current behavior (single attempt, no backoff).
var DefaultRetryPolicy = RetryPolicy{
	Attempts:       1,
	InitialBackoff: 0,
	MaxBackoff:     0,
	Multiplier:     1,
}

// SourceRetryPolicy matches the source/destination API client contract: base
// 500ms, factor 2, max 5 attempts, jitter ±20%. Only errors whose kind
// apperr.Retryable accepts (Transient, RateLimited) are retried.
var SourceRetryPolicy = RetryPolicy{
	Attempts:       5,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     8 * time.Second,
	Multiplier:     2,
	Jitter:         0.2,
	Retryable:      func(err error) bool { return apperr.Retryable(apperr.KindOf(err)) },
}

// Retry executes fn with the provided policy. It returns the last error (if any).
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = 1
	}
	backoff := policy.InitialBackoff
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if policy.Retryable != nil && !policy.Retryable(err) {
			return err
		}
		if attempt == policy.Attempts {
			return err
		}
		if backoff > 0 {
			wait := applyJitter(backoff, policy.Jitter)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			next := time.Duration(float64(backoff) * policy.Multiplier)
			if policy.MaxBackoff > 0 && next > policy.MaxBackoff {
				next = policy.MaxBackoff
			}
			backoff = next
		}
	}
	return nil
}

// applyJitter scales d by a uniform random factor in [1-jitter, 1+jitter].
func applyJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * jitter
	scaled := float64(d) * (1 + delta)
	if scaled < 0 {
		return 0
	}
	return time.Duration(scaled)
}
