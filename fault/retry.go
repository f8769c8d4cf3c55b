package fault

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures retry behavior with exponential backoff.
type RetryPolicy struct {
	MaxAttempts int     // total attempts including the first
	BaseDelay   float64 // initial delay in seconds
	MaxDelay    float64 // maximum delay between attempts
	Multiplier  float64 // exponential backoff factor
	Jitter      bool    // +/- 50% random jitter
	OnRetry     func(err error, attempt int, delay time.Duration)

	// RateLimitBase replaces BaseDelay for rate-limit faults without an
	// explicit retry-after hint. Zero falls back to BaseDelay.
	RateLimitBase float64
}

// DefaultRetryPolicy returns the policy used at the model-call boundary.
// Rate limits back off from a larger base since the provider window is
// rarely shorter than a few seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     1.0,
		MaxDelay:      60.0,
		Multiplier:    2.0,
		Jitter:        true,
		RateLimitBase: 5.0,
	}
}

// SessionRetryPolicy returns the policy used when opening sandbox sessions.
// Container creation is slower than an HTTP round trip, so the base delay is
// larger.
func SessionRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2.0,
		MaxDelay:    30.0,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// Delay calculates the backoff delay for attempt n (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.delayFrom(p.BaseDelay, attempt)
}

func (p RetryPolicy) delayFrom(base float64, attempt int) time.Duration {
	delay := math.Min(base*math.Pow(p.Multiplier, float64(attempt)), p.MaxDelay)
	if p.Jitter {
		delay = delay * (0.5 + rand.Float64()) // [0.5, 1.5)
	}
	return time.Duration(delay * float64(time.Second))
}

// Retry executes fn under the policy. Only retryable faults are retried.
// Rate-limit faults carrying a delay hint sleep for the hint instead of the
// computed backoff; a hint beyond MaxDelay aborts immediately.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := fn(ctx)
	if err == nil {
		return result, nil
	}

	for attempt := 1; attempt < policy.MaxAttempts; attempt++ {
		f := Classify(err)
		if !f.Retryable() {
			return zero, f
		}

		base := policy.BaseDelay
		if f.Kind == RateLimit && policy.RateLimitBase > 0 {
			base = policy.RateLimitBase
		}
		delay := policy.delayFrom(base, attempt-1)
		if f.Kind == RateLimit && f.RetryAfter != nil {
			hint := *f.RetryAfter
			if hint > time.Duration(policy.MaxDelay*float64(time.Second)) {
				return zero, f
			}
			delay = hint
		}

		if policy.OnRetry != nil {
			policy.OnRetry(f, attempt, delay)
		}

		select {
		case <-ctx.Done():
			return zero, Wrap(InvalidRequest, ctx.Err(), "cancelled during retry backoff")
		case <-time.After(delay):
		}

		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
	}

	return zero, Classify(err)
}
