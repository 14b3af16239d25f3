package errkind

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy controls backoff between attempts of a failing operation.
type RetryPolicy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterFactor      float64

	// AllowedKinds, when non-empty, restricts retries to these kinds on top
	// of the per-kind retryable rule.
	AllowedKinds []Kind

	// ShouldRetry, when set, replaces the built-in retry rule entirely.
	ShouldRetry func(err error, attempt int) bool
}

// Preset policies. Delays follow
// min(initial * mult^(n-1), max) * (1 + (rand-0.5) * jitter).
var (
	DefaultPolicy      = RetryPolicy{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 30 * time.Second, BackoffMultiplier: 2, JitterFactor: 0.1}
	NetworkPolicy      = RetryPolicy{MaxAttempts: 4, InitialDelay: 2 * time.Second, MaxDelay: 60 * time.Second, BackoffMultiplier: 2, JitterFactor: 0.3}
	DatabasePolicy     = RetryPolicy{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second, BackoffMultiplier: 2, JitterFactor: 0.1}
	AggressivePolicy   = RetryPolicy{MaxAttempts: 5, InitialDelay: 500 * time.Millisecond, MaxDelay: 60 * time.Second, BackoffMultiplier: 2, JitterFactor: 0.2}
	ConservativePolicy = RetryPolicy{MaxAttempts: 2, InitialDelay: 2 * time.Second, MaxDelay: 10 * time.Second, BackoffMultiplier: 2, JitterFactor: 0.1}
)

// Delay returns the backoff before attempt n+1, where attempt is 1-indexed.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if max := float64(p.MaxDelay); base > max {
		base = max
	}
	jittered := base * (1 + (rand.Float64()-0.5)*p.JitterFactor)
	if jittered < 0 {
		jittered = 0
	}
	return time.Duration(jittered)
}

// Retryable applies the policy's rule to a failed attempt (1-indexed).
func (p RetryPolicy) Retryable(err error, attempt int) bool {
	if p.ShouldRetry != nil {
		return p.ShouldRetry(err, attempt)
	}
	if attempt >= p.MaxAttempts {
		return false
	}
	if !IsRetryable(err) {
		return false
	}
	if len(p.AllowedKinds) > 0 {
		kind := KindOf(err)
		allowed := false
		for _, k := range p.AllowedKinds {
			if k == kind {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	return true
}

// Retry runs fn until it succeeds, the policy gives up, or ctx is done.
// A retry_after hint on the error overrides the computed backoff.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !p.Retryable(err, attempt) {
			return err
		}
		delay := p.Delay(attempt)
		if hint, ok := RetryAfterOf(err); ok {
			delay = hint
		}
		select {
		case <-ctx.Done():
			return Wrap(KindTimeout, "retry cancelled", ctx.Err())
		case <-time.After(delay):
		}
	}
}
