package errkind

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayMonotonicUnderJitter(t *testing.T) {
	for _, p := range []RetryPolicy{DefaultPolicy, NetworkPolicy, DatabasePolicy, AggressivePolicy, ConservativePolicy} {
		prev := p.Delay(1)
		for n := 2; n <= p.MaxAttempts; n++ {
			d := p.Delay(n)
			// delay(n+1) >= delay(n) * mult * (1 - jitter/2), capped at max.
			floor := time.Duration(float64(prev) * p.BackoffMultiplier * (1 - p.JitterFactor/2))
			ceiling := time.Duration(float64(p.MaxDelay) * (1 + p.JitterFactor/2))
			if prev < time.Duration(float64(p.MaxDelay)*(1-p.JitterFactor)) {
				assert.GreaterOrEqual(t, d, floor)
			}
			assert.LessOrEqual(t, d, ceiling)
			prev = d
		}
	}
}

func TestDelayClampedAtMax(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, InitialDelay: time.Second, MaxDelay: 4 * time.Second, BackoffMultiplier: 2}
	assert.Equal(t, 4*time.Second, p.Delay(10))
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DatabasePolicy, func(ctx context.Context) error {
		calls++
		return New(KindInputInvalid, "bad input")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffMultiplier: 2}
	calls := 0
	err := Retry(context.Background(), p, func(ctx context.Context) error {
		calls++
		return New(KindTimeout, "slow upstream")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestRetryEventualSuccess(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffMultiplier: 2}
	calls := 0
	err := Retry(context.Background(), p, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return New(KindConnectionFailed, "flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryShouldRetryOverride(t *testing.T) {
	p := DefaultPolicy
	p.InitialDelay = time.Millisecond
	p.MaxDelay = time.Millisecond
	p.ShouldRetry = func(err error, attempt int) bool { return attempt < 2 }
	calls := 0
	_ = Retry(context.Background(), p, func(ctx context.Context) error {
		calls++
		return New(KindInputInvalid, "normally not retryable")
	})
	assert.Equal(t, 2, calls)
}

func TestRetryAllowedKinds(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond,
		BackoffMultiplier: 2, AllowedKinds: []Kind{KindRateLimit}}
	calls := 0
	_ = Retry(context.Background(), p, func(ctx context.Context) error {
		calls++
		return New(KindTimeout, "retryable but not allowed")
	})
	assert.Equal(t, 1, calls)
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffMultiplier: 2}
	err := Retry(ctx, p, func(ctx context.Context) error {
		return New(KindTimeout, "always")
	})
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
}
