package governance

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterBurstThenDeny(t *testing.T) {
	l := NewLimiter(LimitConfig{})
	l.SetLimit("/api", LimitConfig{RequestsPerSecond: 1, Burst: 3})

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("/api")
		require.True(t, ok, "request %d within burst should pass", i)
	}
	ok, remaining := l.Allow("/api")
	assert.False(t, ok)
	assert.Zero(t, remaining)
}

func TestLimiterRefills(t *testing.T) {
	l := NewLimiter(LimitConfig{})
	l.SetLimit("/api", LimitConfig{RequestsPerSecond: 100, Burst: 1})

	ok, _ := l.Allow("/api")
	require.True(t, ok)
	ok, _ = l.Allow("/api")
	require.False(t, ok)

	time.Sleep(50 * time.Millisecond) // 100 rps refills well within this window
	ok, _ = l.Allow("/api")
	assert.True(t, ok)
}

func TestLimiterUnconfiguredKeys(t *testing.T) {
	open := NewLimiter(LimitConfig{})
	ok, remaining := open.Allow("/anything")
	assert.True(t, ok)
	assert.Equal(t, -1, remaining, "no limit configured means unlimited")

	defaulted := NewLimiter(LimitConfig{RequestsPerSecond: 1, Burst: 1})
	ok, _ = defaulted.Allow("/anything")
	assert.True(t, ok)
	ok, _ = defaulted.Allow("/anything")
	assert.False(t, ok, "default limit applies to unconfigured keys")
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{MaxFailures: 3, Cooldown: time.Minute})

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Acquire())
		b.Failure()
	}
	assert.Equal(t, StateClosed, b.State())

	require.NoError(t, b.Acquire())
	b.Failure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Acquire(), ErrCircuitOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{MaxFailures: 2, Cooldown: time.Minute})

	b.Failure()
	b.Success()
	b.Failure()
	assert.Equal(t, StateClosed, b.State(), "non-consecutive failures must not trip the breaker")
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := NewBreaker(BreakerConfig{MaxFailures: 1, Cooldown: time.Minute, HalfOpenProbes: 2})

	now := time.Now()
	b.now = func() time.Time { return now }

	b.Failure()
	require.Equal(t, StateOpen, b.State())

	// Cooldown elapses: probes are admitted.
	now = now.Add(2 * time.Minute)
	require.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Acquire())

	b.Success()
	assert.Equal(t, StateHalfOpen, b.State(), "one probe is not enough to close")
	b.Success()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{MaxFailures: 1, Cooldown: time.Minute})

	now := time.Now()
	b.now = func() time.Time { return now }

	b.Failure()
	now = now.Add(2 * time.Minute)
	require.Equal(t, StateHalfOpen, b.State())

	b.Failure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Acquire(), ErrCircuitOpen)
}

func TestRetryPolicyDecisions(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxRetries: 2})

	// Network errors on idempotent methods retry.
	assert.True(t, p.ShouldRetry(http.MethodGet, 0, errors.New("dial refused"), 0))
	// POST never retries.
	assert.False(t, p.ShouldRetry(http.MethodPost, 0, errors.New("dial refused"), 0))
	// Retryable status codes retry; others do not.
	assert.True(t, p.ShouldRetry(http.MethodGet, http.StatusBadGateway, nil, 0))
	assert.False(t, p.ShouldRetry(http.MethodGet, http.StatusNotFound, nil, 0))
	// Attempt budget is honoured.
	assert.False(t, p.ShouldRetry(http.MethodGet, http.StatusBadGateway, nil, 2))
}

func TestRetryBackoffGrowsAndCaps(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{
		MaxRetries:        5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        400 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            false,
	})

	assert.Equal(t, 100*time.Millisecond, p.Backoff(0))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(3), "backoff must cap at MaxBackoff")
}

func TestRetryWaitHonoursContext(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{InitialBackoff: time.Minute, Jitter: false})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Wait(ctx, 0), context.Canceled)
}
