package governance

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// ErrMaxRetriesExceeded is returned when all retry attempts are exhausted.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// idempotentMethods lists HTTP methods that are safe to retry.
var idempotentMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
}

// IsIdempotent reports whether the HTTP method is safe to retry.
func IsIdempotent(method string) bool {
	return idempotentMethods[method]
}

// RetryConfig defines retry behaviour for outbound requests.
type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            bool
	// RetryableStatusCodes defines which response codes trigger a retry.
	RetryableStatusCodes map[int]bool
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetryableStatusCodes: map[int]bool{
			http.StatusRequestTimeout:      true,
			http.StatusTooManyRequests:     true,
			http.StatusInternalServerError: true,
			http.StatusBadGateway:          true,
			http.StatusServiceUnavailable:  true,
			http.StatusGatewayTimeout:      true,
		},
	}
}

// RetryPolicy decides whether and when a request is retried.
type RetryPolicy struct {
	cfg RetryConfig
}

// NewRetryPolicy creates a policy, normalising zero config fields.
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	def := DefaultRetryConfig()
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = def.BackoffMultiplier
	}
	if cfg.RetryableStatusCodes == nil {
		cfg.RetryableStatusCodes = def.RetryableStatusCodes
	}
	return &RetryPolicy{cfg: cfg}
}

// ShouldRetry reports whether another attempt is warranted.
func (p *RetryPolicy) ShouldRetry(method string, statusCode int, err error, attempt int) bool {
	if attempt >= p.cfg.MaxRetries {
		return false
	}
	if !IsIdempotent(method) {
		return false
	}
	if err != nil {
		return true
	}
	if statusCode > 0 {
		return p.cfg.RetryableStatusCodes[statusCode]
	}
	return false
}

// RetryableStatus reports whether the response code is configured as a
// transient failure.
func (p *RetryPolicy) RetryableStatus(code int) bool {
	return p.cfg.RetryableStatusCodes[code]
}

// Backoff returns the delay before the given retry attempt.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	backoff := time.Duration(float64(p.cfg.InitialBackoff) * math.Pow(p.cfg.BackoffMultiplier, float64(attempt)))
	if backoff > p.cfg.MaxBackoff {
		backoff = p.cfg.MaxBackoff
	}
	if p.cfg.Jitter && backoff > 0 {
		// Up to 25% jitter to avoid thundering herds.
		// #nosec G404 - non-cryptographic randomness is fine for jitter
		backoff += time.Duration(rand.Int63n(int64(backoff/4) + 1))
	}
	return backoff
}

// Wait sleeps for the attempt's backoff, honouring context cancellation.
func (p *RetryPolicy) Wait(ctx context.Context, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.Backoff(attempt)):
		return nil
	}
}
