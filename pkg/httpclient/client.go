// Package httpclient provides an outbound HTTP client with retries,
// per-host circuit breaking, and trace propagation.
package httpclient

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/abaveja313/httpsugar/internal/governance"
	"github.com/abaveja313/httpsugar/pkg/logging"
)

// ErrCircuitOpen is returned when the target host's circuit breaker is open.
var ErrCircuitOpen = governance.ErrCircuitOpen

// Config tunes the client. Zero fields fall back to defaults.
type Config struct {
	// Timeout bounds each individual attempt, not the whole call.
	Timeout time.Duration
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	// BaseBackoff is the delay before the first retry; it doubles per attempt.
	BaseBackoff time.Duration
	// BreakerThreshold is the consecutive failure count that opens a host's circuit.
	BreakerThreshold int
	// BreakerCooldown is how long an open circuit rejects calls before probing.
	BreakerCooldown time.Duration
	// Transport overrides the underlying round tripper. Mostly for tests.
	Transport http.RoundTripper
}

// DefaultConfig returns the settings used when Config fields are zero.
func DefaultConfig() Config {
	return Config{
		Timeout:          10 * time.Second,
		MaxRetries:       3,
		BaseBackoff:      100 * time.Millisecond,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

// Client wraps http.Client with a retry policy and one circuit breaker per
// target host. Responses with a retryable status code count as failures.
type Client struct {
	inner *http.Client
	retry *governance.RetryPolicy
	cfg   Config

	mu       sync.Mutex
	breakers map[string]*governance.Breaker
}

// New builds a client. The underlying transport is wrapped with otelhttp so
// outbound spans join the caller's trace.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = def.BreakerThreshold
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = def.BreakerCooldown
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Client{
		inner: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		retry: governance.NewRetryPolicy(governance.RetryConfig{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.BaseBackoff,
		}),
		cfg:      cfg,
		breakers: make(map[string]*governance.Breaker),
	}
}

// Do executes the request with retries and circuit breaking. Only idempotent
// methods are retried, and requests with a body only when GetBody is set
// (http.NewRequest does this for common body types). The request context
// interrupts backoff waits. Callers own the response body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	breaker := c.breakerFor(req.URL.Host)
	log := logging.FromContext(req.Context())

	// The transport consumes and closes the body even on failure, so a
	// body-carrying request is only retryable when it can be rebuilt.
	bodyReplayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil

	var lastErr error
	attempt := 0
	for ; ; attempt++ {
		if err := breaker.Acquire(); err != nil {
			return nil, fmt.Errorf("request to %s: %w", req.URL.Host, err)
		}

		attemptReq, err := c.attemptRequest(req, attempt)
		if err != nil {
			return nil, fmt.Errorf("request to %s: %w", req.URL.Host, err)
		}

		resp, err := c.inner.Do(attemptReq)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}

		if err == nil && status < http.StatusInternalServerError && !c.retry.RetryableStatus(status) {
			breaker.Success()
			return resp, nil
		}
		breaker.Failure()

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("upstream returned %d", status)
			// Drain so the transport can reuse the connection.
			_ = resp.Body.Close()
		}

		if !bodyReplayable || !c.retry.ShouldRetry(req.Method, status, err, attempt) {
			break
		}

		log.Debug().
			Str("host", req.URL.Host).
			Int("attempt", attempt+1).
			Err(lastErr).
			Msg("retrying request")
		if waitErr := c.retry.Wait(req.Context(), attempt); waitErr != nil {
			return nil, fmt.Errorf("request to %s: %w", req.URL.Host, waitErr)
		}
	}

	if attempt >= c.cfg.MaxRetries && bodyReplayable && governance.IsIdempotent(req.Method) {
		return nil, fmt.Errorf("request to %s: %w: %w", req.URL.Host, governance.ErrMaxRetriesExceeded, lastErr)
	}
	return nil, fmt.Errorf("request to %s: %w", req.URL.Host, lastErr)
}

// attemptRequest returns the request to send for the given attempt. Retries
// get a fresh clone with the body rebuilt, since the previous attempt's
// transport has already drained it.
func (c *Client) attemptRequest(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 0 {
		return req, nil
	}
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rebuild request body: %w", err)
		}
		clone.Body = body
	}
	return clone, nil
}

// BreakerState exposes the current circuit state for a host, for readiness
// probes and diagnostics.
func (c *Client) BreakerState(host string) governance.BreakerState {
	return c.breakerFor(host).State()
}

func (c *Client) breakerFor(host string) *governance.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	breaker, ok := c.breakers[host]
	if !ok {
		breaker = governance.NewBreaker(governance.BreakerConfig{
			MaxFailures: c.cfg.BreakerThreshold,
			Cooldown:    c.cfg.BreakerCooldown,
		})
		c.breakers[host] = breaker
	}
	return breaker
}
