package governance

import (
	"sync"
	"time"
)

// LimitConfig defines token-bucket parameters for one key.
type LimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// Limiter is a keyed token-bucket rate limiter. Keys are typically route
// patterns; a key without explicit configuration falls back to the default
// limit, and a zero default disables limiting for unconfigured keys.
type Limiter struct {
	mu           sync.RWMutex
	buckets      map[string]*bucket
	perKey       map[string]LimitConfig
	defaultLimit LimitConfig
}

// NewLimiter creates a limiter with a default limit applied to keys that
// have no explicit configuration.
func NewLimiter(defaultLimit LimitConfig) *Limiter {
	return &Limiter{
		buckets:      make(map[string]*bucket),
		perKey:       make(map[string]LimitConfig),
		defaultLimit: defaultLimit,
	}
}

// SetLimit configures a per-key limit, replacing any existing bucket state.
func (l *Limiter) SetLimit(key string, cfg LimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perKey[key] = cfg
	l.buckets[key] = newBucket(cfg)
}

// Allow consumes one token for key, reporting whether the request may
// proceed and how many tokens remain.
func (l *Limiter) Allow(key string) (ok bool, remaining int) {
	l.mu.RLock()
	b := l.buckets[key]
	l.mu.RUnlock()

	if b == nil {
		cfg, configured := l.limitFor(key)
		if !configured {
			return true, -1
		}
		l.mu.Lock()
		if b = l.buckets[key]; b == nil {
			b = newBucket(cfg)
			l.buckets[key] = b
		}
		l.mu.Unlock()
	}
	return b.take()
}

func (l *Limiter) limitFor(key string) (LimitConfig, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if cfg, ok := l.perKey[key]; ok {
		return cfg, true
	}
	if l.defaultLimit.RequestsPerSecond > 0 {
		return l.defaultLimit, true
	}
	return LimitConfig{}, false
}

// bucket implements the token-bucket algorithm.
type bucket struct {
	mu         sync.Mutex
	rate       float64
	capacity   float64
	tokens     float64
	lastRefill time.Time
}

func newBucket(cfg LimitConfig) *bucket {
	rate := cfg.RequestsPerSecond
	if rate <= 0 {
		rate = 100
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = rate
	}
	return &bucket{
		rate:       float64(rate),
		capacity:   float64(burst),
		tokens:     float64(burst),
		lastRefill: time.Now(),
	}
}

func (b *bucket) take() (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true, int(b.tokens)
	}
	return false, 0
}
