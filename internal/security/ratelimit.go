package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a request exceeds the rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// Rate-limited event kinds.
const (
	KindDataWrite    = "data_write"
	KindTriggeredRun = "triggered_run"
)

// RateLimitConfig holds configurable per-application rate limits.
type RateLimitConfig struct {
	DataWritesPerMin    int `yaml:"data_writes_per_min"`
	TriggeredRunsPerMin int `yaml:"triggered_runs_per_min"`
}

func rateLimitConfigDefaults() RateLimitConfig {
	return RateLimitConfig{
		DataWritesPerMin:    120,
		TriggeredRunsPerMin: 60,
	}
}

// RateLimiter implements sliding window rate limiting. Buckets are keyed by
// event kind and an owner key (typically the application ID), so one noisy
// application cannot starve the others.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[string]int
	window  time.Duration
	buckets map[bucketKey]*bucket
	config  RateLimitConfig
	now     func() time.Time
}

type bucketKey struct {
	kind string
	key  string
}

type bucket struct {
	events []time.Time
}

// NewRateLimiter creates a rate limiter with the given config.
// Zero-value fields in cfg are replaced with defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	cfg = withDefaults(cfg)
	return &RateLimiter{
		config:  cfg,
		now:     time.Now,
		window:  time.Minute,
		limits:  limitsOf(cfg),
		buckets: make(map[bucketKey]*bucket),
	}
}

func withDefaults(cfg RateLimitConfig) RateLimitConfig {
	defaults := rateLimitConfigDefaults()
	if cfg.DataWritesPerMin <= 0 {
		cfg.DataWritesPerMin = defaults.DataWritesPerMin
	}
	if cfg.TriggeredRunsPerMin <= 0 {
		cfg.TriggeredRunsPerMin = defaults.TriggeredRunsPerMin
	}
	return cfg
}

func limitsOf(cfg RateLimitConfig) map[string]int {
	return map[string]int{
		KindDataWrite:    cfg.DataWritesPerMin,
		KindTriggeredRun: cfg.TriggeredRunsPerMin,
	}
}

// SetLimits replaces the per-minute limits. Events already recorded stay
// in their buckets and count against the new limits.
func (rl *RateLimiter) SetLimits(cfg RateLimitConfig) {
	cfg = withDefaults(cfg)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.config = cfg
	rl.limits = limitsOf(cfg)
}

// Limits returns the effective limits, defaults applied.
func (rl *RateLimiter) Limits() RateLimitConfig {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.config
}

// Allow checks whether one event of kind is allowed for key.
// Returns nil if allowed, ErrRateLimited if the limit is exceeded.
// Unknown kinds are never limited.
func (rl *RateLimiter) Allow(kind, key string) error {
	return rl.AllowN(kind, key, 1)
}

// AllowN checks whether n events of kind are allowed for key. Either all n
// are recorded or none are.
func (rl *RateLimiter) AllowN(kind, key string, n int) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limit, ok := rl.limits[kind]
	if !ok {
		return nil
	}

	k := bucketKey{kind: kind, key: key}
	b, ok := rl.buckets[k]
	if !ok {
		b = &bucket{}
		rl.buckets[k] = b
	}

	now := rl.now()
	b.evict(now.Add(-rl.window))

	if len(b.events)+n > limit {
		return ErrRateLimited
	}
	for range n {
		b.events = append(b.events, now)
	}
	return nil
}

// Prune drops buckets with no events inside the window.
func (rl *RateLimiter) Prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	for k, b := range rl.buckets {
		b.evict(cutoff)
		if len(b.events) == 0 {
			delete(rl.buckets, k)
		}
	}
}

// evict removes events older than cutoff. Events are chronologically ordered.
func (b *bucket) evict(cutoff time.Time) {
	i := 0
	for i < len(b.events) && b.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = b.events[i:]
	}
}
