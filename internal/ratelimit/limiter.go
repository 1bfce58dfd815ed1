package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"futures-guard/internal/logging"
)

// DefaultKey is the fallback call class used when a caller asks for a limit
// key that was never configured.
const DefaultKey = "default"

// LimitSpec configures one call class: MaxTokens calls per Interval.
type LimitSpec struct {
	MaxTokens float64       `json:"max_tokens"`
	Interval  time.Duration `json:"interval"`
}

// LimitSnapshot is a read-only view of one bucket for observability.
type LimitSnapshot struct {
	MaxTokens     float64 `json:"max_tokens"`
	RefillRate    float64 `json:"refill_rate"`
	CurrentTokens float64 `json:"current_tokens"`
}

// RateLimiter is a named registry of token buckets, one per logical call
// class. A "default" bucket always exists, so an unknown key degrades to the
// default budget instead of failing the call.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*TokenBucket
	usage   map[string]int64
	logger  *logging.Logger
}

// NewRateLimiter builds a limiter from the configured call classes. The
// refill rate of each bucket is MaxTokens/Interval. A "default" bucket is
// guaranteed: if the config does not define one, a 10 req/s bucket is added.
func NewRateLimiter(limits map[string]LimitSpec, logger *logging.Logger) (*RateLimiter, error) {
	if logger == nil {
		logger = logging.WithComponent("ratelimit")
	}

	rl := &RateLimiter{
		buckets: make(map[string]*TokenBucket),
		usage:   make(map[string]int64),
		logger:  logger,
	}

	for key, spec := range limits {
		if err := rl.AddLimit(key, spec.MaxTokens, spec.Interval); err != nil {
			return nil, fmt.Errorf("limit %q: %w", key, err)
		}
	}

	if _, ok := rl.buckets[DefaultKey]; !ok {
		if err := rl.AddLimit(DefaultKey, 10, time.Second); err != nil {
			return nil, err
		}
	}

	return rl, nil
}

// AddLimit creates or overwrites the bucket for key with a refill rate of
// maxTokens/interval.
func (rl *RateLimiter) AddLimit(key string, maxTokens float64, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("limit interval must be positive, got %v", interval)
	}

	bucket, err := NewTokenBucket(maxTokens, maxTokens/interval.Seconds())
	if err != nil {
		return err
	}

	rl.mu.Lock()
	rl.buckets[key] = bucket
	rl.mu.Unlock()

	rl.logger.Info("Rate limit configured", "key", key, "max_tokens", maxTokens, "interval", interval.String())
	return nil
}

// Limit consumes n tokens from the bucket for key, falling back to the
// default bucket for unknown keys. The usage counter for the requested key is
// incremented whether or not tokens were granted.
func (rl *RateLimiter) Limit(key string, n float64, block bool, timeout time.Duration) bool {
	rl.mu.Lock()
	rl.usage[key]++
	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = rl.buckets[DefaultKey]
	}
	rl.mu.Unlock()

	if !ok {
		rl.logger.Warn("Unknown rate limit key, using default bucket", "key", key)
	}

	return bucket.Consume(n, block, timeout)
}

// Allow is Limit for a single token without blocking.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.Limit(key, 1, false, 0)
}

// Limits returns a snapshot of every bucket for observability.
func (rl *RateLimiter) Limits() map[string]LimitSnapshot {
	rl.mu.RLock()
	buckets := make(map[string]*TokenBucket, len(rl.buckets))
	for key, b := range rl.buckets {
		buckets[key] = b
	}
	rl.mu.RUnlock()

	out := make(map[string]LimitSnapshot, len(buckets))
	for key, b := range buckets {
		out[key] = LimitSnapshot{
			MaxTokens:     b.Capacity(),
			RefillRate:    b.Rate(),
			CurrentTokens: b.Tokens(),
		}
	}
	return out
}

// Stats returns per-key call counts, including calls that were rejected.
func (rl *RateLimiter) Stats() map[string]int64 {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	out := make(map[string]int64, len(rl.usage))
	for key, count := range rl.usage {
		out[key] = count
	}
	return out
}
