// Package ratelimit implements token-bucket rate limiting for outbound
// exchange API calls. Each logical call class ("order", "market", "account")
// owns one bucket; buckets refill continuously and are consumed per call.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// TokenBucket is a single rate-limited resource counter. Capacity refills
// lazily at refillRate tokens per second, computed on access rather than by a
// background timer.
type TokenBucket struct {
	mu         sync.Mutex
	maxTokens  float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
}

// NewTokenBucket creates a bucket filled to capacity. Capacity and rate must
// be positive; a zero rate would make blocking waits divide by zero.
func NewTokenBucket(maxTokens, refillRate float64) (*TokenBucket, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("token bucket capacity must be positive, got %v", maxTokens)
	}
	if refillRate <= 0 {
		return nil, fmt.Errorf("token bucket refill rate must be positive, got %v", refillRate)
	}
	return &TokenBucket{
		maxTokens:  maxTokens,
		refillRate: refillRate,
		tokens:     maxTokens,
		lastRefill: time.Now(),
	}, nil
}

// refill adds tokens for the time elapsed since the last refill, capped at
// capacity. Caller must hold the lock.
func (b *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// Consume takes n tokens from the bucket. When enough tokens are available it
// returns true immediately. Otherwise, if block is false it returns false;
// if block is true it sleeps until the deficit refills, unless timeout is
// positive and the computed wait would exceed it, in which case it returns
// false without consuming anything.
//
// The lock is held across the sleep. That serializes consumers of the same
// bucket, which keeps the accounting exact: the tokens a waiter is sleeping
// for cannot be stolen by a competitor.
func (b *TokenBucket) Consume(n float64, block bool, timeout time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	if b.tokens >= n {
		b.tokens -= n
		return true
	}

	if !block {
		return false
	}

	deficit := n - b.tokens
	wait := time.Duration(deficit / b.refillRate * float64(time.Second))
	if timeout > 0 && wait > timeout {
		return false
	}

	time.Sleep(wait)
	b.refill()

	b.tokens -= n
	if b.tokens < 0 {
		// Sleep rounded short of the exact deficit; treat as fully drained.
		b.tokens = 0
	}
	return true
}

// Tokens returns the current token level after a refill.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// Capacity returns the bucket capacity.
func (b *TokenBucket) Capacity() float64 {
	return b.maxTokens
}

// Rate returns the refill rate in tokens per second.
func (b *TokenBucket) Rate() float64 {
	return b.refillRate
}
