package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func TestNewTokenBucketValidation(t *testing.T) {
	if _, err := NewTokenBucket(0, 1); err == nil {
		t.Error("zero capacity should be rejected")
	}
	if _, err := NewTokenBucket(-5, 1); err == nil {
		t.Error("negative capacity should be rejected")
	}
	if _, err := NewTokenBucket(10, 0); err == nil {
		t.Error("zero refill rate should be rejected")
	}

	b, err := NewTokenBucket(10, 5)
	if err != nil {
		t.Fatalf("valid bucket rejected: %v", err)
	}
	if b.Capacity() != 10 {
		t.Errorf("capacity = %v, want 10", b.Capacity())
	}
	if b.Rate() != 5 {
		t.Errorf("rate = %v, want 5", b.Rate())
	}
}

func TestBucketStartsFull(t *testing.T) {
	b, _ := NewTokenBucket(5, 1)

	for i := 0; i < 5; i++ {
		if !b.Consume(1, false, 0) {
			t.Fatalf("consume %d should succeed on a full bucket", i+1)
		}
	}
	if b.Consume(1, false, 0) {
		t.Error("consume on an empty bucket should fail without blocking")
	}
}

func TestBucketRefill(t *testing.T) {
	// 100 tokens/s so the test stays fast.
	b, _ := NewTokenBucket(10, 100)

	for i := 0; i < 10; i++ {
		b.Consume(1, false, 0)
	}
	if b.Consume(1, false, 0) {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(50 * time.Millisecond)
	if !b.Consume(1, false, 0) {
		t.Error("bucket should have refilled after waiting")
	}
}

func TestBucketRefillCappedAtCapacity(t *testing.T) {
	b, _ := NewTokenBucket(3, 1000)

	time.Sleep(20 * time.Millisecond)
	if tokens := b.Tokens(); tokens > 3 {
		t.Errorf("tokens = %v, want capped at capacity 3", tokens)
	}
}

func TestBucketBlockingConsume(t *testing.T) {
	b, _ := NewTokenBucket(1, 100)

	if !b.Consume(1, false, 0) {
		t.Fatal("first consume should succeed")
	}

	start := time.Now()
	if !b.Consume(1, true, 0) {
		t.Fatal("blocking consume should succeed after waiting")
	}
	elapsed := time.Since(start)

	// One token at 100/s is 10ms.
	if elapsed < 5*time.Millisecond {
		t.Errorf("blocking consume returned after %v, expected a wait near 10ms", elapsed)
	}
}

func TestBucketBlockingConsumeTimeout(t *testing.T) {
	b, _ := NewTokenBucket(1, 1) // 1 token/s: refilling a token takes 1s

	b.Consume(1, false, 0)

	start := time.Now()
	if b.Consume(1, true, 50*time.Millisecond) {
		t.Fatal("consume should fail when the wait exceeds the timeout")
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("timeout rejection took %v, should return without sleeping", elapsed)
	}

	// The rejected call must not have consumed anything: a fast bucket
	// equivalent still has its token.
	if got := b.Tokens(); got < 0 {
		t.Errorf("tokens = %v, want >= 0", got)
	}
}

func TestBucketFractionalTokens(t *testing.T) {
	b, _ := NewTokenBucket(1, 10)

	if !b.Consume(0.5, false, 0) {
		t.Fatal("fractional consume should succeed")
	}
	if !b.Consume(0.5, false, 0) {
		t.Fatal("second fractional consume should succeed")
	}
	if b.Consume(0.5, false, 0) {
		t.Error("bucket should be empty after consuming capacity")
	}
}

func TestBucketConcurrentConsume(t *testing.T) {
	b, _ := NewTokenBucket(100, 1)

	var wg sync.WaitGroup
	granted := make([]bool, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			granted[idx] = b.Consume(1, false, 0)
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range granted {
		if ok {
			count++
		}
	}
	// Refill at 1/s adds at most a token during the test; never more grants
	// than tokens existed.
	if count < 100 || count > 101 {
		t.Errorf("granted %d of 200, want ~100 (capacity)", count)
	}
}
