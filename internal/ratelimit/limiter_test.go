package ratelimit

import (
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, limits map[string]LimitSpec) *RateLimiter {
	t.Helper()
	rl, err := NewRateLimiter(limits, nil)
	if err != nil {
		t.Fatalf("NewRateLimiter: %v", err)
	}
	return rl
}

func TestLimiterDefaultBucketAlwaysExists(t *testing.T) {
	rl := newTestLimiter(t, nil)

	limits := rl.Limits()
	def, ok := limits[DefaultKey]
	if !ok {
		t.Fatal("default bucket missing")
	}
	if def.MaxTokens != 10 {
		t.Errorf("default capacity = %v, want 10", def.MaxTokens)
	}
	if def.RefillRate != 10 {
		t.Errorf("default rate = %v, want 10/s", def.RefillRate)
	}
}

func TestLimiterConfiguredKeys(t *testing.T) {
	rl := newTestLimiter(t, map[string]LimitSpec{
		"order":   {MaxTokens: 5, Interval: time.Second},
		"default": {MaxTokens: 20, Interval: 2 * time.Second},
	})

	limits := rl.Limits()
	if limits["order"].MaxTokens != 5 {
		t.Errorf("order capacity = %v, want 5", limits["order"].MaxTokens)
	}
	if limits["order"].RefillRate != 5 {
		t.Errorf("order rate = %v, want 5/s", limits["order"].RefillRate)
	}
	// A configured default is kept, not replaced.
	if limits["default"].MaxTokens != 20 {
		t.Errorf("default capacity = %v, want 20", limits["default"].MaxTokens)
	}
	if limits["default"].RefillRate != 10 {
		t.Errorf("default rate = %v, want 10/s (20 per 2s)", limits["default"].RefillRate)
	}
}

func TestLimiterRejectsInvalidSpec(t *testing.T) {
	if _, err := NewRateLimiter(map[string]LimitSpec{
		"bad": {MaxTokens: 0, Interval: time.Second},
	}, nil); err == nil {
		t.Error("zero max tokens should be rejected")
	}
	if _, err := NewRateLimiter(map[string]LimitSpec{
		"bad": {MaxTokens: 5, Interval: 0},
	}, nil); err == nil {
		t.Error("zero interval should be rejected")
	}
}

func TestLimiterUnknownKeyFallsBackToDefault(t *testing.T) {
	rl := newTestLimiter(t, map[string]LimitSpec{
		"default": {MaxTokens: 2, Interval: time.Hour},
	})

	if !rl.Allow("mystery") {
		t.Fatal("first call on unknown key should be granted from default bucket")
	}
	if !rl.Allow("mystery") {
		t.Fatal("second call should be granted")
	}
	// Default bucket drained; unknown key is now rejected too.
	if rl.Allow("another-mystery") {
		t.Error("unknown key should be rejected once the default bucket drains")
	}
}

func TestLimiterUsageCountsRejections(t *testing.T) {
	rl := newTestLimiter(t, map[string]LimitSpec{
		"order": {MaxTokens: 1, Interval: time.Hour},
	})

	rl.Allow("order")
	rl.Allow("order") // rejected, still counted
	rl.Allow("unknown")

	stats := rl.Stats()
	if stats["order"] != 2 {
		t.Errorf("order usage = %d, want 2 (grants and rejections both count)", stats["order"])
	}
	if stats["unknown"] != 1 {
		t.Errorf("unknown usage = %d, want 1 (counted under requested key)", stats["unknown"])
	}
}

func TestLimiterAddLimitReplacesBucket(t *testing.T) {
	rl := newTestLimiter(t, map[string]LimitSpec{
		"order": {MaxTokens: 1, Interval: time.Hour},
	})

	rl.Allow("order")
	if rl.Allow("order") {
		t.Fatal("bucket should be drained")
	}

	if err := rl.AddLimit("order", 5, time.Second); err != nil {
		t.Fatalf("AddLimit: %v", err)
	}
	if !rl.Allow("order") {
		t.Error("replaced bucket should start full")
	}
}

func TestLimiterBlockingLimit(t *testing.T) {
	rl := newTestLimiter(t, map[string]LimitSpec{
		"fast": {MaxTokens: 1, Interval: 10 * time.Millisecond},
	})

	rl.Allow("fast")

	start := time.Now()
	if !rl.Limit("fast", 1, true, time.Second) {
		t.Fatal("blocking limit should be granted after refill")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("blocked for %v, expected around 10ms", elapsed)
	}
}
