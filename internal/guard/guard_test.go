package guard

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"futures-guard/internal/circuit"
	"futures-guard/internal/ratelimit"
)

// fakeCaller is a scriptable transport for guard tests.
type fakeCaller struct {
	calls atomic.Int32
	fail  func(attempt int32) error
}

func (f *fakeCaller) Call(ctx context.Context, method string, params map[string]interface{}) (map[string]interface{}, error) {
	n := f.calls.Add(1)
	if f.fail != nil {
		if err := f.fail(n); err != nil {
			return nil, err
		}
	}
	return map[string]interface{}{"method": method}, nil
}

func newTestGuard(t *testing.T, caller APICaller, cfg Config) *Guard {
	t.Helper()
	limiter, err := ratelimit.NewRateLimiter(map[string]ratelimit.LimitSpec{
		ratelimit.DefaultKey: {MaxTokens: 100, Interval: time.Second},
		ClassOrder:           {MaxTokens: 100, Interval: time.Second},
		ClassAccount:         {MaxTokens: 100, Interval: time.Second},
		ClassMarketData:      {MaxTokens: 100, Interval: time.Second},
	}, nil)
	if err != nil {
		t.Fatalf("NewRateLimiter: %v", err)
	}
	breakers := circuit.NewRegistry(circuit.BreakerConfig{
		ErrorThreshold: 3,
		ErrorTimeout:   time.Minute,
		CircuitTimeout: time.Minute,
	})
	return New(caller, limiter, breakers, cfg, nil, nil)
}

func TestClassForMethod(t *testing.T) {
	cases := map[string]string{
		"place_order":       ClassOrder,
		"cancel_all_orders": ClassOrder,
		"account_info":      ClassAccount,
		"account_balance":   ClassAccount,
		"position_risk":     ClassAccount,
		"set_leverage":      ClassAccount,
		"klines":            ClassMarketData,
		"depth":             ClassMarketData,
		"ticker_price":      ClassMarketData,
		"funding_rate":      ClassMarketData,
		"server_time":       ClassDefault,
		"exchange_info":     ClassDefault,
	}
	for method, want := range cases {
		if got := ClassForMethod(method); got != want {
			t.Errorf("ClassForMethod(%q) = %q, want %q", method, got, want)
		}
	}
}

func TestGuardCallSuccess(t *testing.T) {
	caller := &fakeCaller{}
	g := newTestGuard(t, caller, DefaultConfig())

	result, err := g.Call(context.Background(), "server_time", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result["method"] != "server_time" {
		t.Errorf("result = %v, want transport payload", result)
	}
	if caller.calls.Load() != 1 {
		t.Errorf("transport called %d times, want 1", caller.calls.Load())
	}
}

func TestGuardRateLimited(t *testing.T) {
	caller := &fakeCaller{}
	cfg := DefaultConfig()
	cfg.WaitTimeout = 10 * time.Millisecond
	g := newTestGuard(t, caller, cfg)

	// Replace the order bucket with one that has no capacity headroom.
	if err := g.Limiter().AddLimit(ClassOrder, 1, time.Hour); err != nil {
		t.Fatalf("AddLimit: %v", err)
	}

	if _, err := g.Call(context.Background(), "place_order", nil); err != nil {
		t.Fatalf("first order call should pass: %v", err)
	}
	_, err := g.Call(context.Background(), "place_order", nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if caller.calls.Load() != 1 {
		t.Errorf("transport called %d times, want 1 (rejection short-circuits)", caller.calls.Load())
	}
}

func TestGuardCircuitOpens(t *testing.T) {
	transportErr := errors.New("connection reset")
	caller := &fakeCaller{fail: func(int32) error { return transportErr }}
	g := newTestGuard(t, caller, DefaultConfig())

	for i := 0; i < 3; i++ {
		if _, err := g.Call(context.Background(), "place_order", nil); !errors.Is(err, transportErr) {
			t.Fatalf("call %d: err = %v, want transport error", i, err)
		}
	}

	// Threshold reached: the breaker now rejects without touching the transport.
	_, err := g.Call(context.Background(), "place_order", nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if caller.calls.Load() != 3 {
		t.Errorf("transport called %d times, want 3", caller.calls.Load())
	}
}

func TestGuardClassesIsolated(t *testing.T) {
	transportErr := errors.New("connection reset")
	caller := &fakeCaller{fail: func(int32) error { return transportErr }}
	g := newTestGuard(t, caller, DefaultConfig())

	for i := 0; i < 3; i++ {
		g.Call(context.Background(), "place_order", nil)
	}
	if _, err := g.Call(context.Background(), "place_order", nil); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("order breaker should be open")
	}

	// Market-data calls still reach the transport through their own breaker.
	caller.fail = nil
	if _, err := g.Call(context.Background(), "ticker_price", nil); err != nil {
		t.Fatalf("market data call rejected: %v", err)
	}
}

func TestGuardSuccessRecordedIntoBreaker(t *testing.T) {
	caller := &fakeCaller{fail: func(attempt int32) error {
		if attempt <= 2 {
			return errors.New("flaky")
		}
		return nil
	}}
	g := newTestGuard(t, caller, DefaultConfig())

	g.Call(context.Background(), "account_info", nil)
	g.Call(context.Background(), "account_info", nil)
	if _, err := g.Call(context.Background(), "account_info", nil); err != nil {
		t.Fatalf("third call should succeed: %v", err)
	}

	// Two errors then a success; the breaker stays closed and keeps admitting.
	b := g.Breakers().Get(ClassAccount)
	if b.State() != circuit.StateClosed {
		t.Errorf("breaker state = %s, want closed", b.State())
	}
}

func TestGuardCancelledContext(t *testing.T) {
	caller := &fakeCaller{}
	g := newTestGuard(t, caller, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Call(ctx, "server_time", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if caller.calls.Load() != 0 {
		t.Error("transport should not be called with a cancelled context")
	}
}

func TestCallWithRetryEventuallySucceeds(t *testing.T) {
	caller := &fakeCaller{fail: func(attempt int32) error {
		if attempt < 3 {
			return errors.New("flaky")
		}
		return nil
	}}
	cfg := DefaultConfig()
	cfg.RetryAttempts = 3
	cfg.RetryBaseDelay = time.Millisecond
	g := newTestGuard(t, caller, cfg)

	if _, err := g.CallWithRetry(context.Background(), "server_time", nil); err != nil {
		t.Fatalf("CallWithRetry: %v", err)
	}
	if caller.calls.Load() != 3 {
		t.Errorf("transport called %d times, want 3", caller.calls.Load())
	}
}

func TestCallWithRetryExhausts(t *testing.T) {
	transportErr := errors.New("down")
	caller := &fakeCaller{fail: func(int32) error { return transportErr }}
	cfg := DefaultConfig()
	cfg.RetryAttempts = 2
	cfg.RetryBaseDelay = time.Millisecond
	g := newTestGuard(t, caller, cfg)

	_, err := g.CallWithRetry(context.Background(), "server_time", nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !errors.Is(err, transportErr) {
		t.Errorf("err = %v, want wrapped transport error", err)
	}
	if caller.calls.Load() != 2 {
		t.Errorf("transport called %d times, want 2", caller.calls.Load())
	}
}

func TestCallWithRetryDoesNotRetryRejections(t *testing.T) {
	transportErr := errors.New("down")
	caller := &fakeCaller{fail: func(int32) error { return transportErr }}
	cfg := DefaultConfig()
	cfg.RetryAttempts = 5
	cfg.RetryBaseDelay = time.Millisecond
	g := newTestGuard(t, caller, cfg)

	// Open the account breaker first.
	for i := 0; i < 3; i++ {
		g.Call(context.Background(), "account_info", nil)
	}

	before := caller.calls.Load()
	_, err := g.CallWithRetry(context.Background(), "account_info", nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if caller.calls.Load() != before {
		t.Error("open-circuit rejection must not be retried into the transport")
	}
}

func TestCallWithRetryStopsOnCancel(t *testing.T) {
	caller := &fakeCaller{fail: func(int32) error { return errors.New("down") }}
	cfg := DefaultConfig()
	cfg.RetryAttempts = 10
	cfg.RetryBaseDelay = 50 * time.Millisecond
	g := newTestGuard(t, caller, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := g.CallWithRetry(ctx, "server_time", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("retry loop ran %v after cancellation", elapsed)
	}
}

func TestGuardErrorWrapsMethod(t *testing.T) {
	transportErr := errors.New("bad symbol")
	caller := &fakeCaller{fail: func(int32) error { return transportErr }}
	g := newTestGuard(t, caller, DefaultConfig())

	_, err := g.Call(context.Background(), "klines", nil)
	if !errors.Is(err, transportErr) {
		t.Fatalf("err = %v, want wrapped transport error", err)
	}
	want := fmt.Sprintf("call %s", "klines")
	if got := err.Error(); len(got) < len(want) || got[:len(want)] != want {
		t.Errorf("error message %q should be prefixed with %q", got, want)
	}
}
