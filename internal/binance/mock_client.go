package binance

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockClient simulates the exchange for dry runs and tests. An injected
// failure function can force errors to exercise the breaker path.
type MockClient struct {
	mu        sync.Mutex
	callCount map[string]int
	failFunc  func(method string) error
	latency   time.Duration
	orderID   int64
}

// NewMockClient creates a mock transport
func NewMockClient() *MockClient {
	return &MockClient{
		callCount: make(map[string]int),
		orderID:   1000,
	}
}

// SetFailFunc installs a per-method failure injector. A nil return means the
// call succeeds.
func (m *MockClient) SetFailFunc(fn func(method string) error) {
	m.mu.Lock()
	m.failFunc = fn
	m.mu.Unlock()
}

// SetLatency makes every call sleep for d before responding
func (m *MockClient) SetLatency(d time.Duration) {
	m.mu.Lock()
	m.latency = d
	m.mu.Unlock()
}

// CallCount returns how many times a method was invoked
func (m *MockClient) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount[method]
}

// Call simulates one API call
func (m *MockClient) Call(ctx context.Context, method string, params map[string]interface{}) (map[string]interface{}, error) {
	m.mu.Lock()
	m.callCount[method]++
	failFunc := m.failFunc
	latency := m.latency
	m.orderID++
	orderID := m.orderID
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(latency):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if failFunc != nil {
		if err := failFunc(method); err != nil {
			return nil, err
		}
	}

	switch method {
	case "place_order":
		return map[string]interface{}{
			"orderId": orderID,
			"symbol":  params["symbol"],
			"status":  "NEW",
		}, nil
	case "cancel_order", "cancel_all_orders":
		return map[string]interface{}{"status": "CANCELED"}, nil
	case "account_balance":
		return map[string]interface{}{
			"result": []interface{}{
				map[string]interface{}{"asset": "USDT", "balance": "10000.00"},
			},
		}, nil
	case "ticker_price":
		return map[string]interface{}{
			"symbol": params["symbol"],
			"price":  "50000.00",
		}, nil
	case "server_time":
		return map[string]interface{}{"serverTime": time.Now().UnixMilli()}, nil
	default:
		if _, ok := endpoints[method]; !ok {
			return nil, fmt.Errorf("unknown API method %q", method)
		}
		return map[string]interface{}{"result": []interface{}{}}, nil
	}
}
