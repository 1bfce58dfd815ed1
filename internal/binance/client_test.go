package binance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestCallUnknownMethod(t *testing.T) {
	c := NewClient(ClientConfig{})
	if _, err := c.Call(context.Background(), "explode", nil); err == nil {
		t.Error("unknown method should fail before touching the network")
	}
}

func TestCallPublicEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/time" {
			t.Errorf("path = %s, want /fapi/v1/time", r.URL.Path)
		}
		if r.Header.Get("X-MBX-APIKEY") != "" {
			t.Error("public endpoint must not carry the API key header")
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"serverTime": 1700000000000})
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL})
	result, err := c.Call(context.Background(), "server_time", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if _, ok := result["serverTime"]; !ok {
		t.Errorf("result = %v, want serverTime key", result)
	}
}

func TestCallSignedEndpoint(t *testing.T) {
	var gotQuery url.Values
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotKey = r.Header.Get("X-MBX-APIKEY")
		json.NewEncoder(w).Encode(map[string]interface{}{"orderId": 42})
	}))
	defer server.Close()

	c := NewClient(ClientConfig{APIKey: "key", Secret: "secret", BaseURL: server.URL})
	_, err := c.Call(context.Background(), "place_order", map[string]interface{}{
		"symbol": "BTCUSDT",
		"side":   "BUY",
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if gotKey != "key" {
		t.Errorf("API key header = %q, want key", gotKey)
	}
	for _, param := range []string{"symbol", "side", "timestamp", "signature"} {
		if gotQuery.Get(param) == "" {
			t.Errorf("signed request missing %q parameter", param)
		}
	}
}

func TestCallArrayResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]interface{}{
			map[string]interface{}{"symbol": "BTCUSDT"},
		})
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL})
	result, err := c.Call(context.Background(), "funding_rate", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	rows, ok := result["result"].([]interface{})
	if !ok || len(rows) != 1 {
		t.Errorf("result = %v, want array under result key", result)
	}
}

func TestCallAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{"code": -1121, "msg": "Invalid symbol."})
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL})
	_, err := c.Call(context.Background(), "depth", map[string]interface{}{"symbol": "NOPE"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != -1121 {
		t.Errorf("apiErr = %+v, want 400/-1121", apiErr)
	}
	if apiErr.Message != "Invalid symbol." {
		t.Errorf("message = %q, want parsed msg field", apiErr.Message)
	}
}

func TestSignDeterministic(t *testing.T) {
	c := NewClient(ClientConfig{Secret: "secret"})

	query := "side=BUY&symbol=BTCUSDT&timestamp=1700000000000"
	first := c.sign(query)
	second := c.sign(query)
	if first != second {
		t.Errorf("signature not deterministic: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Errorf("signature length = %d, want 64 hex chars", len(first))
	}
}

func TestSignDependsOnSecret(t *testing.T) {
	query := "symbol=BTCUSDT"

	a := NewClient(ClientConfig{Secret: "one"}).sign(query)
	b := NewClient(ClientConfig{Secret: "two"}).sign(query)
	if a == b {
		t.Error("different secrets must yield different signatures")
	}
}

func TestSignCoversEncodedQuery(t *testing.T) {
	var gotRawQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRawQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]interface{}{"orderId": 1})
	}))
	defer server.Close()

	c := NewClient(ClientConfig{APIKey: "key", Secret: "secret", BaseURL: server.URL})
	// newClientOrderId needs escaping once encoded.
	_, err := c.Call(context.Background(), "place_order", map[string]interface{}{
		"symbol":           "BTCUSDT",
		"newClientOrderId": "grid/1 buy+safe",
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	idx := strings.LastIndex(gotRawQuery, "&signature=")
	if idx < 0 {
		t.Fatalf("query %q missing signature parameter", gotRawQuery)
	}
	payload := gotRawQuery[:idx]
	signature := gotRawQuery[idx+len("&signature="):]

	if !strings.Contains(payload, url.QueryEscape("grid/1 buy+safe")) {
		t.Errorf("payload %q should carry the escaped parameter value", payload)
	}
	if got := c.sign(payload); got != signature {
		t.Errorf("signature %s does not cover the wire query, want %s", signature, got)
	}
}

func TestBaseURLSelection(t *testing.T) {
	if c := NewClient(ClientConfig{}); c.baseURL != mainnetBaseURL {
		t.Errorf("baseURL = %s, want mainnet", c.baseURL)
	}
	if c := NewClient(ClientConfig{TestNet: true}); c.baseURL != testnetBaseURL {
		t.Errorf("baseURL = %s, want testnet", c.baseURL)
	}
	if c := NewClient(ClientConfig{BaseURL: "http://localhost:9000"}); c.baseURL != "http://localhost:9000" {
		t.Errorf("baseURL = %s, want explicit override", c.baseURL)
	}
}

func TestMockClientOrders(t *testing.T) {
	m := NewMockClient()

	result, err := m.Call(context.Background(), "place_order", map[string]interface{}{"symbol": "BTCUSDT"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result["status"] != "NEW" || result["symbol"] != "BTCUSDT" {
		t.Errorf("result = %v, want NEW order for BTCUSDT", result)
	}
	if m.CallCount("place_order") != 1 {
		t.Errorf("call count = %d, want 1", m.CallCount("place_order"))
	}
}

func TestMockClientFailureInjection(t *testing.T) {
	m := NewMockClient()
	injected := errors.New("exchange down")
	m.SetFailFunc(func(method string) error {
		if method == "place_order" {
			return injected
		}
		return nil
	})

	if _, err := m.Call(context.Background(), "place_order", nil); !errors.Is(err, injected) {
		t.Errorf("err = %v, want injected failure", err)
	}
	if _, err := m.Call(context.Background(), "server_time", nil); err != nil {
		t.Errorf("other methods should still succeed: %v", err)
	}
}

func TestMockClientLatencyRespectsContext(t *testing.T) {
	m := NewMockClient()
	m.SetLatency(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.Call(ctx, "server_time", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("mock latency ignored context cancellation")
	}
}

func TestMockClientUnknownMethod(t *testing.T) {
	m := NewMockClient()
	if _, err := m.Call(context.Background(), "explode", nil); err == nil {
		t.Error("unknown method should fail like the real transport")
	}
}
