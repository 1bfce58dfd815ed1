// Package binance is the USDT-M futures REST transport the guard protects.
// Methods are addressed by name so the guard can classify them without
// knowing the endpoint table.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"
)

const (
	mainnetBaseURL = "https://fapi.binance.com"
	testnetBaseURL = "https://testnet.binancefuture.com"
)

// APIError is a non-2xx response from the exchange
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       int    `json:"code"`
	Message    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance API error %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

// endpoint describes how one named method maps onto the REST API
type endpoint struct {
	httpMethod string
	path       string
	signed     bool
}

// Method table. Names are what callers pass to Call; the guard derives call
// classes from them.
var endpoints = map[string]endpoint{
	"place_order":       {http.MethodPost, "/fapi/v1/order", true},
	"cancel_order":      {http.MethodDelete, "/fapi/v1/order", true},
	"cancel_all_orders": {http.MethodDelete, "/fapi/v1/allOpenOrders", true},
	"get_order":         {http.MethodGet, "/fapi/v1/order", true},
	"open_orders":       {http.MethodGet, "/fapi/v1/openOrders", true},
	"account_info":      {http.MethodGet, "/fapi/v2/account", true},
	"account_balance":   {http.MethodGet, "/fapi/v2/balance", true},
	"position_risk":     {http.MethodGet, "/fapi/v2/positionRisk", true},
	"set_leverage":      {http.MethodPost, "/fapi/v1/leverage", true},
	"klines":            {http.MethodGet, "/fapi/v1/klines", false},
	"depth":             {http.MethodGet, "/fapi/v1/depth", false},
	"ticker_price":      {http.MethodGet, "/fapi/v1/ticker/price", false},
	"ticker_24hr":       {http.MethodGet, "/fapi/v1/ticker/24hr", false},
	"funding_rate":      {http.MethodGet, "/fapi/v1/fundingRate", false},
	"server_time":       {http.MethodGet, "/fapi/v1/time", false},
	"exchange_info":     {http.MethodGet, "/fapi/v1/exchangeInfo", false},
}

// Client is the futures REST client
type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

// ClientConfig holds transport configuration
type ClientConfig struct {
	APIKey  string
	Secret  string
	BaseURL string
	TestNet bool
	Timeout time.Duration
}

// NewClient creates a futures REST client
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.TestNet {
			baseURL = testnetBaseURL
		} else {
			baseURL = mainnetBaseURL
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		apiKey:     cfg.APIKey,
		secretKey:  cfg.Secret,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Call performs one named API call. Unknown methods fail before touching the
// network. Array-shaped responses come back under a "result" key so the
// return type stays uniform.
func (c *Client) Call(ctx context.Context, method string, params map[string]interface{}) (map[string]interface{}, error) {
	ep, ok := endpoints[method]
	if !ok {
		return nil, fmt.Errorf("unknown API method %q", method)
	}

	values := url.Values{}
	for k, v := range params {
		values.Set(k, fmt.Sprintf("%v", v))
	}

	// Encode sorts and escapes; the signature must cover the exact query
	// string sent on the wire.
	rawQuery := values.Encode()
	if ep.signed {
		values.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		rawQuery = values.Encode()
		rawQuery += "&signature=" + c.sign(rawQuery)
	}

	req, err := http.NewRequestWithContext(ctx, ep.httpMethod, c.baseURL+ep.path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.URL.RawQuery = rawQuery
	if ep.signed {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(body)}
		var parsed struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &parsed) == nil && parsed.Msg != "" {
			apiErr.Code = parsed.Code
			apiErr.Message = parsed.Msg
		}
		return nil, apiErr
	}

	return decodeResponse(body)
}

// decodeResponse accepts both object and array payloads
func decodeResponse(body []byte) (map[string]interface{}, error) {
	var asObject map[string]interface{}
	if err := json.Unmarshal(body, &asObject); err == nil {
		return asObject, nil
	}

	var asArray []interface{}
	if err := json.Unmarshal(body, &asArray); err == nil {
		return map[string]interface{}{"result": asArray}, nil
	}

	return nil, fmt.Errorf("unexpected response shape: %s", truncate(string(body), 200))
}

// sign produces the HMAC-SHA256 signature over the encoded query string
func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Methods returns the known method names, for diagnostics
func Methods() []string {
	names := make([]string, 0, len(endpoints))
	for name := range endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
