// Package guard composes rate limiting and circuit breaking in front of an
// exchange API caller. Every outbound call flows through Limit, then
// AllowRequest, then the transport, and feeds its outcome back into the
// breaker for that call class.
package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"futures-guard/internal/circuit"
	"futures-guard/internal/events"
	"futures-guard/internal/logging"
	"futures-guard/internal/ratelimit"
)

var (
	// ErrRateLimited is returned when the token bucket for a call class
	// cannot grant a token within its wait budget.
	ErrRateLimited = errors.New("guard: rate limited")

	// ErrCircuitOpen is returned when the circuit breaker for a call class
	// rejects the request without invoking the transport.
	ErrCircuitOpen = errors.New("guard: circuit open")
)

// APICaller is the transport the guard protects
type APICaller interface {
	Call(ctx context.Context, method string, params map[string]interface{}) (map[string]interface{}, error)
}

// Call classes. Each class gets its own token bucket and circuit breaker so
// a flood of market-data reads cannot open the breaker that orders depend on.
const (
	ClassOrder      = "order"
	ClassAccount    = "account"
	ClassMarketData = "market_data"
	ClassDefault    = ratelimit.DefaultKey
)

// Config holds guard configuration
type Config struct {
	// WaitTimeout bounds how long Limit may block per call. Zero means
	// wait as long as the bucket needs.
	WaitTimeout time.Duration `json:"wait_timeout"`

	// RetryAttempts and RetryBaseDelay drive CallWithRetry.
	RetryAttempts  int           `json:"retry_attempts"`
	RetryBaseDelay time.Duration `json:"retry_base_delay"`
}

// DefaultConfig returns safe defaults
func DefaultConfig() Config {
	return Config{
		WaitTimeout:    5 * time.Second,
		RetryAttempts:  3,
		RetryBaseDelay: 500 * time.Millisecond,
	}
}

// Guard fronts an APICaller with per-class rate limits and breakers
type Guard struct {
	caller   APICaller
	limiter  *ratelimit.RateLimiter
	breakers *circuit.Registry
	config   Config
	eventBus *events.EventBus
	logger   *logging.Logger
}

// New creates a guard around the given transport
func New(caller APICaller, limiter *ratelimit.RateLimiter, breakers *circuit.Registry, cfg Config, eventBus *events.EventBus, logger *logging.Logger) *Guard {
	def := DefaultConfig()
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if logger == nil {
		logger = logging.WithComponent("guard")
	}
	return &Guard{
		caller:   caller,
		limiter:  limiter,
		breakers: breakers,
		config:   cfg,
		eventBus: eventBus,
		logger:   logger,
	}
}

// ClassForMethod maps an API method name to its call class. Order placement
// and cancellation are ClassOrder; balance and position reads are
// ClassAccount; kline, depth and ticker reads are ClassMarketData; anything
// unrecognized falls back to the default class.
func ClassForMethod(method string) string {
	m := strings.ToLower(method)
	switch {
	case strings.Contains(m, "order") || strings.Contains(m, "cancel"):
		return ClassOrder
	case strings.Contains(m, "account") || strings.Contains(m, "balance") || strings.Contains(m, "position") || strings.Contains(m, "leverage"):
		return ClassAccount
	case strings.Contains(m, "kline") || strings.Contains(m, "depth") || strings.Contains(m, "ticker") || strings.Contains(m, "trades") || strings.Contains(m, "funding"):
		return ClassMarketData
	default:
		return ClassDefault
	}
}

// Call performs one guarded API call. The rate limiter may block up to the
// configured wait timeout; the circuit breaker may reject outright. Transport
// errors are recorded against the class breaker and returned unwrapped under
// a class-tagged message.
func (g *Guard) Call(ctx context.Context, method string, params map[string]interface{}) (map[string]interface{}, error) {
	class := ClassForMethod(method)
	return g.callClass(ctx, class, method, params)
}

func (g *Guard) callClass(ctx context.Context, class, method string, params map[string]interface{}) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !g.limiter.Limit(class, 1, true, g.config.WaitTimeout) {
		g.logger.Warn("Rate limit rejected call", "method", method, "class", class)
		if g.eventBus != nil {
			g.eventBus.PublishRateLimitRejected(class, method)
		}
		return nil, fmt.Errorf("%w: class %s", ErrRateLimited, class)
	}

	breaker := g.breakers.Get(class)
	if !breaker.AllowRequest() {
		g.logger.Warn("Circuit rejected call", "method", method, "class", class)
		return nil, fmt.Errorf("%w: class %s", ErrCircuitOpen, class)
	}

	start := time.Now()
	result, err := g.caller.Call(ctx, method, params)
	elapsed := time.Since(start)

	if err != nil {
		breaker.RecordError()
		g.logger.WithDuration(elapsed).Error("API call failed", "method", method, "class", class, "error", err.Error())
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	breaker.RecordSuccess()
	g.logger.WithDuration(elapsed).Debug("API call completed", "method", method, "class", class)
	return result, nil
}

// CallWithRetry performs a guarded call with exponential backoff on transport
// errors. Rate-limit and open-circuit rejections are not retried: retrying
// into a saturated bucket or an open breaker only adds load the guard exists
// to shed. Context cancellation aborts between attempts.
func (g *Guard) CallWithRetry(ctx context.Context, method string, params map[string]interface{}) (map[string]interface{}, error) {
	class := ClassForMethod(method)

	var lastErr error
	delay := g.config.RetryBaseDelay
	for attempt := 1; attempt <= g.config.RetryAttempts; attempt++ {
		result, err := g.callClass(ctx, class, method, params)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		lastErr = err

		if attempt == g.config.RetryAttempts {
			break
		}
		g.logger.Debug("Retrying API call", "method", method, "attempt", attempt, "delay", delay.String())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, fmt.Errorf("call %s failed after %d attempts: %w", method, g.config.RetryAttempts, lastErr)
}

// Limiter exposes the underlying rate limiter for observability endpoints
func (g *Guard) Limiter() *ratelimit.RateLimiter { return g.limiter }

// Breakers exposes the underlying breaker registry
func (g *Guard) Breakers() *circuit.Registry { return g.breakers }
