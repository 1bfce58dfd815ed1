// Package circuit implements per-operation circuit breakers for outbound
// exchange API calls. A breaker tracks consecutive errors for one operation
// and short-circuits requests while the operation is known bad.
package circuit

import (
	"sync"
	"time"

	"futures-guard/internal/events"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Normal operation
	StateOpen     BreakerState = "open"      // Requests short-circuited
	StateHalfOpen BreakerState = "half_open" // Testing recovery with a probe
)

// BreakerConfig holds circuit breaker thresholds
type BreakerConfig struct {
	ErrorThreshold int           `json:"error_threshold"` // Errors before opening
	ErrorTimeout   time.Duration `json:"error_timeout"`   // Idle window after which the error count is forgiven
	CircuitTimeout time.Duration `json:"circuit_timeout"` // How long the circuit stays open before probing
}

// DefaultBreakerConfig returns safe defaults
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ErrorThreshold: 5,
		ErrorTimeout:   60 * time.Second,
		CircuitTimeout: 30 * time.Second,
	}
}

// Snapshot is a consistent read-only view of one breaker
type Snapshot struct {
	Name          string       `json:"name"`
	State         BreakerState `json:"state"`
	ErrorCount    int          `json:"error_count"`
	LastErrorTime time.Time    `json:"last_error_time,omitempty"`
	OpenTime      time.Time    `json:"open_time,omitempty"`
}

// Breaker is a failure-tracking state machine for a single operation.
//
// closed: errors accumulate; at ErrorThreshold the breaker opens.
// open: requests are rejected until CircuitTimeout elapses, then the next
// caller becomes the half-open probe.
// half_open: exactly one probe is allowed through; its success closes the
// breaker, its failure reopens it immediately.
type Breaker struct {
	name   string
	config BreakerConfig

	mu            sync.RWMutex
	state         BreakerState
	errorCount    int
	lastErrorTime time.Time
	openTime      time.Time
	probeInFlight bool

	onStateChange func(name string, from, to BreakerState)
}

// NewBreaker creates a breaker in the closed state. Non-positive config
// fields fall back to defaults.
func NewBreaker(name string, config BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if config.ErrorThreshold <= 0 {
		config.ErrorThreshold = def.ErrorThreshold
	}
	if config.ErrorTimeout <= 0 {
		config.ErrorTimeout = def.ErrorTimeout
	}
	if config.CircuitTimeout <= 0 {
		config.CircuitTimeout = def.CircuitTimeout
	}

	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
	}
}

// OnStateChange sets a callback invoked on every state transition
func (b *Breaker) OnStateChange(fn func(name string, from, to BreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// AllowRequest reports whether a request may proceed. While open, it returns
// false until CircuitTimeout has elapsed; the first caller after that moves
// the breaker to half_open and becomes the probe. In half_open only the one
// in-flight probe is admitted; concurrent callers are rejected until the
// probe resolves.
func (b *Breaker) AllowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(b.openTime) > b.config.CircuitTimeout {
			b.transition(StateHalfOpen)
			b.probeInFlight = true
			return true
		}
		return false

	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true

	default:
		return false
	}
}

// RecordSuccess reports a successful call. A half-open probe success closes
// the breaker; in any other state this is a no-op.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.transition(StateClosed)
	}
}

// RecordError reports a failed call. While closed, a lapse longer than
// ErrorTimeout since the previous error forgives the accumulated count before
// the new error is added; reaching ErrorThreshold opens the breaker. A
// half-open probe failure reopens immediately. Errors while open are ignored;
// the breaker is already tripped.
func (b *Breaker) RecordError() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	switch b.state {
	case StateClosed:
		if !b.lastErrorTime.IsZero() && now.Sub(b.lastErrorTime) > b.config.ErrorTimeout {
			b.errorCount = 0
		}
		b.errorCount++
		b.lastErrorTime = now

		if b.errorCount >= b.config.ErrorThreshold {
			b.transition(StateOpen)
		}

	case StateHalfOpen:
		b.lastErrorTime = now
		b.transition(StateOpen)
	}
}

// Reset forces the breaker closed from any state, zeroing all counters. This
// is the operator escape hatch.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.errorCount = 0
	b.lastErrorTime = time.Time{}
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// transition moves to a new state and fires side effects. Caller must hold
// the write lock.
func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	b.errorCount = 0
	b.probeInFlight = false

	switch to {
	case StateOpen:
		b.openTime = time.Now()
	case StateClosed:
		b.openTime = time.Time{}
	}

	if b.onStateChange != nil {
		go b.onStateChange(b.name, from, to)
	}

	events.BroadcastCircuitBreaker(map[string]interface{}{
		"name":  b.name,
		"from":  string(from),
		"to":    string(to),
		"since": time.Now(),
	})
}

// State returns the current breaker state
func (b *Breaker) State() BreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// GetSnapshot returns a consistent view of the breaker
func (b *Breaker) GetSnapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return Snapshot{
		Name:          b.name,
		State:         b.state,
		ErrorCount:    b.errorCount,
		LastErrorTime: b.lastErrorTime,
		OpenTime:      b.openTime,
	}
}

// Name returns the breaker identity
func (b *Breaker) Name() string {
	return b.name
}
