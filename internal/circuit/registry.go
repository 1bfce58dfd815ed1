package circuit

import (
	"sync"
)

// Registry maps operation names to breakers, creating them lazily with
// registry-wide defaults on first access. Breakers are never removed or
// reconstructed; per-operation overrides are honored only at first creation.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults BreakerConfig

	onStateChange func(name string, from, to BreakerState)
}

// NewRegistry creates a registry with the given default thresholds
func NewRegistry(defaults BreakerConfig) *Registry {
	def := DefaultBreakerConfig()
	if defaults.ErrorThreshold <= 0 {
		defaults.ErrorThreshold = def.ErrorThreshold
	}
	if defaults.ErrorTimeout <= 0 {
		defaults.ErrorTimeout = def.ErrorTimeout
	}
	if defaults.CircuitTimeout <= 0 {
		defaults.CircuitTimeout = def.CircuitTimeout
	}

	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
	}
}

// OnStateChange sets a callback applied to every breaker the registry
// creates, including ones created before this call.
func (r *Registry) OnStateChange(fn func(name string, from, to BreakerState)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.onStateChange = fn
	for _, b := range r.breakers {
		b.OnStateChange(fn)
	}
}

// Get returns the breaker for the operation, creating it with registry
// defaults if absent.
func (r *Registry) Get(name string) *Breaker {
	return r.GetWithConfig(name, r.defaults)
}

// GetWithConfig returns the breaker for the operation, creating it with the
// given thresholds if absent. An existing breaker is returned unchanged; the
// overrides only apply at first creation.
func (r *Registry) GetWithConfig(name string, config BreakerConfig) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock; a racing caller may have created it.
	if b, ok := r.breakers[name]; ok {
		return b
	}

	b = NewBreaker(name, config)
	if r.onStateChange != nil {
		b.OnStateChange(r.onStateChange)
	}
	r.breakers[name] = b
	return b
}

// States returns the state of every breaker for health polling
func (r *Registry) States() map[string]BreakerState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]BreakerState, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}

// Snapshots returns a full view of every breaker
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Snapshot, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.GetSnapshot()
	}
	return out
}

// ResetAll forces every breaker closed
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.breakers {
		b.Reset()
	}
}

// Reset forces one breaker closed. It returns false if the operation has no
// breaker yet.
func (r *Registry) Reset(name string) bool {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()

	if !ok {
		return false
	}
	b.Reset()
	return true
}
