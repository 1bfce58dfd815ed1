package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventCircuitBreakerUpdate  EventType = "CIRCUIT_BREAKER_UPDATE"
	EventFailoverStateChanged  EventType = "FAILOVER_STATE_CHANGED"
	EventComponentStatusUpdate EventType = "COMPONENT_STATUS_UPDATE"
	EventRateLimitRejected     EventType = "RATE_LIMIT_REJECTED"
	EventRecoveryAttempted     EventType = "RECOVERY_ATTEMPTED"
	EventEmergencyShutdown     EventType = "EMERGENCY_SHUTDOWN"
	EventSystemStatusUpdate    EventType = "SYSTEM_STATUS_UPDATE"
	EventError                 EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishFailoverStateChange publishes a global failover state transition
func (eb *EventBus) PublishFailoverStateChange(from, to, reason string) {
	eb.Publish(Event{
		Type: EventFailoverStateChanged,
		Data: map[string]interface{}{
			"from":   from,
			"to":     to,
			"reason": reason,
		},
	})
}

// PublishComponentStatus publishes a component health status update
func (eb *EventBus) PublishComponentStatus(component, status string, failureCount int) {
	eb.Publish(Event{
		Type: EventComponentStatusUpdate,
		Data: map[string]interface{}{
			"component":     component,
			"status":        status,
			"failure_count": failureCount,
		},
	})
}

// PublishRateLimitRejected publishes a rejected rate-limited call
func (eb *EventBus) PublishRateLimitRejected(key, method string) {
	eb.Publish(Event{
		Type: EventRateLimitRejected,
		Data: map[string]interface{}{
			"key":    key,
			"method": method,
		},
	})
}

// PublishRecoveryAttempted publishes a recovery attempt outcome
func (eb *EventBus) PublishRecoveryAttempted(component string, attempt int, success bool) {
	eb.Publish(Event{
		Type: EventRecoveryAttempted,
		Data: map[string]interface{}{
			"component": component,
			"attempt":   attempt,
			"success":   success,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}

// ============================================================================
// WebSocket Broadcast Callbacks
// These let the circuit and failover packages broadcast state to dashboard
// clients without importing the api package, avoiding import cycles.
// ============================================================================

// BroadcastFunc is a callback function for broadcasting state to clients
type BroadcastFunc func(data interface{})

// Global broadcast callbacks - wired up by the api package at startup
var (
	broadcastMu             sync.RWMutex
	broadcastCircuitBreaker BroadcastFunc
	broadcastFailoverState  BroadcastFunc
	broadcastSystemStatus   BroadcastFunc
)

// SetBroadcastCircuitBreaker sets the callback for circuit breaker broadcasts
func SetBroadcastCircuitBreaker(fn BroadcastFunc) {
	broadcastMu.Lock()
	defer broadcastMu.Unlock()
	broadcastCircuitBreaker = fn
}

// SetBroadcastFailoverState sets the callback for failover state broadcasts
func SetBroadcastFailoverState(fn BroadcastFunc) {
	broadcastMu.Lock()
	defer broadcastMu.Unlock()
	broadcastFailoverState = fn
}

// SetBroadcastSystemStatus sets the callback for system status broadcasts
func SetBroadcastSystemStatus(fn BroadcastFunc) {
	broadcastMu.Lock()
	defer broadcastMu.Unlock()
	broadcastSystemStatus = fn
}

// BroadcastCircuitBreaker broadcasts circuit breaker state to clients
func BroadcastCircuitBreaker(data interface{}) {
	broadcastMu.RLock()
	fn := broadcastCircuitBreaker
	broadcastMu.RUnlock()
	if fn != nil {
		go fn(data)
	}
}

// BroadcastFailoverState broadcasts failover state to clients
func BroadcastFailoverState(data interface{}) {
	broadcastMu.RLock()
	fn := broadcastFailoverState
	broadcastMu.RUnlock()
	if fn != nil {
		go fn(data)
	}
}

// BroadcastSystemStatus broadcasts system status snapshots to clients
func BroadcastSystemStatus(data interface{}) {
	broadcastMu.RLock()
	fn := broadcastSystemStatus
	broadcastMu.RUnlock()
	if fn != nil {
		go fn(data)
	}
}
