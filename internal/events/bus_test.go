package events

import (
	"testing"
	"time"
)

func waitFor(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestSubscribeReceivesMatchingType(t *testing.T) {
	bus := NewEventBus()
	got := make(chan Event, 1)
	bus.Subscribe(EventRateLimitRejected, func(e Event) { got <- e })

	bus.PublishRateLimitRejected("order", "place_order")

	e := waitFor(t, got)
	if e.Type != EventRateLimitRejected {
		t.Errorf("type = %s, want rate limit rejected", e.Type)
	}
	if e.Data["key"] != "order" || e.Data["method"] != "place_order" {
		t.Errorf("data = %v, want key/method payload", e.Data)
	}
	if e.Timestamp.IsZero() {
		t.Error("publish should stamp the event")
	}
}

func TestSubscribeIgnoresOtherTypes(t *testing.T) {
	bus := NewEventBus()
	got := make(chan Event, 1)
	bus.Subscribe(EventEmergencyShutdown, func(e Event) { got <- e })

	bus.PublishError("test", "boom", nil)

	select {
	case e := <-got:
		t.Errorf("received unexpected event %s", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := NewEventBus()
	got := make(chan Event, 2)
	bus.SubscribeAll(func(e Event) { got <- e })

	bus.PublishFailoverStateChange("normal", "degraded", "data_stream")
	bus.PublishRecoveryAttempted("data_stream", 1, true)

	seen := map[EventType]bool{}
	for i := 0; i < 2; i++ {
		seen[waitFor(t, got).Type] = true
	}
	if !seen[EventFailoverStateChanged] || !seen[EventRecoveryAttempted] {
		t.Errorf("seen = %v, want both event types", seen)
	}
}

func TestBroadcastCallbackWiring(t *testing.T) {
	got := make(chan interface{}, 1)
	SetBroadcastFailoverState(func(data interface{}) { got <- data })
	defer SetBroadcastFailoverState(nil)

	BroadcastFailoverState(map[string]interface{}{"to": "recovery"})

	select {
	case data := <-got:
		payload, ok := data.(map[string]interface{})
		if !ok || payload["to"] != "recovery" {
			t.Errorf("payload = %v, want recovery state", data)
		}
	case <-time.After(time.Second):
		t.Fatal("broadcast callback never fired")
	}
}

func TestBroadcastWithoutCallbackIsNoop(t *testing.T) {
	SetBroadcastCircuitBreaker(nil)
	// Must not panic.
	BroadcastCircuitBreaker(map[string]interface{}{"state": "open"})
}
