package notification

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeNotifier records notifications for assertions.
type fakeNotifier struct {
	name     string
	enabled  bool
	err      error
	received []*Notification
}

func (f *fakeNotifier) Send(n *Notification) error {
	f.received = append(f.received, n)
	return f.err
}

func (f *fakeNotifier) Name() string    { return f.name }
func (f *fakeNotifier) IsEnabled() bool { return f.enabled }

func TestManagerFansOut(t *testing.T) {
	m := NewManager(true)
	a := &fakeNotifier{name: "a", enabled: true}
	b := &fakeNotifier{name: "b", enabled: true}
	m.AddNotifier(a)
	m.AddNotifier(b)

	if err := m.SendError("title", "message"); err != nil {
		t.Fatalf("SendError: %v", err)
	}
	if len(a.received) != 1 || len(b.received) != 1 {
		t.Errorf("deliveries = %d/%d, want 1/1", len(a.received), len(b.received))
	}
	if a.received[0].Type != NotifyError {
		t.Errorf("type = %s, want error", a.received[0].Type)
	}
}

func TestManagerSkipsDisabledNotifier(t *testing.T) {
	m := NewManager(true)
	off := &fakeNotifier{name: "off", enabled: false}
	m.AddNotifier(off)

	if err := m.SendError("title", "message"); err != nil {
		t.Fatalf("SendError: %v", err)
	}
	if len(off.received) != 0 {
		t.Error("disabled notifier should not receive notifications")
	}
}

func TestManagerDisabledIsNoop(t *testing.T) {
	m := NewManager(false)
	a := &fakeNotifier{name: "a", enabled: true}
	m.AddNotifier(a)

	if err := m.SendEmergency("down"); err != nil {
		t.Fatalf("SendEmergency: %v", err)
	}
	if len(a.received) != 0 {
		t.Error("disabled manager should not deliver")
	}
}

func TestManagerFailureDoesNotStopDelivery(t *testing.T) {
	m := NewManager(true)
	bad := &fakeNotifier{name: "bad", enabled: true, err: errors.New("webhook down")}
	good := &fakeNotifier{name: "good", enabled: true}
	m.AddNotifier(bad)
	m.AddNotifier(good)

	err := m.SendError("title", "message")
	if err == nil {
		t.Fatal("expected the provider error to surface")
	}
	if len(good.received) != 1 {
		t.Error("failure in one provider must not stop the others")
	}
}

func TestSendCircuitEventPayload(t *testing.T) {
	m := NewManager(true)
	a := &fakeNotifier{name: "a", enabled: true}
	m.AddNotifier(a)

	if err := m.SendCircuitEvent("order", "closed", "open"); err != nil {
		t.Fatalf("SendCircuitEvent: %v", err)
	}
	n := a.received[0]
	if n.Type != NotifyCircuit || n.Component != "order" || n.State != "open" {
		t.Errorf("notification = %+v, want circuit/order/open", n)
	}
	if !strings.Contains(n.Message, "closed -> open") {
		t.Errorf("message %q should mention the transition", n.Message)
	}
}

func TestSendRecoveryPayload(t *testing.T) {
	m := NewManager(true)
	a := &fakeNotifier{name: "a", enabled: true}
	m.AddNotifier(a)

	m.SendRecovery("data_stream", 2, false)
	n := a.received[0]
	if n.Type != NotifyRecovery || n.Component != "data_stream" {
		t.Errorf("notification = %+v, want recovery/data_stream", n)
	}
	if n.Extra["attempt"] != 2 || n.Extra["success"] != false {
		t.Errorf("extra = %v, want attempt 2 failed", n.Extra)
	}
}

func TestDiscordNotifierPostsEmbed(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	d := NewDiscordNotifier(DiscordConfig{WebhookURL: server.URL, Enabled: true})
	err := d.Send(&Notification{
		Type:      NotifyFailover,
		Title:     "System failover",
		Message:   "persistence down",
		Component: "persistence",
		State:     "failover",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.Contains(gotBody, "System failover") || !strings.Contains(gotBody, "persistence") {
		t.Errorf("webhook body %q missing embed content", gotBody)
	}
}

func TestDiscordNotifierSurfacesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	d := NewDiscordNotifier(DiscordConfig{WebhookURL: server.URL, Enabled: true})
	if err := d.Send(&Notification{Type: NotifyInfo, Title: "t", Message: "m"}); err == nil {
		t.Error("expected error for a 400 response")
	}
}

func TestNotifiersDisabledWithoutConfig(t *testing.T) {
	tg := NewTelegramNotifier(TelegramConfig{Enabled: true})
	if tg.IsEnabled() {
		t.Error("telegram notifier without token/chat must be disabled")
	}
	d := NewDiscordNotifier(DiscordConfig{Enabled: true})
	if d.IsEnabled() {
		t.Error("discord notifier without webhook URL must be disabled")
	}
}
