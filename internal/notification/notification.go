package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotifyCircuit   NotificationType = "circuit"
	NotifyFailover  NotificationType = "failover"
	NotifyRecovery  NotificationType = "recovery"
	NotifyEmergency NotificationType = "emergency"
	NotifyError     NotificationType = "error"
	NotifyInfo      NotificationType = "info"
)

// Notification represents an operator alert
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Component string
	State     string
	Timestamp time.Time
	Extra     map[string]interface{}
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans alerts out to multiple notification providers
type Manager struct {
	notifiers []Notifier
	enabled   bool
}

// NewManager creates a new notification manager
func NewManager(enabled bool) *Manager {
	return &Manager{
		notifiers: make([]Notifier, 0),
		enabled:   enabled,
	}
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send sends a notification to all enabled providers. Provider failures do
// not stop delivery to the remaining providers; the last error is returned.
func (m *Manager) Send(notification *Notification) error {
	if !m.enabled {
		return nil
	}

	var lastErr error
	for _, n := range m.notifiers {
		if n.IsEnabled() {
			if err := n.Send(notification); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

// SendCircuitEvent alerts on a circuit breaker state change
func (m *Manager) SendCircuitEvent(name, from, to string) error {
	emoji := "🟢"
	if to == "open" {
		emoji = "🔴"
	} else if to == "half_open" {
		emoji = "🟡"
	}

	return m.Send(&Notification{
		Type:      NotifyCircuit,
		Title:     fmt.Sprintf("%s Circuit %s: %s", emoji, to, name),
		Message:   fmt.Sprintf("Breaker %s transitioned %s -> %s", name, from, to),
		Component: name,
		State:     to,
		Timestamp: time.Now(),
		Extra: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	})
}

// SendFailoverAlert alerts on a global system state change
func (m *Manager) SendFailoverAlert(from, to, reason string) error {
	emoji := "🟢"
	switch to {
	case "emergency":
		emoji = "🚨"
	case "failover", "degraded":
		emoji = "🟠"
	case "recovery":
		emoji = "🟡"
	}

	return m.Send(&Notification{
		Type:      NotifyFailover,
		Title:     fmt.Sprintf("%s System %s", emoji, to),
		Message:   fmt.Sprintf("System state changed %s -> %s\nTrigger: %s", from, to, reason),
		Component: reason,
		State:     to,
		Timestamp: time.Now(),
	})
}

// SendRecovery alerts on a component recovery attempt outcome
func (m *Manager) SendRecovery(component string, attempt int, success bool) error {
	emoji := "✅"
	outcome := "succeeded"
	if !success {
		emoji = "❌"
		outcome = "failed"
	}

	return m.Send(&Notification{
		Type:      NotifyRecovery,
		Title:     fmt.Sprintf("%s Recovery %s: %s", emoji, outcome, component),
		Message:   fmt.Sprintf("Recovery attempt %d for %s %s", attempt, component, outcome),
		Component: component,
		Timestamp: time.Now(),
		Extra: map[string]interface{}{
			"attempt": attempt,
			"success": success,
		},
	})
}

// SendEmergency alerts on an emergency shutdown
func (m *Manager) SendEmergency(message string) error {
	return m.Send(&Notification{
		Type:      NotifyEmergency,
		Title:     "🚨 EMERGENCY SHUTDOWN",
		Message:   message,
		Timestamp: time.Now(),
	})
}

// SendError sends an error notification
func (m *Manager) SendError(title, message string) error {
	return m.Send(&Notification{
		Type:      NotifyError,
		Title:     fmt.Sprintf("⚠️ %s", title),
		Message:   message,
		Timestamp: time.Now(),
	})
}

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

// TelegramNotifier sends notifications via Telegram
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// TelegramConfig holds Telegram configuration
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Enabled  bool
}

// NewTelegramNotifier creates a new Telegram notifier
func NewTelegramNotifier(config TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: config.BotToken,
		chatID:   config.ChatID,
		enabled:  config.Enabled && config.BotToken != "" && config.ChatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

func (t *TelegramNotifier) Send(notification *Notification) error {
	if !t.enabled {
		return nil
	}

	message := fmt.Sprintf("*%s*\n\n%s", notification.Title, notification.Message)

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       message,
		"parse_mode": "Markdown",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// =============================================================================
// DISCORD NOTIFIER
// =============================================================================

// DiscordNotifier sends notifications via Discord webhook
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// DiscordConfig holds Discord configuration
type DiscordConfig struct {
	WebhookURL string
	Enabled    bool
}

// NewDiscordNotifier creates a new Discord notifier
func NewDiscordNotifier(config DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: config.WebhookURL,
		enabled:    config.Enabled && config.WebhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string {
	return "discord"
}

func (d *DiscordNotifier) IsEnabled() bool {
	return d.enabled
}

func (d *DiscordNotifier) Send(notification *Notification) error {
	if !d.enabled {
		return nil
	}

	// Create Discord embed
	color := 0x00FF00 // Green
	switch notification.Type {
	case NotifyEmergency, NotifyError:
		color = 0xFF0000 // Red
	case NotifyFailover, NotifyCircuit:
		color = 0xFFA500 // Orange
	}

	embed := map[string]interface{}{
		"title":       notification.Title,
		"description": notification.Message,
		"color":       color,
		"timestamp":   notification.Timestamp.Format(time.RFC3339),
	}

	// Add fields if available
	if notification.Component != "" {
		fields := []map[string]interface{}{
			{"name": "Component", "value": notification.Component, "inline": true},
		}
		if notification.State != "" {
			fields = append(fields, map[string]interface{}{
				"name": "State", "value": notification.State, "inline": true,
			})
		}
		embed["fields"] = fields
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{embed},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}

	return nil
}
