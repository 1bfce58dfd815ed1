// Package vault loads the service's operational secrets from HashiCorp
// Vault. A disabled client falls back to values supplied through
// configuration, so local development needs no Vault at all.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"
)

// Secrets holds the operational secrets the service needs at startup
type Secrets struct {
	JWTSecret         string `json:"jwt_secret"`
	AdminPasswordHash string `json:"admin_password_hash"`
	TelegramBotToken  string `json:"telegram_bot_token"`
	DiscordWebhookURL string `json:"discord_webhook_url"`
}

// Config holds Vault connection configuration
type Config struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// Client wraps the HashiCorp Vault client around a single KV v2 secret
type Client struct {
	client *api.Client
	config Config

	mu     sync.RWMutex
	cached *Secrets
}

// NewClient creates a new Vault client. A disabled config yields a client
// whose LoadSecrets returns empty secrets without touching the network.
func NewClient(cfg Config) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg}, nil
}

// LoadSecrets reads the service secret from Vault, caching the result for
// subsequent calls
func (c *Client) LoadSecrets(ctx context.Context) (*Secrets, error) {
	c.mu.RLock()
	if c.cached != nil {
		cached := *c.cached
		c.mu.RUnlock()
		return &cached, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return &Secrets{}, nil
	}

	path := fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secret not found at %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format at %s", path)
	}

	loaded := &Secrets{
		JWTSecret:         getString(data, "jwt_secret"),
		AdminPasswordHash: getString(data, "admin_password_hash"),
		TelegramBotToken:  getString(data, "telegram_bot_token"),
		DiscordWebhookURL: getString(data, "discord_webhook_url"),
	}

	c.mu.Lock()
	c.cached = loaded
	c.mu.Unlock()

	result := *loaded
	return &result, nil
}

// StoreSecrets writes the service secret, for provisioning tools
func (c *Client) StoreSecrets(ctx context.Context, secrets Secrets) error {
	if !c.config.Enabled {
		return fmt.Errorf("vault is disabled")
	}

	path := fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"jwt_secret":          secrets.JWTSecret,
			"admin_password_hash": secrets.AdminPasswordHash,
			"telegram_bot_token":  secrets.TelegramBotToken,
			"discord_webhook_url": secrets.DiscordWebhookURL,
		},
	}

	if _, err := c.client.Logical().WriteWithContext(ctx, path, payload); err != nil {
		return fmt.Errorf("failed to store secrets in vault: %w", err)
	}

	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
	return nil
}

// ClearCache drops the cached secrets so the next load re-reads Vault
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
