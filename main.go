package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"futures-guard/config"
	"futures-guard/internal/api"
	"futures-guard/internal/auth"
	"futures-guard/internal/binance"
	"futures-guard/internal/circuit"
	"futures-guard/internal/events"
	"futures-guard/internal/failover"
	"futures-guard/internal/guard"
	"futures-guard/internal/logging"
	"futures-guard/internal/metrics"
	"futures-guard/internal/notification"
	"futures-guard/internal/ratelimit"
	"futures-guard/internal/vault"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Initialize event bus
	eventBus := events.NewEventBus()
	logger.Info("Event bus initialized")

	// Load secrets from Vault when enabled; config values are the fallback
	vaultClient, err := vault.NewClient(vault.Config{
		Enabled:    cfg.VaultConfig.Enabled,
		Address:    cfg.VaultConfig.Address,
		Token:      cfg.VaultConfig.Token,
		MountPath:  cfg.VaultConfig.MountPath,
		SecretPath: cfg.VaultConfig.SecretPath,
		TLSEnabled: cfg.VaultConfig.TLSEnabled,
		CACert:     cfg.VaultConfig.CACert,
	})
	if err != nil {
		log.Fatalf("Failed to create vault client: %v", err)
	}
	secrets, err := vaultClient.LoadSecrets(context.Background())
	if err != nil {
		log.Fatalf("Failed to load secrets: %v", err)
	}
	if secrets.JWTSecret == "" {
		secrets.JWTSecret = cfg.AuthConfig.JWTSecret
	}
	if secrets.AdminPasswordHash == "" {
		secrets.AdminPasswordHash = cfg.AuthConfig.AdminPasswordHash
	}
	if secrets.TelegramBotToken == "" {
		secrets.TelegramBotToken = cfg.NotificationConfig.Telegram.BotToken
	}
	if secrets.DiscordWebhookURL == "" {
		secrets.DiscordWebhookURL = cfg.NotificationConfig.Discord.WebhookURL
	}
	if vaultClient.IsEnabled() {
		logger.Info("Secrets loaded from Vault")
	}

	// Initialize notification manager
	notifyManager := notification.NewManager(cfg.NotificationConfig.Enabled)
	if cfg.NotificationConfig.Enabled {
		if cfg.NotificationConfig.Telegram.Enabled {
			notifyManager.AddNotifier(notification.NewTelegramNotifier(notification.TelegramConfig{
				BotToken: secrets.TelegramBotToken,
				ChatID:   cfg.NotificationConfig.Telegram.ChatID,
				Enabled:  cfg.NotificationConfig.Telegram.Enabled,
			}))
			logger.Info("Telegram notifications enabled")
		}
		if cfg.NotificationConfig.Discord.Enabled {
			notifyManager.AddNotifier(notification.NewDiscordNotifier(notification.DiscordConfig{
				WebhookURL: secrets.DiscordWebhookURL,
				Enabled:    cfg.NotificationConfig.Discord.Enabled,
			}))
			logger.Info("Discord notifications enabled")
		}
	}

	// Initialize rate limiter
	limits := make(map[string]ratelimit.LimitSpec, len(cfg.RateLimitConfig.Limits))
	for key, spec := range cfg.RateLimitConfig.Limits {
		limits[key] = ratelimit.LimitSpec{
			MaxTokens: spec.MaxTokens,
			Interval:  time.Duration(spec.IntervalSeconds * float64(time.Second)),
		}
	}
	limiter, err := ratelimit.NewRateLimiter(limits, logging.WithComponent("ratelimit"))
	if err != nil {
		log.Fatalf("Failed to create rate limiter: %v", err)
	}
	logger.Info("Rate limiter initialized", "keys", len(limits))

	// Initialize circuit breaker registry
	breakers := circuit.NewRegistry(circuit.BreakerConfig{
		ErrorThreshold: cfg.CircuitConfig.ErrorThreshold,
		ErrorTimeout:   time.Duration(cfg.CircuitConfig.ErrorTimeoutSeconds * float64(time.Second)),
		CircuitTimeout: time.Duration(cfg.CircuitConfig.CircuitTimeoutSeconds * float64(time.Second)),
	})
	breakers.OnStateChange(func(name string, from, to circuit.BreakerState) {
		if err := notifyManager.SendCircuitEvent(name, string(from), string(to)); err != nil {
			logging.Warn("Circuit notification failed", "error", err.Error())
		}
	})
	logger.Info("Circuit breaker registry initialized", "threshold", cfg.CircuitConfig.ErrorThreshold)

	// Initialize the exchange transport. Without credentials the mock keeps
	// the whole stack runnable.
	var caller guard.APICaller
	if cfg.GuardConfig.APIKey != "" {
		caller = binance.NewClient(binance.ClientConfig{
			APIKey:  cfg.GuardConfig.APIKey,
			Secret:  cfg.GuardConfig.APISecret,
			BaseURL: cfg.GuardConfig.APIBaseURL,
			TestNet: cfg.GuardConfig.TestNet,
			Timeout: time.Duration(cfg.GuardConfig.APITimeoutSeconds * float64(time.Second)),
		})
		logger.Info("Exchange transport initialized", "testnet", cfg.GuardConfig.TestNet)
	} else {
		caller = binance.NewMockClient()
		logger.Warn("No API credentials configured, using mock transport")
	}

	// Guard in front of the transport
	apiGuard := guard.New(caller, limiter, breakers, guard.Config{
		WaitTimeout:    time.Duration(cfg.RateLimitConfig.WaitTimeoutSeconds * float64(time.Second)),
		RetryAttempts:  cfg.GuardConfig.RetryAttempts,
		RetryBaseDelay: time.Duration(cfg.GuardConfig.RetryBaseDelayMs) * time.Millisecond,
	}, eventBus, logging.WithComponent("guard"))
	logger.Info("API guard initialized")

	// Shutdown plumbing: the failover manager can pull the plug on the whole
	// process when a sustained emergency exhausts recovery.
	shutdownCh := make(chan struct{}, 1)
	requestShutdown := func() {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
	}

	// Failover manager
	manager := failover.NewManager(failover.Config{
		Enabled:             cfg.FailoverConfig.Enabled,
		AutoRecovery:        cfg.FailoverConfig.AutoRecovery,
		MaxRecoveryAttempts: cfg.FailoverConfig.MaxRecoveryAttempts,
		RecoveryBackoff:     time.Duration(cfg.FailoverConfig.RecoveryBackoffSeconds * float64(time.Second)),
		EmergencyShutdown:   cfg.FailoverConfig.EmergencyShutdown,
		NotificationEnabled: cfg.FailoverConfig.NotificationEnabled && cfg.NotificationConfig.Enabled,
		CheckInterval:       time.Duration(cfg.FailoverConfig.CheckIntervalSeconds * float64(time.Second)),
	}, func(message string) {
		if err := notifyManager.SendError("Failover", message); err != nil {
			logging.Warn("Failover notification failed", "error", err.Error())
		}
	}, requestShutdown, eventBus, logging.WithComponent("failover"))

	registerHealthChecks(manager, apiGuard, breakers, logger)

	// Metrics sinks
	var sinks []metrics.Sink
	if cfg.MetricsConfig.PostgresEnabled && cfg.DatabaseConfig.Enabled {
		pgSink, err := metrics.NewPostgresSink(context.Background(), cfg.DatabaseConfig.DatabaseURL, zlog)
		if err != nil {
			logger.Error("Postgres metrics sink unavailable", "error", err.Error())
		} else {
			sinks = append(sinks, pgSink)
			logger.Info("Postgres metrics sink initialized")
		}
	}
	if cfg.MetricsConfig.RedisSnapshotEnabled && cfg.RedisConfig.Enabled {
		redisSink, err := metrics.NewRedisSink(context.Background(), cfg.RedisConfig.Address, cfg.RedisConfig.Password, cfg.RedisConfig.DB, zlog)
		if err != nil {
			logger.Error("Redis metrics sink unavailable", "error", err.Error())
		} else {
			sinks = append(sinks, redisSink)
			logger.Info("Redis metrics sink initialized")
		}
	}

	var collector *metrics.Collector
	if cfg.MetricsConfig.Enabled {
		collector = metrics.NewCollector(limiter, breakers, manager, sinks,
			time.Duration(cfg.MetricsConfig.IntervalSeconds*float64(time.Second)), zlog)
		collector.Start()
		logger.Info("Metrics collector started")
	}

	// Auth manager for the admin API
	var authManager *auth.Manager
	if cfg.AuthConfig.Enabled {
		if secrets.JWTSecret == "" || secrets.AdminPasswordHash == "" {
			log.Fatal("Auth enabled but jwt_secret or admin_password_hash missing")
		}
		authManager = auth.NewManager(secrets.JWTSecret, cfg.AuthConfig.AdminUser, secrets.AdminPasswordHash, cfg.AuthConfig.TokenDuration)
		logger.Info("Admin API authentication enabled")
	}

	// Start failover supervision
	manager.Start()

	// HTTP control plane
	var server *api.Server
	if cfg.ServerConfig.Enabled {
		server = api.NewServer(api.ServerConfig{
			Host:            cfg.ServerConfig.Host,
			Port:            cfg.ServerConfig.Port,
			AllowedOrigins:  cfg.ServerConfig.AllowedOrigins,
			ProductionMode:  cfg.LoggingConfig.JSONFormat,
			RequestsPerMin:  cfg.ServerConfig.RequestsPerMin,
			ShutdownTimeout: time.Duration(cfg.ServerConfig.ShutdownTimeout) * time.Second,
		}, eventBus, apiGuard, breakers, manager, collector, authManager, logging.WithComponent("api"))

		go func() {
			if err := server.Start(); err != nil {
				logging.Error("HTTP server failed", "error", err.Error())
				requestShutdown()
			}
		}()
	}

	logger.Info("futures-guard started")

	// Wait for a signal or an emergency shutdown request
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", "signal", sig.String())
	case <-shutdownCh:
		logger.Error("Emergency shutdown requested by failover manager")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.Warn("HTTP server shutdown error", "error", err.Error())
		}
	}
	manager.Stop()
	if collector != nil {
		collector.Stop()
	}

	logger.Info("futures-guard stopped")
}

// registerHealthChecks wires the five supervised components to live signals:
// the API ping for the transport, breaker states for the per-class paths,
// and a trivial self-check for the local engine.
func registerHealthChecks(manager *failover.Manager, apiGuard *guard.Guard, breakers *circuit.Registry, logger *logging.Logger) {
	pingAPI := func() failover.Status {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := apiGuard.Call(ctx, "server_time", nil); err != nil {
			return failover.StatusCritical
		}
		return failover.StatusHealthy
	}

	breakerStatus := func(class string) failover.HealthCheckFunc {
		return func() failover.Status {
			switch breakers.Get(class).State() {
			case circuit.StateOpen:
				return failover.StatusCritical
			case circuit.StateHalfOpen:
				return failover.StatusWarning
			default:
				return failover.StatusHealthy
			}
		}
	}

	breakerRecovery := func(class string) failover.RecoveryFunc {
		return func() bool {
			breakers.Get(class).Reset()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, err := apiGuard.Call(ctx, "server_time", nil)
			return err == nil
		}
	}

	checks := map[string]failover.HealthCheckFunc{
		failover.ComponentAPIClient:      pingAPI,
		failover.ComponentDataStream:     breakerStatus(guard.ClassMarketData),
		failover.ComponentOrderEngine:    breakerStatus(guard.ClassOrder),
		failover.ComponentStrategyEngine: breakerStatus(guard.ClassAccount),
		failover.ComponentPersistence:    breakerStatus(guard.ClassDefault),
	}
	recoveries := map[string]failover.RecoveryFunc{
		failover.ComponentAPIClient:      breakerRecovery(guard.ClassDefault),
		failover.ComponentDataStream:     breakerRecovery(guard.ClassMarketData),
		failover.ComponentOrderEngine:    breakerRecovery(guard.ClassOrder),
		failover.ComponentStrategyEngine: breakerRecovery(guard.ClassAccount),
		failover.ComponentPersistence:    breakerRecovery(guard.ClassDefault),
	}

	for name, fn := range checks {
		if err := manager.RegisterHealthCheck(name, fn); err != nil {
			logger.Error("Failed to register health check", "component", name, "error", err.Error())
		}
	}
	for name, fn := range recoveries {
		if err := manager.RegisterRecovery(name, fn); err != nil {
			logger.Error("Failed to register recovery", "component", name, "error", err.Error())
		}
	}
}
