// Package api exposes the resilience control plane over HTTP: limiter and
// breaker observability, failover control, and a WebSocket feed of state
// changes.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"futures-guard/internal/auth"
	"futures-guard/internal/circuit"
	"futures-guard/internal/events"
	"futures-guard/internal/failover"
	"futures-guard/internal/guard"
	"futures-guard/internal/logging"
	"futures-guard/internal/metrics"
)

// RateLimiter provides simple in-memory rate limiting per client IP
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	// Filter out old requests
	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	AllowedOrigins  string
	ProductionMode  bool
	RequestsPerMin  int
	ShutdownTimeout time.Duration
}

// Server represents the HTTP control-plane server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      ServerConfig
	eventBus    *events.EventBus
	guard       *guard.Guard
	breakers    *circuit.Registry
	manager     *failover.Manager
	collector   *metrics.Collector
	authManager *auth.Manager
	authEnabled bool
	rateLimiter *RateLimiter
	logger      *logging.Logger
	startedAt   time.Time
}

// NewServer creates a new control-plane server. authManager may be nil when
// authentication is disabled.
func NewServer(
	config ServerConfig,
	eventBus *events.EventBus,
	g *guard.Guard,
	breakers *circuit.Registry,
	manager *failover.Manager,
	collector *metrics.Collector,
	authManager *auth.Manager,
	logger *logging.Logger,
) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if config.RequestsPerMin <= 0 {
		config.RequestsPerMin = 120
	}
	if logger == nil {
		logger = logging.WithComponent("api")
	}

	router := gin.New()
	if !config.ProductionMode {
		router.Use(gin.Logger())
	}
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if config.AllowedOrigins == "" || config.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(config.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		config:      config,
		eventBus:    eventBus,
		guard:       g,
		breakers:    breakers,
		manager:     manager,
		collector:   collector,
		authManager: authManager,
		authEnabled: authManager != nil,
		rateLimiter: NewRateLimiter(config.RequestsPerMin, time.Minute),
		logger:      logger,
		startedAt:   time.Now(),
	}

	server.setupRoutes()
	InitWebSocket(eventBus, logger)

	return server
}

// rateLimitMiddleware limits requests per client IP
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate limit exceeded",
				"message": "too many requests, slow down",
			})
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Auth routes (public)
	s.router.GET("/api/auth/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"auth_enabled": s.authEnabled})
	})
	if s.authEnabled {
		s.router.POST("/api/auth/login", s.handleLogin)
	}

	api := s.router.Group("/api")
	api.Use(s.rateLimitMiddleware())
	if s.authEnabled {
		api.Use(auth.Middleware(s.authManager))
	}

	{
		// System overview
		api.GET("/status", s.handleSystemStatus)

		// Rate limiter endpoints
		api.GET("/ratelimit", s.handleGetRateLimits)
		api.GET("/ratelimit/stats", s.handleGetRateLimitStats)
		api.POST("/ratelimit/limits", s.handleAddRateLimit)

		// Circuit breaker endpoints
		api.GET("/circuits", s.handleGetCircuits)
		api.GET("/circuits/:name", s.handleGetCircuit)
		api.POST("/circuits/:name/reset", s.handleResetCircuit)
		api.POST("/circuits/reset-all", s.handleResetAllCircuits)

		// Failover endpoints
		api.GET("/failover/status", s.handleGetFailoverStatus)
		api.GET("/failover/components/:name", s.handleGetComponent)
		api.POST("/failover/components/:name/reset", s.handleResetComponent)
		api.POST("/failover/components/:name/recover", s.handleRecoverComponent)
		api.PUT("/failover/config", s.handleUpdateFailoverConfig)

		// Metrics endpoints
		api.GET("/metrics", s.handleGetMetrics)
	}

	// WebSocket endpoint for live state updates
	s.router.GET("/ws", s.handleWebSocket)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
