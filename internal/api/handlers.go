package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"futures-guard/internal/auth"
	"futures-guard/internal/failover"
)

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	state := "unknown"
	if s.manager != nil {
		state = string(s.manager.State())
	}

	status := http.StatusOK
	if state == string(failover.StateEmergency) {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": "up",
		"state":  state,
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// handleLogin authenticates the operator and issues a token
func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "username and password required")
		return
	}

	pair, err := s.authManager.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			errorResponse(c, http.StatusUnauthorized, "invalid credentials")
			return
		}
		errorResponse(c, http.StatusInternalServerError, "login failed")
		return
	}

	c.JSON(http.StatusOK, pair)
}

// handleSystemStatus returns a combined view of the whole resilience stack
func (s *Server) handleSystemStatus(c *gin.Context) {
	data := gin.H{
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.manager != nil {
		data["failover"] = s.manager.Status()
	}
	if s.breakers != nil {
		data["circuits"] = s.breakers.Snapshots()
	}
	if s.guard != nil {
		data["rate_limits"] = s.guard.Limiter().Limits()
	}
	successResponse(c, data)
}

// handleGetRateLimits returns the configured limits and current token levels
func (s *Server) handleGetRateLimits(c *gin.Context) {
	successResponse(c, s.guard.Limiter().Limits())
}

// handleGetRateLimitStats returns per-key request counters
func (s *Server) handleGetRateLimitStats(c *gin.Context) {
	successResponse(c, s.guard.Limiter().Stats())
}

// handleAddRateLimit adds or replaces a rate limit key
func (s *Server) handleAddRateLimit(c *gin.Context) {
	var req struct {
		Key             string  `json:"key" binding:"required"`
		MaxTokens       float64 `json:"max_tokens" binding:"required"`
		IntervalSeconds float64 `json:"interval_seconds" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "key, max_tokens and interval_seconds required")
		return
	}

	interval := time.Duration(req.IntervalSeconds * float64(time.Second))
	if err := s.guard.Limiter().AddLimit(req.Key, req.MaxTokens, interval); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	successResponse(c, gin.H{"key": req.Key})
}

// handleGetCircuits returns all breaker snapshots
func (s *Server) handleGetCircuits(c *gin.Context) {
	successResponse(c, s.breakers.Snapshots())
}

// handleGetCircuit returns one breaker snapshot
func (s *Server) handleGetCircuit(c *gin.Context) {
	name := c.Param("name")
	snapshots := s.breakers.Snapshots()
	snap, ok := snapshots[name]
	if !ok {
		errorResponse(c, http.StatusNotFound, "unknown circuit")
		return
	}
	successResponse(c, snap)
}

// handleResetCircuit forces one breaker back to closed
func (s *Server) handleResetCircuit(c *gin.Context) {
	name := c.Param("name")
	if !s.breakers.Reset(name) {
		errorResponse(c, http.StatusNotFound, "unknown circuit")
		return
	}
	s.logger.Info("Circuit reset via API", "name", name)
	successResponse(c, gin.H{"name": name, "state": "closed"})
}

// handleResetAllCircuits forces every breaker back to closed
func (s *Server) handleResetAllCircuits(c *gin.Context) {
	s.breakers.ResetAll()
	s.logger.Info("All circuits reset via API")
	successResponse(c, gin.H{"reset": true})
}

// handleGetFailoverStatus returns the failover status snapshot
func (s *Server) handleGetFailoverStatus(c *gin.Context) {
	successResponse(c, s.manager.Status())
}

// handleGetComponent returns one component record
func (s *Server) handleGetComponent(c *gin.Context) {
	name := c.Param("name")
	record, ok := s.manager.ComponentStatus(name)
	if !ok {
		errorResponse(c, http.StatusNotFound, "unknown component")
		return
	}
	successResponse(c, record)
}

// handleResetComponent clears a component back to healthy
func (s *Server) handleResetComponent(c *gin.Context) {
	name := c.Param("name")
	if err := s.manager.ResetComponent(name); err != nil {
		errorResponse(c, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Info("Component reset via API", "component", name)
	successResponse(c, gin.H{"component": name, "status": "healthy"})
}

// handleRecoverComponent triggers one recovery attempt immediately
func (s *Server) handleRecoverComponent(c *gin.Context) {
	name := c.Param("name")
	if _, ok := s.manager.ComponentStatus(name); !ok {
		errorResponse(c, http.StatusNotFound, "unknown component")
		return
	}

	success := s.manager.AttemptRecovery(name)
	successResponse(c, gin.H{"component": name, "attempted": true, "success": success})
}

// handleUpdateFailoverConfig replaces the failover configuration
func (s *Server) handleUpdateFailoverConfig(c *gin.Context) {
	var req struct {
		Enabled                bool    `json:"enabled"`
		AutoRecovery           bool    `json:"auto_recovery"`
		MaxRecoveryAttempts    int     `json:"max_recovery_attempts"`
		RecoveryBackoffSeconds float64 `json:"recovery_backoff_seconds"`
		EmergencyShutdown      bool    `json:"emergency_shutdown"`
		NotificationEnabled    bool    `json:"notification_enabled"`
		CheckIntervalSeconds   float64 `json:"check_interval_seconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid failover config")
		return
	}

	s.manager.UpdateConfig(failover.Config{
		Enabled:             req.Enabled,
		AutoRecovery:        req.AutoRecovery,
		MaxRecoveryAttempts: req.MaxRecoveryAttempts,
		RecoveryBackoff:     time.Duration(req.RecoveryBackoffSeconds * float64(time.Second)),
		EmergencyShutdown:   req.EmergencyShutdown,
		NotificationEnabled: req.NotificationEnabled,
		CheckInterval:       time.Duration(req.CheckIntervalSeconds * float64(time.Second)),
	})
	s.logger.Info("Failover config updated via API")
	successResponse(c, s.manager.Status().Config)
}

// handleGetMetrics returns a live sample of every metric source
func (s *Server) handleGetMetrics(c *gin.Context) {
	if s.collector == nil {
		errorResponse(c, http.StatusServiceUnavailable, "metrics collection disabled")
		return
	}
	successResponse(c, s.collector.Sample())
}
