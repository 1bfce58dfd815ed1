package logging

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"
)

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	return uuid.New().String()
}

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithTraceContext adds a trace ID to the context and returns a logger with it
func WithTraceContext(ctx context.Context) (context.Context, *Logger) {
	traceID := GenerateTraceID()
	l := Default().WithTraceID(traceID)
	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, loggerKey, l)
	return newCtx, l
}

// GuardContext creates a logger context for guarded API calls
func GuardContext(method, class string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"method": method,
		"class":  class,
	}).WithComponent("guard")
}

// CircuitContext creates a logger context for circuit breaker operations
func CircuitContext(name, state string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"breaker": name,
		"state":   state,
	}).WithComponent("circuit")
}

// FailoverContext creates a logger context for failover supervision
func FailoverContext(component, status string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"target": component,
		"status": status,
	}).WithComponent("failover")
}

// LimiterContext creates a logger context for rate limiter operations
func LimiterContext(key string) *Logger {
	return Default().WithField("limit_key", key).WithComponent("ratelimit")
}

// NotificationContext creates a logger context for notifications
func NotificationContext(provider string) *Logger {
	return Default().WithField("provider", provider).WithComponent("notification")
}

// HTTPMiddleware is a middleware that adds logging to HTTP requests
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = GenerateTraceID()
		}

		l := Default().WithTraceID(traceID).WithFields(map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"remote_addr": r.RemoteAddr,
		}).WithComponent("http")

		ctx := NewContext(r.Context(), l)
		r = r.WithContext(ctx)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}
		next.ServeHTTP(wrapped, r)

		l.WithDuration(time.Since(start)).WithField("status_code", wrapped.statusCode).Info("Request completed")
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
