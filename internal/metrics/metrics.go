// Package metrics periodically samples the resilience stack and persists the
// samples. Postgres keeps the durable history; Redis holds the latest
// snapshot for dashboards.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"futures-guard/internal/circuit"
	"futures-guard/internal/failover"
	"futures-guard/internal/ratelimit"
)

// Point is one sampled observation
type Point struct {
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Sink persists sampled points
type Sink interface {
	Write(ctx context.Context, points []Point) error
	Close()
}

// Collector samples limiter usage, breaker states and failover status on a
// fixed interval and fans the points out to its sinks. Sink failures are
// logged and skipped; collection never stops because storage is down.
type Collector struct {
	limiter  *ratelimit.RateLimiter
	breakers *circuit.Registry
	manager  *failover.Manager
	sinks    []Sink
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewCollector creates a collector over the given sources and sinks
func NewCollector(limiter *ratelimit.RateLimiter, breakers *circuit.Registry, manager *failover.Manager, sinks []Sink, interval time.Duration, logger zerolog.Logger) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		limiter:  limiter,
		breakers: breakers,
		manager:  manager,
		sinks:    sinks,
		interval: interval,
		logger:   logger.With().Str("component", "metrics").Logger(),
	}
}

// Start launches the sampling loop
func (c *Collector) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.mu.Unlock()

	c.logger.Info().Dur("interval", c.interval).Msg("metrics collector started")
	go c.loop()
}

// Stop halts the loop and closes the sinks
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	done := c.doneCh
	c.mu.Unlock()

	<-done
	for _, s := range c.sinks {
		s.Close()
	}
}

func (c *Collector) loop() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectOnce()
		}
	}
}

func (c *Collector) collectOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()

	points := c.Sample()
	for _, sink := range c.sinks {
		if err := sink.Write(ctx, points); err != nil {
			c.logger.Warn().Err(err).Msg("metrics sink write failed")
		}
	}
}

// Sample takes one observation of every source
func (c *Collector) Sample() []Point {
	now := time.Now()
	var points []Point

	if c.limiter != nil {
		for key, count := range c.limiter.Stats() {
			points = append(points, Point{
				Timestamp: now,
				Source:    "ratelimit",
				Name:      "requests_total",
				Value:     float64(count),
				Labels:    map[string]string{"key": key},
			})
		}
		for key, snap := range c.limiter.Limits() {
			points = append(points, Point{
				Timestamp: now,
				Source:    "ratelimit",
				Name:      "tokens_available",
				Value:     snap.CurrentTokens,
				Labels:    map[string]string{"key": key},
			})
		}
	}

	if c.breakers != nil {
		for name, snap := range c.breakers.Snapshots() {
			points = append(points, Point{
				Timestamp: now,
				Source:    "circuit",
				Name:      "breaker_state",
				Value:     stateValue(snap.State),
				Labels:    map[string]string{"breaker": name},
			}, Point{
				Timestamp: now,
				Source:    "circuit",
				Name:      "breaker_errors",
				Value:     float64(snap.ErrorCount),
				Labels:    map[string]string{"breaker": name},
			})
		}
	}

	if c.manager != nil {
		status := c.manager.Status()
		points = append(points, Point{
			Timestamp: now,
			Source:    "failover",
			Name:      "system_state",
			Value:     systemStateValue(status.State),
		})
		for name, rec := range status.Components {
			points = append(points, Point{
				Timestamp: now,
				Source:    "failover",
				Name:      "component_failures",
				Value:     float64(rec.FailureCount),
				Labels:    map[string]string{"component": name, "status": string(rec.Status)},
			})
		}
	}

	return points
}

// stateValue encodes breaker states as gauge values: 0 closed, 1 half open,
// 2 open.
func stateValue(s circuit.BreakerState) float64 {
	switch s {
	case circuit.StateClosed:
		return 0
	case circuit.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// systemStateValue encodes global states by severity: 0 normal through 4
// emergency.
func systemStateValue(s failover.State) float64 {
	switch s {
	case failover.StateNormal:
		return 0
	case failover.StateDegraded:
		return 1
	case failover.StateRecovery:
		return 2
	case failover.StateFailover:
		return 3
	default:
		return 4
	}
}
