// Package failover supervises the health of the trading client's subsystems
// and drives automatic recovery or emergency shutdown when they degrade. A
// single background loop polls owner-supplied health checks on a fixed
// interval, derives a global system state, and dispatches recovery attempts.
package failover

import (
	"fmt"
	"sync"
	"time"

	"futures-guard/internal/events"
	"futures-guard/internal/logging"
)

// Status represents the health of one supervised component
type Status string

const (
	StatusHealthy    Status = "healthy"
	StatusWarning    Status = "warning"
	StatusCritical   Status = "critical"
	StatusFailed     Status = "failed"
	StatusRecovering Status = "recovering"
)

// State represents the global system state
type State string

const (
	StateNormal    State = "normal"
	StateDegraded  State = "degraded"
	StateFailover  State = "failover"
	StateRecovery  State = "recovery"
	StateEmergency State = "emergency"
)

// The five supervised components. The critical ones force emergency state on
// failure; the others only degrade the system.
const (
	ComponentAPIClient      = "api_client"
	ComponentDataStream     = "data_stream"
	ComponentStrategyEngine = "strategy_engine"
	ComponentOrderEngine    = "order_engine"
	ComponentPersistence    = "persistence"
)

// HealthCheckFunc reports the current health of a component. It should catch
// its own failures and return StatusFailed or StatusCritical; a panic is
// treated as StatusFailed. It must return well within the check interval.
type HealthCheckFunc func() Status

// RecoveryFunc attempts to restore a component. It may be called repeatedly
// on the recovery backoff schedule, so it should tolerate being re-run.
type RecoveryFunc func() bool

// NotifyFunc delivers an operator alert. Best effort: failures are logged,
// never propagated.
type NotifyFunc func(message string)

// ShutdownFunc halts the whole system. Invoked at most once per sustained
// emergency with exhausted recovery.
type ShutdownFunc func()

// Config holds failover manager configuration
type Config struct {
	Enabled             bool          `json:"enabled"`
	AutoRecovery        bool          `json:"auto_recovery"`
	MaxRecoveryAttempts int           `json:"max_recovery_attempts"`
	RecoveryBackoff     time.Duration `json:"recovery_backoff"`
	EmergencyShutdown   bool          `json:"emergency_shutdown"`
	NotificationEnabled bool          `json:"notification_enabled"`
	CheckInterval       time.Duration `json:"check_interval"`
}

// DefaultConfig returns safe defaults
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		AutoRecovery:        true,
		MaxRecoveryAttempts: 3,
		RecoveryBackoff:     30 * time.Second,
		EmergencyShutdown:   true,
		NotificationEnabled: true,
		CheckInterval:       10 * time.Second,
	}
}

// ComponentRecord is the tracked state of one supervised component
type ComponentRecord struct {
	Name             string    `json:"name"`
	Status           Status    `json:"status"`
	Critical         bool      `json:"critical"`
	LastCheck        time.Time `json:"last_check,omitempty"`
	LastFailure      time.Time `json:"last_failure,omitempty"`
	FailureCount     int       `json:"failure_count"`
	RecoveryAttempts int       `json:"recovery_attempts"`
	LastRecoveryTime time.Time `json:"last_recovery_time,omitempty"`
}

type component struct {
	record      ComponentRecord
	healthCheck HealthCheckFunc
	recovery    RecoveryFunc
}

// StatusSnapshot is the full observability view of the manager
type StatusSnapshot struct {
	State      State                      `json:"state"`
	StateSince time.Time                  `json:"state_since"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentRecord `json:"components"`
	Config     Config                     `json:"config"`
}

// Manager polls component health and drives recovery. All mutation of the
// component map goes through the manager mutex, including operator calls.
type Manager struct {
	mu         sync.Mutex
	config     Config
	state      State
	stateSince time.Time
	startedAt  time.Time
	components map[string]*component
	order      []string

	// Fires the shutdown collaborator once per sustained emergency; cleared
	// when the manager leaves emergency state.
	shutdownFired bool

	notify   NotifyFunc
	shutdown ShutdownFunc
	eventBus *events.EventBus
	logger   *logging.Logger

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewManager creates a manager supervising the five fixed components, all
// initially healthy. Health checks and recovery functions are registered
// separately before Start.
func NewManager(cfg Config, notify NotifyFunc, shutdown ShutdownFunc, eventBus *events.EventBus, logger *logging.Logger) *Manager {
	def := DefaultConfig()
	if cfg.MaxRecoveryAttempts <= 0 {
		cfg.MaxRecoveryAttempts = def.MaxRecoveryAttempts
	}
	if cfg.RecoveryBackoff <= 0 {
		cfg.RecoveryBackoff = def.RecoveryBackoff
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if logger == nil {
		logger = logging.WithComponent("failover")
	}

	now := time.Now()
	m := &Manager{
		config:     cfg,
		state:      StateNormal,
		stateSince: now,
		startedAt:  now,
		components: make(map[string]*component),
		notify:     notify,
		shutdown:   shutdown,
		eventBus:   eventBus,
		logger:     logger,
	}

	critical := map[string]bool{
		ComponentAPIClient:      true,
		ComponentDataStream:     false,
		ComponentStrategyEngine: true,
		ComponentOrderEngine:    true,
		ComponentPersistence:    false,
	}
	for _, name := range []string{
		ComponentAPIClient,
		ComponentDataStream,
		ComponentStrategyEngine,
		ComponentOrderEngine,
		ComponentPersistence,
	} {
		m.components[name] = &component{
			record: ComponentRecord{
				Name:     name,
				Status:   StatusHealthy,
				Critical: critical[name],
			},
		}
		m.order = append(m.order, name)
	}

	return m
}

// RegisterHealthCheck installs the health-check collaborator for a component
func (m *Manager) RegisterHealthCheck(name string, fn HealthCheckFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.components[name]
	if !ok {
		return fmt.Errorf("unknown component %q", name)
	}
	c.healthCheck = fn
	return nil
}

// RegisterRecovery installs the recovery collaborator for a component
func (m *Manager) RegisterRecovery(name string, fn RecoveryFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.components[name]
	if !ok {
		return fmt.Errorf("unknown component %q", name)
	}
	c.recovery = fn
	return nil
}

// Start launches the supervision loop. A disabled manager never starts.
func (m *Manager) Start() {
	m.mu.Lock()
	if !m.config.Enabled || m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	interval := m.config.CheckInterval
	m.mu.Unlock()

	m.logger.Info("Failover supervision started", "check_interval", interval.String())
	go m.loop(interval)
}

// Stop signals the loop to exit and waits for it, bounded by twice the check
// interval so shutdown cannot hang on a stuck health check.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	done := m.doneCh
	interval := m.config.CheckInterval
	m.mu.Unlock()

	select {
	case <-done:
	case <-time.After(2 * interval):
		m.logger.Warn("Failover loop did not stop in time")
	}
}

func (m *Manager) loop(interval time.Duration) {
	defer close(m.doneCh)

	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		m.runIteration()

		// Sleep the interval even after a panic so a broken collaborator
		// cannot spin the loop hot.
		select {
		case <-m.stopCh:
			return
		case <-time.After(interval):
		}
	}
}

// runIteration executes one check/update/handle cycle. Any panic is contained
// here; the loop continues on the next interval.
func (m *Manager) runIteration() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Failover iteration panic recovered", "panic", fmt.Sprintf("%v", r))
		}
	}()

	m.checkComponents()
	m.updateState()
	m.handleFailover()
}

// checkComponents polls every registered health check. A check that panics is
// recorded as failed. Components without a check keep their current status.
func (m *Manager) checkComponents() {
	m.mu.Lock()
	checks := make(map[string]HealthCheckFunc, len(m.components))
	for name, c := range m.components {
		if c.healthCheck != nil {
			checks[name] = c.healthCheck
		}
	}
	order := m.order
	m.mu.Unlock()

	for _, name := range order {
		fn, ok := checks[name]
		if !ok {
			continue
		}

		status := runHealthCheck(fn)

		m.mu.Lock()
		c := m.components[name]
		prev := c.record.Status

		// Do not let a stale healthy reading cancel a recovery in flight;
		// the recovery phase owns that transition.
		if c.record.Status == StatusRecovering && status == StatusHealthy {
			c.record.LastCheck = time.Now()
			m.mu.Unlock()
			continue
		}

		c.record.LastCheck = time.Now()
		c.record.Status = status
		if status == StatusHealthy {
			c.record.FailureCount = 0
			c.record.LastFailure = time.Time{}
		} else {
			c.record.FailureCount++
			if c.record.LastFailure.IsZero() {
				c.record.LastFailure = time.Now()
			}
		}
		failureCount := c.record.FailureCount
		m.mu.Unlock()

		if prev != status {
			m.logger.Info("Component status changed",
				"component", name, "from", string(prev), "to", string(status), "failures", failureCount)
			if m.eventBus != nil {
				m.eventBus.PublishComponentStatus(name, string(status), failureCount)
			}
		}
	}
}

// runHealthCheck shields the manager from a panicking collaborator
func runHealthCheck(fn HealthCheckFunc) (status Status) {
	defer func() {
		if r := recover(); r != nil {
			status = StatusFailed
		}
	}()
	return fn()
}

// updateState derives the global state from component statuses. Precedence:
// a critical component down forces emergency; a non-critical component down
// is a failover; any recovery in flight is recovery; warnings degrade; else
// normal.
func (m *Manager) updateState() {
	m.mu.Lock()

	var anyCriticalDown, anyNonCriticalDown, anyRecovering, anyWarning bool
	var reason string
	for _, name := range m.order {
		c := m.components[name]
		switch c.record.Status {
		case StatusCritical, StatusFailed:
			if c.record.Critical {
				anyCriticalDown = true
				reason = name
			} else {
				anyNonCriticalDown = true
				if reason == "" {
					reason = name
				}
			}
		case StatusRecovering:
			anyRecovering = true
		case StatusWarning:
			anyWarning = true
		}
	}

	newState := StateNormal
	switch {
	case anyCriticalDown:
		newState = StateEmergency
	case anyNonCriticalDown:
		newState = StateFailover
	case anyRecovering:
		newState = StateRecovery
	case anyWarning:
		newState = StateDegraded
	}

	if newState == m.state {
		m.mu.Unlock()
		return
	}

	from := m.state
	m.state = newState
	m.stateSince = time.Now()
	if from == StateEmergency {
		// Leaving emergency re-arms the shutdown latch.
		m.shutdownFired = false
	}
	m.mu.Unlock()

	m.logger.Warn("System state changed", "from", string(from), "to", string(newState), "reason", reason)
	if m.eventBus != nil {
		m.eventBus.PublishFailoverStateChange(string(from), string(newState), reason)
	}
	events.BroadcastFailoverState(map[string]interface{}{
		"from":   string(from),
		"to":     string(newState),
		"reason": reason,
	})
	m.sendNotification(fmt.Sprintf("System state changed: %s -> %s (%s)", from, newState, reason))
}

// handleFailover dispatches recovery work for the current global state
func (m *Manager) handleFailover() {
	m.mu.Lock()
	state := m.state
	var warning, recovering, nonCriticalDown, criticalDown []string
	for _, name := range m.order {
		c := m.components[name]
		switch c.record.Status {
		case StatusWarning:
			warning = append(warning, name)
		case StatusRecovering:
			recovering = append(recovering, name)
		case StatusCritical, StatusFailed:
			if c.record.Critical {
				criticalDown = append(criticalDown, name)
			} else {
				nonCriticalDown = append(nonCriticalDown, name)
			}
		}
	}
	m.mu.Unlock()

	switch state {
	case StateDegraded:
		for _, name := range warning {
			m.AttemptRecovery(name)
		}

	case StateFailover:
		for _, name := range nonCriticalDown {
			m.AttemptRecovery(name)
		}

	case StateRecovery:
		m.continueRecoveries(recovering)

	case StateEmergency:
		for _, name := range criticalDown {
			m.AttemptRecovery(name)
		}
		m.maybeEmergencyShutdown(criticalDown)
	}
}

// continueRecoveries re-checks components whose recovery is in flight. A
// healthy reading finishes the recovery; anything else schedules a retry.
func (m *Manager) continueRecoveries(names []string) {
	for _, name := range names {
		m.mu.Lock()
		c := m.components[name]
		fn := c.healthCheck
		m.mu.Unlock()

		if fn == nil {
			continue
		}

		if runHealthCheck(fn) == StatusHealthy {
			m.mu.Lock()
			c.record.Status = StatusHealthy
			c.record.RecoveryAttempts = 0
			c.record.FailureCount = 0
			c.record.LastFailure = time.Time{}
			m.mu.Unlock()
			m.logger.Info("Component recovered", "component", name)
		} else {
			m.AttemptRecovery(name)
		}
	}
}

// maybeEmergencyShutdown fires the shutdown collaborator once all critical
// failed components have exhausted their recovery attempts. The shutdownFired
// latch keeps the repeated per-interval evaluation from firing it again while
// the emergency persists.
func (m *Manager) maybeEmergencyShutdown(criticalDown []string) {
	if len(criticalDown) == 0 {
		return
	}

	m.mu.Lock()
	if !m.config.EmergencyShutdown || m.shutdownFired {
		m.mu.Unlock()
		return
	}
	exhausted := true
	for _, name := range criticalDown {
		if m.components[name].record.RecoveryAttempts < m.config.MaxRecoveryAttempts {
			exhausted = false
			break
		}
	}
	if !exhausted {
		m.mu.Unlock()
		return
	}
	m.shutdownFired = true
	shutdown := m.shutdown
	m.mu.Unlock()

	m.logger.Error("Emergency shutdown triggered", "components", fmt.Sprintf("%v", criticalDown))
	if m.eventBus != nil {
		m.eventBus.Publish(events.Event{
			Type: events.EventEmergencyShutdown,
			Data: map[string]interface{}{"components": criticalDown},
		})
	}
	m.sendNotification(fmt.Sprintf("EMERGENCY SHUTDOWN: recovery exhausted for %v", criticalDown))

	if shutdown != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("Shutdown collaborator panic recovered", "panic", fmt.Sprintf("%v", r))
				}
			}()
			shutdown()
		}()
	}
}

// AttemptRecovery tries to recover one component. It returns false without
// side effects unless auto-recovery is enabled, a recovery function is
// registered, attempts remain, and the fixed recovery backoff has elapsed
// since the previous attempt. The backoff is deliberately fixed-interval:
// recovery is throttled restoration, not transient retry.
func (m *Manager) AttemptRecovery(name string) bool {
	m.mu.Lock()
	c, ok := m.components[name]
	if !ok || !m.config.AutoRecovery || c.recovery == nil {
		m.mu.Unlock()
		return false
	}
	if c.record.RecoveryAttempts >= m.config.MaxRecoveryAttempts {
		m.mu.Unlock()
		return false
	}
	if !c.record.LastRecoveryTime.IsZero() && time.Since(c.record.LastRecoveryTime) < m.config.RecoveryBackoff {
		m.mu.Unlock()
		return false
	}

	c.record.Status = StatusRecovering
	c.record.RecoveryAttempts++
	c.record.LastRecoveryTime = time.Now()
	attempt := c.record.RecoveryAttempts
	fn := c.recovery
	m.mu.Unlock()

	m.logger.Info("Attempting component recovery", "component", name, "attempt", attempt)

	success := runRecovery(fn)

	m.mu.Lock()
	if success {
		c.record.Status = StatusHealthy
		c.record.RecoveryAttempts = 0
		c.record.FailureCount = 0
		c.record.LastFailure = time.Time{}
	} else {
		c.record.Status = StatusFailed
	}
	m.mu.Unlock()

	if m.eventBus != nil {
		m.eventBus.PublishRecoveryAttempted(name, attempt, success)
	}
	if success {
		m.logger.Info("Component recovery succeeded", "component", name)
	} else {
		m.logger.Warn("Component recovery failed", "component", name, "attempt", attempt)
	}
	return success
}

// runRecovery shields the manager from a panicking recovery function
func runRecovery(fn RecoveryFunc) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return fn()
}

// ResetComponent clears a component back to healthy with zeroed counters
func (m *Manager) ResetComponent(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.components[name]
	if !ok {
		return fmt.Errorf("unknown component %q", name)
	}
	c.record.Status = StatusHealthy
	c.record.FailureCount = 0
	c.record.LastFailure = time.Time{}
	c.record.RecoveryAttempts = 0
	c.record.LastRecoveryTime = time.Time{}
	return nil
}

// UpdateConfig replaces the failover configuration. Zero-valued interval and
// attempt fields keep their current values.
func (m *Manager) UpdateConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config.Enabled = cfg.Enabled
	m.config.AutoRecovery = cfg.AutoRecovery
	m.config.EmergencyShutdown = cfg.EmergencyShutdown
	m.config.NotificationEnabled = cfg.NotificationEnabled
	if cfg.MaxRecoveryAttempts > 0 {
		m.config.MaxRecoveryAttempts = cfg.MaxRecoveryAttempts
	}
	if cfg.RecoveryBackoff > 0 {
		m.config.RecoveryBackoff = cfg.RecoveryBackoff
	}
	if cfg.CheckInterval > 0 {
		m.config.CheckInterval = cfg.CheckInterval
	}
}

// State returns the current global state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns the full observability snapshot
func (m *Manager) Status() StatusSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	components := make(map[string]ComponentRecord, len(m.components))
	for name, c := range m.components {
		components[name] = c.record
	}

	return StatusSnapshot{
		State:      m.state,
		StateSince: m.stateSince,
		Uptime:     time.Since(m.startedAt).Round(time.Second).String(),
		Components: components,
		Config:     m.config,
	}
}

// ComponentStatus returns the record for one component
func (m *Manager) ComponentStatus(name string) (ComponentRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.components[name]
	if !ok {
		return ComponentRecord{}, false
	}
	return c.record, true
}

// RunOnce executes one supervision cycle synchronously, for callers that
// drive the state machine without the background loop.
func (m *Manager) RunOnce() {
	m.runIteration()
}

// sendNotification delivers an operator alert, swallowing collaborator
// failures
func (m *Manager) sendNotification(message string) {
	m.mu.Lock()
	enabled := m.config.NotificationEnabled
	notify := m.notify
	m.mu.Unlock()

	if !enabled || notify == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Notifier panic recovered", "panic", fmt.Sprintf("%v", r))
		}
	}()
	notify(message)
}
