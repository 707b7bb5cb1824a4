package authstate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
)

// ErrInvalidSessionTransition is returned when a requested session status
// change is not allowed.
var ErrInvalidSessionTransition = goerrors.New("invalid session state transition", goerrors.CategoryValidation).
	WithTextCode("INVALID_SESSION_TRANSITION").
	WithCode(goerrors.CodeBadRequest)

// ErrSessionExpired is returned when an operation arrives after the session
// was force-expired.
var ErrSessionExpired = goerrors.New("session already expired", goerrors.CategoryConflict).
	WithTextCode("SESSION_EXPIRED").
	WithCode(goerrors.CodeConflict)

// Refresh outcome display windows. Success clears faster than failure so a
// problem stays on screen long enough to be noticed.
const (
	refreshSuccessDisplay = 3 * time.Second
	refreshFailureDisplay = 5 * time.Second
)

// SessionAuthority is the slice of the state machine the monitor drives.
type SessionAuthority interface {
	RefreshAuthStatus(ctx context.Context) bool
	Logout(ctx context.Context) error
}

// MonitorConfig tunes the session monitor. All durations must be positive
// and the idle warning must fire before the forced logout.
type MonitorConfig struct {
	ActivityDebounce   time.Duration
	RefreshInterval    time.Duration
	IdleWarningTimeout time.Duration
	LogoutTimeout      time.Duration

	EnableActivityTracking bool
	EnableTokenRefresh     bool
	EnableIdleWarning      bool
	EnableAutoLogout       bool
}

// DefaultMonitorConfig returns production defaults: a 30m session with a
// warning 5 minutes before forced logout.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		ActivityDebounce:   30 * time.Second,
		RefreshInterval:    10 * time.Minute,
		IdleWarningTimeout: 25 * time.Minute,
		LogoutTimeout:      30 * time.Minute,

		EnableActivityTracking: true,
		EnableTokenRefresh:     true,
		EnableIdleWarning:      true,
		EnableAutoLogout:       true,
	}
}

// Validate will run validation rules.
func (c MonitorConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ActivityDebounce, validation.Required, validation.By(validatePositiveDuration)),
		validation.Field(&c.RefreshInterval, validation.Required, validation.By(validatePositiveDuration)),
		validation.Field(&c.IdleWarningTimeout, validation.Required, validation.By(validatePositiveDuration)),
		validation.Field(
			&c.LogoutTimeout,
			validation.Required,
			validation.By(validatePositiveDuration),
			validation.By(validateLongerThan(c.IdleWarningTimeout)),
		),
	)
}

func validatePositiveDuration(value any) error {
	d, ok := value.(time.Duration)
	if !ok || d <= 0 {
		return errors.New("must be a positive duration")
	}
	return nil
}

func validateLongerThan(floor time.Duration) validation.RuleFunc {
	return func(value any) error {
		d, _ := value.(time.Duration)
		if d <= floor {
			return errors.New("must be longer than the idle warning timeout")
		}
		return nil
	}
}

// SessionHandlers let the embedder react to monitor transitions. The monitor
// owns the timing; redirects and rendering stay the embedder's job. Handlers
// run outside the monitor lock.
type SessionHandlers struct {
	OnIdleWarning func(state SessionState)
	OnExpired     func(state SessionState)
	OnRefresh     func(ok bool)
	OnStateChange func(state SessionState)
}

// MonitorOption customizes monitor construction.
type MonitorOption func(*SessionMonitor)

// WithMonitorLogger overrides the monitor logger.
func WithMonitorLogger(logger Logger) MonitorOption {
	return func(m *SessionMonitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMonitorLoggerProvider resolves a scoped monitor logger.
func WithMonitorLoggerProvider(provider LoggerProvider) MonitorOption {
	return func(m *SessionMonitor) {
		_, m.logger = ResolveLogger("authstate.monitor", provider, m.logger)
	}
}

// WithMonitorClock injects a custom clock (useful for tests).
func WithMonitorClock(c clock.Clock) MonitorOption {
	return func(m *SessionMonitor) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithMonitorActivitySink sets the ActivitySink used to publish session
// events.
func WithMonitorActivitySink(sink ActivitySink) MonitorOption {
	return func(m *SessionMonitor) {
		m.activity = normalizeActivitySink(sink)
	}
}

// WithMonitorFeatureGate wires the runtime feature gate. Config toggles
// remain primary; the gate can only veto.
func WithMonitorFeatureGate(g gate.FeatureGate) MonitorOption {
	return func(m *SessionMonitor) {
		m.gate = g
	}
}

// WithSessionHandlers sets the transition handlers.
func WithSessionHandlers(handlers SessionHandlers) MonitorOption {
	return func(m *SessionMonitor) {
		m.handlers = handlers
	}
}

// SessionMonitor tracks user activity and enforces the idle lifecycle:
// Active, then IdleWarning after IdleWarningTimeout of inactivity, then
// Expired at LogoutTimeout. Expiry purges credentials through the authority
// before anyone is notified. All timing flows through the injected clock.
type SessionMonitor struct {
	mu    sync.Mutex
	state SessionState

	config    MonitorConfig
	authority SessionAuthority
	clock     clock.Clock
	logger    Logger
	activity  ActivitySink
	gate      gate.FeatureGate
	handlers  SessionHandlers

	transitions map[SessionStatus]map[SessionStatus]struct{}

	// feature toggles resolved against the gate at Start
	tracking    bool
	refreshing  bool
	idleWarning bool
	autoLogout  bool

	started   bool
	stopped   bool
	lastReset time.Time

	warningTimer *clock.Timer
	logoutTimer  *clock.Timer
	displayTimer *clock.Timer
	stopRefresh  chan struct{}
	wg           sync.WaitGroup

	// runCtx carries the context handed to Start into timer callbacks
	runCtx context.Context
}

// NewSessionMonitor validates the configuration and builds a monitor around
// the authority.
func NewSessionMonitor(authority SessionAuthority, cfg MonitorConfig, opts ...MonitorOption) (*SessionMonitor, error) {
	if authority == nil {
		return nil, goerrors.New("session authority is required", goerrors.CategoryBadInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid monitor configuration")
	}

	m := &SessionMonitor{
		config:    cfg,
		authority: authority,
		clock:     clock.New(),
		logger:    defaultLogger(),
		activity:  noopActivitySink{},
		transitions: map[SessionStatus]map[SessionStatus]struct{}{
			SessionActive: {
				SessionActive:      {},
				SessionIdleWarning: {},
				SessionExpired:     {},
			},
			SessionIdleWarning: {
				SessionActive:  {},
				SessionExpired: {},
			},
			SessionExpired: {},
		},
		runCtx: context.Background(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m, nil
}

// Start arms the idle timers and the refresh ticker. A feature-gate veto on
// the whole monitor is advisory: Start returns nil and the monitor stays
// inert. Start after Stop re-arms everything, which is what remounting
// embedders rely on.
func (m *SessionMonitor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if enabled, err := featureEnabled(ctx, m.gate, FeatureSessionMonitor); err != nil {
		m.logger.Warn("feature gate check failed, monitor proceeding", "error", err)
	} else if !enabled {
		m.logger.Info("session monitor disabled by feature gate")
		return nil
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return goerrors.New("session monitor already started", goerrors.CategoryOperation)
	}

	m.runCtx = ctx
	m.started = true
	m.stopped = false
	m.lastReset = time.Time{}
	m.state = SessionState{
		Status:             SessionActive,
		LastActivityAt:     m.clock.Now(),
		TokenRefreshStatus: RefreshIdle,
	}

	m.tracking = m.config.EnableActivityTracking
	m.refreshing = m.resolveFeatureToggle(ctx, m.config.EnableTokenRefresh, FeatureSessionTokenRefresh)
	m.idleWarning = m.resolveFeatureToggle(ctx, m.config.EnableIdleWarning, FeatureSessionIdleWarning)
	m.autoLogout = m.resolveFeatureToggle(ctx, m.config.EnableAutoLogout, FeatureSessionAutoLogout)

	m.armIdleTimersLocked()

	if m.refreshing {
		ticker := m.clock.Ticker(m.config.RefreshInterval)
		stop := make(chan struct{})
		m.stopRefresh = stop
		m.wg.Add(1)
		go m.refreshLoop(ctx, ticker, stop)
	}
	m.mu.Unlock()

	m.logger.Debug("session monitor started",
		"idle_warning", m.idleWarning,
		"auto_logout", m.autoLogout,
		"token_refresh", m.refreshing,
	)
	return nil
}

// Stop tears down every timer and ticker. Nothing fires after Stop returns.
func (m *SessionMonitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.stopped = true
	m.teardownTimersLocked()
	if m.stopRefresh != nil {
		close(m.stopRefresh)
		m.stopRefresh = nil
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Debug("session monitor stopped")
}

// Running reports whether the monitor is started and not yet stopped.
func (m *SessionMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// State returns a copy of the current session state.
func (m *SessionMonitor) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// MarkActivity records user interaction. Bursts inside the debounce window
// collapse to the single leading reset. While the idle warning is showing,
// activity alone does nothing: only ExtendSession clears the warning.
func (m *SessionMonitor) MarkActivity() {
	m.mu.Lock()
	if !m.started || m.stopped || !m.tracking || m.state.Status != SessionActive {
		m.mu.Unlock()
		return
	}

	now := m.clock.Now()
	if !m.lastReset.IsZero() && now.Sub(m.lastReset) < m.config.ActivityDebounce {
		m.mu.Unlock()
		return
	}

	m.lastReset = now
	m.state.LastActivityAt = now
	m.armIdleTimersLocked()
	state := m.state
	ctx := m.runCtx
	m.mu.Unlock()

	m.notifyStateChange(state)
	m.record(ctx, ActivityEvent{
		EventType: ActivityEventSessionActivity,
		ToStatus:  SessionActive,
	})
}

// ExtendSession is the explicit confirmation that clears the idle warning,
// resets the idle clock, and returns the session to Active. It fails once
// the session has expired.
func (m *SessionMonitor) ExtendSession(ctx context.Context) error {
	m.mu.Lock()
	if !m.started || m.stopped {
		m.mu.Unlock()
		return goerrors.New("session monitor is not running", goerrors.CategoryOperation)
	}

	from := m.state.Status
	if from == SessionExpired {
		m.mu.Unlock()
		return ErrSessionExpired.WithMetadata(map[string]any{
			"operation": "extend_session",
		})
	}

	if from == SessionIdleWarning {
		if err := m.transitionLocked(SessionActive); err != nil {
			m.mu.Unlock()
			return err
		}
	}

	now := m.clock.Now()
	m.state.ShowIdleWarning = false
	m.state.TimeUntilLogout = 0
	m.state.LastActivityAt = now
	m.lastReset = now
	m.armIdleTimersLocked()
	state := m.state
	m.mu.Unlock()

	m.notifyStateChange(state)
	m.record(ctx, ActivityEvent{
		EventType:  ActivityEventSessionExtended,
		FromStatus: from,
		ToStatus:   SessionActive,
	})
	return nil
}

// ForceRefresh runs one refresh cycle immediately, outside the ticker.
func (m *SessionMonitor) ForceRefresh(ctx context.Context) {
	m.runRefresh(ctx)
}

func (m *SessionMonitor) refreshLoop(ctx context.Context, ticker *clock.Ticker, stop <-chan struct{}) {
	defer m.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runRefresh(ctx)
		}
	}
}

func (m *SessionMonitor) runRefresh(ctx context.Context) {
	m.mu.Lock()
	if !m.started || m.stopped || m.state.Status == SessionExpired {
		m.mu.Unlock()
		return
	}
	m.state.TokenRefreshStatus = RefreshPending
	state := m.state
	m.mu.Unlock()
	m.notifyStateChange(state)

	ok := m.authority.RefreshAuthStatus(ctx)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}

	window := refreshFailureDisplay
	status := RefreshFailed
	event := ActivityEventRefreshFailure
	if ok {
		window = refreshSuccessDisplay
		status = RefreshSuccess
		event = ActivityEventRefreshSuccess
	}

	m.state.TokenRefreshStatus = status
	if m.displayTimer != nil {
		m.displayTimer.Stop()
	}
	m.displayTimer = m.clock.AfterFunc(window, m.clearRefreshDisplay)
	state = m.state
	m.mu.Unlock()

	m.notifyStateChange(state)
	if m.handlers.OnRefresh != nil {
		m.handlers.OnRefresh(ok)
	}
	m.record(ctx, ActivityEvent{EventType: event})
}

// clearRefreshDisplay returns the refresh indicator to idle after its
// display window.
func (m *SessionMonitor) clearRefreshDisplay() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if m.state.TokenRefreshStatus != RefreshSuccess && m.state.TokenRefreshStatus != RefreshFailed {
		m.mu.Unlock()
		return
	}
	m.state.TokenRefreshStatus = RefreshIdle
	state := m.state
	m.mu.Unlock()

	m.notifyStateChange(state)
}

func (m *SessionMonitor) onIdleWarning() {
	m.mu.Lock()
	if !m.started || m.stopped || m.state.Status != SessionActive {
		m.mu.Unlock()
		return
	}
	if err := m.transitionLocked(SessionIdleWarning); err != nil {
		m.mu.Unlock()
		return
	}
	m.state.ShowIdleWarning = true
	if m.autoLogout {
		m.state.TimeUntilLogout = m.config.LogoutTimeout - m.config.IdleWarningTimeout
	}
	state := m.state
	ctx := m.runCtx
	m.mu.Unlock()

	m.logger.Info("session idle warning", "until_logout", state.TimeUntilLogout)
	if m.handlers.OnIdleWarning != nil {
		m.handlers.OnIdleWarning(state)
	}
	m.notifyStateChange(state)
	m.record(ctx, ActivityEvent{
		EventType:  ActivityEventSessionWarning,
		FromStatus: SessionActive,
		ToStatus:   SessionIdleWarning,
	})
}

func (m *SessionMonitor) onExpired() {
	m.mu.Lock()
	if !m.started || m.stopped || m.state.Status == SessionExpired {
		m.mu.Unlock()
		return
	}
	from := m.state.Status
	if err := m.transitionLocked(SessionExpired); err != nil {
		m.mu.Unlock()
		return
	}
	m.state.ShowIdleWarning = false
	m.state.TimeUntilLogout = 0
	m.state.TokenRefreshStatus = RefreshIdle
	m.teardownTimersLocked()
	state := m.state
	ctx := m.runCtx
	m.mu.Unlock()

	// purge credentials before anyone is notified; redirecting is the
	// embedder's job
	if err := m.authority.Logout(ctx); err != nil {
		m.logger.Error("session expiry logout failed", "error", err)
	}

	m.logger.Info("session expired after inactivity")
	if m.handlers.OnExpired != nil {
		m.handlers.OnExpired(state)
	}
	m.notifyStateChange(state)
	m.record(ctx, ActivityEvent{
		EventType:  ActivityEventSessionExpired,
		FromStatus: from,
		ToStatus:   SessionExpired,
	})
}

func (m *SessionMonitor) transitionLocked(to SessionStatus) error {
	from := m.state.Status
	if allowed, ok := m.transitions[from]; ok {
		if _, exists := allowed[to]; exists {
			m.state.Status = to
			return nil
		}
	}
	return ErrInvalidSessionTransition.WithMetadata(map[string]any{
		"from": from,
		"to":   to,
	})
}

// armIdleTimersLocked restarts the warning and logout clocks from now. Both
// run from the same origin so the warning fires at exactly
// IdleWarningTimeout and expiry at exactly LogoutTimeout of inactivity.
func (m *SessionMonitor) armIdleTimersLocked() {
	if m.warningTimer != nil {
		m.warningTimer.Stop()
		m.warningTimer = nil
	}
	if m.logoutTimer != nil {
		m.logoutTimer.Stop()
		m.logoutTimer = nil
	}

	if m.idleWarning {
		m.warningTimer = m.clock.AfterFunc(m.config.IdleWarningTimeout, m.onIdleWarning)
	}
	if m.autoLogout {
		m.logoutTimer = m.clock.AfterFunc(m.config.LogoutTimeout, m.onExpired)
	}
}

func (m *SessionMonitor) teardownTimersLocked() {
	if m.warningTimer != nil {
		m.warningTimer.Stop()
		m.warningTimer = nil
	}
	if m.logoutTimer != nil {
		m.logoutTimer.Stop()
		m.logoutTimer = nil
	}
	if m.displayTimer != nil {
		m.displayTimer.Stop()
		m.displayTimer = nil
	}
}

func (m *SessionMonitor) resolveFeatureToggle(ctx context.Context, configured bool, key string) bool {
	if !configured {
		return false
	}
	enabled, err := featureEnabled(ctx, m.gate, key)
	if err != nil {
		m.logger.Warn("feature gate check failed, keeping feature enabled", "feature", key, "error", err)
		return true
	}
	if !enabled {
		m.logger.Info("feature disabled by gate", "feature", key)
	}
	return enabled
}

func (m *SessionMonitor) notifyStateChange(state SessionState) {
	if m.handlers.OnStateChange != nil {
		m.handlers.OnStateChange(state)
	}
}

func (m *SessionMonitor) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.clock.Now()
	}

	sink := normalizeActivitySink(m.activity)
	if err := sink.Record(ctx, event); err != nil {
		m.logger.Warn("session monitor activity sink error", "error", err)
	}
}
