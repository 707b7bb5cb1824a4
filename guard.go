package authstate

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// Requirement selects what a guarded route demands.
type Requirement string

const (
	RequireAuthenticated Requirement = "authenticated"
	RequireAdmin         Requirement = "admin"
)

// IsValid checks the requirement is one of the predefined values.
func (r Requirement) IsValid() bool {
	switch r {
	case RequireAuthenticated, RequireAdmin:
		return true
	default:
		return false
	}
}

// Decision is the guard verdict for a request.
type Decision string

const (
	// DecisionWaiting means the initial auth check has not completed; render
	// nothing and do not redirect.
	DecisionWaiting Decision = "waiting"
	// DecisionVerifying means a re-verification is in flight for this guard.
	DecisionVerifying Decision = "verifying"
	// DecisionRedirectLogin means no user: persist the attempted path and
	// send the visitor to the login page.
	DecisionRedirectLogin Decision = "redirect_login"
	// DecisionRedirectHome means an authenticated non-admin hit an
	// admin-only route.
	DecisionRedirectHome Decision = "redirect_home"
	// DecisionAllow means the request may render.
	DecisionAllow Decision = "allow"
)

// EvaluateSnapshot is the pure guard decision table. Order matters: an
// unfinished bootstrap outranks everything, an in-flight verification
// outranks redirects, missing authentication outranks the admin check.
func EvaluateSnapshot(snap Snapshot, requirement Requirement, verifying bool) Decision {
	if !snap.AuthChecked {
		return DecisionWaiting
	}
	if verifying {
		return DecisionVerifying
	}
	if snap.User == nil {
		return DecisionRedirectLogin
	}
	if requirement == RequireAdmin && !snap.IsAdmin {
		return DecisionRedirectHome
	}
	return DecisionAllow
}

// GuardAuthority is the slice of the state machine guards consult.
type GuardAuthority interface {
	Snapshot() Snapshot
	RefreshAuthStatus(ctx context.Context) bool
	AuthenticatedFromCache(ctx context.Context) bool
}

// GuardConfig tunes a route guard.
type GuardConfig struct {
	Requirement Requirement
	// VerifyTimeout bounds a verification call; when it trips the guard
	// proceeds on the last known state instead of hanging the request.
	VerifyTimeout time.Duration
	// AuthWindow and AdminWindow bound how stale the respective last-check
	// markers may be before the guard re-verifies.
	AuthWindow  time.Duration
	AdminWindow time.Duration

	LoginPath string
	HomePath  string
}

// Validate will run validation rules.
func (c GuardConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Requirement, validation.Required, validation.In(RequireAuthenticated, RequireAdmin)),
	)
}

const (
	defaultVerifyTimeout = 5 * time.Second
	defaultAuthWindow    = 5 * time.Minute
	defaultAdminWindow   = 10 * time.Minute
	defaultLoginPath     = "/login"
	defaultHomePath      = "/"
)

// GuardOption customizes guard construction.
type GuardOption func(*Guard)

// WithGuardLogger overrides the guard logger.
func WithGuardLogger(logger Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGuardLoggerProvider resolves a scoped guard logger.
func WithGuardLoggerProvider(provider LoggerProvider) GuardOption {
	return func(g *Guard) {
		_, g.logger = ResolveLogger("authstate.guard", provider, g.logger)
	}
}

// WithGuardClock injects a custom clock (useful for tests).
func WithGuardClock(c clock.Clock) GuardOption {
	return func(g *Guard) {
		if c != nil {
			g.clock = c
		}
	}
}

// WithGuardActivitySink sets the ActivitySink used to publish guard events.
func WithGuardActivitySink(sink ActivitySink) GuardOption {
	return func(g *Guard) {
		g.activity = normalizeActivitySink(sink)
	}
}

// Guard wraps the pure decision table with the stateful parts: the
// re-verification windows, the single in-flight verification per guard, and
// the persistence of the attempted path for post-login redirects.
type Guard struct {
	mu        sync.Mutex
	verifying bool

	authority GuardAuthority
	store     CredentialStore
	config    GuardConfig
	clock     clock.Clock
	logger    Logger
	activity  ActivitySink
}

// NewGuard validates the configuration, applies defaults, and builds a guard.
func NewGuard(authority GuardAuthority, store CredentialStore, cfg GuardConfig, opts ...GuardOption) (*Guard, error) {
	if authority == nil {
		return nil, goerrors.New("guard authority is required", goerrors.CategoryBadInput)
	}
	if store == nil {
		return nil, goerrors.New("credential store is required", goerrors.CategoryBadInput)
	}

	if cfg.Requirement == "" {
		cfg.Requirement = RequireAuthenticated
	}
	if err := cfg.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid guard configuration")
	}

	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = defaultVerifyTimeout
	}
	if cfg.AuthWindow <= 0 {
		cfg.AuthWindow = defaultAuthWindow
	}
	if cfg.AdminWindow <= 0 {
		cfg.AdminWindow = defaultAdminWindow
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = defaultLoginPath
	}
	if cfg.HomePath == "" {
		cfg.HomePath = defaultHomePath
	}

	g := &Guard{
		authority: authority,
		store:     store,
		config:    cfg,
		clock:     clock.New(),
		logger:    defaultLogger(),
		activity:  noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	return g, nil
}

// Config returns the effective guard configuration.
func (g *Guard) Config() GuardConfig {
	return g.config
}

// Verifying reports whether a verification is currently in flight.
func (g *Guard) Verifying() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verifying
}

// Check evaluates the guard for a request to path. It re-verifies the
// session when the cached facts or check markers are stale, holding at most
// one verification in flight; concurrent requests during that window get
// DecisionVerifying. A redirect-to-login decision persists the attempted
// path so login can return the visitor where they were headed.
func (g *Guard) Check(ctx context.Context, path string) Decision {
	snap := g.authority.Snapshot()
	if !snap.AuthChecked {
		return DecisionWaiting
	}

	if g.needsVerification(ctx) {
		if !g.claimVerify() {
			return DecisionVerifying
		}
		snap = g.verify(ctx)
	}

	decision := EvaluateSnapshot(snap, g.config.Requirement, false)
	switch decision {
	case DecisionRedirectLogin:
		g.persistAttemptedPath(ctx, path)
		g.recordRedirect(ctx, path, g.config.LoginPath)
	case DecisionRedirectHome:
		g.recordRedirect(ctx, path, g.config.HomePath)
	}
	return decision
}

// needsVerification applies the re-verification policy: skip only when a
// valid cached auth fact exists and the requirement's last-check marker is
// inside its window.
func (g *Guard) needsVerification(ctx context.Context) bool {
	marker, window := g.markerWindow()
	if g.authority.AuthenticatedFromCache(ctx) && g.lastCheckWithin(ctx, marker, window) {
		return false
	}
	return true
}

func (g *Guard) markerWindow() (string, time.Duration) {
	if g.config.Requirement == RequireAdmin {
		return MarkerLastAdminCheck, g.config.AdminWindow
	}
	return MarkerLastAuthCheck, g.config.AuthWindow
}

func (g *Guard) lastCheckWithin(ctx context.Context, marker string, window time.Duration) bool {
	var millis int64
	if !g.store.Fact(ctx, marker, &millis) {
		return false
	}
	last := time.UnixMilli(millis)
	return g.clock.Now().Sub(last) <= window
}

func (g *Guard) claimVerify() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.verifying {
		return false
	}
	g.verifying = true
	return true
}

func (g *Guard) releaseVerify() {
	g.mu.Lock()
	g.verifying = false
	g.mu.Unlock()
}

// verify runs exactly one RefreshAuthStatus, bounded by the safety timeout.
// A verification that never resolves cannot wedge the guard: after the
// timeout the guard proceeds on the last known state. The check time is
// recorded regardless of outcome so a flapping backend is not hammered.
func (g *Guard) verify(ctx context.Context) Snapshot {
	defer g.releaseVerify()

	done := make(chan bool, 1)
	go func() {
		done <- g.authority.RefreshAuthStatus(ctx)
	}()

	timer := g.clock.Timer(g.config.VerifyTimeout)
	defer timer.Stop()

	select {
	case ok := <-done:
		g.logger.Debug("guard verification resolved", "authenticated", ok)
	case <-timer.C:
		err := ErrVerificationTimeout.WithMetadata(map[string]any{
			"timeout": g.config.VerifyTimeout.String(),
		})
		g.logger.Warn("guard verification timed out, proceeding with last known state", "error", err)
		g.record(ctx, ActivityEvent{EventType: ActivityEventGuardTimeout})
	case <-ctx.Done():
		g.logger.Debug("guard verification canceled", "error", ctx.Err())
	}

	g.markChecked(ctx)
	return g.authority.Snapshot()
}

func (g *Guard) markChecked(ctx context.Context) {
	marker, _ := g.markerWindow()
	if err := g.store.PutFact(ctx, marker, g.clock.Now().UnixMilli(), 0); err != nil {
		g.logger.Warn("failed to record verification time", "marker", marker, "error", err)
	}
}

func (g *Guard) persistAttemptedPath(ctx context.Context, path string) {
	if path == "" || path == g.config.LoginPath {
		return
	}
	if err := g.store.PutFact(ctx, MarkerRedirect, path, 0); err != nil {
		g.logger.Warn("failed to persist attempted path", "path", path, "error", err)
	}
}

func (g *Guard) recordRedirect(ctx context.Context, path, target string) {
	g.record(ctx, ActivityEvent{
		EventType: ActivityEventGuardRedirect,
		Path:      path,
		Metadata:  map[string]any{"target": target},
	})
}

func (g *Guard) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = g.clock.Now()
	}

	sink := normalizeActivitySink(g.activity)
	if err := sink.Record(ctx, event); err != nil {
		g.logger.Warn("guard activity sink error", "error", err)
	}
}
