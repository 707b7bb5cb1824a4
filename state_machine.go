package authstate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
)

// Snapshot is the published authentication state. It is a value: callers get
// a copy and cannot mutate the machine through it.
type Snapshot struct {
	User        *User
	IsAdmin     bool
	AuthChecked bool
	Loading     bool
	Error       error
}

// IsAuthenticated reports whether a user is present in the snapshot.
func (s Snapshot) IsAuthenticated() bool {
	return s.User != nil
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*StateMachine)

// WithStateMachineLogger overrides the machine logger.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *StateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithStateMachineLoggerProvider resolves a scoped machine logger.
func WithStateMachineLoggerProvider(provider LoggerProvider) StateMachineOption {
	return func(sm *StateMachine) {
		_, sm.logger = ResolveLogger("authstate.machine", provider, sm.logger)
	}
}

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(c clock.Clock) StateMachineOption {
	return func(sm *StateMachine) {
		if c != nil {
			sm.clock = c
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish
// lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *StateMachine) {
		sm.activity = normalizeActivitySink(sink)
	}
}

// WithStateMachineFeatureGate wires the runtime feature gate. The gate can
// only veto features that are otherwise enabled.
func WithStateMachineFeatureGate(g gate.FeatureGate) StateMachineOption {
	return func(sm *StateMachine) {
		sm.gate = g
	}
}

// WithTrustedIdentity configures the dev-mode identity injected during
// Bootstrap. Runtime mode and the feature gate still apply.
func WithTrustedIdentity(identity TrustedIdentity) StateMachineOption {
	return func(sm *StateMachine) {
		sm.identity = &identity
	}
}

// WithRuntimeMode sets the runtime mode. The default is production, which
// refuses trusted identities and treats an unreachable backend as fatal.
func WithRuntimeMode(mode Mode) StateMachineOption {
	return func(sm *StateMachine) {
		if mode.IsValid() {
			sm.mode = mode
		}
	}
}

// StateMachine owns the client-side authentication lifecycle: it decides when
// a user is considered authenticated, keeps the credential store and the
// published snapshot consistent, and serializes concurrent refreshes so a
// stale response can never overwrite a newer outcome.
type StateMachine struct {
	mu          sync.RWMutex
	snapshot    Snapshot
	lastApplied uint64

	seq atomic.Uint64

	store    CredentialStore
	oracle   Oracle
	clock    clock.Clock
	logger   Logger
	activity ActivitySink
	gate     gate.FeatureGate
	mode     Mode
	identity *TrustedIdentity
}

// NewStateMachine builds the machine around a credential store and an oracle.
func NewStateMachine(store CredentialStore, oracle Oracle, opts ...StateMachineOption) (*StateMachine, error) {
	if store == nil {
		return nil, goerrors.New("credential store is required", goerrors.CategoryBadInput)
	}
	if oracle == nil {
		return nil, goerrors.New("oracle is required", goerrors.CategoryBadInput)
	}

	sm := &StateMachine{
		snapshot: Snapshot{Loading: true},
		store:    store,
		oracle:   oracle,
		clock:    clock.New(),
		logger:   defaultLogger(),
		activity: noopActivitySink{},
		mode:     ModeProduction,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm, nil
}

// Snapshot returns a copy of the current state.
func (sm *StateMachine) Snapshot() Snapshot {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.snapshot
}

// Bootstrap performs the initial authentication check. With a stored token it
// asks the oracle who the user is; any failure clears local credentials and
// leaves the user absent. Without a token it resolves immediately. Either way
// AuthChecked flips to true exactly once per process and never back.
//
// A configured trusted identity short-circuits the oracle entirely, subject
// to runtime mode and the feature gate.
func (sm *StateMachine) Bootstrap(ctx context.Context) error {
	sm.mu.RLock()
	checked := sm.snapshot.AuthChecked
	sm.mu.RUnlock()
	if checked {
		return nil
	}

	if sm.identity != nil {
		injected, err := sm.injectTrustedIdentity(ctx)
		if err != nil {
			return err
		}
		if injected {
			return nil
		}
	}

	seq := sm.seq.Add(1)

	if _, ok := sm.store.Token(ctx); !ok {
		sm.commit(seq, func() error {
			sm.setUserLocked(nil)
			return nil
		})
		return nil
	}

	user, err := sm.oracle.CurrentUser(ctx)
	if err != nil {
		sm.logger.Debug("bootstrap profile lookup failed", "error", err)
		_, commitErr := sm.commit(seq, func() error {
			sm.setUserLocked(nil)
			if clearErr := sm.store.ClearAll(ctx); clearErr != nil {
				return goerrors.Wrap(clearErr, goerrors.CategoryInternal, "failed to clear credentials")
			}
			return nil
		})
		return commitErr
	}

	sm.commit(seq, func() error {
		sm.cacheAuthFactsLocked(ctx, user)
		sm.setUserLocked(user)
		return nil
	})

	sm.logger.Debug("bootstrap resolved user", "user_id", user.ID.String(), "role", user.Role)
	return nil
}

// Login exchanges the credential through the oracle, persists the token, and
// publishes the user. On failure the snapshot's Error carries the rejection
// for display; the caller decides how to render it.
func (sm *StateMachine) Login(ctx context.Context, credential string) (Snapshot, error) {
	sm.setLoading(true)

	result, err := sm.oracle.Login(ctx, credential)
	if err != nil {
		sm.mu.Lock()
		sm.snapshot.Loading = false
		sm.snapshot.Error = err
		snap := sm.snapshot
		sm.mu.Unlock()

		sm.recordActivity(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Metadata:  map[string]any{"reason": err.Error()},
		})
		return snap, err
	}

	seq := sm.seq.Add(1)
	_, commitErr := sm.commit(seq, func() error {
		if err := sm.store.SetToken(ctx, result.Token); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist token")
		}
		sm.cacheAuthFactsLocked(ctx, result.User)
		sm.setUserLocked(result.User)
		return nil
	})
	if commitErr != nil {
		sm.mu.Lock()
		sm.snapshot.Loading = false
		sm.snapshot.Error = commitErr
		snap := sm.snapshot
		sm.mu.Unlock()
		return snap, commitErr
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		UserID:    result.User.ID.String(),
		Email:     result.User.Email,
		Role:      result.User.Role,
	})

	return sm.Snapshot(), nil
}

// Logout clears the token and every cached fact and publishes an absent user.
// AuthChecked is untouched: the session was checked, it just ended. An
// in-flight refresh that started before the logout is discarded when it
// lands.
func (sm *StateMachine) Logout(ctx context.Context) error {
	var userID string
	if snap := sm.Snapshot(); snap.User != nil {
		userID = snap.User.ID.String()
	}

	seq := sm.seq.Add(1)
	_, err := sm.commit(seq, func() error {
		sm.clearUserLocked()
		if clearErr := sm.store.ClearAll(ctx); clearErr != nil {
			return goerrors.Wrap(clearErr, goerrors.CategoryInternal, "failed to clear credentials")
		}
		return nil
	})
	if err != nil {
		return err
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLogout,
		UserID:    userID,
	})
	return nil
}

// RefreshAuthStatus re-verifies the session against the oracle without
// resetting AuthChecked. A definitive rejection logs the user out locally and
// silently; a transport failure leaves the state untouched. The return value
// is the authoritative "still authenticated" answer, even when this caller's
// own result was discarded as stale.
func (sm *StateMachine) RefreshAuthStatus(ctx context.Context) bool {
	seq := sm.seq.Add(1)

	if _, ok := sm.store.Token(ctx); !ok {
		sm.commit(seq, func() error {
			sm.clearUserLocked()
			return nil
		})
		return false
	}

	user, err := sm.oracle.CurrentUser(ctx)

	switch {
	case err == nil:
		applied, _ := sm.commit(seq, func() error {
			sm.cacheAuthFactsLocked(ctx, user)
			sm.setUserLocked(user)
			return nil
		})
		if !applied {
			sm.recordActivity(ctx, ActivityEvent{
				EventType: ActivityEventRefreshDiscarded,
				Metadata:  map[string]any{"sequence": seq},
			})
			return sm.Snapshot().IsAuthenticated()
		}
		return true

	case IsUnauthenticated(err):
		applied, commitErr := sm.commit(seq, func() error {
			sm.clearUserLocked()
			if clearErr := sm.store.ClearAll(ctx); clearErr != nil {
				return goerrors.Wrap(clearErr, goerrors.CategoryInternal, "failed to clear credentials")
			}
			return nil
		})
		if commitErr != nil {
			sm.logger.Error("refresh credential clear failed", "error", commitErr)
		}
		if !applied {
			return sm.Snapshot().IsAuthenticated()
		}
		sm.logger.Debug("session no longer valid, cleared local credentials")
		sm.recordActivity(ctx, ActivityEvent{
			EventType: ActivityEventLogout,
			Metadata:  map[string]any{"reason": "unauthenticated"},
		})
		return false

	default:
		// transport trouble is advisory: keep the session as-is
		sm.logger.Warn("auth refresh failed, keeping current state", "error", err)
		return false
	}
}

// AuthenticatedFromCache answers from unexpired cached facts only. It never
// touches the oracle, and a present token does not count once the facts have
// expired.
func (sm *StateMachine) AuthenticatedFromCache(ctx context.Context) bool {
	var authed bool
	if !sm.store.Fact(ctx, FactAuth, &authed) || !authed {
		return false
	}
	var user User
	return sm.store.Fact(ctx, FactUser, &user)
}

// CachedUser returns the cached profile while its fact is unexpired.
func (sm *StateMachine) CachedUser(ctx context.Context) (*User, bool) {
	var user User
	if !sm.store.Fact(ctx, FactUser, &user) {
		return nil, false
	}
	return &user, true
}

// VerifyBackendHealth probes the backend, caching a positive answer. In
// non-production modes an unreachable backend is downgraded to a warning so
// local development can proceed; in production the error is returned for the
// caller to present a retry affordance.
func (sm *StateMachine) VerifyBackendHealth(ctx context.Context) error {
	var healthy bool
	if sm.store.Fact(ctx, FactHealth, &healthy) && healthy {
		return nil
	}

	if err := sm.oracle.HealthCheck(ctx); err != nil {
		if IsUnreachable(err) && sm.mode != ModeProduction {
			sm.logger.Warn("backend unreachable, continuing optimistically", "mode", sm.mode, "error", err)
			return nil
		}
		return err
	}

	if err := sm.store.PutFact(ctx, FactHealth, true, HealthCacheTTL); err != nil {
		sm.logger.Warn("failed to cache health fact", "error", err)
	}
	return nil
}

// WaitBackendHealth retries VerifyBackendHealth with a fixed backoff until it
// succeeds, attempts run out, or the context is canceled.
func (sm *StateMachine) WaitBackendHealth(ctx context.Context, attempts int, backoff time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			timer := sm.clock.Timer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "health wait canceled")
			case <-timer.C:
			}
		}

		if err = sm.VerifyBackendHealth(ctx); err == nil {
			return nil
		}
		sm.logger.Warn("backend health check failed", "attempt", attempt, "error", err)
	}

	return err
}

// commit runs fn under the machine lock if seq is still current, advancing
// the applied sequence first. Outcomes carrying a stale sequence are dropped;
// that is what prevents a slow response from downgrading newer state.
func (sm *StateMachine) commit(seq uint64, fn func() error) (bool, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if seq <= sm.lastApplied {
		return false, nil
	}
	sm.lastApplied = seq

	if fn != nil {
		if err := fn(); err != nil {
			return true, err
		}
	}
	return true, nil
}

// setUserLocked publishes an authoritative user outcome. Callers hold sm.mu.
func (sm *StateMachine) setUserLocked(user *User) {
	sm.snapshot.User = user
	sm.snapshot.IsAdmin = user.IsAdmin()
	sm.snapshot.AuthChecked = true
	sm.snapshot.Loading = false
	sm.snapshot.Error = nil
}

// clearUserLocked removes the user without touching AuthChecked.
func (sm *StateMachine) clearUserLocked() {
	sm.snapshot.User = nil
	sm.snapshot.IsAdmin = false
	sm.snapshot.Loading = false
	sm.snapshot.Error = nil
}

// cacheAuthFactsLocked refreshes the TTL'd facts derived from a verified
// user. Cache writes are best-effort: failures are logged, never fatal.
// MarkerLastAdminCheck is not stamped here; only an admin guard's own
// verification opens the admin window.
func (sm *StateMachine) cacheAuthFactsLocked(ctx context.Context, user *User) {
	now := sm.clock.Now().UnixMilli()

	puts := []struct {
		key   string
		value any
		ttl   time.Duration
	}{
		{FactAuth, true, AuthCacheTTL},
		{FactUser, user, UserCacheTTL},
		{FactAdmin, user.IsAdmin(), AdminCacheTTL},
		{MarkerLastAuthCheck, now, 0},
	}

	for _, p := range puts {
		if err := sm.store.PutFact(ctx, p.key, p.value, p.ttl); err != nil {
			sm.logger.Warn("failed to cache auth fact", "key", p.key, "error", err)
		}
	}
}

func (sm *StateMachine) setLoading(loading bool) {
	sm.mu.Lock()
	sm.snapshot.Loading = loading
	sm.mu.Unlock()
}

func (sm *StateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = sm.clock.Now()
	}

	sink := normalizeActivitySink(sm.activity)
	if err := sink.Record(ctx, event); err != nil {
		sm.logger.Warn("state machine activity sink error", "error", err)
	}
}
