package authstate

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLoginSuccess     ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure     ActivityEventType = "auth.login.failure"
	ActivityEventLogout           ActivityEventType = "auth.logout"
	ActivityEventRefreshSuccess   ActivityEventType = "auth.refresh.success"
	ActivityEventRefreshFailure   ActivityEventType = "auth.refresh.failure"
	ActivityEventRefreshDiscarded ActivityEventType = "auth.refresh.discarded"
	ActivityEventSessionActivity  ActivityEventType = "session.activity"
	ActivityEventSessionWarning   ActivityEventType = "session.idle.warning"
	ActivityEventSessionExpired   ActivityEventType = "session.expired"
	ActivityEventSessionExtended  ActivityEventType = "session.extended"
	ActivityEventGuardRedirect    ActivityEventType = "guard.redirect"
	ActivityEventGuardTimeout     ActivityEventType = "guard.verification.timeout"
	ActivityEventDevIdentity      ActivityEventType = "auth.dev.identity"
)

// ActivityEvent captures audit-friendly information about a session action.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Email      string
	Role       Role
	FromStatus SessionStatus
	ToStatus   SessionStatus
	Path       string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
