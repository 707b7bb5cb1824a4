package authstate

import (
	"fmt"
	"time"
)

// SessionStatus tracks session liveness.
type SessionStatus string

const (
	// SessionActive is the normal state while the user keeps interacting.
	SessionActive SessionStatus = "active"
	// SessionIdleWarning means inactivity crossed the warning threshold and
	// the user must explicitly extend the session.
	SessionIdleWarning SessionStatus = "idle_warning"
	// SessionExpired means inactivity crossed the logout threshold; local
	// credentials have been purged.
	SessionExpired SessionStatus = "expired"
)

// IsValid checks the status is one of the predefined values.
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionActive, SessionIdleWarning, SessionExpired:
		return true
	default:
		return false
	}
}

// RefreshStatus is the observable outcome of the periodic token refresh.
// Success and failure values hold for a fixed display window and then clear
// back to idle; this is UI feedback, not session-critical state.
type RefreshStatus string

const (
	RefreshIdle    RefreshStatus = "idle"
	RefreshPending RefreshStatus = "pending"
	RefreshSuccess RefreshStatus = "success"
	RefreshFailed  RefreshStatus = "failed"
)

// SessionState is a point-in-time view of the session monitor. It is owned
// by the monitor and mutated only by its timers and the explicit activity and
// extend signals.
type SessionState struct {
	Status             SessionStatus `json:"status,omitempty"`
	LastActivityAt     time.Time     `json:"last_activity_at"`
	TokenRefreshStatus RefreshStatus `json:"token_refresh_status,omitempty"`
	ShowIdleWarning    bool          `json:"show_idle_warning,omitempty"`
	TimeUntilLogout    time.Duration `json:"time_until_logout,omitempty"`
}

func (s SessionState) String() string {
	return fmt.Sprintf(
		"status=%s last_activity=%s refresh=%s warning=%t until_logout=%s",
		s.Status,
		s.LastActivityAt.Format(time.RFC1123),
		s.TokenRefreshStatus,
		s.ShowIdleWarning,
		s.TimeUntilLogout,
	)
}
