package authstate

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-featuregate/gate/guard"
)

// Feature keys resolved through the runtime gate. Config toggles remain
// primary; the gate can only veto a feature that is otherwise enabled.
const (
	FeatureSessionMonitor      = "session.monitor"
	FeatureSessionTokenRefresh = "session.token_refresh"
	FeatureSessionIdleWarning  = "session.idle_warning"
	FeatureSessionAutoLogout   = "session.auto_logout"
	FeatureSessionDevIdentity  = "session.dev_identity"
)

// ErrDevIdentityDisabled is returned when the feature gate vetoes trusted
// identity injection.
var ErrDevIdentityDisabled = errors.New("trusted identity injection is disabled", errors.CategoryAuthz).
	WithTextCode("DEV_IDENTITY_DISABLED").
	WithCode(errors.CodeForbidden)

func normalizeFeatureGateError(err error) error {
	if err == nil {
		return nil
	}

	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return err
	}

	return errors.Wrap(err, errors.CategoryAuthz, "Feature gate check failed").
		WithCode(errors.CodeForbidden)
}

func requireDevIdentityGate(ctx context.Context, featureGate gate.FeatureGate) error {
	return guard.Require(ctx, featureGate, FeatureSessionDevIdentity,
		guard.WithDisabledError(ErrDevIdentityDisabled),
		guard.WithErrorMapper(normalizeFeatureGateError),
	)
}

// featureEnabled resolves a session feature key against an optional gate. A
// nil gate means no veto; gate errors fail open with a log entry at the call
// site so a broken gate backend cannot take down session handling.
func featureEnabled(ctx context.Context, featureGate gate.FeatureGate, key string) (bool, error) {
	if featureGate == nil {
		return true, nil
	}
	enabled, err := featureGate.Enabled(ctx, key)
	if err != nil {
		return true, normalizeFeatureGateError(err)
	}
	return enabled, nil
}
