package authstate

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

// Mode selects the runtime environment profile.
type Mode string

const (
	ModeProduction  Mode = "production"
	ModeDevelopment Mode = "development"
	ModeTest        Mode = "test"
)

// IsValid checks the mode is one of the predefined values.
func (m Mode) IsValid() bool {
	switch m {
	case ModeProduction, ModeDevelopment, ModeTest:
		return true
	default:
		return false
	}
}

func (m Mode) String() string {
	return string(m)
}

// ParseMode maps a raw environment string to a Mode. Anything unrecognized
// resolves to production so a typo never unlocks development behavior.
func ParseMode(raw string) Mode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "development", "dev", "local":
		return ModeDevelopment
	case "test", "testing":
		return ModeTest
	default:
		return ModeProduction
	}
}

const devTokenIssuer = "authstate.dev"

var defaultDevSecret = []byte("authstate-dev-only-secret")

const defaultDevTokenTTL = 24 * time.Hour

// TrustedIdentity seeds a session during Bootstrap without consulting the
// oracle. It is the single injection point for development and test
// identities: runtime mode production always refuses it, and an optional
// feature gate may veto it unless Force is set.
type TrustedIdentity struct {
	User User
	// Token is optional; when empty a local HS256 token is minted so the
	// "user implies token" invariant holds.
	Token string
	// Force overrides a feature-gate veto. It never overrides production.
	Force bool
	// Secret signs minted tokens. A development default applies when empty.
	Secret []byte
	// TokenTTL bounds minted tokens, default 24h.
	TokenTTL time.Duration
}

// Validate checks the identity carries enough to build a session from.
func (ti TrustedIdentity) Validate() error {
	return validation.Errors{
		"email": validation.Validate(ti.User.Email, validation.Required, is.Email),
		"role":  validation.Validate(ti.User.Role, validation.Required, validation.In(RoleAdmin, RoleMember)),
	}.Filter()
}

func (ti TrustedIdentity) secretOrDefault() []byte {
	if len(ti.Secret) > 0 {
		return ti.Secret
	}
	return defaultDevSecret
}

func (ti TrustedIdentity) ttlOrDefault() time.Duration {
	if ti.TokenTTL > 0 {
		return ti.TokenTTL
	}
	return defaultDevTokenTTL
}

// DevModeInitialized reports whether a trusted identity seeded this process
// (and the marker has not expired).
func DevModeInitialized(ctx context.Context, store CredentialStore) bool {
	var initialized bool
	return store.Fact(ctx, FactDevMode, &initialized) && initialized
}

// injectTrustedIdentity seeds the store and snapshot from the configured
// identity. It reports false when injection was refused; bootstrap then
// proceeds normally.
func (sm *StateMachine) injectTrustedIdentity(ctx context.Context) (bool, error) {
	identity := sm.identity
	if identity == nil {
		return false, nil
	}

	if sm.mode == ModeProduction {
		sm.logger.Warn("trusted identity configured in production, refusing injection")
		return false, nil
	}

	// Force bypasses the gate, never the runtime mode check above.
	if sm.gate != nil && !identity.Force {
		if err := requireDevIdentityGate(ctx, sm.gate); err != nil {
			if errors.Is(err, ErrDevIdentityDisabled) {
				sm.logger.Info("trusted identity vetoed by feature gate")
				return false, nil
			}
			return false, err
		}
	}

	if err := identity.Validate(); err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid trusted identity")
	}

	user := identity.User
	if user.ID == uuid.Nil {
		id, err := hashid.NewUUID(user.Email)
		if err != nil {
			return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to derive identity id")
		}
		user.ID = id
	}
	user.IsActive = true

	token := identity.Token
	minted := false
	if token == "" {
		signed, err := mintDevToken(&user, identity.secretOrDefault(), identity.ttlOrDefault(), sm.clock.Now())
		if err != nil {
			return false, err
		}
		token = signed
		minted = true
	}

	seq := sm.seq.Add(1)
	_, err := sm.commit(seq, func() error {
		if err := sm.store.SetToken(ctx, token); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist token")
		}
		sm.cacheAuthFactsLocked(ctx, &user)
		if err := sm.store.PutFact(ctx, FactDevMode, true, DevModeCacheTTL); err != nil {
			sm.logger.Warn("failed to mark dev mode fact", "error", err)
		}
		sm.setUserLocked(&user)
		return nil
	})
	if err != nil {
		return false, err
	}

	sm.logger.Debug("trusted identity injected", "identity", print.MaybePrettyJSON(user))
	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventDevIdentity,
		UserID:    user.ID.String(),
		Email:     user.Email,
		Role:      user.Role,
		Metadata: map[string]any{
			"mode":         sm.mode.String(),
			"minted_token": minted,
		},
	})

	return true, nil
}

func mintDevToken(user *User, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    devTokenIssuer,
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UID:      user.ID.String(),
		UserRole: string(user.Role),
		Email:    user.Email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mint dev token")
	}
	return signed, nil
}
