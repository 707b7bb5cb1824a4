package authstate

import (
	"context"

	"github.com/benbjohnson/clock"
)

// TokenValidator validates tokens and extracts claims without tying callers
// to a specific verification implementation.
type TokenValidator interface {
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenValidatorFunc adapts a function into a TokenValidator.
type TokenValidatorFunc func(tokenString string) (*TokenClaims, error)

// Validate satisfies the TokenValidator interface.
func (f TokenValidatorFunc) Validate(tokenString string) (*TokenClaims, error) {
	if f == nil {
		return nil, ErrTokenMalformed
	}
	return f(tokenString)
}

// SessionTokenValidator accepts a token only when it matches the live session
// credential. JWT claims are decoded for role checks; an opaque token that
// matches the stored credential yields empty claims since the backend already
// vouched for it.
type SessionTokenValidator struct {
	store CredentialStore
	clock clock.Clock
}

// SessionTokenValidatorOption customizes the session token validator.
type SessionTokenValidatorOption func(*SessionTokenValidator)

// WithValidatorClock sets the clock used for local expiry checks.
func WithValidatorClock(clk clock.Clock) SessionTokenValidatorOption {
	return func(v *SessionTokenValidator) {
		if clk != nil {
			v.clock = clk
		}
	}
}

// NewSessionTokenValidator creates a validator backed by the credential store.
func NewSessionTokenValidator(store CredentialStore, opts ...SessionTokenValidatorOption) *SessionTokenValidator {
	v := &SessionTokenValidator{
		store: store,
		clock: clock.New(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}

	return v
}

// Validate satisfies the TokenValidator interface.
func (v *SessionTokenValidator) Validate(tokenString string) (*TokenClaims, error) {
	if v.store == nil || tokenString == "" {
		return nil, ErrUnauthenticated
	}

	stored, ok := v.store.Token(context.Background())
	if !ok || stored != tokenString {
		return nil, ErrUnauthenticated
	}

	claims, err := InspectToken(tokenString)
	if err != nil {
		// Opaque token, but it matches the live session credential.
		return &TokenClaims{}, nil
	}

	if claims.ExpiredAt(v.clock.Now()) {
		return nil, ErrTokenExpired
	}

	return claims, nil
}

// MultiTokenValidator tries validators in order until one succeeds.
// It treats malformed-token failures as "try next" and returns the last
// malformed error if all validators fail.
type MultiTokenValidator struct {
	validators []TokenValidator
}

// NewMultiTokenValidator filters nil validators and returns a composite validator.
func NewMultiTokenValidator(validators ...TokenValidator) *MultiTokenValidator {
	filtered := make([]TokenValidator, 0, len(validators))
	for _, v := range validators {
		if v != nil {
			filtered = append(filtered, v)
		}
	}
	return &MultiTokenValidator{validators: filtered}
}

// Validate satisfies the TokenValidator interface.
func (m *MultiTokenValidator) Validate(tokenString string) (*TokenClaims, error) {
	var lastErr error
	for _, v := range m.validators {
		claims, err := v.Validate(tokenString)
		if err == nil {
			return claims, nil
		}
		if IsMalformedError(err) {
			lastErr = err
			continue
		}
		return nil, err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrTokenMalformed
}
