package authstate

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// TokenClaims mirrors the claims the backend encodes into its bearer tokens.
// The backend stays the authority on token validity; these claims are used
// locally to short-circuit obviously expired credentials and to answer
// role questions on transports that never hit the state machine (WebSocket).
type TokenClaims struct {
	jwt.RegisteredClaims
	UID      string `json:"uid,omitempty"`
	UserRole string `json:"role,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Subject returns the subject claim
func (c *TokenClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the user ID, falling back to the subject claim.
func (c *TokenClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

// Role returns the role claim
func (c *TokenClaims) Role() string {
	return c.UserRole
}

// Expires returns the expiry time, zero when the token carries none.
func (c *TokenClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.ExpiresAt.Time
}

// IssuedAt returns the issuance time, zero when the token carries none.
func (c *TokenClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.IssuedAt.Time
}

// ExpiredAt reports whether the token is past its expiry at the given time.
// Tokens without an exp claim never report expired locally.
func (c *TokenClaims) ExpiredAt(now time.Time) bool {
	expires := c.Expires()
	if expires.IsZero() {
		return false
	}
	return now.After(expires)
}

// HasRole checks if the token carries a specific role
func (c *TokenClaims) HasRole(role string) bool {
	return c.UserRole == role
}

// IsAtLeast checks the role against a minimum. There is no role hierarchy
// here: admins satisfy every requirement, everyone else needs an exact match.
func (c *TokenClaims) IsAtLeast(minRole string) bool {
	if Role(c.UserRole).IsAdmin() {
		return true
	}
	return c.UserRole == minRole
}

// CanRead reports read access; any authenticated session may read.
func (c *TokenClaims) CanRead(string) bool {
	return true
}

// CanEdit reports edit access; admin only.
func (c *TokenClaims) CanEdit(string) bool {
	return Role(c.UserRole).IsAdmin()
}

// CanCreate reports create access; admin only.
func (c *TokenClaims) CanCreate(string) bool {
	return Role(c.UserRole).IsAdmin()
}

// CanDelete reports delete access; admin only.
func (c *TokenClaims) CanDelete(string) bool {
	return Role(c.UserRole).IsAdmin()
}

// InspectToken decodes claims without verifying the signature. Opaque
// (non-JWT) tokens fail to decode; callers treat that as "cannot introspect"
// and defer to the backend.
func InspectToken(tokenString string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "failed to decode token claims")
	}
	return claims, nil
}
