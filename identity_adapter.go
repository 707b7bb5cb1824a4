package authstate

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// UserFromClaims builds a renderable User from token claims. Only the fields
// a token carries are populated; the ID survives only when it parses as a
// UUID.
func UserFromClaims(claims *TokenClaims) *User {
	if claims == nil {
		return nil
	}

	user := &User{
		Email:    claims.Email,
		Role:     Role(claims.Role()),
		IsActive: true,
	}
	if user.Email == "" {
		user.Email = claims.Subject()
	}
	if id, err := uuid.Parse(claims.UserID()); err == nil {
		user.ID = id
	}

	return user
}

// ClaimsFromUser mirrors a session user into token claims for transports
// that reason about claims rather than users.
func ClaimsFromUser(user *User) *TokenClaims {
	if user == nil {
		return nil
	}

	return &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: user.Email,
		},
		UID:      user.ID.String(),
		UserRole: string(user.Role),
		Email:    user.Email,
	}
}
