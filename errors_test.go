package authstate_test

import (
	"errors"
	"testing"

	"github.com/goliatone/go-authstate"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
)

func TestIsTokenExpiredError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "Legacy token expired error (string match)",
			err:      errors.New("some wrapper: token is expired"),
			expected: true,
		},
		{
			name:     "Different legacy error",
			err:      errors.New("invalid token"),
			expected: false,
		},
		{
			name:     "Nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := authstate.IsTokenExpiredError(tt.err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestIsMalformedError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "Legacy malformed error (string match)",
			err:      errors.New("token is malformed"),
			expected: true,
		},
		{
			name:     "Legacy missing JWT error (string match)",
			err:      errors.New("missing or malformed JWT"),
			expected: true,
		},
		{
			name:     "Different legacy error",
			err:      errors.New("invalid token"),
			expected: false,
		},
		{
			name:     "Nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := authstate.IsMalformedError(tt.err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestTaxonomyPredicates(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		predicate func(error) bool
		expected  bool
	}{
		{
			name:      "auth failure sentinel",
			err:       authstate.ErrAuthFailure,
			predicate: authstate.IsAuthFailure,
			expected:  true,
		},
		{
			name:      "auth failure wrapped with context",
			err:       goerrors.Wrap(authstate.ErrAuthFailure, goerrors.CategoryAuth, "account disabled"),
			predicate: authstate.IsAuthFailure,
			expected:  true,
		},
		{
			name:      "unauthenticated is not an auth failure",
			err:       authstate.ErrUnauthenticated,
			predicate: authstate.IsAuthFailure,
			expected:  false,
		},
		{
			name:      "unauthenticated sentinel",
			err:       authstate.ErrUnauthenticated,
			predicate: authstate.IsUnauthenticated,
			expected:  true,
		},
		{
			name:      "unreachable wrapped by the transport layer",
			err:       goerrors.Wrap(authstate.ErrUnreachable, goerrors.CategoryOperation, "login request failed"),
			predicate: authstate.IsUnreachable,
			expected:  true,
		},
		{
			name:      "unreachable is not unauthenticated",
			err:       authstate.ErrUnreachable,
			predicate: authstate.IsUnauthenticated,
			expected:  false,
		},
		{
			name:      "verification timeout sentinel",
			err:       authstate.ErrVerificationTimeout,
			predicate: authstate.IsVerificationTimeout,
			expected:  true,
		},
		{
			name:      "plain error matches nothing",
			err:       errors.New("boom"),
			predicate: authstate.IsAuthFailure,
			expected:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.predicate(tt.err))
		})
	}
}

func TestUserFacingMessage(t *testing.T) {
	t.Run("nil error has no message", func(t *testing.T) {
		msg, ok := authstate.UserFacingMessage(nil)
		assert.False(t, ok)
		assert.Empty(t, msg)
	})

	t.Run("silent taxonomy members have no message", func(t *testing.T) {
		for _, err := range []error{
			authstate.ErrUnauthenticated,
			authstate.ErrUnreachable,
			authstate.ErrVerificationTimeout,
			errors.New("plain"),
		} {
			_, ok := authstate.UserFacingMessage(err)
			assert.False(t, ok, "no user facing message for %v", err)
		}
	})

	t.Run("auth failures surface their message", func(t *testing.T) {
		err := goerrors.Wrap(authstate.ErrAuthFailure, goerrors.CategoryAuth, "account is not allowed")

		msg, ok := authstate.UserFacingMessage(err)
		assert.True(t, ok)
		assert.Equal(t, "account is not allowed", msg)
	})

	t.Run("bare sentinel falls back to the generic message", func(t *testing.T) {
		msg, ok := authstate.UserFacingMessage(authstate.ErrAuthFailure)
		assert.True(t, ok)
		assert.Equal(t, "authentication failed", msg)
	})
}

func TestStructuredErrorProperties(t *testing.T) {
	t.Run("ErrAuthFailure", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryAuth, authstate.ErrAuthFailure.Category)
		assert.Equal(t, "authentication failed", authstate.ErrAuthFailure.Message)
	})

	t.Run("ErrUnauthenticated", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryAuth, authstate.ErrUnauthenticated.Category)
		assert.Equal(t, "not authenticated", authstate.ErrUnauthenticated.Message)
	})

	t.Run("ErrUnreachable", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryOperation, authstate.ErrUnreachable.Category)
		assert.Equal(t, "backend unreachable", authstate.ErrUnreachable.Message)
	})

	t.Run("ErrVerificationTimeout", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryOperation, authstate.ErrVerificationTimeout.Category)
	})

	t.Run("ErrTokenExpired", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryAuth, authstate.ErrTokenExpired.Category)
		assert.Equal(t, "token is expired", authstate.ErrTokenExpired.Message)
	})

	t.Run("ErrTokenMalformed", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryAuth, authstate.ErrTokenMalformed.Category)
		assert.Equal(t, "token is malformed", authstate.ErrTokenMalformed.Message)
	})
}
