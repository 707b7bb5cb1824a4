package authstate

import (
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeAuthFailure         = "AUTH_FAILURE"
	textCodeUnauthenticated     = "UNAUTHENTICATED"
	textCodeUnreachable         = "BACKEND_UNREACHABLE"
	textCodeVerificationTimeout = "VERIFICATION_TIMEOUT"
	textCodeTokenExpired        = "TOKEN_EXPIRED"
	textCodeTokenMalformed      = "TOKEN_MALFORMED"
)

// ErrAuthFailure is returned when a credential is rejected or the profile
// fetch that follows a login fails. It is the only taxonomy member meant to
// be shown to the end user.
var ErrAuthFailure = goerrors.New("authentication failed", goerrors.CategoryAuth).
	WithTextCode(textCodeAuthFailure).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnauthenticated is returned when no token is present or the backend no
// longer accepts it. Consumers handle it with a silent local logout, never an
// error banner.
var ErrUnauthenticated = goerrors.New("not authenticated", goerrors.CategoryAuth).
	WithTextCode(textCodeUnauthenticated).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnreachable is returned when the backend cannot be reached at all. It is
// advisory: non-production runtimes downgrade it to a warning and proceed.
var ErrUnreachable = goerrors.New("backend unreachable", goerrors.CategoryOperation).
	WithTextCode(textCodeUnreachable)

// ErrVerificationTimeout is the guard-level safety valve for a verification
// call that never resolves. It is an escape hatch, not a real failure.
var ErrVerificationTimeout = goerrors.New("verification timed out", goerrors.CategoryOperation).
	WithTextCode(textCodeVerificationTimeout)

// ErrTokenExpired is returned when a bearer token is past its expiry.
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(textCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned when a bearer token cannot be parsed.
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(textCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// IsAuthFailure reports whether err represents a rejected login.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrAuthFailure)
}

// IsUnauthenticated reports whether err represents a missing or expired
// credential.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

// IsUnreachable reports whether err represents a transport-level failure.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// IsVerificationTimeout reports whether err is the guard safety timeout.
func IsVerificationTimeout(err error) bool {
	return errors.Is(err, ErrVerificationTimeout)
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed")
}

// UserFacingMessage extracts the message that may be shown inline to the end
// user. Only login failures qualify; every other kind is handled silently.
func UserFacingMessage(err error) (string, bool) {
	if err == nil || !IsAuthFailure(err) {
		return "", false
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Message != "" {
		return rich.Message, true
	}
	return "authentication failed", true
}
