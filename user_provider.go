package authstate

import (
	"context"

	"github.com/goliatone/go-errors"
)

// SessionUserSource is the slice of the state machine the provider reads.
type SessionUserSource interface {
	Snapshot() Snapshot
	CachedUser(ctx context.Context) (*User, bool)
}

// UserProvider resolves the active session user for request handling and
// template rendering.
type UserProvider struct {
	source    SessionUserSource
	Validator func(*User) error
	logger    Logger
	provider  LoggerProvider
}

// NewUserProvider will create a new UserProvider
func NewUserProvider(source SessionUserSource) *UserProvider {
	loggerProvider, logger := ResolveLogger("authstate.user_provider", nil, nil)
	return &UserProvider{
		source:    source,
		logger:    logger,
		provider:  loggerProvider,
		Validator: defaultValidator,
	}
}

func (u *UserProvider) WithLogger(l Logger) *UserProvider {
	u.provider, u.logger = ResolveLogger("authstate.user_provider", u.provider, l)
	return u
}

// WithLoggerProvider overrides the logger provider used by the user provider.
func (u *UserProvider) WithLoggerProvider(provider LoggerProvider) *UserProvider {
	u.provider, u.logger = ResolveLogger("authstate.user_provider", provider, u.logger)
	return u
}

func (u *UserProvider) validate(user *User) error {
	if u.Validator != nil {
		return u.Validator(user)
	}
	return defaultValidator(user)
}

// CurrentUser returns the authenticated session user, preferring the live
// snapshot and falling back to the durable profile cache.
func (u *UserProvider) CurrentUser(ctx context.Context) (*User, error) {
	snap := u.source.Snapshot()

	user := snap.User
	if user == nil {
		cached, ok := u.source.CachedUser(ctx)
		if !ok {
			return nil, ErrUnauthenticated
		}
		user = cached
	}

	if err := u.validate(user); err != nil {
		return nil, err
	}

	return user, nil
}

// TemplateUser resolves the value rendered for an authenticated request. The
// session user wins; when both the snapshot and the cache are empty a
// claims-derived shell keeps the templates rendering.
func (u *UserProvider) TemplateUser(ctx context.Context, claims *TokenClaims) (*User, error) {
	user, err := u.CurrentUser(ctx)
	if err == nil {
		return user, nil
	}

	if shell := UserFromClaims(claims); shell != nil {
		if verr := u.validate(shell); verr == nil {
			u.logger.Debug("session user missing, rendering claims shell", "user_id", shell.ID.String())
			return shell, nil
		}
	}

	return nil, err
}

func defaultValidator(u *User) error {
	if u == nil {
		return ErrUnauthenticated
	}

	if !u.Role.IsValid() {
		return errors.New("user has an unkonwn or invalid role", errors.CategoryAuth).
			WithTextCode("INVALID_ROLE").
			WithMetadata(map[string]any{"role": u.Role, "user_id": u.ID.String()})
	}

	return nil
}
