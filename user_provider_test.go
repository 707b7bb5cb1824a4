package authstate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-authstate"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUserSource struct {
	snapshot authstate.Snapshot
	cached   *authstate.User
}

func (s *stubUserSource) Snapshot() authstate.Snapshot {
	return s.snapshot
}

func (s *stubUserSource) CachedUser(ctx context.Context) (*authstate.User, bool) {
	return s.cached, s.cached != nil
}

func TestUserProviderCurrentUser(t *testing.T) {
	ctx := context.Background()

	t.Run("prefers the live snapshot", func(t *testing.T) {
		live := adminTestUser()
		provider := authstate.NewUserProvider(&stubUserSource{
			snapshot: authstate.Snapshot{User: live, AuthChecked: true},
			cached:   memberTestUser(),
		})

		user, err := provider.CurrentUser(ctx)
		require.NoError(t, err)
		assert.Same(t, live, user)
	})

	t.Run("falls back to the cached profile", func(t *testing.T) {
		cached := memberTestUser()
		provider := authstate.NewUserProvider(&stubUserSource{cached: cached})

		user, err := provider.CurrentUser(ctx)
		require.NoError(t, err)
		assert.Same(t, cached, user)
	})

	t.Run("unauthenticated when no user anywhere", func(t *testing.T) {
		provider := authstate.NewUserProvider(&stubUserSource{})

		user, err := provider.CurrentUser(ctx)
		assert.Nil(t, user)
		assert.ErrorIs(t, err, authstate.ErrUnauthenticated)
	})

	t.Run("rejects a user with an invalid role", func(t *testing.T) {
		provider := authstate.NewUserProvider(&stubUserSource{
			snapshot: authstate.Snapshot{User: &authstate.User{
				ID:    uuid.New(),
				Email: "odd@example.com",
				Role:  "superuser",
			}},
		})

		user, err := provider.CurrentUser(ctx)
		assert.Nil(t, user)
		require.Error(t, err)

		var rich *goerrors.Error
		require.True(t, goerrors.As(err, &rich))
		assert.Equal(t, "INVALID_ROLE", rich.TextCode)
	})
}

func TestUserProviderTemplateUser(t *testing.T) {
	ctx := context.Background()

	t.Run("renders the session user", func(t *testing.T) {
		live := adminTestUser()
		provider := authstate.NewUserProvider(&stubUserSource{
			snapshot: authstate.Snapshot{User: live, AuthChecked: true},
		})

		user, err := provider.TemplateUser(ctx, nil)
		require.NoError(t, err)
		assert.Same(t, live, user)
	})

	t.Run("falls back to a claims shell", func(t *testing.T) {
		provider := authstate.NewUserProvider(&stubUserSource{})

		shellID := uuid.New()
		claims := authstate.ClaimsFromUser(&authstate.User{
			ID:    shellID,
			Email: "member@example.com",
			Role:  authstate.RoleMember,
		})

		user, err := provider.TemplateUser(ctx, claims)
		require.NoError(t, err)
		assert.Equal(t, "member@example.com", user.Email)
		assert.Equal(t, authstate.RoleMember, user.Role)
		assert.Equal(t, shellID, user.ID)
	})

	t.Run("no session and no claims", func(t *testing.T) {
		provider := authstate.NewUserProvider(&stubUserSource{})

		user, err := provider.TemplateUser(ctx, nil)
		assert.Nil(t, user)
		assert.ErrorIs(t, err, authstate.ErrUnauthenticated)
	})

	t.Run("a roleless claims shell does not render", func(t *testing.T) {
		provider := authstate.NewUserProvider(&stubUserSource{})

		user, err := provider.TemplateUser(ctx, &authstate.TokenClaims{Email: "ghost@example.com"})
		assert.Nil(t, user)
		assert.ErrorIs(t, err, authstate.ErrUnauthenticated)
	})
}

func TestUserProviderValidation(t *testing.T) {
	provider := authstate.NewUserProvider(&stubUserSource{})

	for _, role := range []authstate.Role{authstate.RoleAdmin, authstate.RoleMember} {
		t.Run("Valid role: "+role.String(), func(t *testing.T) {
			user := &authstate.User{
				ID:    uuid.New(),
				Email: "test@example.com",
				Role:  role,
			}

			assert.NoError(t, provider.Validator(user))
		})
	}

	t.Run("Invalid role", func(t *testing.T) {
		user := &authstate.User{
			ID:    uuid.New(),
			Email: "test@example.com",
			Role:  "invalid_role",
		}

		err := provider.Validator(user)
		require.Error(t, err)

		var rich *goerrors.Error
		require.True(t, goerrors.As(err, &rich))
		assert.Equal(t, "INVALID_ROLE", rich.TextCode)
	})

	t.Run("Nil user", func(t *testing.T) {
		assert.ErrorIs(t, provider.Validator(nil), authstate.ErrUnauthenticated)
	})

	t.Run("Custom validator", func(t *testing.T) {
		customErr := errors.New("custom validation error")
		provider.Validator = func(u *authstate.User) error {
			return customErr
		}

		err := provider.Validator(&authstate.User{ID: uuid.New()})
		assert.Equal(t, customErr, err)
	})
}

func TestUserFromClaims(t *testing.T) {
	t.Run("nil claims", func(t *testing.T) {
		assert.Nil(t, authstate.UserFromClaims(nil))
	})

	t.Run("email falls back to the subject", func(t *testing.T) {
		claims := &authstate.TokenClaims{UserRole: "Member"}
		claims.RegisteredClaims.Subject = "subject@example.com"

		user := authstate.UserFromClaims(claims)
		require.NotNil(t, user)
		assert.Equal(t, "subject@example.com", user.Email)
	})

	t.Run("non uuid id is dropped", func(t *testing.T) {
		user := authstate.UserFromClaims(&authstate.TokenClaims{
			UID:      "not-a-uuid",
			UserRole: "Member",
			Email:    "member@example.com",
		})
		require.NotNil(t, user)
		assert.Equal(t, uuid.Nil, user.ID)
	})
}

func TestClaimsFromUser(t *testing.T) {
	assert.Nil(t, authstate.ClaimsFromUser(nil))

	id := uuid.New()
	claims := authstate.ClaimsFromUser(&authstate.User{
		ID:    id,
		Email: "admin@example.com",
		Role:  authstate.RoleAdmin,
	})
	require.NotNil(t, claims)
	assert.Equal(t, id.String(), claims.UserID())
	assert.Equal(t, "Admin", claims.Role())
	assert.Equal(t, "admin@example.com", claims.Email)
	assert.Equal(t, "admin@example.com", claims.Subject())
}
