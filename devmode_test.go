package authstate_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-authstate"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func devIdentity() authstate.TrustedIdentity {
	return authstate.TrustedIdentity{
		User: authstate.User{
			Email:     "dev@example.com",
			FirstName: "Dev",
			Role:      authstate.RoleAdmin,
		},
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		raw      string
		expected authstate.Mode
	}{
		{"development", authstate.ModeDevelopment},
		{"dev", authstate.ModeDevelopment},
		{"local", authstate.ModeDevelopment},
		{" DEV ", authstate.ModeDevelopment},
		{"test", authstate.ModeTest},
		{"testing", authstate.ModeTest},
		{"production", authstate.ModeProduction},
		{"", authstate.ModeProduction},
		{"staging", authstate.ModeProduction},
		{"devel", authstate.ModeProduction},
	}

	for _, tt := range tests {
		t.Run("parses "+tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.expected, authstate.ParseMode(tt.raw))
		})
	}
}

func TestModeIsValid(t *testing.T) {
	assert.True(t, authstate.ModeProduction.IsValid())
	assert.True(t, authstate.ModeDevelopment.IsValid())
	assert.True(t, authstate.ModeTest.IsValid())
	assert.False(t, authstate.Mode("staging").IsValid())
	assert.False(t, authstate.Mode("").IsValid())
}

func TestTrustedIdentityValidate(t *testing.T) {
	valid := devIdentity()
	assert.NoError(t, valid.Validate())

	missingEmail := devIdentity()
	missingEmail.User.Email = ""
	assert.Error(t, missingEmail.Validate())

	badEmail := devIdentity()
	badEmail.User.Email = "not-an-email"
	assert.Error(t, badEmail.Validate())

	badRole := devIdentity()
	badRole.User.Role = authstate.Role("root")
	assert.Error(t, badRole.Validate())
}

func TestBootstrapInjectsTrustedIdentity(t *testing.T) {
	ctx := context.Background()
	store := authstate.NewMemoryCredentialStore()
	oracle := new(MockOracle)
	sink := &recordingSink{}

	sm, err := authstate.NewStateMachine(store, oracle,
		authstate.WithRuntimeMode(authstate.ModeDevelopment),
		authstate.WithTrustedIdentity(devIdentity()),
		authstate.WithStateMachineActivitySink(sink),
	)
	require.NoError(t, err)

	require.NoError(t, sm.Bootstrap(ctx))

	snap := sm.Snapshot()
	require.NotNil(t, snap.User)
	assert.Equal(t, "dev@example.com", snap.User.Email)
	assert.True(t, snap.IsAdmin)
	assert.True(t, snap.AuthChecked)
	assert.True(t, snap.User.IsActive)

	expectedID, err := hashid.NewUUID("dev@example.com")
	require.NoError(t, err)
	assert.Equal(t, expectedID, snap.User.ID, "the id derives from the email, stable across restarts")

	token, ok := store.Token(ctx)
	require.True(t, ok, "an injected user still implies a token")

	claims, err := authstate.InspectToken(token)
	require.NoError(t, err)
	assert.Equal(t, "authstate.dev", claims.Issuer)
	assert.Equal(t, expectedID.String(), claims.UserID())
	assert.Equal(t, "dev@example.com", claims.Email)
	assert.Equal(t, string(authstate.RoleAdmin), claims.Role())

	assert.True(t, authstate.DevModeInitialized(ctx, store))
	assert.True(t, sm.AuthenticatedFromCache(ctx))

	oracle.AssertNotCalled(t, "CurrentUser", mock.Anything)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, authstate.ActivityEventDevIdentity, events[0].EventType)
	assert.Equal(t, "development", events[0].Metadata["mode"])
	assert.Equal(t, true, events[0].Metadata["minted_token"])
}

func TestTrustedIdentityKeepsProvidedToken(t *testing.T) {
	ctx := context.Background()
	store := authstate.NewMemoryCredentialStore()

	identity := devIdentity()
	identity.Token = "externally-issued-token"

	sink := &recordingSink{}
	sm, err := authstate.NewStateMachine(store, new(MockOracle),
		authstate.WithRuntimeMode(authstate.ModeTest),
		authstate.WithTrustedIdentity(identity),
		authstate.WithStateMachineActivitySink(sink),
	)
	require.NoError(t, err)
	require.NoError(t, sm.Bootstrap(ctx))

	token, ok := store.Token(ctx)
	require.True(t, ok)
	assert.Equal(t, "externally-issued-token", token)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, false, events[0].Metadata["minted_token"])
}

func TestTrustedIdentityRefusedInProduction(t *testing.T) {
	ctx := context.Background()
	store := authstate.NewMemoryCredentialStore()
	oracle := new(MockOracle)
	g := &stubFeatureGate{}

	// default mode is production
	sm, err := authstate.NewStateMachine(store, oracle,
		authstate.WithTrustedIdentity(devIdentity()),
		authstate.WithStateMachineFeatureGate(g),
	)
	require.NoError(t, err)

	require.NoError(t, sm.Bootstrap(ctx))

	snap := sm.Snapshot()
	assert.False(t, snap.IsAuthenticated(), "production never seeds a session")
	assert.True(t, snap.AuthChecked, "bootstrap still resolves normally")

	_, hasToken := store.Token(ctx)
	assert.False(t, hasToken)
	assert.False(t, authstate.DevModeInitialized(ctx, store))
	assert.Empty(t, g.calls, "the mode check precedes the gate")
}

func TestTrustedIdentityGateVeto(t *testing.T) {
	ctx := context.Background()
	store := authstate.NewMemoryCredentialStore()
	g := &stubFeatureGate{
		enabled: map[string]bool{authstate.FeatureSessionDevIdentity: false},
	}

	sm, err := authstate.NewStateMachine(store, new(MockOracle),
		authstate.WithRuntimeMode(authstate.ModeDevelopment),
		authstate.WithTrustedIdentity(devIdentity()),
		authstate.WithStateMachineFeatureGate(g),
	)
	require.NoError(t, err)

	require.NoError(t, sm.Bootstrap(ctx), "a veto is not an error")

	snap := sm.Snapshot()
	assert.False(t, snap.IsAuthenticated())
	assert.True(t, snap.AuthChecked)
	assert.Contains(t, g.calls, authstate.FeatureSessionDevIdentity)
	assert.False(t, authstate.DevModeInitialized(ctx, store))
}

func TestTrustedIdentityForceSkipsGate(t *testing.T) {
	ctx := context.Background()
	store := authstate.NewMemoryCredentialStore()
	g := &stubFeatureGate{
		enabled: map[string]bool{authstate.FeatureSessionDevIdentity: false},
	}

	identity := devIdentity()
	identity.Force = true

	sm, err := authstate.NewStateMachine(store, new(MockOracle),
		authstate.WithRuntimeMode(authstate.ModeDevelopment),
		authstate.WithTrustedIdentity(identity),
		authstate.WithStateMachineFeatureGate(g),
	)
	require.NoError(t, err)

	require.NoError(t, sm.Bootstrap(ctx))

	assert.True(t, sm.Snapshot().IsAuthenticated())
	assert.Empty(t, g.calls, "force never consults the gate")
	assert.True(t, authstate.DevModeInitialized(ctx, store))
}

func TestTrustedIdentityInvalidFailsBootstrap(t *testing.T) {
	ctx := context.Background()

	identity := devIdentity()
	identity.User.Email = ""

	sm, err := authstate.NewStateMachine(authstate.NewMemoryCredentialStore(), new(MockOracle),
		authstate.WithRuntimeMode(authstate.ModeDevelopment),
		authstate.WithTrustedIdentity(identity),
	)
	require.NoError(t, err)

	err = sm.Bootstrap(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid trusted identity")
	assert.False(t, sm.Snapshot().AuthChecked)
}

func TestMintedDevTokenSignature(t *testing.T) {
	ctx := context.Background()
	store := authstate.NewMemoryCredentialStore()

	identity := devIdentity()
	identity.Secret = []byte("test-secret")
	identity.TokenTTL = time.Hour

	sm, err := authstate.NewStateMachine(store, new(MockOracle),
		authstate.WithRuntimeMode(authstate.ModeDevelopment),
		authstate.WithTrustedIdentity(identity),
	)
	require.NoError(t, err)
	require.NoError(t, sm.Bootstrap(ctx))

	token, ok := store.Token(ctx)
	require.True(t, ok)

	parsed, err := jwt.ParseWithClaims(token, &authstate.TokenClaims{}, func(*jwt.Token) (any, error) {
		return []byte("test-secret"), nil
	})
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	claims, ok := parsed.Claims.(*authstate.TokenClaims)
	require.True(t, ok)
	assert.Equal(t, "dev@example.com", claims.Email)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.Expires(), time.Minute)
	assert.False(t, claims.ExpiredAt(time.Now()))
}
