package authstate_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goliatone/go-authstate"
	"github.com/goliatone/go-repository-bun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/mattn/go-sqlite3"
)

const (
	sqliteCreateCredentials = `CREATE TABLE credentials (
    id TEXT NOT NULL PRIMARY KEY,
    token TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`
	sqliteCreateSessionFacts = `CREATE TABLE session_facts (
    key VARCHAR(64) NOT NULL PRIMARY KEY,
    value TEXT NOT NULL,
    expires_at BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMP
);`
)

func setupBunStore(t *testing.T) (*authstate.BunCredentialStore, *bun.DB, *clock.Mock, func()) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())

	_, err = bunDB.Exec(sqliteCreateCredentials)
	require.NoError(t, err)
	_, err = bunDB.Exec(sqliteCreateSessionFacts)
	require.NoError(t, err)

	mockClock := clock.NewMock()

	store, err := authstate.NewBunCredentialStore(
		authstate.NewStorageManager(bunDB),
		authstate.WithBunStoreClock(mockClock),
	)
	require.NoError(t, err)

	cleanup := func() {
		_ = bunDB.Close()
		_ = db.Close()
	}

	return store, bunDB, mockClock, cleanup
}

func TestNewBunCredentialStoreRequiresManager(t *testing.T) {
	_, err := authstate.NewBunCredentialStore(nil)
	require.Error(t, err)
}

func TestBunStoreTokenSlot(t *testing.T) {
	store, bunDB, _, cleanup := setupBunStore(t)
	defer cleanup()

	ctx := context.Background()

	_, ok := store.Token(ctx)
	assert.False(t, ok, "empty store should report no token")

	require.NoError(t, store.SetToken(ctx, "bearer-123"))

	token, ok := store.Token(ctx)
	require.True(t, ok)
	assert.Equal(t, "bearer-123", token)

	// a second write replaces the slot rather than growing it
	require.NoError(t, store.SetToken(ctx, "bearer-456"))

	token, ok = store.Token(ctx)
	require.True(t, ok)
	assert.Equal(t, "bearer-456", token)

	count, err := bunDB.NewSelect().
		Model((*authstate.StoredCredential)(nil)).
		Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, store.ClearToken(ctx))
	_, ok = store.Token(ctx)
	assert.False(t, ok)
}

func TestBunStoreFactRoundTrip(t *testing.T) {
	store, _, _, cleanup := setupBunStore(t)
	defer cleanup()

	ctx := context.Background()
	user := memberTestUser()

	require.NoError(t, store.PutFact(ctx, authstate.FactUser, user, authstate.UserCacheTTL))
	require.NoError(t, store.PutFact(ctx, authstate.FactAuth, true, authstate.AuthCacheTTL))
	require.NoError(t, store.PutFact(ctx, authstate.MarkerRedirect, "/admin/reports", 0))

	var decoded authstate.User
	require.True(t, store.Fact(ctx, authstate.FactUser, &decoded))
	assert.Equal(t, user.ID, decoded.ID)
	assert.Equal(t, user.Email, decoded.Email)
	assert.Equal(t, user.Role, decoded.Role)

	var authed bool
	require.True(t, store.Fact(ctx, authstate.FactAuth, &authed))
	assert.True(t, authed)

	var path string
	require.True(t, store.Fact(ctx, authstate.MarkerRedirect, &path))
	assert.Equal(t, "/admin/reports", path)
}

func TestBunStoreFactOverwrite(t *testing.T) {
	store, _, _, cleanup := setupBunStore(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, store.PutFact(ctx, authstate.FactAuth, true, 0))
	require.NoError(t, store.PutFact(ctx, authstate.FactAuth, false, 0))

	var authed bool
	require.True(t, store.Fact(ctx, authstate.FactAuth, &authed))
	assert.False(t, authed, "the second write wins")
}

func TestBunStoreFactExpiryBoundary(t *testing.T) {
	store, _, mockClock, cleanup := setupBunStore(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, store.PutFact(ctx, authstate.FactHealth, true, 30*time.Second))

	// 1ms before the expiry instant the fact is still valid.
	mockClock.Add(29999 * time.Millisecond)
	var healthy bool
	assert.True(t, store.Fact(ctx, authstate.FactHealth, &healthy))
	assert.True(t, healthy)

	// 1ms past it the fact is gone.
	mockClock.Add(2 * time.Millisecond)
	assert.False(t, store.Fact(ctx, authstate.FactHealth, &healthy))
}

func TestBunStoreExpiredFactEvictedFromTable(t *testing.T) {
	store, bunDB, mockClock, cleanup := setupBunStore(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, store.PutFact(ctx, authstate.FactAuth, true, time.Minute))
	mockClock.Add(2 * time.Minute)

	assert.False(t, store.Fact(ctx, authstate.FactAuth, nil))

	// the lazy read deletes the stale row
	count, err := bunDB.NewSelect().
		Model((*authstate.SessionFact)(nil)).
		Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestBunStoreMismatchedFactEvicted(t *testing.T) {
	store, _, _, cleanup := setupBunStore(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, store.PutFact(ctx, authstate.FactUser, "not-a-user", 0))

	var decoded authstate.User
	assert.False(t, store.Fact(ctx, authstate.FactUser, &decoded))
	assert.False(t, store.Fact(ctx, authstate.FactUser, nil), "undecodable fact is dropped")
}

func TestBunStoreDeleteFact(t *testing.T) {
	store, _, _, cleanup := setupBunStore(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, store.PutFact(ctx, authstate.FactAuth, true, 0))
	require.NoError(t, store.DeleteFact(ctx, authstate.FactAuth))

	assert.False(t, store.Fact(ctx, authstate.FactAuth, nil))
}

func TestBunStoreClearAll(t *testing.T) {
	store, bunDB, _, cleanup := setupBunStore(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, store.SetToken(ctx, "bearer-123"))
	require.NoError(t, store.PutFact(ctx, authstate.FactAuth, true, 0))
	require.NoError(t, store.PutFact(ctx, authstate.FactUser, memberTestUser(), 0))

	require.NoError(t, store.ClearAll(ctx))

	_, ok := store.Token(ctx)
	assert.False(t, ok)
	assert.False(t, store.Fact(ctx, authstate.FactAuth, nil))
	assert.False(t, store.Fact(ctx, authstate.FactUser, nil))

	count, err := bunDB.NewSelect().
		Model((*authstate.SessionFact)(nil)).
		Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestBunStoreSurvivesRestart(t *testing.T) {
	store, bunDB, _, cleanup := setupBunStore(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, store.SetToken(ctx, "bearer-123"))
	require.NoError(t, store.PutFact(ctx, authstate.FactDevMode, true, 0))

	// a fresh store over the same database sees the durable state
	reopened, err := authstate.NewBunCredentialStore(authstate.NewStorageManager(bunDB))
	require.NoError(t, err)

	token, ok := reopened.Token(ctx)
	require.True(t, ok)
	assert.Equal(t, "bearer-123", token)

	var initialized bool
	require.True(t, reopened.Fact(ctx, authstate.FactDevMode, &initialized))
	assert.True(t, initialized)
}

func TestStorageManagerValidate(t *testing.T) {
	_, bunDB, _, cleanup := setupBunStore(t)
	defer cleanup()

	mngr := authstate.NewStorageManager(bunDB)
	require.NoError(t, mngr.Validate())
	assert.NotPanics(t, func() { mngr.MustValidate() })
}

func TestCredentialsRepositoryReplace(t *testing.T) {
	_, bunDB, _, cleanup := setupBunStore(t)
	defer cleanup()

	ctx := context.Background()
	repo := authstate.NewCredentialsRepository(bunDB)

	_, err := repo.Current(ctx)
	require.Error(t, err)
	assert.True(t, repository.IsRecordNotFound(err))

	first, err := repo.Replace(ctx, "token-1")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := repo.Replace(ctx, "token-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	current, err := repo.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-2", current.Token)

	count, err := bunDB.NewSelect().
		Model((*authstate.StoredCredential)(nil)).
		Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, repo.Purge(ctx))
	_, err = repo.Current(ctx)
	assert.True(t, repository.IsRecordNotFound(err))
}

func TestSessionFactsRepository(t *testing.T) {
	_, bunDB, _, cleanup := setupBunStore(t)
	defer cleanup()

	ctx := context.Background()
	repo := authstate.NewSessionFactsRepository(bunDB)

	// missing keys read as nil, not as an error
	fact, err := repo.Get(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, fact)

	require.NoError(t, repo.Put(ctx, &authstate.SessionFact{
		Key:   "greeting",
		Value: json.RawMessage(`"hello"`),
	}))

	fact, err = repo.Get(ctx, "greeting")
	require.NoError(t, err)
	require.NotNil(t, fact)
	assert.JSONEq(t, `"hello"`, string(fact.Value))
	require.NotNil(t, fact.UpdatedAt)

	// writing the same key again upserts
	require.NoError(t, repo.Put(ctx, &authstate.SessionFact{
		Key:       "greeting",
		Value:     json.RawMessage(`"goodbye"`),
		ExpiresAt: 1234,
	}))

	fact, err = repo.Get(ctx, "greeting")
	require.NoError(t, err)
	require.NotNil(t, fact)
	assert.JSONEq(t, `"goodbye"`, string(fact.Value))
	assert.EqualValues(t, 1234, fact.ExpiresAt)

	require.NoError(t, repo.Delete(ctx, "greeting"))
	fact, err = repo.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.Nil(t, fact)

	require.NoError(t, repo.Put(ctx, &authstate.SessionFact{Key: "a", Value: json.RawMessage(`1`)}))
	require.NoError(t, repo.Put(ctx, &authstate.SessionFact{Key: "b", Value: json.RawMessage(`2`)}))
	require.NoError(t, repo.DeleteAll(ctx))

	count, err := bunDB.NewSelect().
		Model((*authstate.SessionFact)(nil)).
		Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
