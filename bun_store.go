package authstate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/benbjohnson/clock"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// BunStoreOption customizes the durable store.
type BunStoreOption func(*BunCredentialStore)

// WithBunStoreClock injects a clock, letting tests drive expiry
// deterministically.
func WithBunStoreClock(c clock.Clock) BunStoreOption {
	return func(s *BunCredentialStore) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithBunStoreLogger sets the store logger.
func WithBunStoreLogger(logger Logger) BunStoreOption {
	return func(s *BunCredentialStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBunStoreLoggerProvider resolves a scoped store logger from the provider.
func WithBunStoreLoggerProvider(provider LoggerProvider) BunStoreOption {
	return func(s *BunCredentialStore) {
		_, s.logger = ResolveLogger("authstate.store", provider, s.logger)
	}
}

// BunCredentialStore keeps the token and facts in a SQL database so the
// session survives process restarts. It is the durable counterpart of
// MemoryCredentialStore and obeys the same expiry semantics.
type BunCredentialStore struct {
	mngr   StorageManager
	clock  clock.Clock
	logger Logger
}

// NewBunCredentialStore builds the durable store on top of the storage
// manager.
func NewBunCredentialStore(mngr StorageManager, opts ...BunStoreOption) (*BunCredentialStore, error) {
	if mngr == nil {
		return nil, goerrors.New("storage manager is required", goerrors.CategoryBadInput)
	}

	if err := mngr.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid storage manager")
	}

	store := &BunCredentialStore{
		mngr:   mngr,
		clock:  clock.New(),
		logger: defaultLogger(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	return store, nil
}

var _ CredentialStore = (*BunCredentialStore)(nil)

func (s *BunCredentialStore) SetToken(ctx context.Context, token string) error {
	_, err := s.mngr.Credentials().Replace(ctx, token)
	return err
}

func (s *BunCredentialStore) Token(ctx context.Context) (string, bool) {
	record, err := s.mngr.Credentials().Current(ctx)
	if err != nil {
		if !repository.IsRecordNotFound(err) {
			s.logger.Warn("failed to read stored credential", "error", err)
		}
		return "", false
	}

	if record == nil || record.Token == "" {
		return "", false
	}
	return record.Token, true
}

func (s *BunCredentialStore) ClearToken(ctx context.Context) error {
	return s.mngr.Credentials().Purge(ctx)
}

func (s *BunCredentialStore) PutFact(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode fact value")
	}

	fact := &SessionFact{
		Key:   key,
		Value: raw,
	}
	if ttl > 0 {
		fact.ExpiresAt = s.clock.Now().Add(ttl).UnixMilli()
	}

	return s.mngr.Facts().Put(ctx, fact)
}

func (s *BunCredentialStore) Fact(ctx context.Context, key string, out any) bool {
	fact, err := s.mngr.Facts().Get(ctx, key)
	if err != nil {
		s.logger.Warn("failed to read fact", "key", key, "error", err)
		return false
	}
	if fact == nil {
		return false
	}

	if fact.Expired(s.clock.Now()) {
		s.evict(ctx, key)
		return false
	}

	if out == nil {
		return true
	}

	if err := json.Unmarshal(fact.Value, out); err != nil {
		s.evict(ctx, key)
		return false
	}
	return true
}

func (s *BunCredentialStore) DeleteFact(ctx context.Context, key string) error {
	return s.mngr.Facts().Delete(ctx, key)
}

func (s *BunCredentialStore) ClearAll(ctx context.Context) error {
	return s.mngr.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.mngr.Credentials().PurgeTx(ctx, tx); err != nil {
			return err
		}
		return s.mngr.Facts().DeleteAllTx(ctx, tx)
	})
}

func (s *BunCredentialStore) evict(ctx context.Context, key string) {
	if err := s.mngr.Facts().Delete(ctx, key); err != nil {
		s.logger.Warn("failed to evict fact", "key", key, "error", err)
	}
}
