package authstate

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	goerrors "github.com/goliatone/go-errors"
)

// Storage layout. The durable slot survives restarts; everything else is
// session-scoped and carries its own expiry.
const (
	// TokenKey is the durable bearer token slot.
	TokenKey = "token"

	// FactAuth caches the "token was accepted" flag.
	FactAuth = "auth_cache"
	// FactUser caches the current user profile.
	FactUser = "user_cache"
	// FactAdmin caches the admin verification outcome.
	FactAdmin = "admin_check"
	// FactHealth caches a positive backend health probe.
	FactHealth = "health_cache"
	// FactDevMode marks that the trusted test identity was injected.
	FactDevMode = "dev_mode_initialized"

	// MarkerLastAuthCheck records when auth was last verified (unix millis).
	MarkerLastAuthCheck = "lastAuthCheck"
	// MarkerLastAdminCheck records when admin was last verified (unix millis).
	MarkerLastAdminCheck = "lastAdminCheck"
	// MarkerRedirect persists the path to return to after login.
	MarkerRedirect = "redirectAfterLogin"
)

// Cache lifetimes. The user profile TTL is part of the external contract;
// the rest balance verification cost against staleness.
const (
	AuthCacheTTL    = 2 * time.Minute
	UserCacheTTL    = 2 * time.Minute
	AdminCacheTTL   = 10 * time.Minute
	HealthCacheTTL  = 30 * time.Second
	DevModeCacheTTL = 24 * time.Hour
)

// CredentialStore is the injected storage used by the state machine, the
// session monitor, and the guards. Implementations must be safe for
// concurrent use. Facts written with a non-positive ttl never expire.
type CredentialStore interface {
	// SetToken replaces the durable token slot.
	SetToken(ctx context.Context, token string) error
	// Token returns the durable token, reporting presence.
	Token(ctx context.Context) (string, bool)
	// ClearToken empties the durable slot, leaving facts in place.
	ClearToken(ctx context.Context) error

	// PutFact stores a session-scoped value with its expiry envelope.
	PutFact(ctx context.Context, key string, value any, ttl time.Duration) error
	// Fact reads a session-scoped value into out. A fact past its expiry is
	// evicted and reported absent; so is one that fails to decode.
	Fact(ctx context.Context, key string, out any) bool
	// DeleteFact removes a single session-scoped entry.
	DeleteFact(ctx context.Context, key string) error

	// ClearAll removes the token and every fact. Used on logout and on
	// forced session expiry; always safe to call.
	ClearAll(ctx context.Context) error
}

// factEnvelope is the wire shape of a session-scoped entry: the value plus
// its absolute expiry in unix milliseconds. Zero means no expiry.
type factEnvelope struct {
	Value   json.RawMessage `json:"value"`
	Expires int64           `json:"expires"`
}

func encodeFact(value any, ttl time.Duration, now time.Time) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode fact value")
	}

	env := factEnvelope{Value: raw}
	if ttl > 0 {
		env.Expires = now.Add(ttl).UnixMilli()
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode fact envelope")
	}
	return data, nil
}

// decodeFact unpacks an envelope. expired or malformed entries report ok=false.
func decodeFact(data []byte, out any, now time.Time) bool {
	var env factEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false
	}
	if env.Expires > 0 && now.UnixMilli() > env.Expires {
		return false
	}
	if out == nil {
		return true
	}
	return json.Unmarshal(env.Value, out) == nil
}

// MemoryStoreOption customizes the in-memory store.
type MemoryStoreOption func(*MemoryCredentialStore)

// WithMemoryStoreClock injects a clock, letting tests drive expiry
// deterministically.
func WithMemoryStoreClock(c clock.Clock) MemoryStoreOption {
	return func(s *MemoryCredentialStore) {
		if c != nil {
			s.clock = c
		}
	}
}

// MemoryCredentialStore keeps the token and facts in process memory. The
// token slot is "durable" only for the life of the process; embed the Bun
// store when restarts must survive.
type MemoryCredentialStore struct {
	mu       sync.Mutex
	clock    clock.Clock
	token    string
	hasToken bool
	facts    map[string][]byte
}

// NewMemoryCredentialStore builds an empty in-memory store.
func NewMemoryCredentialStore(opts ...MemoryStoreOption) *MemoryCredentialStore {
	store := &MemoryCredentialStore{
		clock: clock.New(),
		facts: map[string][]byte{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	return store
}

var _ CredentialStore = (*MemoryCredentialStore)(nil)

func (s *MemoryCredentialStore) SetToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.hasToken = true
	return nil
}

func (s *MemoryCredentialStore) Token(_ context.Context) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasToken || s.token == "" {
		return "", false
	}
	return s.token, true
}

func (s *MemoryCredentialStore) ClearToken(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.hasToken = false
	return nil
}

func (s *MemoryCredentialStore) PutFact(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := encodeFact(value, ttl, s.clock.Now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts[key] = data
	return nil
}

func (s *MemoryCredentialStore) Fact(_ context.Context, key string, out any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.facts[key]
	if !ok {
		return false
	}

	if !decodeFact(data, out, s.clock.Now()) {
		delete(s.facts, key)
		return false
	}
	return true
}

func (s *MemoryCredentialStore) DeleteFact(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.facts, key)
	return nil
}

func (s *MemoryCredentialStore) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.hasToken = false
	s.facts = map[string][]byte{}
	return nil
}
