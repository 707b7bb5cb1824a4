package authstate

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
)

// SessionFacts persists the TTL-scoped facts. Missing keys read as nil
// without error; expiry is enforced by the store layered on top, not here.
type SessionFacts interface {
	Get(ctx context.Context, key string) (*SessionFact, error)
	GetTx(ctx context.Context, tx bun.IDB, key string) (*SessionFact, error)
	Put(ctx context.Context, fact *SessionFact) error
	PutTx(ctx context.Context, tx bun.IDB, fact *SessionFact) error
	Delete(ctx context.Context, key string) error
	DeleteTx(ctx context.Context, tx bun.IDB, key string) error
	DeleteAll(ctx context.Context) error
	DeleteAllTx(ctx context.Context, tx bun.IDB) error
}

type sessionFacts struct {
	db *bun.DB
}

var _ SessionFacts = (*sessionFacts)(nil)

func NewSessionFactsRepository(db *bun.DB) SessionFacts {
	return &sessionFacts{db: db}
}

func (a *sessionFacts) Get(ctx context.Context, key string) (*SessionFact, error) {
	return a.GetTx(ctx, a.db, key)
}

func (a *sessionFacts) GetTx(ctx context.Context, tx bun.IDB, key string) (*SessionFact, error) {
	record := &SessionFact{}

	err := tx.NewSelect().
		Model(record).
		Where("key = ?", key).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return record, nil
}

func (a *sessionFacts) Put(ctx context.Context, fact *SessionFact) error {
	return a.PutTx(ctx, a.db, fact)
}

func (a *sessionFacts) PutTx(ctx context.Context, tx bun.IDB, fact *SessionFact) error {
	now := time.Now()
	fact.UpdatedAt = &now

	_, err := tx.NewInsert().
		Model(fact).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("expires_at = EXCLUDED.expires_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)

	return err
}

func (a *sessionFacts) Delete(ctx context.Context, key string) error {
	return a.DeleteTx(ctx, a.db, key)
}

func (a *sessionFacts) DeleteTx(ctx context.Context, tx bun.IDB, key string) error {
	_, err := tx.NewDelete().
		Model((*SessionFact)(nil)).
		Where("key = ?", key).
		Exec(ctx)
	return err
}

func (a *sessionFacts) DeleteAll(ctx context.Context) error {
	return a.DeleteAllTx(ctx, a.db)
}

func (a *sessionFacts) DeleteAllTx(ctx context.Context, tx bun.IDB) error {
	_, err := tx.NewDelete().
		Model((*SessionFact)(nil)).
		Where("1 = 1").
		Exec(ctx)
	return err
}
