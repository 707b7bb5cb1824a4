package authstate

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Credentials persists the durable token slot. At most one live credential
// row exists at a time; Replace swaps it atomically.
type Credentials interface {
	repository.Repository[*StoredCredential]

	Current(ctx context.Context) (*StoredCredential, error)
	CurrentTx(ctx context.Context, tx bun.IDB) (*StoredCredential, error)
	Replace(ctx context.Context, token string) (*StoredCredential, error)
	ReplaceTx(ctx context.Context, tx bun.IDB, token string) (*StoredCredential, error)
	Purge(ctx context.Context) error
	PurgeTx(ctx context.Context, tx bun.IDB) error
}

type credentials struct {
	repository.Repository[*StoredCredential]
	db *bun.DB
}

var (
	_ Credentials                              = (*credentials)(nil)
	_ repository.Repository[*StoredCredential] = (*credentials)(nil)
)

func NewCredentialsRepository(db *bun.DB) Credentials {
	repo := repository.NewRepository[*StoredCredential](db, repository.ModelHandlers[*StoredCredential]{
		NewRecord: func() *StoredCredential { return &StoredCredential{} },
		GetID: func(c *StoredCredential) uuid.UUID {
			if c == nil {
				return uuid.Nil
			}
			return c.ID
		},
		SetID: func(c *StoredCredential, id uuid.UUID) {
			if c != nil {
				c.ID = id
			}
		},
	})

	return &credentials{
		Repository: repo,
		db:         db,
	}
}

func (a *credentials) Current(ctx context.Context) (*StoredCredential, error) {
	return a.CurrentTx(ctx, a.db)
}

func (a *credentials) CurrentTx(ctx context.Context, tx bun.IDB) (*StoredCredential, error) {
	record := &StoredCredential{}

	err := tx.NewSelect().
		Model(record).
		Order("updated_at DESC").
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) || err == sql.ErrNoRows {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"slot": "token",
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *credentials) Replace(ctx context.Context, token string) (*StoredCredential, error) {
	var record *StoredCredential
	err := a.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var txErr error
		record, txErr = a.ReplaceTx(ctx, tx, token)
		return txErr
	})
	return record, err
}

func (a *credentials) ReplaceTx(ctx context.Context, tx bun.IDB, token string) (*StoredCredential, error) {
	if err := a.PurgeTx(ctx, tx); err != nil {
		return nil, err
	}

	now := time.Now()
	record := &StoredCredential{
		ID:        uuid.New(),
		Token:     token,
		CreatedAt: &now,
		UpdatedAt: &now,
	}

	return a.Repository.CreateTx(ctx, tx, record)
}

func (a *credentials) Purge(ctx context.Context) error {
	return a.PurgeTx(ctx, a.db)
}

func (a *credentials) PurgeTx(ctx context.Context, tx bun.IDB) error {
	_, err := tx.NewDelete().
		Model((*StoredCredential)(nil)).
		Where("1 = 1").
		Exec(ctx)
	return err
}
