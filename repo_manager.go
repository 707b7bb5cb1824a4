package authstate

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// StorageManager exposes the persistence repositories backing the durable
// credential store.
type StorageManager interface {
	repository.Validator
	repository.TransactionManager
	Credentials() Credentials
	Facts() SessionFacts
}

type mngr struct {
	db          *bun.DB
	credentials Credentials
	facts       SessionFacts
}

func NewStorageManager(db *bun.DB) StorageManager {
	return &mngr{
		db:          db,
		credentials: NewCredentialsRepository(db),
		facts:       NewSessionFactsRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.credentials == nil {
		return errors.New("repository credentials should be initialized")
	}

	if m.facts == nil {
		return errors.New("repository facts should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Credentials() Credentials {
	return m.credentials
}

func (m mngr) Facts() SessionFacts {
	return m.facts
}
