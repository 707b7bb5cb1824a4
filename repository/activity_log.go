package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	authstate "github.com/goliatone/go-authstate"
	"github.com/goliatone/go-authstate/activitymap"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ActivityLogModel is the Bun model for recorded session activity.
type ActivityLogModel struct {
	bun.BaseModel `bun:"table:activity_log"`

	ID         uuid.UUID      `bun:"id,pk,nullzero,type:uuid"`
	EventType  string         `bun:"event_type,notnull"`
	Actor      string         `bun:"actor,notnull"`
	Channel    string         `bun:"channel,notnull"`
	ObjectType string         `bun:"object_type,notnull"`
	ObjectID   string         `bun:"object_id"`
	Metadata   map[string]any `bun:"metadata,type:jsonb"`
	OccurredAt time.Time      `bun:"occurred_at,notnull"`
	CreatedAt  time.Time      `bun:"created_at,default:current_timestamp"`
}

// ActivityLogRepository persists normalized session activity using Bun.
type ActivityLogRepository struct {
	db *bun.DB
}

// NewActivityLogRepository creates a new repository.
func NewActivityLogRepository(db *bun.DB) *ActivityLogRepository {
	return &ActivityLogRepository{db: db}
}

// Record stores a normalized activity record.
func (r *ActivityLogRepository) Record(ctx context.Context, record activitymap.Normalized) error {
	model := r.fromNormalized(record)

	_, err := r.db.NewInsert().
		Model(model).
		Exec(ctx)

	return err
}

// RecordEvent normalizes an activity event and stores it.
func (r *ActivityLogRepository) RecordEvent(ctx context.Context, event authstate.ActivityEvent, opts ...activitymap.Option) error {
	return r.Record(ctx, activitymap.Normalize(event, opts...))
}

// Sink adapts the repository into an ActivitySink so the state machine, the
// session monitor, and the guards can write straight to the log.
func (r *ActivityLogRepository) Sink(opts ...activitymap.Option) authstate.ActivitySink {
	return authstate.ActivitySinkFunc(func(ctx context.Context, event authstate.ActivityEvent) error {
		return r.RecordEvent(ctx, event, opts...)
	})
}

// ListRecent returns the latest records, newest first.
func (r *ActivityLogRepository) ListRecent(ctx context.Context, limit int) ([]ActivityLogModel, error) {
	if limit <= 0 {
		limit = 50
	}

	var models []ActivityLogModel
	err := r.db.NewSelect().
		Model(&models).
		Order("occurred_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []ActivityLogModel{}, nil
		}
		return nil, err
	}

	return models, nil
}

// ListByActor returns the latest records for a single actor, newest first.
func (r *ActivityLogRepository) ListByActor(ctx context.Context, actor string, limit int) ([]ActivityLogModel, error) {
	if limit <= 0 {
		limit = 50
	}

	var models []ActivityLogModel
	err := r.db.NewSelect().
		Model(&models).
		Where("actor = ?", actor).
		Order("occurred_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []ActivityLogModel{}, nil
		}
		return nil, err
	}

	return models, nil
}

// PruneBefore deletes records older than the cutoff and reports how many
// rows went away.
func (r *ActivityLogRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*ActivityLogModel)(nil)).
		Where("occurred_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (r *ActivityLogRepository) fromNormalized(record activitymap.Normalized) *ActivityLogModel {
	metadata := map[string]any{}
	if record.Metadata != nil {
		metadata = record.Metadata
	}

	occurredAt := record.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return &ActivityLogModel{
		ID:         uuid.New(),
		EventType:  record.Verb,
		Actor:      record.ActorID,
		Channel:    record.Channel,
		ObjectType: record.ObjectType,
		ObjectID:   record.ObjectID,
		Metadata:   metadata,
		OccurredAt: occurredAt,
		CreatedAt:  time.Now().UTC(),
	}
}
