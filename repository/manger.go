package repository

import (
	authstate "github.com/goliatone/go-authstate"
	"github.com/uptrace/bun"
)

// Manager extends the core storage manager with the activity log.
type Manager interface {
	authstate.StorageManager
	ActivityLog() *ActivityLogRepository
}

type mngr struct {
	authstate.StorageManager
	activityLog *ActivityLogRepository
}

func NewManager(db *bun.DB) Manager {
	return &mngr{
		StorageManager: authstate.NewStorageManager(db),
		activityLog:    NewActivityLogRepository(db),
	}
}

func (m mngr) ActivityLog() *ActivityLogRepository {
	return m.activityLog
}
