package store

import (
	"context"
)

// Store persists the sync audit trail. Conflict events are write-once.
type Store interface {
	// Conflicts
	CreateConflict(ctx context.Context, conflict *Conflict) error
	ListConflicts(ctx context.Context, table string, limit, offset int) ([]*Conflict, error)

	// History
	CreateSyncHistory(ctx context.Context, history *SyncHistory) error
	GetSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error)

	// General
	Close() error
}
