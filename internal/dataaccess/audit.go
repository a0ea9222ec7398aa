package dataaccess

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"groundzero-sync-service/internal/backend"
	"groundzero-sync-service/internal/logger"
	"groundzero-sync-service/internal/queue"
)

// AuditEntry is one audit_logs row.
type AuditEntry struct {
	ID         string
	EntityType string
	EntityID   string
	Action     string
	ActorName  string
	Details    backend.Record
	CreatedAt  time.Time
}

func (e AuditEntry) Record() backend.Record {
	return backend.Record{
		"id":          e.ID,
		"entity_type": e.EntityType,
		"entity_id":   e.EntityID,
		"action":      e.Action,
		"actor_name":  e.ActorName,
		"details":     map[string]any(e.Details),
		"created_at":  e.CreatedAt.Format(time.RFC3339Nano),
	}
}

// audit writes through the same routing as the write it describes, so audit
// rows are queued alongside it when the cloud is away. Failures are logged.
func (r *Router) audit(ctx context.Context, table string, op queue.Operation, payload backend.Record) {
	if !r.opts.AuditWrites || table == backend.AuditLogsTable {
		return
	}

	id, _ := payload.ID()
	entry := AuditEntry{
		ID:         uuid.New().String(),
		EntityType: table,
		EntityID:   id,
		Action:     string(op),
		ActorName:  r.opts.AuditActor,
		Details:    payload,
		CreatedAt:  r.now().UTC(),
	}
	rec := entry.Record()

	err := r.write(ctx, backend.AuditLogsTable, queue.Insert, rec, func(b backend.Backend) error {
		return b.Insert(ctx, backend.AuditLogsTable, rec)
	})
	if err != nil {
		logger.Log.Warn("Failed to write audit entry",
			zap.String("table", table),
			zap.String("entity_id", id),
			zap.Error(err),
		)
	}
}
