package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"groundzero-sync-service/internal/backend"
	"groundzero-sync-service/internal/logger"
	"groundzero-sync-service/internal/queue"
	"groundzero-sync-service/internal/store"
)

// Decision is the resolver's verdict for one queued update.
type Decision struct {
	ApplyLocal bool
	LocalAt    time.Time
	CloudAt    time.Time
	// CloudKnown is false when the cloud record had no usable timestamp.
	CloudKnown bool
}

// Strategy interface for resolution
type ResolutionStrategy interface {
	Resolve(op queue.PendingOperation, cloud backend.Record) Decision
}

// LastWriteWins keeps whichever side changed last. Ties go to the local
// write, and so does a cloud record without a parseable timestamp.
type LastWriteWins struct {
	TimestampColumn string
}

func (s LastWriteWins) Resolve(op queue.PendingOperation, cloud backend.Record) Decision {
	col := s.TimestampColumn
	if col == "" {
		col = backend.DefaultTimestampColumn
	}

	d := Decision{LocalAt: op.LocalUpdatedAt}
	cloudAt, ok := cloud.Timestamp(col)
	if !ok {
		d.ApplyLocal = true
		return d
	}
	d.CloudAt, d.CloudKnown = cloudAt, true
	d.ApplyLocal = !op.LocalUpdatedAt.Before(cloudAt)
	return d
}

type ConflictManager struct {
	store store.Store
}

func NewConflictManager(store store.Store) *ConflictManager {
	return &ConflictManager{
		store: store,
	}
}

// RecordConflict writes the audit event for a queued update that lost to the
// cloud under decision d.
func (cm *ConflictManager) RecordConflict(ctx context.Context, op queue.PendingOperation, cloud backend.Record, d Decision) error {
	id, _ := op.RecordID()
	conflict, err := store.NewConflict(op.Table, id, op.Payload, cloud)
	if err != nil {
		return err
	}
	if err := cm.store.CreateConflict(ctx, conflict); err != nil {
		return err
	}

	fields := []zap.Field{
		zap.String("table", op.Table),
		zap.String("record_id", id),
		zap.String("resolution", conflict.Resolution),
		zap.Time("local_at", d.LocalAt),
	}
	if d.CloudKnown {
		fields = append(fields, zap.Time("cloud_at", d.CloudAt))
	}
	logger.Log.Info("Conflict recorded", fields...)
	return nil
}
