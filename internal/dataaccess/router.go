// Package dataaccess routes every dashboard read and write to the backend the
// connection controller currently selects.
package dataaccess

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"groundzero-sync-service/internal/backend"
	"groundzero-sync-service/internal/connection"
	"groundzero-sync-service/internal/logger"
	"groundzero-sync-service/internal/queue"
)

// Enqueuer is the part of the pending-write store the router needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, op queue.PendingOperation) (int, error)
}

type Options struct {
	// AuditWrites records an audit_logs row after every successful write.
	AuditWrites bool
	AuditActor  string
}

// Router sends operations to the cloud in cloud mode. In every other mode
// writes go to the LAN server on a best-effort basis and are always queued
// for later replay against the cloud.
type Router struct {
	state connection.State
	cloud backend.Backend
	lan   backend.Backend
	queue Enqueuer
	opts  Options
	now   func() time.Time
}

func NewRouter(state connection.State, cloud, lan backend.Backend, q Enqueuer, opts Options) *Router {
	return &Router{
		state: state,
		cloud: cloud,
		lan:   lan,
		queue: q,
		opts:  opts,
		now:   time.Now,
	}
}

// Fetch reads from the active backend. A LAN failure is returned as is; cloud
// data is never substituted.
func (r *Router) Fetch(ctx context.Context, table string, opts backend.QueryOptions) ([]backend.Record, error) {
	if err := backend.CheckTable(table); err != nil {
		return nil, err
	}
	if r.state.Mode().IsCloud() {
		return r.cloud.Fetch(ctx, table, opts)
	}
	recs, err := r.lan.Fetch(ctx, table, opts)
	if err != nil {
		return nil, fmt.Errorf("fetch %s from lan: %w", table, err)
	}
	return recs, nil
}

// Insert stores rec, giving it a fresh uuid if it has no id so a queued
// replay can be recognised by the cloud.
func (r *Router) Insert(ctx context.Context, table string, rec backend.Record) (backend.Record, error) {
	rec = rec.Clone()
	if _, ok := rec.ID(); !ok {
		rec["id"] = uuid.New().String()
	}
	err := r.write(ctx, table, queue.Insert, rec, func(b backend.Backend) error {
		return b.Insert(ctx, table, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *Router) Update(ctx context.Context, table, id string, patch backend.Record) error {
	payload := patch.Clone()
	payload["id"] = id
	return r.write(ctx, table, queue.Update, payload, func(b backend.Backend) error {
		return b.Update(ctx, table, id, patch)
	})
}

func (r *Router) Delete(ctx context.Context, table, id string) error {
	return r.write(ctx, table, queue.Delete, backend.Record{"id": id}, func(b backend.Backend) error {
		return b.Delete(ctx, table, id)
	})
}

func (r *Router) write(ctx context.Context, table string, op queue.Operation, payload backend.Record, apply func(backend.Backend) error) error {
	if err := backend.CheckTable(table); err != nil {
		return err
	}

	mode := r.state.Mode()
	if mode.IsCloud() {
		if err := apply(r.cloud); err != nil {
			return err
		}
		r.audit(ctx, table, op, payload)
		return nil
	}

	// The LAN copy is best effort; the queue is what reaches the cloud.
	if err := apply(r.lan); err != nil {
		logger.Log.Warn("LAN write failed, queuing anyway",
			zap.String("table", table),
			zap.String("operation", string(op)),
			zap.Error(err),
		)
	}

	n, err := r.queue.Enqueue(ctx, queue.PendingOperation{
		Table:          table,
		Operation:      op,
		Payload:        payload,
		LocalUpdatedAt: r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("queue %s/%s: %w", table, op, err)
	}
	logger.Log.Debug("Write queued for cloud sync",
		zap.String("mode", string(mode)),
		zap.String("table", table),
		zap.Int("pending", n),
	)

	r.audit(ctx, table, op, payload)
	return nil
}
