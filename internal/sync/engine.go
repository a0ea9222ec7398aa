package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"groundzero-sync-service/internal/backend"
	"groundzero-sync-service/internal/logger"
	"groundzero-sync-service/internal/queue"
	"groundzero-sync-service/internal/store"
)

// Engine replays the pending queue against the cloud, one operation at a
// time in submission order.
type Engine struct {
	queue     *queue.Store
	cloud     backend.CloudBackend
	conflicts *ConflictManager
	history   store.Store
	strategy  ResolutionStrategy
	tsColumn  string
	now       func() time.Time

	running atomic.Bool

	mu   sync.RWMutex
	last *Result
}

func NewEngine(q *queue.Store, cloud backend.CloudBackend, st store.Store, strategy ResolutionStrategy, tsColumn string) *Engine {
	if tsColumn == "" {
		tsColumn = backend.DefaultTimestampColumn
	}
	return &Engine{
		queue:     q,
		cloud:     cloud,
		conflicts: NewConflictManager(st),
		history:   st,
		strategy:  strategy,
		tsColumn:  tsColumn,
		now:       time.Now,
	}
}

// Drain pushes every queued operation to the cloud. Failed operations stay
// queued in their original order; per-item failures are reported in
// Result.Errors and never abort the drain.
func (e *Engine) Drain(ctx context.Context) Result {
	if !e.running.CompareAndSwap(false, true) {
		logger.Log.Info("Drain already running, skipping")
		return Result{Skipped: true, Errors: []string{}}
	}
	defer e.running.Store(false)

	res := Result{Errors: []string{}, StartedAt: e.now().UTC()}

	ops, err := e.queue.DrainAll(ctx)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		res.CompletedAt = e.now().UTC()
		e.finish(ctx, res)
		return res
	}
	if len(ops) == 0 {
		res.CompletedAt = e.now().UTC()
		return res
	}

	logger.Log.Info("Draining pending queue", zap.Int("operations", len(ops)))

	var remaining []queue.PendingOperation
	for i, op := range ops {
		if ctx.Err() != nil {
			remaining = append(remaining, ops[i:]...)
			res.Errors = append(res.Errors, fmt.Sprintf("drain interrupted: %v", ctx.Err()))
			break
		}

		conflict, err := e.apply(ctx, op)
		switch {
		case err != nil:
			res.Errors = append(res.Errors, opError(op, err))
			remaining = append(remaining, op)
			logger.Log.Warn("Pending operation failed, keeping it queued",
				zap.String("op", op.String()),
				zap.Error(err),
			)
		case conflict:
			res.Conflicts++
		default:
			res.Synced++
		}
	}

	// The outcome is persisted even when ctx was cancelled mid-drain.
	if err := e.queue.Replace(context.WithoutCancel(ctx), remaining); err != nil {
		res.Errors = append(res.Errors, err.Error())
		logger.Log.Error("Failed to persist drain outcome", zap.Error(err))
	}

	res.CompletedAt = e.now().UTC()
	logger.Log.Info("Drain finished",
		zap.Int("synced", res.Synced),
		zap.Int("conflicts", res.Conflicts),
		zap.Int("errors", len(res.Errors)),
		zap.Int("remaining", len(remaining)),
	)
	e.finish(ctx, res)
	return res
}

// apply replays one operation. conflict is true when the cloud kept a newer
// version and the local write was dropped.
func (e *Engine) apply(ctx context.Context, op queue.PendingOperation) (conflict bool, err error) {
	switch op.Operation {
	case queue.Insert:
		return false, e.cloud.Insert(ctx, op.Table, e.stamp(op))

	case queue.Update:
		id, _ := op.RecordID()
		current, err := e.cloud.Get(ctx, op.Table, id)
		if errors.Is(err, backend.ErrNotFound) {
			return false, e.cloud.Insert(ctx, op.Table, e.stamp(op))
		}
		if err != nil {
			return false, err
		}

		d := e.strategy.Resolve(op, current)
		if d.ApplyLocal {
			return false, e.cloud.Update(ctx, op.Table, id, e.stamp(op))
		}
		if err := e.conflicts.RecordConflict(ctx, op, current, d); err != nil {
			return false, fmt.Errorf("record conflict: %w", err)
		}
		return true, nil

	case queue.Delete:
		id, _ := op.RecordID()
		return false, e.cloud.Delete(ctx, op.Table, id)
	}
	return false, fmt.Errorf("unknown operation %q", op.Operation)
}

// stamp copies the payload with the timestamp column set to the time of the
// local write, so later comparisons see when the change was really made.
func (e *Engine) stamp(op queue.PendingOperation) backend.Record {
	rec := op.Payload.Clone()
	rec[e.tsColumn] = op.LocalUpdatedAt.UTC().Format(time.RFC3339Nano)
	return rec
}

func (e *Engine) finish(ctx context.Context, res Result) {
	e.mu.Lock()
	e.last = &res
	e.mu.Unlock()

	if e.history == nil {
		return
	}
	h := &store.SyncHistory{
		ID:          uuid.New().String(),
		StartedAt:   res.StartedAt,
		CompletedAt: sql.NullTime{Time: res.CompletedAt, Valid: true},
		Synced:      res.Synced,
		Conflicts:   res.Conflicts,
		Errors:      len(res.Errors),
		Status:      store.StatusCompleted,
	}
	if len(res.Errors) > 0 {
		h.Status = store.StatusPartial
		h.ErrorMessage = sql.NullString{String: strings.Join(res.Errors, "\n"), Valid: true}
	}
	if err := e.history.CreateSyncHistory(context.WithoutCancel(ctx), h); err != nil {
		logger.Log.Warn("Failed to record sync history", zap.Error(err))
	}
}

// Syncing reports whether a drain is in flight.
func (e *Engine) Syncing() bool {
	return e.running.Load()
}

// LastResult is the outcome of the most recent non-skipped, non-empty drain.
func (e *Engine) LastResult() (Result, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return Result{}, false
	}
	return *e.last, true
}
