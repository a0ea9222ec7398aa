// Package queue is the persisted pending-write store: an ordered list of
// writes made outside cloud mode that still have to reach the cloud.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"groundzero-sync-service/internal/backend"
	"groundzero-sync-service/internal/kv"
	"groundzero-sync-service/internal/logger"
)

const (
	// Key holds the queue as one JSON array.
	Key = "groundzero_sync_queue"
	// CorruptKey keeps an unreadable queue blob for inspection.
	CorruptKey = Key + ".corrupt"
)

// Store serializes every access to the queue blob. The whole array is
// rewritten on each mutation.
type Store struct {
	mu  sync.Mutex
	kv  kv.Store
	now func() time.Time

	// inflight holds the ids returned by the last DrainAll; Replace keeps
	// anything not in it.
	inflight map[uuid.UUID]struct{}
}

func New(store kv.Store) *Store {
	return &Store{kv: store, now: time.Now}
}

// Enqueue appends op and returns the new queue length. A zero ID, EnqueuedAt
// or LocalUpdatedAt is filled in.
func (s *Store) Enqueue(ctx context.Context, op PendingOperation) (int, error) {
	if err := op.Validate(); err != nil {
		return 0, err
	}
	now := s.now().UTC()
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = now
	}
	if op.LocalUpdatedAt.IsZero() {
		op.LocalUpdatedAt = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ops, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	ops = append(ops, op)
	if err := s.save(ctx, ops); err != nil {
		return 0, err
	}

	logger.Log.Debug("Queued pending operation",
		zap.String("op", op.String()),
		zap.Int("queue_len", len(ops)),
	)
	return len(ops), nil
}

// DrainAll returns every queued operation in submission order. The queue is
// left as is; the caller reports the outcome with Replace.
func (s *Store) DrainAll(ctx context.Context) ([]PendingOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	s.inflight = make(map[uuid.UUID]struct{}, len(ops))
	for _, op := range ops {
		s.inflight[op.ID] = struct{}{}
	}
	return ops, nil
}

// Replace stores remaining in place of the operations handed out by the last
// DrainAll. Operations enqueued since then are kept after remaining. Without
// a preceding DrainAll the queue is overwritten wholesale.
func (s *Store) Replace(ctx context.Context, remaining []PendingOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inflight == nil {
		return s.save(ctx, remaining)
	}

	current, err := s.load(ctx)
	if err != nil {
		return err
	}

	out := make([]PendingOperation, 0, len(remaining)+len(current))
	out = append(out, remaining...)
	for _, op := range current {
		if _, drained := s.inflight[op.ID]; !drained {
			out = append(out, op)
		}
	}
	if err := s.save(ctx, out); err != nil {
		return err
	}
	s.inflight = nil
	return nil
}

// Size is the number of queued operations.
func (s *Store) Size(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

func (s *Store) load(ctx context.Context) ([]PendingOperation, error) {
	raw, ok, err := s.kv.Get(ctx, Key)
	if err != nil {
		return nil, fmt.Errorf("queue: read: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	ops, err := decode(raw)
	if errors.Is(err, backend.ErrMalformedState) {
		logger.Log.Error("Pending queue is malformed, treating as empty",
			zap.Error(err),
			zap.Int("bytes", len(raw)),
		)
		if serr := s.kv.Set(ctx, CorruptKey, raw); serr != nil {
			logger.Log.Error("Failed to preserve malformed queue", zap.Error(serr))
		}
		if serr := s.kv.Set(ctx, Key, "[]"); serr != nil {
			return nil, fmt.Errorf("queue: reset malformed queue: %w", serr)
		}
		return nil, nil
	}
	return ops, err
}

func decode(raw string) ([]PendingOperation, error) {
	var ops []PendingOperation
	if err := json.Unmarshal([]byte(raw), &ops); err != nil {
		return nil, fmt.Errorf("queue: %w: %v", backend.ErrMalformedState, err)
	}
	return ops, nil
}

func (s *Store) save(ctx context.Context, ops []PendingOperation) error {
	if ops == nil {
		ops = []PendingOperation{}
	}
	data, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("queue: encode: %w", err)
	}
	if err := s.kv.Set(ctx, Key, string(data)); err != nil {
		return fmt.Errorf("queue: write: %w", err)
	}
	return nil
}
