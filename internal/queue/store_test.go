package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundzero-sync-service/internal/backend"
	"groundzero-sync-service/internal/kv"
)

func newTestStore(t *testing.T) (*Store, kv.Store) {
	t.Helper()
	fs, err := kv.NewFileStore(afero.NewMemMapFs(), "/state.json")
	require.NoError(t, err)
	return New(fs), fs
}

func insertOp(id, name string) PendingOperation {
	return PendingOperation{
		Table:     "camps",
		Operation: Insert,
		Payload:   backend.Record{"id": id, "name": name},
	}
}

func TestEnqueueFillsDefaultsAndCounts(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	fixed := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	n, err := s.Enqueue(ctx, insertOp("C1", "Hub A"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Enqueue(ctx, insertOp("C2", "Hub B"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ops, err := s.DrainAll(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.NotEqual(t, uuid.Nil, ops[0].ID)
	assert.True(t, fixed.Equal(ops[0].EnqueuedAt))
	assert.True(t, fixed.Equal(ops[0].LocalUpdatedAt))
	assert.Equal(t, "Hub A", ops[0].Payload["name"])
	assert.Equal(t, "Hub B", ops[1].Payload["name"])
}

func TestEnqueueValidation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, PendingOperation{Table: "camps", Operation: Update, Payload: backend.Record{"occupancy": 3}})
	assert.Error(t, err, "update without id")

	_, err = s.Enqueue(ctx, PendingOperation{Table: "camps", Operation: Delete, Payload: backend.Record{}})
	assert.Error(t, err, "delete without id")

	_, err = s.Enqueue(ctx, PendingOperation{Table: "camps", Operation: "upsert", Payload: backend.Record{"id": "C1"}})
	assert.Error(t, err, "unknown operation")

	_, err = s.Enqueue(ctx, PendingOperation{Table: "Camps!", Operation: Insert, Payload: backend.Record{}})
	assert.Error(t, err, "bad table")

	n, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueuePersistsAcrossRestart(t *testing.T) {
	store, err := kv.NewFileStore(afero.NewMemMapFs(), "/state.json")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = New(store).Enqueue(ctx, insertOp("C1", "Hub A"))
	require.NoError(t, err)

	restarted := New(store)
	ops, err := restarted.DrainAll(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	id, _ := ops[0].RecordID()
	assert.Equal(t, "C1", id)
}

func TestReplaceKeepsRemainingInOrder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"A", "B", "C", "D"} {
		_, err := s.Enqueue(ctx, insertOp(id, id))
		require.NoError(t, err)
	}

	ops, err := s.DrainAll(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Replace(ctx, []PendingOperation{ops[1], ops[3]}))

	left, err := s.DrainAll(ctx)
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, ops[1].ID, left[0].ID)
	assert.Equal(t, ops[3].ID, left[1].ID)
}

func TestReplaceKeepsOperationsEnqueuedDuringDrain(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.Enqueue(ctx, insertOp("A", "a"))
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, insertOp("B", "b"))
	require.NoError(t, err)

	drained, err := s.DrainAll(ctx)
	require.NoError(t, err)

	// written by the router while the drain was running
	_, err = s.Enqueue(ctx, insertOp("C", "c"))
	require.NoError(t, err)

	require.NoError(t, s.Replace(ctx, drained[1:]))

	left, err := s.DrainAll(ctx)
	require.NoError(t, err)
	require.Len(t, left, 2)
	idB, _ := left[0].RecordID()
	idC, _ := left[1].RecordID()
	assert.Equal(t, "B", idB)
	assert.Equal(t, "C", idC)
}

func TestReplaceWithoutDrainOverwrites(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.Enqueue(ctx, insertOp("A", "a"))
	require.NoError(t, err)

	require.NoError(t, s.Replace(ctx, nil))
	n, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMalformedQueueIsTreatedAsEmpty(t *testing.T) {
	s, store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, Key, `[{"id": broken`))

	n, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	raw, ok, err := store.Get(ctx, CorruptKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[{"id": broken`, raw)

	n, err = s.Enqueue(ctx, insertOp("C1", "Hub A"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDecodeFlagsMalformedState(t *testing.T) {
	_, err := decode(`{"not": "a list"}`)
	require.ErrorIs(t, err, backend.ErrMalformedState)

	ops, err := decode(`[{"id":"0b7e1c2a-3f4d-4e5f-8a9b-1c2d3e4f5a6b","table":"camps","operation":"insert","payload":{"id":"C1"}}]`)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "camps", ops[0].Table)
}

type failingKV struct{ kv.Store }

func (failingKV) Get(context.Context, string) (string, bool, error) { return "", false, nil }
func (failingKV) Set(context.Context, string, string) error         { return errors.New("disk full") }

func TestEnqueueSurfacesStorageFailure(t *testing.T) {
	s := New(failingKV{})
	_, err := s.Enqueue(context.Background(), insertOp("C1", "Hub A"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestConcurrentEnqueueLosesNothing(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Enqueue(ctx, insertOp(uuid.NewString(), "x"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25, n)
}
