package realtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundzero-sync-service/internal/backend"
	"groundzero-sync-service/internal/connection"
)

// flakyListener fails its first call, then delivers one change and blocks.
type flakyListener struct {
	calls  atomic.Int32
	active atomic.Int32
}

func (l *flakyListener) Listen(ctx context.Context, channel string, fn func(backend.Change)) error {
	if l.calls.Add(1) == 1 {
		return errors.New("connection refused")
	}
	l.active.Add(1)
	defer l.active.Add(-1)
	fn(backend.Change{Table: "camps", Type: backend.ChangeUpdate, RecordID: "C1"})
	<-ctx.Done()
	return ctx.Err()
}

func TestCloudFeedReconnects(t *testing.T) {
	l := &flakyListener{}
	d := NewDistributor(nil, l, "groundzero_changes")
	d.cloud.minRetry = 10 * time.Millisecond
	defer d.Close()

	got := make(chan backend.Change, 1)
	d.Subscribe("camps", func(c backend.Change) { got <- c })
	d.SetMode(connection.ModeCloud)

	select {
	case c := <-got:
		assert.Equal(t, "C1", c.RecordID)
	case <-time.After(3 * time.Second):
		t.Fatal("no change from cloud feed")
	}
	assert.Equal(t, int32(2), l.calls.Load())
	assert.True(t, d.cloud.Running())
}

func TestCloudFeedStopsOutsideCloudMode(t *testing.T) {
	l := &flakyListener{}
	l.calls.Store(1)
	d := NewDistributor(nil, l, "groundzero_changes")
	defer d.Close()

	d.SetMode(connection.ModeCloud)
	require.Eventually(t, func() bool { return l.active.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	d.SetMode(connection.ModeLAN)
	require.Eventually(t, func() bool { return l.active.Load() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, d.cloud.Running())
}
