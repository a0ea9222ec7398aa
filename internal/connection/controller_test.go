package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundzero-sync-service/internal/backend"
	"groundzero-sync-service/internal/kv"
)

const defaultLAN = "http://192.168.1.100:3001"

func newStore(t *testing.T) kv.Store {
	t.Helper()
	s, err := kv.NewFileStore(afero.NewMemMapFs(), "/state.json")
	require.NoError(t, err)
	return s
}

func newController(t *testing.T, store kv.Store, reachable bool) *Controller {
	t.Helper()
	c, err := NewController(context.Background(), store, Options{
		DefaultLANEndpoint: defaultLAN,
		InitialReachable:   reachable,
	})
	require.NoError(t, err)
	return c
}

func TestDeriveMode(t *testing.T) {
	tests := []struct {
		forced    bool
		reachable bool
		want      Mode
	}{
		{forced: true, reachable: true, want: ModeForcedLAN},
		{forced: true, reachable: false, want: ModeForcedLAN},
		{forced: false, reachable: true, want: ModeCloud},
		{forced: false, reachable: false, want: ModeLAN},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DeriveMode(tt.forced, tt.reachable), "forced=%v reachable=%v", tt.forced, tt.reachable)
	}
}

func TestControllerInitialState(t *testing.T) {
	c := newController(t, newStore(t), true)
	assert.Equal(t, ModeCloud, c.Mode())
	assert.Equal(t, defaultLAN, c.LANEndpoint())

	c = newController(t, newStore(t), false)
	assert.Equal(t, ModeLAN, c.Mode())
}

func TestControllerForcedLANWinsOverReachability(t *testing.T) {
	c := newController(t, newStore(t), true)
	ctx := context.Background()

	require.NoError(t, c.SetForcedLAN(ctx, true))
	assert.Equal(t, ModeForcedLAN, c.Mode())

	c.SetReachable(false)
	assert.Equal(t, ModeForcedLAN, c.Mode())
	c.SetReachable(true)
	assert.Equal(t, ModeForcedLAN, c.Mode())

	require.NoError(t, c.SetForcedLAN(ctx, false))
	assert.Equal(t, ModeCloud, c.Mode())

	c.SetReachable(false)
	assert.Equal(t, ModeLAN, c.Mode())
}

func TestControllerPersistsSettings(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	c := newController(t, store, true)
	require.NoError(t, c.SetForcedLAN(ctx, true))
	require.NoError(t, c.SetLANEndpoint(ctx, "http://10.0.0.5:3001"))

	restarted := newController(t, store, true)
	assert.True(t, restarted.ForcedLAN())
	assert.Equal(t, ModeForcedLAN, restarted.Mode())
	assert.Equal(t, "http://10.0.0.5:3001", restarted.LANEndpoint())
}

func TestControllerRejectsBadEndpoint(t *testing.T) {
	store := newStore(t)
	c := newController(t, store, true)

	err := c.SetLANEndpoint(context.Background(), "10.0.0.5:3001")
	require.Error(t, err)
	assert.True(t, backend.IsConfiguration(err))
	assert.Equal(t, defaultLAN, c.LANEndpoint())

	_, ok, err := store.Get(context.Background(), LANEndpointKey)
	require.NoError(t, err)
	assert.False(t, ok, "invalid endpoint must not be persisted")
}

func TestControllerIgnoresMalformedPersistedValues(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, ForceLANKey, "maybe"))
	require.NoError(t, store.Set(ctx, LANEndpointKey, "not a url"))

	c := newController(t, store, true)
	assert.False(t, c.ForcedLAN())
	assert.Equal(t, ModeCloud, c.Mode())
	assert.Equal(t, defaultLAN, c.LANEndpoint())
}

type brokenKV struct{ kv.Store }

func (brokenKV) Set(context.Context, string, string) error { return errors.New("read-only") }

func TestControllerDoesNotChangeModeWhenPersistFails(t *testing.T) {
	c := newController(t, brokenKV{newStore(t)}, true)

	require.Error(t, c.SetForcedLAN(context.Background(), true))
	assert.Equal(t, ModeCloud, c.Mode())
}

func TestOnTransition(t *testing.T) {
	c := newController(t, newStore(t), false)

	var got []Transition
	remove := c.OnTransition(func(tr Transition) { got = append(got, tr) })

	c.SetReachable(false) // no change
	c.SetReachable(true)
	require.NoError(t, c.SetForcedLAN(context.Background(), true))
	require.NoError(t, c.SetForcedLAN(context.Background(), true)) // no change

	require.Equal(t, []Transition{
		{From: ModeLAN, To: ModeCloud},
		{From: ModeCloud, To: ModeForcedLAN},
	}, got)

	remove()
	require.NoError(t, c.SetForcedLAN(context.Background(), false))
	assert.Len(t, got, 2)
}

func TestListenerSeesNewModeSynchronously(t *testing.T) {
	c := newController(t, newStore(t), false)

	var seen Mode
	c.OnTransition(func(Transition) { seen = c.Mode() })
	c.SetReachable(true)
	assert.Equal(t, ModeCloud, seen)
}

func TestRacingTransitionsLeaveListenersOnCurrentMode(t *testing.T) {
	for run := 0; run < 50; run++ {
		c := newController(t, newStore(t), false)

		var mu sync.Mutex
		var mirrored Mode = c.Mode()
		broken := false
		c.OnTransition(func(tr Transition) {
			mu.Lock()
			defer mu.Unlock()
			if tr.From != mirrored {
				broken = true
			}
			mirrored = tr.To
		})

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					c.SetReachable((i+j)%2 == 0)
				}
			}(i)
		}
		wg.Wait()

		mu.Lock()
		assert.False(t, broken, "transitions must chain")
		assert.Equal(t, c.Mode(), mirrored)
		mu.Unlock()
	}
}

func TestProber(t *testing.T) {
	c := newController(t, newStore(t), true)

	var mu sync.Mutex
	cloudErr := errors.New("dial tcp: no route to host")
	var fail bool
	cloud := func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return cloudErr
		}
		return nil
	}
	lan := func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok, "probe must be bounded")
		return nil
	}

	p := NewProber(c, cloud, lan, 50*time.Millisecond)
	p.Probe(context.Background())
	assert.Equal(t, ModeCloud, c.Mode())
	assert.True(t, p.LANHealthy())

	mu.Lock()
	fail = true
	mu.Unlock()
	p.Probe(context.Background())
	assert.Equal(t, ModeLAN, c.Mode())
}

func TestProberTimesOutHangingPing(t *testing.T) {
	c := newController(t, newStore(t), true)
	hang := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	p := NewProber(c, hang, nil, 20*time.Millisecond)
	start := time.Now()
	p.Probe(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, ModeLAN, c.Mode())
}
