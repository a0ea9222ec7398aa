package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"groundzero-sync-service/internal/backend"
	"groundzero-sync-service/internal/connection"
)

// lanServer accepts sockets, sends each one a change and then waits for
// drop to be closed before hanging up.
type lanServer struct {
	*httptest.Server
	accepts atomic.Int32
	drop    chan struct{}
}

func newLANServer(t *testing.T) *lanServer {
	t.Helper()
	s := &lanServer{drop: make(chan struct{}, 8)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		n := s.accepts.Add(1)
		ctx := c.CloseRead(r.Context())

		_ = wsjson.Write(ctx, c, map[string]any{
			"table":  "camps",
			"type":   backend.ChangeInsert,
			"record": map[string]any{"id": "C1", "n": n},
		})
		_ = wsjson.Write(ctx, c, map[string]any{"not": "a change"})

		select {
		case <-s.drop:
		case <-ctx.Done():
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *lanServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

func TestLANSocketDeliversAndRedials(t *testing.T) {
	srv := newLANServer(t)
	d := NewDistributor(srv.wsURL, nil, "")
	defer d.Close()

	got := make(chan backend.Change, 4)
	d.SetMode(connection.ModeLAN)
	unsub := d.Subscribe("camps", func(c backend.Change) { got <- c })

	select {
	case c := <-got:
		assert.Equal(t, "C1", c.Record["id"])
	case <-time.After(3 * time.Second):
		t.Fatal("no change delivered")
	}
	require.Eventually(t, d.LANConnected, time.Second, 10*time.Millisecond)

	// Server hangs up: the cached connection is dropped.
	srv.drop <- struct{}{}
	require.Eventually(t, func() bool { return !d.LANConnected() }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), srv.accepts.Load())

	// The next subscription redials.
	unsub2 := d.Subscribe("shipments", func(backend.Change) {})
	require.Eventually(t, func() bool { return srv.accepts.Load() == 2 }, 3*time.Second, 10*time.Millisecond)

	unsub()
	unsub2()
	require.Eventually(t, func() bool { return !d.LANConnected() }, time.Second, 10*time.Millisecond)
	assert.Zero(t, d.lan.Refs())
}

func TestLANSocketIdleInCloudMode(t *testing.T) {
	srv := newLANServer(t)
	d := NewDistributor(srv.wsURL, nil, "")
	defer d.Close()

	d.SetMode(connection.ModeCloud)
	unsub := d.Subscribe("camps", func(backend.Change) {})
	defer unsub()

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, srv.accepts.Load())
	assert.False(t, d.LANConnected())

	d.SetMode(connection.ModeForcedLAN)
	require.Eventually(t, func() bool { return srv.accepts.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestLANSocketNoDialWithoutSubscribers(t *testing.T) {
	srv := newLANServer(t)
	s := NewLANSocket(srv.wsURL, func(backend.Change) {})
	s.SetActive(true)
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, srv.accepts.Load())
	s.Close()
}

func TestLANSocketDialFailureClearsState(t *testing.T) {
	s := NewLANSocket(func() string { return "ws://127.0.0.1:1/ws" }, func(backend.Change) {})
	s.dialTimeout = 200 * time.Millisecond
	s.SetActive(true)
	s.Acquire()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.cancel == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, s.Connected())
	s.Close()
}

func TestLANSocketCloseWaitsForReader(t *testing.T) {
	srv := newLANServer(t)
	s := NewLANSocket(srv.wsURL, func(backend.Change) {})
	s.SetActive(true)
	s.Acquire()
	require.Eventually(t, s.Connected, 3*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.False(t, s.Connected())

	// Closed sockets never redial.
	s.Acquire()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), srv.accepts.Load())
}
