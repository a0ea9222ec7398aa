package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"groundzero-sync-service/internal/backend"
	"groundzero-sync-service/internal/logger"
)

const defaultDialTimeout = 5 * time.Second

// LANSocket is the single websocket to the LAN server, shared by every
// subscription. It is open only while active and referenced. A lost
// connection is dropped; the next Acquire or SetActive(true) redials.
type LANSocket struct {
	url         func() string
	publish     func(backend.Change)
	dialTimeout time.Duration

	mu     sync.Mutex
	refs   int
	active bool
	closed bool
	conn   *websocket.Conn
	cancel context.CancelFunc
	gen    uint64
	wg     sync.WaitGroup
}

func NewLANSocket(url func() string, publish func(backend.Change)) *LANSocket {
	return &LANSocket{
		url:         url,
		publish:     publish,
		dialTimeout: defaultDialTimeout,
	}
}

// Acquire adds a reference and dials in the background if needed.
func (s *LANSocket) Acquire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs++
	s.startLocked()
}

// Release drops a reference. The last release closes the socket.
func (s *LANSocket) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs > 0 {
		s.refs--
	}
	if s.refs == 0 {
		s.stopLocked()
	}
}

func (s *LANSocket) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
	if active {
		s.startLocked()
	} else {
		s.stopLocked()
	}
}

func (s *LANSocket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *LANSocket) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// Close shuts the socket for good and waits for the read loop to exit.
func (s *LANSocket) Close() {
	s.mu.Lock()
	s.closed = true
	s.stopLocked()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *LANSocket) startLocked() {
	if s.closed || !s.active || s.refs == 0 || s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.gen++
	s.wg.Add(1)
	go s.run(ctx, s.gen, s.url())
}

func (s *LANSocket) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.conn = nil
}

// drop forgets the connection of generation gen, if it is still current.
func (s *LANSocket) drop(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.stopLocked()
	}
}

func (s *LANSocket) run(ctx context.Context, gen uint64, url string) {
	defer s.wg.Done()

	dctx, cancel := context.WithTimeout(ctx, s.dialTimeout)
	conn, _, err := websocket.Dial(dctx, url, nil)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			logger.Log.Warn("LAN socket dial failed", zap.String("url", url), zap.Error(err))
		}
		s.drop(gen)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	s.mu.Lock()
	if s.gen != gen || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.conn = conn
	s.mu.Unlock()
	logger.Log.Info("LAN socket connected", zap.String("url", url))

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Log.Warn("LAN socket lost", zap.Error(err))
			}
			s.drop(gen)
			return
		}

		var change backend.Change
		if err := json.Unmarshal(data, &change); err != nil || change.Table == "" {
			logger.Log.Debug("Ignoring LAN socket message", zap.ByteString("data", data))
			continue
		}
		s.publish(change)
	}
}
