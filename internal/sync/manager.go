package sync

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"groundzero-sync-service/internal/connection"
	"groundzero-sync-service/internal/logger"
	"groundzero-sync-service/internal/queue"
)

// ErrNotCloud is returned by Trigger outside cloud mode.
var ErrNotCloud = errors.New("sync: cloud is not the active backend")

// Manager starts drains when the cloud comes back and on demand.
type Manager struct {
	ctrl   *connection.Controller
	queue  *queue.Store
	engine *Engine
	prober *connection.Prober

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	remove func()
	socket SocketState
}

// SocketState reports on the realtime LAN socket.
type SocketState interface {
	LANConnected() bool
}

func NewManager(ctrl *connection.Controller, q *queue.Store, engine *Engine, prober *connection.Prober) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		ctrl:   ctrl,
		queue:  q,
		engine: engine,
		prober: prober,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ReportSocket adds the realtime LAN socket state to Status.
func (m *Manager) ReportSocket(s SocketState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.socket = s
}

// Start subscribes to mode transitions and drains right away if the service
// comes up in cloud mode with writes still queued.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.remove != nil {
		m.mu.Unlock()
		return
	}

	logger.Log.Info("Starting sync manager", zap.String("mode", string(m.ctrl.Mode())))

	m.remove = m.ctrl.OnTransition(func(t connection.Transition) {
		logger.Log.Info("Connection mode changed",
			zap.String("from", string(t.From)),
			zap.String("to", string(t.To)),
		)
		if t.To.IsCloud() {
			m.AutoSync()
		}
	})
	m.mu.Unlock()

	m.AutoSync()
}

// AutoSync drains in the background when the mode is cloud and the queue is
// not empty. It never blocks the caller.
func (m *Manager) AutoSync() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if !m.ctrl.Mode().IsCloud() || m.engine.Syncing() {
			return
		}
		n, err := m.queue.Size(m.ctx)
		if err != nil {
			logger.Log.Error("Failed to read pending queue size", zap.Error(err))
			return
		}
		if n == 0 {
			return
		}
		m.engine.Drain(m.ctx)
	}()
}

// Trigger runs a drain now and waits for it.
func (m *Manager) Trigger(ctx context.Context) (Result, error) {
	if !m.ctrl.Mode().IsCloud() {
		return Result{}, ErrNotCloud
	}
	return m.engine.Drain(ctx), nil
}

func (m *Manager) Status(ctx context.Context) Status {
	snap := m.ctrl.Snapshot()
	st := Status{
		Mode:        snap.Mode,
		Reachable:   snap.Reachable,
		ForcedLAN:   snap.ForcedLAN,
		LANEndpoint: snap.LANEndpoint,
		Syncing:     m.engine.Syncing(),
	}
	if m.prober != nil {
		st.LANHealthy = m.prober.LANHealthy()
	}
	m.mu.Lock()
	socket := m.socket
	m.mu.Unlock()
	if socket != nil {
		st.LANSocket = socket.LANConnected()
	}
	if n, err := m.queue.Size(ctx); err == nil {
		st.Pending = n
	} else {
		logger.Log.Warn("Failed to read pending queue size", zap.Error(err))
	}
	if last, ok := m.engine.LastResult(); ok {
		st.LastResult = &last
	}
	return st
}

// Stop unsubscribes and waits for background drains to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.remove != nil {
		m.remove()
		m.remove = nil
	}
	m.cancel()
	m.mu.Unlock()

	logger.Log.Info("Stopping sync manager")
	m.wg.Wait()
}
