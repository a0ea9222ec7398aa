package connection

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"groundzero-sync-service/internal/config"
	"groundzero-sync-service/internal/kv"
	"groundzero-sync-service/internal/logger"
)

const (
	ForceLANKey    = "groundzero_force_lan"
	LANEndpointKey = "groundzero_lan_api_base"
)

type Options struct {
	DefaultLANEndpoint string
	InitialReachable   bool
}

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	Mode        Mode   `json:"mode"`
	Reachable   bool   `json:"reachable"`
	ForcedLAN   bool   `json:"forced_lan"`
	LANEndpoint string `json:"lan_endpoint"`
}

// Controller tracks reachability and the persisted LAN override. The mode is
// recomputed synchronously on every change; nothing here waits on the network.
type Controller struct {
	kv kv.Store

	mu          sync.RWMutex
	forcedLAN   bool
	reachable   bool
	lanEndpoint string
	mode        Mode

	listenersMu sync.Mutex
	listeners   map[int]func(Transition)
	nextID      int

	// notifyMu orders deliveries; delivered is the mode listeners last saw.
	notifyMu  sync.Mutex
	delivered Mode
}

// NewController loads persisted settings from store. An unreadable override
// value is treated as false.
func NewController(ctx context.Context, store kv.Store, opts Options) (*Controller, error) {
	c := &Controller{
		kv:          store,
		reachable:   opts.InitialReachable,
		lanEndpoint: opts.DefaultLANEndpoint,
		listeners:   make(map[int]func(Transition)),
	}

	raw, ok, err := store.Get(ctx, ForceLANKey)
	if err != nil {
		return nil, fmt.Errorf("connection: load override: %w", err)
	}
	if ok {
		if v, perr := strconv.ParseBool(raw); perr == nil {
			c.forcedLAN = v
		} else {
			logger.Log.Warn("Ignoring malformed forced-LAN flag", zap.String("value", raw))
		}
	}

	endpoint, ok, err := store.Get(ctx, LANEndpointKey)
	if err != nil {
		return nil, fmt.Errorf("connection: load lan endpoint: %w", err)
	}
	if ok && config.ValidateEndpoint(endpoint) == nil {
		c.lanEndpoint = endpoint
	}

	c.mode = DeriveMode(c.forcedLAN, c.reachable)
	c.delivered = c.mode
	logger.Log.Info("Connection mode initialised",
		zap.String("mode", string(c.mode)),
		zap.Bool("forced_lan", c.forcedLAN),
		zap.Bool("reachable", c.reachable),
		zap.String("lan_endpoint", c.lanEndpoint),
	)
	return c, nil
}

func (c *Controller) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

func (c *Controller) Reachable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reachable
}

func (c *Controller) ForcedLAN() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.forcedLAN
}

func (c *Controller) LANEndpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lanEndpoint
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Mode:        c.mode,
		Reachable:   c.reachable,
		ForcedLAN:   c.forcedLAN,
		LANEndpoint: c.lanEndpoint,
	}
}

// SetForcedLAN persists the override, then recomputes the mode.
func (c *Controller) SetForcedLAN(ctx context.Context, forced bool) error {
	if err := c.kv.Set(ctx, ForceLANKey, strconv.FormatBool(forced)); err != nil {
		return fmt.Errorf("connection: persist override: %w", err)
	}
	c.update(func() { c.forcedLAN = forced })
	return nil
}

// SetLANEndpoint validates and persists the LAN server base URL.
func (c *Controller) SetLANEndpoint(ctx context.Context, endpoint string) error {
	if err := config.ValidateEndpoint(endpoint); err != nil {
		return err
	}
	if err := c.kv.Set(ctx, LANEndpointKey, endpoint); err != nil {
		return fmt.Errorf("connection: persist lan endpoint: %w", err)
	}
	c.update(func() { c.lanEndpoint = endpoint })
	return nil
}

// SetReachable records a platform online/offline signal.
func (c *Controller) SetReachable(reachable bool) {
	c.update(func() { c.reachable = reachable })
}

// OnTransition registers fn to be called after every mode change. Listeners
// run synchronously on the goroutine that caused the change and must not block
// or change the controller. Transitions arrive one at a time and chain: each
// From is the previous To, and the last one delivered is the current mode.
func (c *Controller) OnTransition(fn func(Transition)) (remove func()) {
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

func (c *Controller) update(mutate func()) {
	c.mu.Lock()
	from := c.mode
	mutate()
	c.mode = DeriveMode(c.forcedLAN, c.reachable)
	to := c.mode
	c.mu.Unlock()

	if from == to {
		return
	}
	logger.Log.Info("Connection mode changed",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	c.notify()
}

// notify delivers the current mode to listeners. Racing updates are collapsed
// so listeners never end on a mode that has since been replaced.
func (c *Controller) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	current := c.Mode()
	if current == c.delivered {
		return
	}
	t := Transition{From: c.delivered, To: current}
	c.delivered = current

	c.listenersMu.Lock()
	fns := make([]func(Transition), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenersMu.Unlock()

	for _, fn := range fns {
		fn(t)
	}
}
