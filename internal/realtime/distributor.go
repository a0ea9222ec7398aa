// Package realtime fans table change events out to in-process subscribers.
// Events come from the cloud change feed in cloud mode and from the LAN
// server's socket otherwise.
package realtime

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"groundzero-sync-service/internal/backend"
	"groundzero-sync-service/internal/connection"
	"groundzero-sync-service/internal/logger"
)

// Callback receives one change. It runs on the delivering goroutine and
// should return quickly.
type Callback func(backend.Change)

type Distributor struct {
	mu     sync.Mutex
	subs   map[string]map[uint64]Callback
	nextID uint64

	// inflight holds subscription ids whose callback is running.
	inflight map[uint64]bool
	landed   *sync.Cond

	deliveryMu sync.Mutex
	delivery   map[string]*sync.Mutex

	lan   *LANSocket
	cloud *CloudFeed

	modeMu sync.Mutex
	mode   connection.Mode
}

// NewDistributor wires the LAN socket and the cloud feed to Publish. Either
// source may be nil.
func NewDistributor(lanURL func() string, listener Listener, channel string) *Distributor {
	d := &Distributor{
		subs:     make(map[string]map[uint64]Callback),
		inflight: make(map[uint64]bool),
		delivery: make(map[string]*sync.Mutex),
	}
	d.landed = sync.NewCond(&d.mu)
	if lanURL != nil {
		d.lan = NewLANSocket(lanURL, d.Publish)
	}
	if listener != nil {
		d.cloud = NewCloudFeed(listener, channel, d.Publish)
	}
	return d
}

// Subscribe registers cb for changes to table. The returned function removes
// exactly this subscription and is safe to call more than once. Once it
// returns, cb is not running and will not be called again, so it must not be
// called from inside cb itself.
func (d *Distributor) Subscribe(table string, cb Callback) (unsubscribe func()) {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	if d.subs[table] == nil {
		d.subs[table] = make(map[uint64]Callback)
	}
	d.subs[table][id] = cb
	d.mu.Unlock()

	if d.lan != nil {
		d.lan.Acquire()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs[table], id)
			if len(d.subs[table]) == 0 {
				delete(d.subs, table)
			}
			for d.inflight[id] {
				d.landed.Wait()
			}
			d.mu.Unlock()

			if d.lan != nil {
				d.lan.Release()
			}
		})
	}
}

// Subscribers is the number of live subscriptions for table.
func (d *Distributor) Subscribers(table string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs[table])
}

// Publish delivers c to the table's subscribers in subscription order.
// Deliveries for one table never overlap, and a subscription removed before
// its turn is skipped.
func (d *Distributor) Publish(c backend.Change) {
	lock := d.tableLock(c.Table)
	lock.Lock()
	defer lock.Unlock()

	d.mu.Lock()
	ids := make([]uint64, 0, len(d.subs[c.Table]))
	for id := range d.subs[c.Table] {
		ids = append(ids, id)
	}
	d.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		d.mu.Lock()
		cb, ok := d.subs[c.Table][id]
		if ok {
			d.inflight[id] = true
		}
		d.mu.Unlock()
		if !ok {
			continue
		}

		deliver(cb, c)

		d.mu.Lock()
		delete(d.inflight, id)
		d.landed.Broadcast()
		d.mu.Unlock()
	}
}

func deliver(cb Callback, c backend.Change) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("Realtime subscriber panicked",
				zap.String("table", c.Table),
				zap.Any("panic", r),
			)
		}
	}()
	cb(c)
}

func (d *Distributor) tableLock(table string) *sync.Mutex {
	d.deliveryMu.Lock()
	defer d.deliveryMu.Unlock()
	l, ok := d.delivery[table]
	if !ok {
		l = &sync.Mutex{}
		d.delivery[table] = l
	}
	return l
}

// SetMode switches the event source. It does not block on the network.
func (d *Distributor) SetMode(mode connection.Mode) {
	d.modeMu.Lock()
	defer d.modeMu.Unlock()
	if mode == d.mode {
		return
	}
	d.mode = mode

	logger.Log.Info("Switching realtime source", zap.String("mode", string(mode)))
	if mode.IsCloud() {
		if d.lan != nil {
			d.lan.SetActive(false)
		}
		if d.cloud != nil {
			d.cloud.Start()
		}
		return
	}
	if d.cloud != nil {
		d.cloud.Stop()
	}
	if d.lan != nil {
		d.lan.SetActive(true)
	}
}

// Close stops both sources and waits for their goroutines.
func (d *Distributor) Close() {
	if d.cloud != nil {
		d.cloud.Close()
	}
	if d.lan != nil {
		d.lan.Close()
	}
}

// LANConnected reports whether the LAN socket is currently open.
func (d *Distributor) LANConnected() bool {
	return d.lan != nil && d.lan.Connected()
}
