package connection

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"groundzero-sync-service/internal/logger"
)

// PingFunc checks one backend. A nil error means reachable.
type PingFunc func(ctx context.Context) error

// Prober actively checks cloud reachability and feeds the result to the
// controller, complementing the platform online/offline signals. It also keeps
// the last known LAN health for status reporting.
type Prober struct {
	ctrl      *Controller
	cloudPing PingFunc
	lanPing   PingFunc
	timeout   time.Duration

	lanHealthy atomic.Bool
}

func NewProber(ctrl *Controller, cloudPing, lanPing PingFunc, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Prober{
		ctrl:      ctrl,
		cloudPing: cloudPing,
		lanPing:   lanPing,
		timeout:   timeout,
	}
}

// Probe runs one round of checks, each bounded by the probe timeout.
func (p *Prober) Probe(ctx context.Context) {
	if p.cloudPing != nil {
		err := p.ping(ctx, p.cloudPing)
		if err != nil {
			logger.Log.Debug("Cloud probe failed", zap.Error(err))
		}
		p.ctrl.SetReachable(err == nil)
	}

	if p.lanPing != nil {
		err := p.ping(ctx, p.lanPing)
		if err != nil {
			logger.Log.Debug("LAN probe failed", zap.Error(err))
		}
		p.lanHealthy.Store(err == nil)
	}
}

// LANHealthy is the outcome of the last LAN probe.
func (p *Prober) LANHealthy() bool {
	return p.lanHealthy.Load()
}

func (p *Prober) ping(ctx context.Context, fn PingFunc) error {
	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return fn(pctx)
}
