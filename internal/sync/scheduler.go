package sync

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"groundzero-sync-service/internal/config"
	"groundzero-sync-service/internal/connection"
	"groundzero-sync-service/internal/logger"
)

// Scheduler probes reachability and retries the drain on a timer, so queued
// writes still go out when no transition event arrives.
type Scheduler struct {
	cfg     config.SchedulerConfig
	manager *Manager
	prober  *connection.Prober
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(cfg config.SchedulerConfig, manager *Manager, prober *connection.Prober) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     cfg,
		manager: manager,
		prober:  prober,
		cron:    cron.New(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return nil
	}

	logger.Log.Info("Starting scheduler",
		zap.String("probe_interval", s.cfg.ProbeInterval),
		zap.String("drain_interval", s.cfg.DrainInterval),
	)

	if s.prober != nil && s.cfg.ProbeInterval != "" {
		if _, err := s.cron.AddFunc(s.cfg.ProbeInterval, s.probe); err != nil {
			return err
		}
	}
	if s.cfg.DrainInterval != "" {
		if _, err := s.cron.AddFunc(s.cfg.DrainInterval, s.triggerSync); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	s.cancel()
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) probe() {
	s.prober.Probe(s.ctx)
}

func (s *Scheduler) triggerSync() {
	logger.Log.Debug("Triggering scheduled sync")
	s.manager.AutoSync()
}
