package sync

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"fleetsync/internal/config"
	"fleetsync/internal/logger"
)

// Scheduler periodically reconciles: drains the queue and re-warms the cache.
// It backs up the connectivity monitor for the case where the link never
// dropped but individual requests failed and left mutations queued.
type Scheduler struct {
	cfg     config.SchedulerConfig
	coord   *Coordinator
	refresh func(ctx context.Context) error
	cron    *cron.Cron
	entryID cron.EntryID
}

// NewScheduler creates a scheduler. refresh may be nil; when set it is called
// after each drain to refresh cached snapshots from the backend.
func NewScheduler(cfg config.SchedulerConfig, coord *Coordinator, refresh func(ctx context.Context) error) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		coord:   coord,
		refresh: refresh,
		cron:    cron.New(),
	}
}

func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return
	}

	logger.Log.Info("Starting scheduler", zap.String("interval", s.cfg.Interval))

	id, err := s.cron.AddFunc(s.cfg.Interval, func() {
		s.reconcile()
	})

	if err != nil {
		logger.Log.Error("Failed to schedule job", zap.Error(err))
		return
	}

	s.entryID = id
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) reconcile() {
	if s.coord.IsSyncing() {
		logger.Log.Info("Sync already running, skipping scheduled run")
		return
	}
	if !s.coord.IsOnline() {
		logger.Log.Debug("Offline, skipping scheduled reconcile")
		return
	}

	logger.Log.Debug("Triggering scheduled reconcile")

	ctx := context.Background()
	if err := s.coord.Drain(ctx); err != nil {
		logger.Log.Error("Scheduled drain failed", zap.Error(err))
	}

	if s.refresh != nil {
		if err := s.refresh(ctx); err != nil {
			logger.Log.Warn("Scheduled cache refresh failed", zap.Error(err))
		}
	}
}
