package sync

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"homehealth-sync-service/internal/config"
	"homehealth-sync-service/internal/logger"
)

// cycleTrigger is the part of Manager the scheduler drives.
type cycleTrigger interface {
	GetStatus() string
	Trigger(Trigger)
}

type Scheduler struct {
	cfg     config.SchedulerConfig
	manager cycleTrigger
	cron    *cron.Cron
	entryID cron.EntryID
}

func NewScheduler(cfg config.SchedulerConfig, manager cycleTrigger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		manager: manager,
		cron:    cron.New(),
	}
}

func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return nil
	}

	logger.Log.Info("Starting scheduler", zap.String("interval", s.cfg.Interval))

	id, err := s.cron.AddFunc(s.cfg.Interval, func() {
		s.triggerSync()
	})
	if err != nil {
		logger.Log.Error("Failed to schedule job", zap.Error(err))
		return err
	}

	s.entryID = id
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) triggerSync() {
	if s.manager.GetStatus() == StateRunning {
		logger.Log.Info("Sync already running, skipping scheduled run")
		return
	}

	logger.Log.Debug("Triggering scheduled sync")
	s.manager.Trigger(TriggerInterval)
}
