package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the periodic jobs of the service.
type Scheduler struct {
	cron     *cron.Cron
	sweeper  *RetrySweeper
	schedule string
	logger   *slog.Logger
}

func NewScheduler(sweeper *RetrySweeper, schedule string, logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:     c,
		sweeper:  sweeper,
		schedule: schedule,
		logger:   logger,
	}
}

// Start registers the retry sweep and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.sweeper.Run); err != nil {
		s.logger.Error("failed to schedule delivery retry sweep", "schedule", s.schedule, "error", err)
		return err
	}
	s.logger.Info("scheduled delivery retry sweep", "schedule", s.schedule)

	s.cron.Start()
	return nil
}

// Stop stops the scheduler; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
