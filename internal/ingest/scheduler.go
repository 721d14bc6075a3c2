package ingest

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// MonthlyResetCron runs the reset five minutes into the first of each month.
const MonthlyResetCron = "5 0 1 * *"

// Scheduler runs the aggregator on an interval and the monthly reset on
// the first of each month, in the game timezone. Jobs never overlap.
type Scheduler struct {
	cron     *gocron.Scheduler
	updater  *Updater
	reset    *MonthlyReset
	interval time.Duration
	logger   *zap.Logger
}

func NewScheduler(updater *Updater, reset *MonthlyReset, interval time.Duration, loc *time.Location, logger *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := gocron.NewScheduler(loc)
	s.SingletonModeAll()
	return &Scheduler{
		cron:     s,
		updater:  updater,
		reset:    reset,
		interval: interval,
		logger:   logger.Named("scheduler"),
	}
}

// Start registers the jobs and starts them in the background. The first
// update runs immediately. Jobs stop receiving new work once ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.updater != nil {
		_, err := s.cron.Every(s.interval).Tag("update").Do(func() {
			if ctx.Err() != nil {
				return
			}
			s.updater.Run(ctx)
		})
		if err != nil {
			return err
		}
	}

	if s.reset != nil {
		_, err := s.cron.Cron(MonthlyResetCron).Tag("monthly-reset").Do(func() {
			if ctx.Err() != nil {
				return
			}
			month := s.reset.PreviousMonth()
			if _, err := s.reset.Run(ctx, month); err != nil {
				s.logger.Error("monthly reset", zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
	}

	s.logger.Info("starting scheduler", zap.Duration("interval", s.interval), zap.Int("jobs", len(s.cron.Jobs())))
	s.cron.StartAsync()
	return nil
}

func (s *Scheduler) Stop() {
	s.logger.Info("shutting down")
	s.cron.Stop()
}

func (s *Scheduler) Jobs() int {
	return len(s.cron.Jobs())
}
