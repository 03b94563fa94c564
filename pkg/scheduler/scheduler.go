package scheduler

import (
	"fmt"
	"time"

	"github.com/mcclellann/fredCredit/pkg/config"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Jobs is the set of scheduled jobs.
type Jobs interface {
	SweepDelinquency()
	ReconcileBalances()
}

// Scheduler manages cron job scheduling
type Scheduler struct {
	cron   *cron.Cron
	logger logrus.FieldLogger
}

// NewScheduler creates a scheduler and registers the jobs at the configured times.
func NewScheduler(cfg config.SchedulerConfig, jobs Jobs, logger logrus.FieldLogger) (*Scheduler, error) {
	// Create cron with UTC timezone and seconds precision
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
	)
	s := &Scheduler{cron: c, logger: logger}

	if _, err := c.AddFunc(cfg.ReconcileBalances, jobs.ReconcileBalances); err != nil {
		return nil, fmt.Errorf("failed to register ReconcileBalances job: %w", err)
	}
	if _, err := c.AddFunc(cfg.DelinquencySweep, jobs.SweepDelinquency); err != nil {
		return nil, fmt.Errorf("failed to register SweepDelinquency job: %w", err)
	}

	logger.Info("All cron jobs registered successfully")
	return s, nil
}

// Start begins the cron scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Cron scheduler started")
}

// Stop gracefully stops the cron scheduler, waiting for running jobs
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping cron scheduler...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron scheduler stopped")
}

// Next returns the next run time of every registered job.
func (s *Scheduler) Next() []time.Time {
	entries := s.cron.Entries()
	next := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		next = append(next, e.Next)
	}
	return next
}

func (s *Scheduler) JobCount() int {
	return len(s.cron.Entries())
}
