package jobs

import (
	"context"
	"time"

	"github.com/mcclellann/fredCredit/pkg/delinquency"
	"github.com/mcclellann/fredCredit/pkg/notify"
	"github.com/sirupsen/logrus"
)

// DelinquencyReporter lists delinquent credits.
type DelinquencyReporter interface {
	Report(ctx context.Context, asOf time.Time) ([]delinquency.Entry, error)
}

// BalanceReconciler rebuilds every client's balance projection.
type BalanceReconciler interface {
	RecomputeAll(ctx context.Context) (int, error)
}

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	reporter   DelinquencyReporter
	reconciler BalanceReconciler
	notifier   notify.Notifier
	logger     logrus.FieldLogger
	now        func() time.Time
	timeout    time.Duration
}

// NewJobRunner creates a new job runner with all dependencies
func NewJobRunner(reporter DelinquencyReporter, reconciler BalanceReconciler, notifier notify.Notifier, logger logrus.FieldLogger) *JobRunner {
	return &JobRunner{
		reporter:   reporter,
		reconciler: reconciler,
		notifier:   notifier,
		logger:     logger,
		now:        time.Now,
		timeout:    10 * time.Minute,
	}
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func(ctx context.Context) error) {
	log := jr.logger.WithField("job", jobName)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Job panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), jr.timeout)
	defer cancel()

	start := time.Now()
	log.Info("Starting job")
	if err := jobFunc(ctx); err != nil {
		log.WithError(err).Error("Job failed")
		return
	}
	log.WithField("duration", time.Since(start).String()).Info("Job completed")
}

// SweepDelinquency reports delinquent credits and sends the collections digest.
func (jr *JobRunner) SweepDelinquency() {
	jr.runWithRecovery("SweepDelinquency", jr.RunDelinquencySweep)
}

// ReconcileBalances repairs drifted client balance projections.
func (jr *JobRunner) ReconcileBalances() {
	jr.runWithRecovery("ReconcileBalances", jr.RunBalanceReconciliation)
}

// RunAllNightlyJobs runs all nightly jobs (for manual execution)
func (jr *JobRunner) RunAllNightlyJobs() {
	jr.ReconcileBalances()
	jr.SweepDelinquency()
}

func (jr *JobRunner) RunDelinquencySweep(ctx context.Context) error {
	asOf := jr.now().UTC()
	entries, err := jr.reporter.Report(ctx, asOf)
	if err != nil {
		return err
	}
	jr.logger.WithField("delinquent", len(entries)).Info("Delinquency sweep finished")
	return jr.notifier.SendCollectionsDigest(ctx, asOf, entries)
}

func (jr *JobRunner) RunBalanceReconciliation(ctx context.Context) error {
	changed, err := jr.reconciler.RecomputeAll(ctx)
	if err != nil {
		return err
	}
	jr.logger.WithField("corrected", changed).Info("Balance reconciliation finished")
	return nil
}
