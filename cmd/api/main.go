package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/fredCredit/pkg/config"
	"github.com/mcclellann/fredCredit/pkg/delinquency"
	"github.com/mcclellann/fredCredit/pkg/jobs"
	"github.com/mcclellann/fredCredit/pkg/ledger"
	"github.com/mcclellann/fredCredit/pkg/logging"
	"github.com/mcclellann/fredCredit/pkg/notify"
	"github.com/mcclellann/fredCredit/pkg/reconcile"
	"github.com/mcclellann/fredCredit/pkg/scheduler"
	"github.com/mcclellann/fredCredit/pkg/store"
	"github.com/sirupsen/logrus"
)

func openStorage(ctx context.Context, cfg *config.Config) (store.Storage, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		s, err := store.NewPostgresStore(ctx, cfg.GetDatabaseConnectionString())
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverMemory:
		return store.NewMemoryStore(), nil
	case config.DriverSQLite:
		s, err := store.NewSQLiteStore(cfg.GetDatabaseConnectionString())
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver: %q", cfg.Database.Driver)
	}
}

func newNotifier(cfg config.SMTPConfig, logger logrus.FieldLogger) notify.Notifier {
	if cfg.Enabled {
		return notify.NewEmailNotifier(cfg, logger)
	}
	return notify.NewLogNotifier(logger)
}

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := openStorage(ctx, cfg)
	if err != nil {
		logger.WithError(err).WithField("driver", cfg.Database.Driver).Fatal("Failed to initialize store")
	}
	defer storage.Close()

	server := NewServer(storage, logger,
		ledger.WithPolicy(cfg.Policy()),
		ledger.WithReversalMode(ledger.ReversalMode(cfg.Credit.CancelReversal)),
	)

	if cfg.Scheduler.Enabled {
		runner := jobs.NewJobRunner(
			delinquency.NewEvaluator(storage),
			reconcile.NewReconciler(storage, logger),
			newNotifier(cfg.SMTP, logger),
			logger,
		)
		sched, err := scheduler.NewScheduler(cfg.Scheduler, runner, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create scheduler")
		}
		sched.Start()
		defer sched.Stop()
	}

	httpServer := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      server.routes(),
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
	}

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("Server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Server stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}
}
