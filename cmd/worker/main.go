package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/periodic-erp/periodic/internal/app"
	"github.com/periodic-erp/periodic/internal/ledger"
	"github.com/periodic-erp/periodic/internal/period"
	"github.com/periodic-erp/periodic/internal/platform/db"
	"github.com/periodic-erp/periodic/internal/snapshot"
	"github.com/periodic-erp/periodic/internal/validation"
	"github.com/periodic-erp/periodic/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	ledgerRepo := ledger.NewRepository(pool)
	validationService := validation.NewService(
		validation.NewEngine(ledgerRepo, logger),
		validation.NewStore(pool),
	)
	periodService := period.NewService(period.NewPgRepository(pool), validationService,
		snapshot.NewBuilder(ledgerRepo), logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeValidationSweep, Handler: jobs.NewValidationSweepHandler(periodService, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SweepCron, Task: jobs.NewValidationSweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
