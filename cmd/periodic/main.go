package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/periodic-erp/periodic/internal/app"
	"github.com/periodic-erp/periodic/internal/audit"
	"github.com/periodic-erp/periodic/internal/auth"
	"github.com/periodic-erp/periodic/internal/decision"
	decisionhttp "github.com/periodic-erp/periodic/internal/decision/http"
	"github.com/periodic-erp/periodic/internal/ledger"
	"github.com/periodic-erp/periodic/internal/period"
	periodhttp "github.com/periodic-erp/periodic/internal/period/http"
	"github.com/periodic-erp/periodic/internal/platform/db"
	"github.com/periodic-erp/periodic/internal/snapshot"
	"github.com/periodic-erp/periodic/internal/validation"
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

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	ledgerRepo := ledger.NewRepository(pool)
	auditLogger := audit.NewLogger(pool)

	validationService := validation.NewService(
		validation.NewEngine(ledgerRepo, logger),
		validation.NewStore(pool),
	)
	snapshotBuilder := snapshot.NewBuilder(ledgerRepo)
	snapshotRepo := snapshot.NewRepository(pool)

	periodService := period.NewService(period.NewPgRepository(pool), validationService, snapshotBuilder, logger)

	decisionService := decision.NewService(
		decision.NewPgRepository(pool),
		validationService,
		periodService,
		decision.NewRegistry(periodService),
		decision.NewCache(redisClient, cfg.SuggestionCacheTTL),
		auditLogger,
		logger,
	)

	authMiddleware := auth.NewMiddleware(auth.NewPgKeyRepository(pool), logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Auth:            authMiddleware,
		PeriodHandler:   periodhttp.NewHandler(periodService, snapshotRepo, auditLogger),
		DecisionHandler: decisionhttp.NewHandler(decisionService, validationService),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", slog.Any("error", err))
	}
}
