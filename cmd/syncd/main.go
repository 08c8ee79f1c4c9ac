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

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/odyssey-sync/internal/app"
	"github.com/odyssey-erp/odyssey-sync/internal/company"
	"github.com/odyssey-erp/odyssey-sync/internal/observability"
	"github.com/odyssey-erp/odyssey-sync/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-sync/internal/platform/db"
	"github.com/odyssey-erp/odyssey-sync/internal/polling"
	"github.com/odyssey-erp/odyssey-sync/internal/syncer"
	"github.com/odyssey-erp/odyssey-sync/internal/syncqueue"
	"github.com/odyssey-erp/odyssey-sync/internal/webhook"
	"github.com/odyssey-erp/odyssey-sync/jobs"
)

func main() {
	_ = godotenv.Load()

	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
		return
	}

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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	queueRepo := syncqueue.NewRepository(pool)
	statusRepo := syncer.NewStatusRepository(pool)
	configRepo := company.NewCachedRepository(company.NewRepository(pool), redisClient, cfg.ConfigCacheTTL)

	dispatcher := webhook.NewDispatcher(logger, webhook.Config{
		Attempts:       cfg.WebhookAttempts,
		AttemptTimeout: cfg.WebhookAttemptTimeout,
		RetryDelay:     cfg.WebhookRetryDelay,
	})

	pollingService := polling.NewService(queueRepo, statusRepo, configRepo, dispatcher)
	pollingHandler := polling.NewHandler(logger, pollingService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	jobHandler := jobs.NewHandler(inspector, logger)

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		PollingHandler: pollingHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
		Pool:           pool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	depth := observability.NewDepthPublisher(queueRepo, metrics, logger, cfg.QueueDepthInterval)
	go func() {
		if err := depth.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("queue depth publisher stopped", slog.Any("error", err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("syncd listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server run", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
