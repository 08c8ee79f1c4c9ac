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
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-sync/internal/app"
	"github.com/odyssey-erp/odyssey-sync/internal/company"
	"github.com/odyssey-erp/odyssey-sync/internal/observability"
	"github.com/odyssey-erp/odyssey-sync/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-sync/internal/platform/db"
	"github.com/odyssey-erp/odyssey-sync/internal/syncer"
	"github.com/odyssey-erp/odyssey-sync/internal/syncqueue"
	"github.com/odyssey-erp/odyssey-sync/internal/webhook"
	"github.com/odyssey-erp/odyssey-sync/internal/worker"
	"github.com/odyssey-erp/odyssey-sync/jobs"
)

func main() {
	_ = godotenv.Load()

	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	orchestrator := syncer.NewService(configRepo, queueRepo, dispatcher, statusRepo, logger)
	metrics := observability.NewMetrics()

	drainPool := worker.NewPool(queueRepo, configRepo, dispatcher, orchestrator, logger, metrics, worker.Config{
		Workers:   cfg.WorkerCount,
		BatchSize: cfg.WorkerBatchSize,
		IdleSleep: cfg.WorkerIdleSleep,
		Backoff: syncqueue.Backoff{
			Step: cfg.RetryBackoffStep,
			Max:  cfg.RetryBackoffMax,
		},
	})

	purgeTask, err := jobs.NewSyncPurgeTask(cfg.RetentionHours)
	if err != nil {
		logger.Error("build purge task", slog.Any("error", err))
		os.Exit(1)
	}
	reapTask, err := jobs.NewSyncReapTask(cfg.StaleClaimMinutes)
	if err != nil {
		logger.Error("build reap task", slog.Any("error", err))
		os.Exit(1)
	}

	purgeJob := jobs.NewPurgeJob(queueRepo, statusRepo, logger)
	reapJob := jobs.NewReapJob(queueRepo, logger)

	housekeeping, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSyncPurge, Handler: purgeJob.Handle},
			{Type: jobs.TaskSyncReap, Handler: reapJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 3 * * *", Task: purgeTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/5 * * * *", Task: reapTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init housekeeping worker", slog.Any("error", err))
		os.Exit(1)
	}

	depth := observability.NewDepthPublisher(queueRepo, metrics, logger, cfg.QueueDepthInterval)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metricsMux}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return drainPool.Run(ctx)
	})
	g.Go(func() error {
		return housekeeping.Run(ctx)
	})
	g.Go(func() error {
		err := depth.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		logger.Info("worker metrics listening", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
