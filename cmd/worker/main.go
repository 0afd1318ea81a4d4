package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-retail/internal/app"
	"github.com/odyssey-erp/odyssey-retail/internal/catalog"
	"github.com/odyssey-erp/odyssey-retail/internal/channelstock"
	jobmetrics "github.com/odyssey-erp/odyssey-retail/internal/jobs"
	"github.com/odyssey-erp/odyssey-retail/internal/ledger"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
	"github.com/odyssey-erp/odyssey-retail/jobs"
)

func main() {
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

	products := catalog.NewRepository(pool)
	ledgerService := ledger.NewService(ledger.NewRepository(pool), products, ledger.ServiceConfig{Logger: logger})
	stockRepo := channelstock.NewRepository(pool)
	stockCfg := channelstock.Config{Logger: logger, Catalog: products}

	jobMetrics := jobmetrics.NewMetrics(nil)
	scanJob := jobs.NewStockScanJob(jobs.StockScanConfig{
		Batches: ledgerService,
		Channels: []jobs.ChannelSource{
			channelstock.New(channelstock.Physical, stockRepo, stockCfg),
			channelstock.New(channelstock.Online, stockRepo, stockCfg),
		},
		Gate:         cache.NewAlertGate(redisClient, 0),
		Threshold:    cfg.LowStockThreshold,
		ExpiringDays: cfg.ExpiringSoonDays,
		Logger:       logger,
		Metrics:      jobMetrics,
	})

	var cron []jobs.CronRegistration
	for _, entry := range []struct {
		spec     string
		taskType string
	}{
		{cfg.LowStockCron, jobs.TaskLowStockScan},
		{cfg.ExpiryScanCron, jobs.TaskExpiryScan},
		{cfg.InventorySummaryCron, jobs.TaskSummaryScan},
	} {
		task, err := jobs.NewScanTask(entry.taskType, jobs.ScanPayload{})
		if err != nil {
			logger.Error("build scan task", slog.String("task", entry.taskType), slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: entry.spec, Task: task, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}
	cron = append(cron, jobs.CronRegistration{Spec: cfg.IdempotencyPurgeCron, Task: jobs.NewIdempotencyPurgeTask(), Options: []asynq.Option{asynq.MaxRetry(1)}})

	purgeJob := &jobs.IdempotencyPurgeJob{
		Purger:    shared.NewIdempotencyStore(pool),
		Retention: cfg.IdempotencyRetention,
		Logger:    logger,
		Metrics:   jobMetrics,
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    append(scanJob.Handlers(), jobs.TaskHandler{Type: jobs.TaskIdempotencyPurge, Handler: purgeJob.Handle}),
		Cron:        cron,
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
