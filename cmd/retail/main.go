package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-retail/cmd/retail/cli"
	"github.com/odyssey-erp/odyssey-retail/internal/app"
	"github.com/odyssey-erp/odyssey-retail/internal/audittrail"
	"github.com/odyssey-erp/odyssey-retail/internal/catalog"
	"github.com/odyssey-erp/odyssey-retail/internal/channelstock"
	"github.com/odyssey-erp/odyssey-retail/internal/checkout"
	"github.com/odyssey-erp/odyssey-retail/internal/ledger"
	"github.com/odyssey-erp/odyssey-retail/internal/observability"
	"github.com/odyssey-erp/odyssey-retail/internal/orders"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobsCommand(ctx, cfg, os.Args[2:]); err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := serve(ctx, stop, cfg, logger); err != nil {
		logger.Error("server", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	stockCache := cache.NewJSONCache(redisClient, cfg.StockCacheTTL)
	products := catalog.NewRepository(dbpool)

	ledgerService := ledger.NewService(ledger.NewRepository(dbpool), products, ledger.ServiceConfig{Logger: logger})
	stockRepo := channelstock.NewRepository(dbpool)
	stockCfg := channelstock.Config{Logger: logger, Catalog: products, Cache: stockCache, Metrics: metrics}
	physical := channelstock.New(channelstock.Physical, stockRepo, stockCfg)
	online := channelstock.New(channelstock.Online, stockRepo, stockCfg)

	engine := checkout.NewEngine(checkout.NewRepository(dbpool), products, checkout.Config{
		Logger:  logger,
		TaxRate: cfg.TaxRate(),
		Cache:   stockCache,
		Metrics: metrics,
	}, physical, online)
	drafts := checkout.NewDraftStore(redisClient, cfg.DraftTTL)

	orderService := orders.NewService(orders.NewRepository(dbpool), engine, orders.Config{
		Logger:      logger,
		ShippingFee: cfg.ShippingFee(),
		Metrics:     metrics,
	})
	history := audittrail.NewService(audittrail.NewStore(dbpool))

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		LedgerHandler:   ledger.NewHandler(logger, ledgerService),
		StockHandler:    channelstock.NewHandler(logger, cfg.LowStockThreshold, physical, online),
		CheckoutHandler: checkout.NewHandler(logger, engine, drafts),
		OrdersHandler:   orders.NewHandler(logger, orderService),
		AuditHandler:    audittrail.NewHandler(logger, history),
		JobHandler:      jobs.NewHandler(inspector, logger),
		Metrics:         metrics,
		Readiness: map[string]app.Pinger{
			"postgres": dbpool,
			"redis":    app.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// runJobsCommand handles "jobs trigger <task> [threshold]" and "jobs stats".
func runJobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	c, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if len(args) == 0 {
		return errors.New("usage: retail jobs trigger <task> [threshold] | retail jobs stats")
	}
	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("usage: retail jobs trigger <task> [threshold]")
		}
		payload := jobs.ScanPayload{}
		if len(args) > 2 {
			threshold, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("threshold: %w", err)
			}
			payload.Threshold = threshold
		}
		info, err := c.Trigger(ctx, args[1], payload)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		return fmt.Errorf("unknown jobs command %q", args[0])
	}
	return nil
}
