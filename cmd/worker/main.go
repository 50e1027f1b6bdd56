package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/innledger/innledger/internal/app"
	"github.com/innledger/innledger/internal/authz"
	"github.com/innledger/innledger/internal/fnb"
	jobmetrics "github.com/innledger/innledger/internal/jobs"
	"github.com/innledger/innledger/internal/platform/cache"
	"github.com/innledger/innledger/internal/platform/db"
	"github.com/innledger/innledger/jobs"
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

	metrics := jobmetrics.NewMetrics(nil)

	authzRepo := authz.NewRepository(pool)
	permissionCache := authz.NewPermissionCache(authz.NewRedisCache(redisClient), authzRepo, cfg.AuthzCacheTTL, logger, nil)
	engine, err := authz.NewEngine(authzRepo, permissionCache, logger, authz.WithMaxDepth(cfg.AuthzMaxDepth))
	if err != nil {
		logger.Error("init authorization engine", slog.Any("error", err))
		os.Exit(1)
	}
	policyEngine := authz.NewPolicyEngine(authzRepo, engine, logger)

	fnbRepo := fnb.NewRepository(pool)
	fnbService := fnb.NewService(fnbRepo, nil, nil, cfg.SummaryCurrency)

	scanJob := jobs.NewComplianceScanJob(policyEngine, logger, metrics)
	refreshJob := jobs.NewSummaryRefreshJob(fnbService, redisClient, logger, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskComplianceScan, Handler: scanJob.Handle},
			{Type: jobs.TaskSummaryRefresh, Handler: refreshJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 2 * * *", Task: jobs.NewComplianceScanTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
