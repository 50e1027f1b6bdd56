package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/innledger/innledger/internal/app"
	"github.com/innledger/innledger/internal/audit"
	"github.com/innledger/innledger/internal/auth"
	"github.com/innledger/innledger/internal/authz"
	"github.com/innledger/innledger/internal/fnb"
	"github.com/innledger/innledger/internal/observability"
	"github.com/innledger/innledger/internal/platform/cache"
	"github.com/innledger/innledger/internal/platform/db"
	"github.com/innledger/innledger/internal/properties"
	"github.com/innledger/innledger/internal/shared"
	"github.com/innledger/innledger/internal/users"
	"github.com/innledger/innledger/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	sessionManager := shared.NewSessionManager(redisClient, "innledger_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	metrics := observability.NewMetrics()
	authzMetrics := authz.NewMetrics(metrics.Registerer())

	auditService := audit.NewService(dbpool)
	auditHandler := audit.NewHandler(logger, auditService)

	authzRepo := authz.NewRepository(dbpool)
	permissionCache := authz.NewPermissionCache(authz.NewRedisCache(redisClient), authzRepo, cfg.AuthzCacheTTL, logger, authzMetrics)

	engineOpts := []authz.EngineOption{
		authz.WithMetrics(authzMetrics),
		authz.WithMaxDepth(cfg.AuthzMaxDepth),
	}
	if cfg.AuthzAuditInheritance {
		engineOpts = append(engineOpts, authz.WithSources(authz.NewAuditLogSource(auditService, 0)))
	}
	engine, err := authz.NewEngine(authzRepo, permissionCache, logger, engineOpts...)
	if err != nil {
		logger.Error("init authorization engine", slog.Any("error", err))
		os.Exit(1)
	}

	invalidation := authz.NewInvalidationService(permissionCache, logger)
	policyEngine := authz.NewPolicyEngine(authzRepo, engine, logger, authz.WithPolicyMetrics(authzMetrics))
	authorize := authz.Middleware{Engine: engine, Logger: logger}
	authzHandler := authz.NewHandler(logger, engine, policyEngine, authzRepo)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)

	usersRepo := users.NewRepository(dbpool)
	usersService := users.NewService(usersRepo, invalidation, auditService)
	usersHandler := users.NewHandler(logger, usersService)

	propertiesRepo := properties.NewRepository(dbpool)
	propertiesService := properties.NewService(propertiesRepo, invalidation, auditService)
	propertiesHandler := properties.NewHandler(logger, propertiesService)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	fnbRepo := fnb.NewRepository(dbpool)
	fnbService := fnb.NewService(fnbRepo, idempotencyStore, jobClient, cfg.SummaryCurrency)
	fnbHandler := fnb.NewHandler(logger, fnbService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		SessionManager:    sessionManager,
		CSRFManager:       csrfManager,
		AuthHandler:       authHandler,
		AuthzHandler:      authzHandler,
		UsersHandler:      usersHandler,
		PropertiesHandler: propertiesHandler,
		FnbHandler:        fnbHandler,
		AuditHandler:      auditHandler,
		JobHandler:        jobHandler,
		Authorize:         authorize,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
