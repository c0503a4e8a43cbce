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

	"github.com/meridian-rbac/meridian/internal/app"
	"github.com/meridian-rbac/meridian/internal/assignment"
	"github.com/meridian-rbac/meridian/internal/directory"
	"github.com/meridian-rbac/meridian/internal/observability"
	"github.com/meridian-rbac/meridian/internal/platform/cache"
	"github.com/meridian-rbac/meridian/internal/platform/db"
	"github.com/meridian-rbac/meridian/internal/policy"
	"github.com/meridian-rbac/meridian/internal/profile"
	"github.com/meridian-rbac/meridian/internal/shared"
	"github.com/meridian-rbac/meridian/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
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

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	locker := shared.NewRedisLocker(redisClient, cfg.ActivationLockTTL)

	policyRepo := policy.NewRepository(pool)
	registry := policy.NewRegistry(policyRepo, redisClient, cfg.PolicyCacheTTL, logger)
	policyHandler := policy.NewHandler(logger, registry)

	directoryRepo := directory.NewRepository(pool)
	directoryService := directory.NewService(directoryRepo, directory.DefaultSchema(), registry)
	directoryHandler := directory.NewHandler(logger, directoryService)

	assignmentRepo := assignment.NewRepository(pool)
	assignmentService := assignment.NewService(assignmentRepo, registry, directoryService, locker, auditLogger, logger)
	assignmentHandler := assignment.NewHandler(logger, assignmentService, metrics)

	profileRepo := profile.NewRepository(pool)
	profileService := profile.NewService(profileRepo, auditLogger, logger)
	profileHandler := profile.NewHandler(logger, profileService, metrics)

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
	jobInspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	jobHandler := jobs.NewHandler(jobInspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Metrics:           metrics,
		AssignmentHandler: assignmentHandler,
		ProfileHandler:    profileHandler,
		DirectoryHandler:  directoryHandler,
		PolicyHandler:     policyHandler,
		JobHandler:        jobHandler,
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
