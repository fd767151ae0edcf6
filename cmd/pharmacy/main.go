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

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/cmd/pharmacy/cli"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/app"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/auth"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/delegations"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/medicines"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/observability"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/platform/cache"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/platform/db"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/platform/httpx"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/platform/migrations"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/rbac"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/returns"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/sales"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 {
		os.Exit(runCommand(cfg, logger, os.Args[1], os.Args[2:]))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DBAutoMigrate {
		if err := migrate(cfg, logger); err != nil {
			logger.Error("migrate database", slog.Any("error", err))
			os.Exit(1)
		}
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, caches fall back to postgres", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	httpx.SetDebug(cfg.IsDevelopment())
	metrics := observability.NewMetrics()
	rbacMiddleware := rbac.Middleware{Logger: logger}
	auditLogger := shared.NewAuditLogger(dbpool)

	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		logger.Error("init tokens", slog.Any("error", err))
		os.Exit(1)
	}
	authService := auth.NewService(auth.NewRepository(dbpool), tokens)
	authHandler := auth.NewHandler(logger, authService)

	medicineService := medicines.NewService(
		medicines.NewRepository(dbpool),
		cache.NewVersioned(redisClient, "medicines", cfg.CacheTTL),
		auditLogger,
		logger,
	)
	delegationService := delegations.NewService(delegations.NewRepository(dbpool), auditLogger, medicineService, metrics, logger)
	salesService := sales.NewService(
		sales.NewRepository(dbpool),
		cache.NewVersioned(redisClient, "sales", cfg.CacheTTL),
		auditLogger,
		medicineService,
		metrics,
		logger,
	)
	returnService := returns.NewService(returns.NewRepository(dbpool), auditLogger, salesService, medicineService, metrics, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		AuthHandler:        authHandler,
		MedicinesHandler:   medicines.NewHandler(logger, medicineService, rbacMiddleware),
		DelegationsHandler: delegations.NewHandler(logger, delegationService, rbacMiddleware),
		SalesHandler:       sales.NewHandler(logger, salesService, rbacMiddleware),
		ReturnsHandler:     returns.NewHandler(logger, returnService, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

func migrate(cfg *app.Config, logger *slog.Logger) error {
	m, err := migrations.New(cfg.PGDSN, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("migrator close", slog.Any("error", err))
		}
	}()
	return m.Up()
}

// runCommand dispatches the one-shot subcommands and returns the exit code.
func runCommand(cfg *app.Config, logger *slog.Logger, name string, args []string) int {
	switch name {
	case "migrate":
		m, err := migrations.New(cfg.PGDSN, logger)
		if err != nil {
			logger.Error("open migrator", slog.Any("error", err))
			return 1
		}
		defer m.Close()
		return cli.MigrateCommand(m, cli.MigrateOptions{Args: args})
	case "jobs":
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		defer jobsCLI.Close()
		return jobsCLI.JobsCommand(context.Background(), cli.JobsOptions{Args: args})
	default:
		logger.Error("unknown command", slog.String("command", name))
		return 2
	}
}
