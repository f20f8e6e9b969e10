/**
 * @description
 * This is the main entry point for the lifecycle-service. It wires together
 * configuration, the PostgreSQL pool, the RabbitMQ notification producer, the
 * Redis rate limiter, the compute provisioning client, the two cron sweeps
 * (VPS lifecycle and cPanel license), and the HTTP API for user-driven
 * subscription actions, then runs until a termination signal arrives.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/nimbushost/lifecycle-service/internal/api"
	"github.com/nimbushost/lifecycle-service/internal/app"
	"github.com/nimbushost/lifecycle-service/internal/config"
	"github.com/nimbushost/lifecycle-service/internal/store"
	"github.com/nimbushost/lifecycle-service/pkg/computeclient"
	"github.com/nimbushost/lifecycle-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load a local .env file if present; env vars win in deployment.
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = 50
	poolCfg.MinConns = 5
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	// Simple protocol avoids statement cache conflicts behind PgBouncer.
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		logger.Error("unable to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("unable to parse Redis URL", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	compute := computeclient.NewClient(cfg.ComputeAPIBaseURL, cfg.ComputeAPIKey)

	repository := store.NewPostgresRepository(dbpool)
	notifier := app.NewNotifier(producer, cfg.NotificationExchange, logger)
	renewer := app.NewRenewer(repository, notifier, logger)
	orchestrator := app.NewOrchestrator(repository, compute, notifier, logger,
		cfg.ComputeProject, time.Duration(cfg.ProvisionOpTimeoutSeconds)*time.Second)

	lifecycleJob := app.NewLifecycleJob(repository, renewer, orchestrator, notifier, logger, app.LifecycleConfig{
		GracePeriodDays:       cfg.GracePeriodDays,
		SuspensionPeriodDays:  cfg.SuspensionPeriodDays,
		ReinstatementFeeCents: cfg.ReinstatementFeeCents,
		DueBuffer:             time.Duration(cfg.DueBufferSeconds) * time.Second,
	})

	licenseCfg := app.LicenseConfig{
		ReminderWindow: time.Duration(cfg.CPanelReminderWindowMinutes) * time.Minute,
	}
	if cfg.WebhostPlanID != "" {
		id, err := uuid.Parse(cfg.WebhostPlanID)
		if err != nil {
			logger.Error("invalid WEBHOST_PLAN_ID", "error", err)
			os.Exit(1)
		}
		licenseCfg.WebhostPlanID = id
	}
	licenseJob := app.NewLicenseJob(repository, renewer, notifier, logger, licenseCfg)

	scheduler := app.NewScheduler(lifecycleJob, licenseJob, logger, cfg.LifecycleSweepSchedule, cfg.CPanelSweepSchedule)
	scheduler.Start()
	logger.Info("scheduler started")

	limiter := app.NewRedisRenewalRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	handler := api.NewHandler(repository, renewer, orchestrator, limiter, logger, cfg.RenewRateLimitPerMinute)
	router := api.NewRouter(handler, cfg.JWKSURL)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	stopCtx := scheduler.Stop()
	<-stopCtx.Done() // Wait for in-flight sweeps to finish

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("service stopped")
}
