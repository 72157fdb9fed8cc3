package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nexuspay/settlement-relay/internal/dlq"
	"github.com/nexuspay/settlement-relay/internal/events"
	"github.com/nexuspay/settlement-relay/internal/notifier"
	"github.com/nexuspay/settlement-relay/internal/retry"
	"github.com/nexuspay/settlement-relay/internal/transactions"
	"github.com/nexuspay/settlement-relay/pkg/config"
	"github.com/nexuspay/settlement-relay/pkg/db"
	"github.com/nexuspay/settlement-relay/pkg/logger"
	"github.com/nexuspay/settlement-relay/pkg/metrics"
	"github.com/nexuspay/settlement-relay/pkg/migrate"
	"github.com/nexuspay/settlement-relay/pkg/pubsub"
	"github.com/nexuspay/settlement-relay/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)

	notifierService, err := notifier.NewService(notifier.ServiceParams{
		Logger:    logg,
		Publisher: pubsubClient.NotificationPublisher(),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notifier", err)
		os.Exit(1)
	}

	eventsRepo := events.NewRepository(dbClient.DB())
	transactionsRepo := transactions.NewRepository(dbClient.DB())
	dlqRepo := dlq.NewRepository(dbClient.DB())

	applier, err := events.NewApplier(events.ApplierParams{
		Logger:       logg,
		DB:           dbClient,
		Events:       eventsRepo,
		Transactions: transactionsRepo,
		Notifier:     notifierService,
		Metrics:      pipelineMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create applier", err)
		os.Exit(1)
	}

	policy, err := retry.NewPolicy(retry.PolicyParams{
		BaseDelay:   cfg.Pipeline.BaseDelay,
		MaxDelay:    cfg.Pipeline.MaxDelay,
		MaxAttempts: cfg.Pipeline.MaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create retry policy", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Config:  cfg,
		Logger:  logg,
		DB:      dbClient,
		Redis:   redisClient,
		Events:  eventsRepo,
		DLQ:     dlqRepo,
		Applier: applier,
		Policy:  policy,
		Metrics: pipelineMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create pipeline worker", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "worker",
	})
	logg.Info(ctx, "starting pipeline worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "pipeline worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "pipeline worker shutting down gracefully")
}
