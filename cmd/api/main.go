package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nexuspay/settlement-relay/api/controllers"
	"github.com/nexuspay/settlement-relay/api/routes"
	"github.com/nexuspay/settlement-relay/internal/dlq"
	"github.com/nexuspay/settlement-relay/internal/events"
	"github.com/nexuspay/settlement-relay/internal/transactions"
	circlewebhook "github.com/nexuspay/settlement-relay/internal/webhooks/circle"
	"github.com/nexuspay/settlement-relay/pkg/circle"
	"github.com/nexuspay/settlement-relay/pkg/config"
	"github.com/nexuspay/settlement-relay/pkg/db"
	"github.com/nexuspay/settlement-relay/pkg/logger"
	"github.com/nexuspay/settlement-relay/pkg/metrics"
	"github.com/nexuspay/settlement-relay/pkg/migrate"
	"github.com/nexuspay/settlement-relay/pkg/redis"
)

const shutdownGrace = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	circleClient, err := circle.NewClient(cfg.Circle.APIKey,
		circle.WithBaseURL(cfg.Circle.BaseURL),
		circle.WithTimeout(cfg.Circle.RequestTimeout),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create provider client", err)
		os.Exit(1)
	}

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)

	eventsRepo := events.NewRepository(dbClient.DB())
	transactionsRepo := transactions.NewRepository(dbClient.DB())
	dlqRepo := dlq.NewRepository(dbClient.DB())

	ingressService, err := circlewebhook.NewService(circlewebhook.ServiceParams{
		Logger:  logg,
		Secret:  cfg.Circle.WebhookSecret,
		Events:  eventsRepo,
		Metrics: pipelineMetrics,
		MaxSkew: cfg.Circle.WebhookMaxSkew,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook ingress", err)
		os.Exit(1)
	}

	dlqService, err := dlq.NewService(dlq.ServiceParams{
		Logger:  logg,
		DB:      dbClient,
		Entries: dlqRepo,
		Events:  eventsRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create dead letter service", err)
		os.Exit(1)
	}

	router := routes.NewRouter(routes.RouterParams{
		Config:       cfg,
		Logger:       logg,
		Webhooks:     ingressService,
		DeadLetters:  dlqService,
		Events:       eventsRepo,
		Transactions: transactionsRepo,
		DLQDepth:     dlqRepo,
		ReadyChecks: map[string]controllers.Pinger{
			"postgres": dbClient,
			"redis":    redisClient,
			"circle":   circleClient,
		},
		Metrics: prometheus.DefaultGatherer,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
			os.Exit(1)
		}
	}

	logg.Info(ctx, "api server shutting down gracefully")
}
