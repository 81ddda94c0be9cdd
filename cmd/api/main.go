package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/danielreynoso/stockroom-backend/api/routes"
	"github.com/danielreynoso/stockroom-backend/internal/idempotency"
	"github.com/danielreynoso/stockroom-backend/internal/movements"
	"github.com/danielreynoso/stockroom-backend/internal/stock"
	"github.com/danielreynoso/stockroom-backend/internal/transfers"
	"github.com/danielreynoso/stockroom-backend/pkg/config"
	"github.com/danielreynoso/stockroom-backend/pkg/db"
	"github.com/danielreynoso/stockroom-backend/pkg/logger"
	"github.com/danielreynoso/stockroom-backend/pkg/metrics"
	"github.com/danielreynoso/stockroom-backend/pkg/migrate"
	"github.com/danielreynoso/stockroom-backend/pkg/outbox"
	"github.com/danielreynoso/stockroom-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

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

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		closeAll(logg, dbClient.Close)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		closeAll(logg, dbClient.Close)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps, err := buildServices(cfg, logg, dbClient, redisClient, registry)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		closeAll(logg, redisClient.Close, dbClient.Close)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(deps),
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			closeAll(logg, redisClient.Close, dbClient.Close)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(ctx, "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}

	closeAll(logg, redisClient.Close, dbClient.Close)
	logg.Info(ctx, "api server stopped")
}

func buildServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, registry *prometheus.Registry) (routes.Deps, error) {
	conn := dbClient.DB()
	publisher := outbox.NewService(outbox.NewRepository(conn), logg)

	stockSvc, err := stock.NewService(
		stock.NewRepository(conn),
		movements.NewRepository(conn),
		dbClient,
		publisher,
		stock.Options{
			Cache:    redisClient,
			CacheTTL: cfg.Availability.CacheTTL,
			Metrics:  metrics.NewStockMetrics(registry),
			Logger:   logg,
		},
	)
	if err != nil {
		return routes.Deps{}, err
	}

	transferSvc, err := transfers.NewService(
		transfers.NewRepository(conn),
		stockSvc,
		dbClient,
		publisher,
		metrics.NewTransferMetrics(registry),
	)
	if err != nil {
		return routes.Deps{}, err
	}

	movementSvc, err := movements.NewService(movements.NewRepository(conn))
	if err != nil {
		return routes.Deps{}, err
	}

	store, err := idempotency.NewStore(redisClient, idempotency.Options{
		TTL:         cfg.Idempotency.TTL,
		PendingTTL:  cfg.Idempotency.PendingTTL,
		KeyMaxBytes: cfg.Idempotency.KeyMaxBytes,
		Metrics:     metrics.NewIdempotencyMetrics(registry),
		Logger:      logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	return routes.Deps{
		Config:      cfg,
		Logger:      logg,
		DB:          dbClient,
		Redis:       redisClient,
		Registry:    registry,
		Stock:       stockSvc,
		Transfers:   transferSvc,
		Movements:   movementSvc,
		Idempotency: store,
	}, nil
}

func closeAll(logg *logger.Logger, closers ...func() error) {
	var err error
	for _, closeFn := range closers {
		err = multierr.Append(err, closeFn())
	}
	if err != nil {
		logg.Error(context.Background(), "error closing resources", err)
	}
}
