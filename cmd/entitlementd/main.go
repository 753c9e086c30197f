package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/scoutline/entitlements/pkg/config"
	"github.com/scoutline/entitlements/pkg/entitlements"
	"github.com/scoutline/entitlements/pkg/features"
	"github.com/scoutline/entitlements/pkg/httputil"
	"github.com/scoutline/entitlements/pkg/middleware"
	"github.com/scoutline/entitlements/pkg/observability"
	"github.com/scoutline/entitlements/pkg/storage"
	"github.com/scoutline/entitlements/pkg/storage/postgres"
	"github.com/scoutline/entitlements/pkg/subscriptions"
	"github.com/scoutline/entitlements/pkg/usage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("Starting entitlement engine")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("entitlement engine exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	db, err := storage.Connect(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer db.Close()

	if err := postgres.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	redisClient, err := connectRedis(cfg, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	go storage.CollectPoolStats(ctx, db, redisClient, metrics, 0)

	otelMetrics, err := observability.NewOTelMetrics()
	if err != nil {
		return fmt.Errorf("failed to create OpenTelemetry instruments: %w", err)
	}

	subStore := postgres.NewSubscriptionStore(db)
	flagStore := postgres.NewFlagStore(db)

	subs := subscriptions.NewService(subStore, logger)
	meter := usage.NewMeter(subStore, logger)
	cache := features.NewCache(redisClient, cfg.Features.CacheSize, cfg.Features.CacheTTL, logger, metrics)
	flagRegistry := features.NewRegistry(flagStore, cache, logger, metrics)
	resolver := entitlements.NewResolver(subs, meter, flagRegistry, logger, metrics, otelMetrics)
	go flagRegistry.CollectCatalogStats(ctx, 0)

	if cfg.Features.SeedFile != "" {
		seeder := features.NewSeeder(flagStore, cache, logger)
		if _, err := seeder.Load(ctx, cfg.Features.SeedFile); err != nil {
			return fmt.Errorf("failed to seed feature catalog: %w", err)
		}
		if cfg.Features.WatchSeedFile {
			go func() {
				defer observability.RecoverPanic(logger, "seed file watcher")
				if err := seeder.Watch(ctx, cfg.Features.SeedFile); err != nil {
					logger.WithError(err).Error("seed file watcher stopped")
				}
			}()
		}
	}

	apiServer := buildAPIServer(ctx, cfg, logger, resolver, subs, flagRegistry, metrics, redisClient)
	healthServer := buildHealthServer(cfg, db, redisClient, registry)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("API server listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	shutdown := observability.NewShutdownManager(logger, apiServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		cancel()
		return nil
	})
	if providers != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	if err := shutdown.WaitForShutdown(); err != nil {
		return err
	}
	return g.Wait()
}

// connectRedis is optional: without Redis the flag cache runs in-process only
// and rate limits are per-instance.
func connectRedis(cfg *config.Config, logger *observability.Logger) (*redis.Client, error) {
	if cfg.Storage.RedisURL == "" {
		logger.Info("Redis not configured; using in-process cache and rate limiting")
		return nil, nil
	}
	client, err := storage.NewRedisClient(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func buildAPIServer(ctx context.Context, cfg *config.Config, logger *observability.Logger,
	resolver *entitlements.Resolver, subs *subscriptions.Service, flagRegistry *features.Registry,
	metrics *observability.Metrics, redisClient *redis.Client) *http.Server {

	router := mux.NewRouter()
	router.Use(httputil.RequestIDMiddleware)
	router.Use(httputil.RecoveryMiddleware(logger))
	router.Use(observability.HTTPMetricsMiddleware(metrics))

	// Tenant identity must be resolved before rate limiting and usage tracking.
	router.Use(middleware.TenantContextMiddleware)

	if redisClient != nil {
		router.Use(middleware.NewDistributedRateLimitMiddleware(redisClient).Handler)
	} else {
		limiter := middleware.NewRateLimitMiddleware()
		limiter.StartCleanup(ctx)
		router.Use(limiter.Handler)
	}

	enforcer := middleware.NewEnforcementMiddleware(resolver, logger)
	router.Use(enforcer.TrackAPIUsage)

	handlers := entitlements.NewHandlers(resolver, subs, flagRegistry, logger)
	handlers.RegisterRoutes(router)

	return &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(router, "entitlements"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func buildHealthServer(cfg *config.Config, db *sql.DB, redisClient *redis.Client,
	registry *prometheus.Registry) *http.Server {

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}

	return &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}
}
