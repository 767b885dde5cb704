package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/joaquinreyes/atelier-backend/api/controllers"
	"github.com/joaquinreyes/atelier-backend/api/routes"
	"github.com/joaquinreyes/atelier-backend/internal/engine"
	"github.com/joaquinreyes/atelier-backend/internal/events"
	"github.com/joaquinreyes/atelier-backend/internal/localcache"
	"github.com/joaquinreyes/atelier-backend/internal/remote"
	"github.com/joaquinreyes/atelier-backend/internal/remote/pgstore"
	"github.com/joaquinreyes/atelier-backend/internal/remote/redisstore"
	"github.com/joaquinreyes/atelier-backend/pkg/config"
	"github.com/joaquinreyes/atelier-backend/pkg/db"
	"github.com/joaquinreyes/atelier-backend/pkg/logger"
	"github.com/joaquinreyes/atelier-backend/pkg/metrics"
	"github.com/joaquinreyes/atelier-backend/pkg/migrate"
	"github.com/joaquinreyes/atelier-backend/pkg/pubsub"
	"github.com/joaquinreyes/atelier-backend/pkg/redis"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store remote.Store
		deps  = map[string]controllers.Pinger{}
	)

	switch {
	case cfg.Store.IsRedis():
		redisClient, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()

		store, err = redisstore.New(redisClient, redisClient, logg)
		if err != nil {
			logg.Error(ctx, "failed to build redis record store", err)
			os.Exit(1)
		}
		deps["redis"] = redisClient

	case cfg.Store.IsPostgres():
		dbClient, err := db.New(ctx, cfg.DB, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap database", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing database", err)
			}
		}()

		if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
			logg.Error(ctx, "failed to run dev migrations", err)
			os.Exit(1)
		}

		pgStore, err := pgstore.New(dbClient, pgstore.NewListener(cfg.DB.DSN, logg), logg)
		if err != nil {
			logg.Error(ctx, "failed to build postgres record store", err)
			os.Exit(1)
		}
		defer pgStore.Close()

		store = pgStore
		deps["database"] = dbClient

	default:
		logg.Error(ctx, "unknown record store backend", fmt.Errorf("unsupported backend %q", cfg.Store.Backend))
		os.Exit(1)
	}

	cache, err := localcache.NewSQLite(cfg.Cache.Path)
	if err != nil {
		logg.Error(ctx, "failed to open local cache", err)
		os.Exit(1)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logg.Error(context.Background(), "error closing local cache", err)
		}
	}()

	var publisher events.Publisher
	if cfg.PubSub.Enabled() {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()

		publisher, err = events.NewPubSubPublisher(pubsubClient.EventsPublisher(), logg)
		if err != nil {
			logg.Error(ctx, "failed to build events publisher", err)
			os.Exit(1)
		}
		deps["pubsub"] = pubsubClient
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	manager, err := engine.NewManager(engine.ManagerParams{
		Store:          store,
		Cache:          cache,
		Events:         publisher,
		Logger:         logg,
		Metrics:        metrics.NewSyncMetrics(registry),
		DebounceWindow: cfg.Sync.DebounceWindow,
		WriteTimeout:   cfg.Sync.WriteTimeout,
		LoadTimeout:    cfg.Sync.LoadTimeout,
		MaxRetries:     cfg.Sync.MaxRetries,
		RetryBackoff:   cfg.Sync.RetryBackoff,
	})
	if err != nil {
		logg.Error(ctx, "failed to build sync manager", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx = logg.WithFields(ctx, map[string]any{
		"env":     cfg.App.Env,
		"addr":    addr,
		"backend": cfg.Store.Backend,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, manager, deps, registry),
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
		logg.Info(ctx, "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "error during server shutdown", err)
		}
		if err := manager.Close(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "error closing sync sessions", err)
		}
	}
}
