package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/sheetgate/internal/config"
	"github.com/JonMunkholm/sheetgate/internal/core"
	"github.com/JonMunkholm/sheetgate/internal/logging"
	"github.com/JonMunkholm/sheetgate/internal/remote"
	"github.com/JonMunkholm/sheetgate/internal/store"
	"github.com/JonMunkholm/sheetgate/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	if err := run(cfg); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := remote.New(cfg.Validator.URL,
		remote.WithHealthPath(cfg.Validator.HealthPath),
		remote.WithMaxResponseSize(cfg.Validator.MaxResponseSize),
		remote.WithLogger(slog.Default()),
	)
	if err != nil {
		return err
	}

	persistence, closePersistence, err := openPersistence(ctx, cfg, client)
	if err != nil {
		return err
	}
	defer closePersistence()

	monitor := core.NewMonitor(client, cfg.Validator.PollInterval, cfg.Validator.ProbeTimeout, slog.Default())
	limiter := core.NewCallLimiter(cfg.Validator.MaxConcurrent, cfg.Validator.MaxWaitTime)

	server := web.NewServer(cfg, web.Deps{
		Status:   monitor,
		Limiter:  limiter,
		Uploader: core.NewUploader(client, limiter, cfg.Validator.ValidateTimeout),
		Saver:    core.NewSaver(persistence, limiter, cfg.Validator.SaveTimeout),
		Logger:   slog.Default(),
	})

	slog.Info("validation service configured",
		"url", client.BaseURL(),
		"poll_interval", cfg.Validator.PollInterval,
		"max_concurrent", cfg.Validator.MaxConcurrent,
		"persistence", cfg.Persistence.Backend,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		monitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		server.RunMaintenance(gctx)
		return nil
	})
	g.Go(server.Start)

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let in-flight validate and save calls finish before closing connections.
		if active := limiter.ActiveCount(); active > 0 {
			slog.Info("waiting for service calls to complete", "active", active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("service calls did not complete in time", "error", err)
			} else {
				slog.Info("all service calls completed")
			}
		}

		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openPersistence returns the save backend. The remote service is the default;
// the postgres backend writes previews straight into the dataset tables.
func openPersistence(ctx context.Context, cfg *config.Config, client *remote.Client) (core.PersistenceService, func(), error) {
	if cfg.Persistence.Backend != config.BackendPostgres {
		return client, func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	slog.Info("connected to database", "database", poolConfig.ConnConfig.Database)

	sink := store.NewSink(pool, slog.Default())
	if err := sink.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return sink, pool.Close, nil
}
