package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/JonMunkholm/skurename/internal/config"
	"github.com/JonMunkholm/skurename/internal/core"
	"github.com/JonMunkholm/skurename/internal/logging"
	"github.com/JonMunkholm/skurename/internal/store"
	"github.com/JonMunkholm/skurename/internal/web"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()

	runStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open run history", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	service := core.NewService(core.ServiceOptions{
		Store:       runStore,
		Limiter:     core.NewRunLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime),
		CounterMode: core.CounterMode(cfg.Rename.CounterMode),
		FolderMode:  cfg.Rename.FolderMode,
		RunTimeout:  cfg.Upload.Timeout,
		ResultTTL:   cfg.Upload.ResultTTL,
		WorkDir:     cfg.Upload.WorkDir,
		Logger:      slog.Default(),
	})

	maintenanceCtx, stopMaintenance := context.WithCancel(ctx)
	defer stopMaintenance()
	go service.StartMaintenance(maintenanceCtx, core.MaintenanceConfig{
		Interval:         cfg.Maintenance.Interval,
		FileTTL:          cfg.Upload.ResultTTL,
		HistoryRetention: cfg.Maintenance.HistoryRetention,
	})

	server := web.NewServer(cfg, service)

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		stopMaintenance()

		slog.Info("waiting for runs to complete", "active", service.LimiterStatus().Active)
		if err := service.Drain(shutdownCtx); err != nil {
			slog.Warn("runs did not complete in time", "error", err)
		} else {
			slog.Info("all runs completed")
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-stopped
	slog.Info("server stopped")
}

// openStore connects the PostgreSQL history store when DATABASE_URL is set
// and falls back to an in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config) (core.RunStore, func(), error) {
	if !cfg.Database.Enabled() {
		slog.Info("no database configured, keeping run history in memory", "size", cfg.Rename.HistorySize)
		return core.NewMemoryStore(cfg.Rename.HistorySize), func() {}, nil
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

	pg := store.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}
	return pg, pool.Close, nil
}
