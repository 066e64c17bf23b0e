package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fieldlite/credvault/internal/admin"
	"github.com/fieldlite/credvault/internal/cipher"
	"github.com/fieldlite/credvault/internal/health"
	"github.com/fieldlite/credvault/internal/logging"
	"github.com/fieldlite/credvault/internal/migration"
	"github.com/fieldlite/credvault/internal/store"
	"github.com/fieldlite/credvault/internal/validation"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "credvaultd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.AppSecret == "" {
		return errors.New("CREDVAULT_APP_SECRET is required")
	}
	if cfg.Production && cfg.FallbackToken != "" {
		return errors.New("CREDVAULT_FALLBACK_TOKEN must not be set in production")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	counters := health.NewCounters()

	c, err := cipher.New(cipher.Config{
		AppSecret:  cfg.AppSecret,
		Iterations: cfg.Iterations,
		Counters:   counters,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	monitor, err := health.NewMonitor(counters, st, logger)
	if err != nil {
		return err
	}

	migrator := migration.NewMigrator(migration.Config{
		Store:         st,
		Cipher:        c,
		Logger:        logger,
		Production:    cfg.Production,
		FallbackToken: cfg.FallbackToken,
	})

	sweeper, err := migration.NewSweeper(st, migrator, cfg.SweepSchedule, logger)
	if err != nil {
		return fmt.Errorf("configure sweeper: %w", err)
	}
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer sweeper.Stop()

	validator, err := validation.NewMaintenanceValidator()
	if err != nil {
		return err
	}

	srv := admin.NewServer(admin.Deps{
		Store:     st,
		Cipher:    c,
		Monitor:   monitor,
		Migrator:  migrator,
		Validator: validator,
		Logger:    logger,
	})

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin API listening",
			slog.String("addr", cfg.ListenAddr),
			slog.Bool("production", cfg.Production))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
