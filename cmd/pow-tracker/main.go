package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/pow-tracker/internal/api/http"
	"github.com/i474232898/pow-tracker/internal/config"
	"github.com/i474232898/pow-tracker/internal/forecast"
	"github.com/i474232898/pow-tracker/internal/logging"
	"github.com/i474232898/pow-tracker/internal/scheduler"
	"github.com/i474232898/pow-tracker/internal/station"
	"github.com/i474232898/pow-tracker/internal/station/awdb"
	"github.com/i474232898/pow-tracker/internal/store"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	sugar, syncLogs, err := logging.New(logging.Config{Debug: cfg.Debug, File: cfg.LogFile})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer syncLogs()

	if err := run(cfg, sugar); err != nil {
		sugar.Errorw("pow-tracker stopped", "error", err)
		syncLogs()
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, sugar *zap.SugaredLogger) error {
	// Shared HTTP client for outbound calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	client, err := awdb.Open(awdb.Config{
		URL:            cfg.AWDBURL,
		Timeout:        cfg.HTTPTimeout,
		BreakerEnabled: cfg.BreakerEnabled,
		HTTPClient:     httpClient,
	}, sugar)
	if err != nil {
		return fmt.Errorf("open station client: %w", err)
	}
	defer client.Close()

	snapshots, closeStore, err := openStore(cfg, sugar)
	if err != nil {
		return err
	}
	defer closeStore()

	if len(cfg.Sites) == 0 {
		sugar.Warnw("no sites configured; snapshots will be empty")
	}
	service := station.NewService(client, snapshots, cfg.Sites, sugar, station.WithLocation(cfg.StationTimezone))

	var forecasts *forecast.Service
	if len(cfg.Forecasts) > 0 {
		forecasts, err = forecast.New(forecast.Config{
			Sources:    cfg.Forecasts,
			Element:    cfg.ForecastElement,
			CacheDir:   filepath.Join(cfg.CacheDir, "forecasts"),
			HTTPClient: httpClient,
		}, sugar)
		if err != nil {
			return fmt.Errorf("init forecasts: %w", err)
		}
	}

	// Scheduler that periodically refreshes the snapshot.
	var forecastRefresher scheduler.ForecastRefresher
	if forecasts != nil {
		forecastRefresher = forecasts
	}
	sched := scheduler.New(service, forecastRefresher, cfg.RefreshInterval, cfg.RunTimeout, sugar)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "pow-tracker",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          cfg.RunTimeout + 10*time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	httpapi.RegisterRoutes(app, service, forecasts)

	go func() {
		sugar.Infow("http server listening", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			sugar.Errorw("fiber server stopped", "error", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	sugar.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		sugar.Errorw("error during shutdown", "error", err)
	}
	return nil
}

func openStore(cfg *config.AppConfig, sugar *zap.SugaredLogger) (station.SnapshotStore, func(), error) {
	noop := func() {}
	switch cfg.SnapshotBackend {
	case config.BackendMemory:
		return store.NewMemoryStore(), noop, nil
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, noop, fmt.Errorf("create sqlite dir: %w", err)
		}
		s, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		sugar.Infow("using sqlite snapshot store", "path", cfg.SQLitePath)
		return s, func() { _ = s.Close() }, nil
	default:
		s, err := store.NewFileStore(cfg.CacheDir, sugar)
		if err != nil {
			return nil, noop, err
		}
		sugar.Infow("using file snapshot store", "dir", s.CurrentDir())
		return s, noop, nil
	}
}
