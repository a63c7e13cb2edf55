package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AceyAdapter/dopplersky-workers/internal/config"
	"github.com/AceyAdapter/dopplersky-workers/internal/domain"
	"github.com/AceyAdapter/dopplersky-workers/internal/firehose"
	"github.com/AceyAdapter/dopplersky-workers/internal/httpserver"
	"github.com/AceyAdapter/dopplersky-workers/internal/postgres"
)

// trackedRefreshInterval is how often the tracked account set is reloaded
// from the database.
const trackedRefreshInterval = 5 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to an env configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	repo, err := postgres.NewRepository(cfg.ConnString())
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	defer repo.Close()
	logger.Info("connected to database")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := repo.InitSchema(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	activity := domain.NewActivityService(repo, repo, repo, logger)

	// Keep the tracked account set fresh in the background
	go activity.StartTrackedRefresh(ctx, trackedRefreshInterval)

	// Start the firehose subscriber in the background
	subscriber := firehose.NewSubscriber(cfg.FirehoseURL, activity, logger)
	go func() {
		if err := subscriber.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("firehose subscriber exited with error", "error", err)
		}
	}()

	// Start the health/stats HTTP server
	server := httpserver.NewServer(cfg.HealthPort, repo, activity, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("activity recorder started", "port", cfg.HealthPort)

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	return nil
}
