package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AceyAdapter/dopplersky-workers/internal/bluesky"
	"github.com/AceyAdapter/dopplersky-workers/internal/config"
	"github.com/AceyAdapter/dopplersky-workers/internal/domain"
	"github.com/AceyAdapter/dopplersky-workers/internal/postgres"
)

// healthCheckActor is a well-known account used to verify API reachability.
const healthCheckActor = "bsky.app"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		simpleQuery bool
		fetchAll    bool
		healthCheck bool
		verbose     bool
		configPath  string
	)

	flag.BoolVar(&simpleQuery, "simple-query", false, "Process every tracked account instead of only recently active ones")
	flag.BoolVar(&fetchAll, "fetch-all", false, "Force a full post sync for every account")
	flag.BoolVar(&healthCheck, "health-check", false, "Check store and API connectivity, then exit")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	flag.StringVar(&configPath, "config", "", "Path to an env configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	repo, err := postgres.NewRepository(cfg.ConnString())
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	defer repo.Close()
	logger.Info("connected to database")

	// Stop submitting new accounts on interrupt; in-flight accounts finish.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, finishing in-flight accounts", "signal", sig)
		cancel()
	}()

	client := bluesky.NewClient(cfg.BlueskyBaseURL)

	if healthCheck {
		return runHealthCheck(ctx, repo, client, logger)
	}

	if err := repo.InitSchema(ctx); err != nil {
		return err
	}

	fetcher := domain.NewProfileFetcher(client, logger)
	syncer := domain.NewPostSyncer(client, repo, cfg.Window(), logger)
	service, err := domain.NewSnapshotService(domain.SnapshotServiceConfig{
		Fetcher:        fetcher,
		Syncer:         syncer,
		Accounts:       repo,
		Posts:          repo,
		Snapshots:      repo,
		Runs:           repo,
		MaxWorkers:     cfg.MaxWorkers,
		ActivityWindow: cfg.Window(),
	}, logger)
	if err != nil {
		return fmt.Errorf("create snapshot service: %w", err)
	}

	logger.Info("starting snapshot collection", "simple_query", simpleQuery, "fetch_all", fetchAll)
	processed, err := service.Run(ctx, domain.RunOptions{
		SimpleQuery: simpleQuery,
		FetchAll:    fetchAll,
	})
	if err != nil {
		return fmt.Errorf("snapshot collection: %w", err)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("snapshot collection interrupted after %d accounts", processed)
	}

	fmt.Printf("Snapshot collection completed: %d accounts processed\n", processed)
	return nil
}

func runHealthCheck(ctx context.Context, repo *postgres.Repository, client *bluesky.Client, logger *slog.Logger) error {
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("health check: database: %w", err)
	}
	if _, err := client.GetProfile(ctx, healthCheckActor); err != nil {
		return fmt.Errorf("health check: bluesky api: %w", err)
	}
	logger.Info("health check passed")
	fmt.Println("Health check passed")
	return nil
}
