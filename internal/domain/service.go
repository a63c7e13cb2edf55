package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// SnapshotService is the core orchestrator. It resolves the account set,
// batch-fetches profiles, fans out per-account processing, and records run
// metadata.
type SnapshotService struct {
	fetcher   *ProfileFetcher
	syncer    *PostSyncer
	accounts  AccountRepository
	posts     PostRepository
	snapshots SnapshotRepository
	runs      RunLogRepository

	maxWorkers     int
	activityWindow time.Duration
	logger         *slog.Logger

	now func() time.Time
}

// SnapshotServiceConfig carries the dependencies and tuning knobs for a
// SnapshotService.
type SnapshotServiceConfig struct {
	Fetcher   *ProfileFetcher
	Syncer    *PostSyncer
	Accounts  AccountRepository
	Posts     PostRepository
	Snapshots SnapshotRepository
	Runs      RunLogRepository

	// MaxWorkers bounds how many accounts are processed concurrently.
	MaxWorkers int

	// ActivityWindow is how far back the activity-filtered account query
	// looks for engagement events.
	ActivityWindow time.Duration
}

// NewSnapshotService creates a SnapshotService.
func NewSnapshotService(cfg SnapshotServiceConfig, logger *slog.Logger) (*SnapshotService, error) {
	if cfg.MaxWorkers < 1 {
		return nil, fmt.Errorf("max workers must be at least 1, got %d", cfg.MaxWorkers)
	}
	return &SnapshotService{
		fetcher:        cfg.Fetcher,
		syncer:         cfg.Syncer,
		accounts:       cfg.Accounts,
		posts:          cfg.Posts,
		snapshots:      cfg.Snapshots,
		runs:           cfg.Runs,
		maxWorkers:     cfg.MaxWorkers,
		activityWindow: cfg.ActivityWindow,
		logger:         logger,
		now:            time.Now,
	}, nil
}

// RunOptions selects how a batch run resolves accounts and syncs posts.
type RunOptions struct {
	// SimpleQuery processes every tracked account instead of only those with
	// recent activity events.
	SimpleQuery bool

	// FetchAll forces a full post sync for every account instead of the
	// incremental recency-window sync.
	FetchAll bool
}

// Run executes one batch snapshot run and returns the number of accounts
// successfully snapshotted. A run log entry is created at the start and
// finalized at the end; per-account failures are logged and excluded from the
// count but never abort the run. Cancelling the context stops submitting new
// accounts while in-flight accounts finish.
func (s *SnapshotService) Run(ctx context.Context, opts RunOptions) (int, error) {
	start := s.now()
	day := start.UTC().Truncate(24 * time.Hour)

	logID, err := s.runs.CreateRunLog(ctx)
	if err != nil {
		return 0, fmt.Errorf("create run log: %w", err)
	}
	s.logger.Info("created run log", "id", logID)

	processed := s.processAccounts(ctx, day, opts)

	duration := s.now().Sub(start)
	if err := s.runs.CompleteRunLog(ctx, logID, duration, processed); err != nil {
		return processed, fmt.Errorf("complete run log: %w", err)
	}

	s.logger.Info("snapshot run completed",
		"processed", processed,
		"duration", duration.Round(time.Millisecond).String(),
	)
	return processed, nil
}

func (s *SnapshotService) processAccounts(ctx context.Context, day time.Time, opts RunOptions) int {
	refs, err := s.resolveAccounts(ctx, opts.SimpleQuery)
	if err != nil {
		s.logger.Error("failed to resolve account set", "error", err)
		return 0
	}
	if len(refs) == 0 {
		s.logger.Warn("no accounts found to process")
		return 0
	}

	dids := make([]string, len(refs))
	for i, ref := range refs {
		dids[i] = ref.DID
	}

	s.logger.Info("fetching profiles", "accounts", len(dids))
	profiles, err := s.fetcher.FetchProfiles(ctx, dids)
	if err != nil {
		s.logger.Warn("profile fetch interrupted", "error", err)
	}
	s.logger.Info("collected profiles", "count", len(profiles))

	mode := SyncIncremental
	if opts.FetchAll {
		mode = SyncFull
	}

	// Each task writes only its own result slot; the count is aggregated
	// after all tasks finish.
	results := make([]*Snapshot, len(profiles))

	var g errgroup.Group
	g.SetLimit(s.maxWorkers)
	for i, profile := range profiles {
		if ctx.Err() != nil {
			s.logger.Warn("run interrupted, not submitting remaining accounts",
				"remaining", len(profiles)-i,
			)
			break
		}
		g.Go(func() error {
			results[i] = s.processProfile(ctx, profile, day, mode)
			return nil
		})
	}
	g.Wait()

	processed := 0
	for _, snap := range results {
		if snap != nil {
			processed++
		}
	}
	return processed
}

func (s *SnapshotService) resolveAccounts(ctx context.Context, simpleQuery bool) ([]AccountRef, error) {
	if simpleQuery {
		return s.accounts.ListAccounts(ctx)
	}
	since := s.now().UTC().Add(-s.activityWindow)
	return s.accounts.ListActiveAccounts(ctx, since)
}

// processProfile runs the full per-account pipeline: profile drift check,
// post sync, engagement aggregation, snapshot upsert. Any failure is logged
// with the account's handle and yields no result rather than an error, so one
// account can never unwind the batch.
func (s *SnapshotService) processProfile(ctx context.Context, profile Profile, day time.Time, mode SyncMode) *Snapshot {
	s.logger.Info("processing account", "handle", profile.Handle)

	account, err := s.accounts.GetAccount(ctx, profile.DID)
	if errors.Is(err, ErrAccountNotFound) {
		s.logger.Warn("account not tracked in database", "handle", profile.Handle, "did", profile.DID)
		return nil
	}
	if err != nil {
		s.logger.Error("failed to load account", "handle", profile.Handle, "error", err)
		return nil
	}

	if account.SkipSnapshots {
		s.logger.Info("skipping account", "handle", profile.Handle)
		return nil
	}

	if profileChanged(profile, account) {
		if err := s.accounts.UpdateAccountProfile(ctx, profile); err != nil {
			s.logger.Error("failed to update account profile", "handle", profile.Handle, "error", err)
			return nil
		}
	}

	if err := s.syncer.Sync(ctx, profile.DID, mode); err != nil {
		s.logger.Error("failed to sync posts", "handle", profile.Handle, "error", err)
		return nil
	}

	totals, err := s.posts.EngagementTotals(ctx, profile.DID)
	if err != nil {
		s.logger.Error("failed to aggregate engagement", "handle", profile.Handle, "error", err)
		return nil
	}

	snapshot := Snapshot{
		DID:        profile.DID,
		Date:       day,
		Followers:  profile.FollowersCount,
		Following:  profile.FollowsCount,
		Posts:      profile.PostsCount,
		Engagement: totals,
	}
	if err := s.snapshots.UpsertSnapshot(ctx, snapshot); err != nil {
		s.logger.Error("failed to upsert snapshot", "handle", profile.Handle, "error", err)
		return nil
	}

	return &snapshot
}
