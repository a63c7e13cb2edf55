package domain

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ActivityService records per-account engagement events coming off the
// firehose. It keeps an in-memory set of tracked DIDs so the hot path never
// touches the database for untracked accounts.
type ActivityService struct {
	accounts AccountRepository
	activity ActivityRepository
	cursors  CursorRepository
	logger   *slog.Logger

	mu      sync.RWMutex
	tracked map[string]struct{}

	eventsSeen     atomic.Int64
	eventsRecorded atomic.Int64
}

// NewActivityService creates an ActivityService. Call RefreshTracked before
// recording events so the tracked set is populated.
func NewActivityService(
	accounts AccountRepository,
	activity ActivityRepository,
	cursors CursorRepository,
	logger *slog.Logger,
) *ActivityService {
	return &ActivityService{
		accounts: accounts,
		activity: activity,
		cursors:  cursors,
		logger:   logger,
		tracked:  make(map[string]struct{}),
	}
}

// RefreshTracked reloads the tracked account set from storage.
func (s *ActivityService) RefreshTracked(ctx context.Context) error {
	refs, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return err
	}

	tracked := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		tracked[ref.DID] = struct{}{}
	}

	s.mu.Lock()
	s.tracked = tracked
	s.mu.Unlock()

	s.logger.Info("refreshed tracked accounts", "count", len(tracked))
	return nil
}

// StartTrackedRefresh runs a background loop that reloads the tracked account
// set at the given interval. It refreshes immediately on start and blocks
// until ctx is cancelled.
func (s *ActivityService) StartTrackedRefresh(ctx context.Context, interval time.Duration) {
	if err := s.RefreshTracked(ctx); err != nil {
		s.logger.Error("tracked account refresh failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RefreshTracked(ctx); err != nil {
				s.logger.Error("tracked account refresh failed", "error", err)
			}
		}
	}
}

// RecordEngagement counts one engagement event for the given author if the
// author is a tracked account. Returns true if an event was recorded.
func (s *ActivityService) RecordEngagement(ctx context.Context, authorDID string, at time.Time) (bool, error) {
	s.eventsSeen.Add(1)

	s.mu.RLock()
	_, ok := s.tracked[authorDID]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}

	day := at.UTC().Truncate(24 * time.Hour)
	if err := s.activity.RecordActivity(ctx, authorDID, day); err != nil {
		return false, err
	}
	s.eventsRecorded.Add(1)
	return true, nil
}

// GetCursor retrieves the last-processed firehose cursor for the given service.
func (s *ActivityService) GetCursor(ctx context.Context, service string) (int64, error) {
	return s.cursors.GetCursor(ctx, service)
}

// UpdateCursor persists the firehose cursor for the given service.
func (s *ActivityService) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	return s.cursors.UpdateCursor(ctx, service, cursor)
}

// ActivityStats is a point-in-time view of the recorder's counters.
type ActivityStats struct {
	TrackedAccounts int   `json:"tracked_accounts"`
	EventsSeen      int64 `json:"events_seen"`
	EventsRecorded  int64 `json:"events_recorded"`
}

// Stats returns the recorder's current counters.
func (s *ActivityService) Stats() ActivityStats {
	s.mu.RLock()
	tracked := len(s.tracked)
	s.mu.RUnlock()

	return ActivityStats{
		TrackedAccounts: tracked,
		EventsSeen:      s.eventsSeen.Load(),
		EventsRecorded:  s.eventsRecorded.Load(),
	}
}
