package domain

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// feedPageLimit is the page size requested from getAuthorFeed.
	feedPageLimit = 100

	// maxFeedPosts caps the working set accumulated from pagination so a
	// very deep feed cannot grow memory without bound.
	maxFeedPosts = 10000
)

// SyncMode selects how far back a post sync reaches.
type SyncMode string

const (
	// SyncIncremental only merges posts created within the recency window.
	SyncIncremental SyncMode = "incremental"

	// SyncFull merges the account's entire feed.
	SyncFull SyncMode = "full"
)

// PostSyncer incrementally merges an account's author feed into storage.
type PostSyncer struct {
	api    FeedAPI
	posts  PostRepository
	window time.Duration
	logger *slog.Logger

	now func() time.Time
}

// NewPostSyncer creates a PostSyncer. The window bounds how far back
// incremental syncs look, on both the feed and the stored posts.
func NewPostSyncer(api FeedAPI, posts PostRepository, window time.Duration, logger *slog.Logger) *PostSyncer {
	return &PostSyncer{
		api:    api,
		posts:  posts,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// Sync fetches the account's feed and merges new and changed posts into
// storage. An account with zero stored posts is always synced in full mode
// regardless of the requested mode, so bootstrap captures the whole history.
// All writes for the account happen in a single transaction.
func (s *PostSyncer) Sync(ctx context.Context, did string, mode SyncMode) error {
	if mode != SyncFull {
		count, err := s.posts.CountPosts(ctx, did)
		if err != nil {
			return fmt.Errorf("count posts for %s: %w", did, err)
		}
		if count == 0 {
			mode = SyncFull
		}
	}

	fetched, err := s.fetchFeed(ctx, did, mode)
	if err != nil {
		return err
	}
	if len(fetched) == 0 {
		return nil
	}

	fetched = dedupeByURI(fetched)

	cutoff := s.now().UTC().Add(-s.window)
	var since time.Time
	if mode == SyncIncremental {
		since = cutoff
	}

	existing, err := s.posts.ListPosts(ctx, did, since)
	if err != nil {
		return fmt.Errorf("list posts for %s: %w", did, err)
	}
	byURI := make(map[string]Post, len(existing))
	for _, p := range existing {
		byURI[p.URI] = p
	}

	updatedAt := s.now().UTC()
	var inserts []Post
	var updates []EngagementUpdate

	for _, fp := range fetched {
		if mode == SyncIncremental && fp.CreatedAt.Before(cutoff) {
			continue
		}

		if current, ok := byURI[fp.URI]; ok {
			if current.Engagement != fp.Engagement {
				updates = append(updates, EngagementUpdate{
					URI:        fp.URI,
					Engagement: fp.Engagement,
				})
			}
			continue
		}

		inserts = append(inserts, Post{
			URI:        fp.URI,
			DID:        did,
			Engagement: fp.Engagement,
			CreatedAt:  fp.CreatedAt,
			UpdatedAt:  updatedAt,
		})
	}

	if len(inserts) == 0 && len(updates) == 0 {
		return nil
	}

	if err := s.posts.ApplyPostChanges(ctx, did, inserts, updates); err != nil {
		return fmt.Errorf("apply post changes for %s: %w", did, err)
	}

	if len(inserts) > 0 {
		s.logger.Info("new posts logged", "did", did, "count", len(inserts))
	}
	if len(updates) > 0 {
		s.logger.Info("posts updated", "did", did, "count", len(updates))
	}
	return nil
}

// fetchFeed pages through the account's author feed, discarding entries not
// authored by the account (reposts of others). Pagination stops when the
// provider returns no cursor, the working set hits maxFeedPosts, or — in
// incremental mode — the cursor's timestamp falls behind the recency window,
// since the feed is reverse-chronological and later pages can only be older.
func (s *PostSyncer) fetchFeed(ctx context.Context, did string, mode SyncMode) ([]FeedPost, error) {
	cutoff := s.now().UTC().Add(-s.window)

	var out []FeedPost
	cursor := ""
	for {
		page, err := s.api.GetAuthorFeed(ctx, did, cursor, feedPageLimit)
		if err != nil {
			if len(out) == 0 {
				return nil, fmt.Errorf("fetch author feed for %s: %w", did, err)
			}
			// A mid-pagination failure still merges what we already have.
			s.logger.Error("author feed page failed, merging partial results",
				"did", did,
				"fetched", len(out),
				"error", err,
			)
			return out, nil
		}

		for _, fp := range page.Posts {
			if fp.AuthorDID != did {
				continue
			}
			out = append(out, fp)
		}

		if page.Cursor == "" || len(out) >= maxFeedPosts {
			return out, nil
		}
		if mode == SyncIncremental {
			ts, ok := parseCursorTime(page.Cursor)
			if !ok || ts.Before(cutoff) {
				return out, nil
			}
		}
		cursor = page.Cursor
	}
}

// parseCursorTime extracts the calendar date from an author feed cursor.
// Cursors lead with an ISO-8601 timestamp of the last entry on the page.
func parseCursorTime(cursor string) (time.Time, bool) {
	if len(cursor) < 10 {
		return time.Time{}, false
	}
	ts, err := time.Parse("2006-01-02", cursor[:10])
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}

// dedupeByURI removes duplicate entries, keeping the first occurrence of each
// URI. Pagination can return overlapping entries across page boundaries.
func dedupeByURI(posts []FeedPost) []FeedPost {
	seen := make(map[string]struct{}, len(posts))
	out := posts[:0]
	for _, p := range posts {
		if _, ok := seen[p.URI]; ok {
			continue
		}
		seen[p.URI] = struct{}{}
		out = append(out, p)
	}
	return out
}
