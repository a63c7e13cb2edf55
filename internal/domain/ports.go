package domain

import (
	"context"
	"errors"
	"time"
)

// ErrAccountNotFound is returned when an account lookup matches no row.
var ErrAccountNotFound = errors.New("account not found")

// ProfileAPI is the remote capability for fetching account profiles.
type ProfileAPI interface {
	// GetProfiles fetches up to the provider's batch limit of profiles in a
	// single call. Unknown actors are simply absent from the result.
	GetProfiles(ctx context.Context, actors []string) ([]Profile, error)
}

// FeedAPI is the remote capability for fetching an account's author feed.
type FeedAPI interface {
	// GetAuthorFeed fetches one reverse-chronological page of the actor's
	// feed. An empty cursor requests the first page.
	GetAuthorFeed(ctx context.Context, actor, cursor string, limit int) (*FeedPage, error)
}

// AccountRepository defines persistence operations for tracked accounts.
type AccountRepository interface {
	// GetAccount retrieves an account by DID. Returns ErrAccountNotFound if
	// the account is not tracked.
	GetAccount(ctx context.Context, did string) (*Account, error)

	// ListAccounts returns all tracked accounts ordered by handle.
	ListAccounts(ctx context.Context) ([]AccountRef, error)

	// ListActiveAccounts returns the distinct accounts with at least one
	// recorded activity event since the given time, ordered by handle.
	ListActiveAccounts(ctx context.Context, since time.Time) ([]AccountRef, error)

	// UpdateAccountProfile overwrites the account's handle, display name and
	// avatar. Counters are intentionally not written here; they only ever
	// reach storage through snapshots.
	UpdateAccountProfile(ctx context.Context, profile Profile) error
}

// PostRepository defines persistence operations for tracked posts.
type PostRepository interface {
	// CountPosts returns the number of stored posts for the account.
	CountPosts(ctx context.Context, did string) (int, error)

	// ListPosts returns the account's stored posts created after since. A
	// zero since returns all posts.
	ListPosts(ctx context.Context, did string, since time.Time) ([]Post, error)

	// ApplyPostChanges inserts and updates posts for one account inside a
	// single transaction. Any failure rolls back the whole set.
	ApplyPostChanges(ctx context.Context, did string, inserts []Post, updates []EngagementUpdate) error

	// EngagementTotals sums the engagement counters across all stored posts
	// for the account. An account with no posts yields all zeroes.
	EngagementTotals(ctx context.Context, did string) (Engagement, error)
}

// SnapshotRepository defines persistence operations for daily snapshots.
type SnapshotRepository interface {
	// UpsertSnapshot atomically inserts the snapshot or, on (DID, date)
	// conflict, overwrites all counter fields.
	UpsertSnapshot(ctx context.Context, snapshot Snapshot) error
}

// RunLogRepository defines persistence operations for batch run logs.
type RunLogRepository interface {
	// CreateRunLog inserts a new in_progress run log entry and returns its ID.
	CreateRunLog(ctx context.Context) (int64, error)

	// CompleteRunLog marks the run completed with its duration and the number
	// of accounts successfully processed.
	CompleteRunLog(ctx context.Context, id int64, duration time.Duration, totalUsers int) error
}

// ActivityRepository defines persistence operations for per-account activity
// events, which feed the activity-filtered account query.
type ActivityRepository interface {
	// RecordActivity counts one engagement event for the account on the given
	// calendar day.
	RecordActivity(ctx context.Context, did string, day time.Time) error
}

// CursorRepository defines persistence operations for firehose cursors.
type CursorRepository interface {
	// GetCursor retrieves the last-processed firehose cursor for the given
	// service name. Returns 0 if no cursor has been saved.
	GetCursor(ctx context.Context, service string) (int64, error)

	// UpdateCursor persists the firehose cursor so we can resume on restart.
	UpdateCursor(ctx context.Context, service string, cursor int64) error
}
