package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/AceyAdapter/dopplersky-workers/internal/domain"
	_ "github.com/lib/pq"
)

// Repository implements the domain repository ports using PostgreSQL.
type Repository struct {
	db *sql.DB
}

// NewRepository connects to PostgreSQL using the given connection string,
// verifies the connection, and returns a new Repository. The caller should
// call Close when the repository is no longer needed.
func NewRepository(connString string) (*Repository, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping verifies the database connection is alive.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// GetAccount retrieves an account by DID.
func (r *Repository) GetAccount(ctx context.Context, did string) (*domain.Account, error) {
	var a domain.Account
	err := r.db.QueryRowContext(ctx, `
		SELECT did, handle, display_name, avatar, followers, following, posts, skip_snapshots
		FROM users
		WHERE did = $1`,
		did,
	).Scan(
		&a.DID,
		&a.Handle,
		&a.DisplayName,
		&a.Avatar,
		&a.Followers,
		&a.Following,
		&a.Posts,
		&a.SkipSnapshots,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account %s: %w", did, err)
	}
	return &a, nil
}

// ListAccounts returns all tracked accounts ordered by handle.
func (r *Repository) ListAccounts(ctx context.Context) ([]domain.AccountRef, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT did, handle FROM users ORDER BY handle`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	return scanAccountRefs(rows)
}

// ListActiveAccounts returns the distinct accounts with at least one recorded
// activity event since the given time, ordered by handle.
func (r *Repository) ListActiveAccounts(ctx context.Context, since time.Time) ([]domain.AccountRef, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT u.did, u.handle
		FROM users u
		JOIN activity_events a ON u.did = a.did
		WHERE a.date >= $1
		ORDER BY u.handle`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("query active accounts: %w", err)
	}
	defer rows.Close()

	return scanAccountRefs(rows)
}

func scanAccountRefs(rows *sql.Rows) ([]domain.AccountRef, error) {
	var refs []domain.AccountRef
	for rows.Next() {
		var ref domain.AccountRef
		if err := rows.Scan(&ref.DID, &ref.Handle); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return refs, nil
}

// UpdateAccountProfile overwrites the account's handle, display name and
// avatar. Counters only ever reach storage through snapshots.
func (r *Repository) UpdateAccountProfile(ctx context.Context, profile domain.Profile) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET handle = $2, display_name = $3, avatar = $4
		WHERE did = $1`,
		profile.DID,
		profile.Handle,
		profile.DisplayName,
		profile.Avatar,
	)
	if err != nil {
		return fmt.Errorf("update account %s: %w", profile.DID, err)
	}
	return nil
}

// CountPosts returns the number of stored posts for the account.
func (r *Repository) CountPosts(ctx context.Context, did string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM posts WHERE did = $1`, did,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count posts for %s: %w", did, err)
	}
	return count, nil
}

// ListPosts returns the account's stored posts created after since. A zero
// since returns all posts.
func (r *Repository) ListPosts(ctx context.Context, did string, since time.Time) ([]domain.Post, error) {
	query := `
		SELECT uri, did, likes, replies, quotes, reposts, created_at, updated_at
		FROM posts
		WHERE did = $1`
	args := []any{did}

	if !since.IsZero() {
		query += ` AND created_at > $2`
		args = append(args, since)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts for %s: %w", did, err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var p domain.Post
		err := rows.Scan(
			&p.URI,
			&p.DID,
			&p.Engagement.Likes,
			&p.Engagement.Replies,
			&p.Engagement.Quotes,
			&p.Engagement.Reposts,
			&p.CreatedAt,
			&p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}

// ApplyPostChanges inserts and updates posts for one account inside a single
// transaction. Any failure rolls back the whole set.
func (r *Repository) ApplyPostChanges(ctx context.Context, did string, inserts []domain.Post, updates []domain.EngagementUpdate) error {
	if len(inserts) == 0 && len(updates) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range inserts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO posts (uri, did, likes, replies, quotes, reposts, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (uri) DO NOTHING`,
			p.URI,
			p.DID,
			p.Engagement.Likes,
			p.Engagement.Replies,
			p.Engagement.Quotes,
			p.Engagement.Reposts,
			p.CreatedAt,
			p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert post %s: %w", p.URI, err)
		}
	}

	now := time.Now().UTC()
	for _, u := range updates {
		_, err := tx.ExecContext(ctx, `
			UPDATE posts
			SET likes = $2, replies = $3, quotes = $4, reposts = $5, updated_at = $6
			WHERE uri = $1`,
			u.URI,
			u.Engagement.Likes,
			u.Engagement.Replies,
			u.Engagement.Quotes,
			u.Engagement.Reposts,
			now,
		)
		if err != nil {
			return fmt.Errorf("update post %s: %w", u.URI, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// EngagementTotals sums the engagement counters across all stored posts for
// the account. An account with no posts yields all zeroes.
func (r *Repository) EngagementTotals(ctx context.Context, did string) (domain.Engagement, error) {
	var totals domain.Engagement
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(likes), 0),
			COALESCE(SUM(replies), 0),
			COALESCE(SUM(quotes), 0),
			COALESCE(SUM(reposts), 0)
		FROM posts
		WHERE did = $1`,
		did,
	).Scan(
		&totals.Likes,
		&totals.Replies,
		&totals.Quotes,
		&totals.Reposts,
	)
	if err != nil {
		return domain.Engagement{}, fmt.Errorf("sum engagement for %s: %w", did, err)
	}
	return totals, nil
}

// UpsertSnapshot atomically inserts the snapshot or, on (did, date) conflict,
// overwrites all counter fields. The conflict target makes concurrent writers
// for the same account and day safe without application-level locking.
func (r *Repository) UpsertSnapshot(ctx context.Context, snapshot domain.Snapshot) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO snapshots (did, date, followers, following, posts, likes, replies, quotes, reposts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (did, date) DO UPDATE SET
			followers = EXCLUDED.followers,
			following = EXCLUDED.following,
			posts = EXCLUDED.posts,
			likes = EXCLUDED.likes,
			replies = EXCLUDED.replies,
			quotes = EXCLUDED.quotes,
			reposts = EXCLUDED.reposts`,
		snapshot.DID,
		snapshot.Date,
		snapshot.Followers,
		snapshot.Following,
		snapshot.Posts,
		snapshot.Engagement.Likes,
		snapshot.Engagement.Replies,
		snapshot.Engagement.Quotes,
		snapshot.Engagement.Reposts,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot for %s: %w", snapshot.DID, err)
	}
	return nil
}

// CreateRunLog inserts a new in_progress run log entry and returns its ID.
func (r *Repository) CreateRunLog(ctx context.Context) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO snapshot_logs (status, time_started)
		VALUES ($1, $2)
		RETURNING id`,
		domain.RunStatusInProgress,
		time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert run log: %w", err)
	}
	return id, nil
}

// CompleteRunLog marks the run completed with its duration and the number of
// accounts successfully processed.
func (r *Repository) CompleteRunLog(ctx context.Context, id int64, duration time.Duration, totalUsers int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE snapshot_logs
		SET status = $2, time_completed = $3, duration_seconds = $4, total_users = $5
		WHERE id = $1`,
		id,
		domain.RunStatusCompleted,
		time.Now().UTC(),
		duration.Seconds(),
		totalUsers,
	)
	if err != nil {
		return fmt.Errorf("complete run log %d: %w", id, err)
	}
	return nil
}

// RecordActivity counts one engagement event for the account on the given
// calendar day.
func (r *Repository) RecordActivity(ctx context.Context, did string, day time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activity_events (did, date, events)
		VALUES ($1, $2, 1)
		ON CONFLICT (did, date) DO UPDATE SET events = activity_events.events + 1`,
		did, day,
	)
	if err != nil {
		return fmt.Errorf("record activity for %s: %w", did, err)
	}
	return nil
}

// GetCursor retrieves the saved firehose cursor for a service.
func (r *Repository) GetCursor(ctx context.Context, service string) (int64, error) {
	var cursor int64
	err := r.db.QueryRowContext(ctx,
		`SELECT cursor_value FROM cursors WHERE service = $1`, service,
	).Scan(&cursor)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return cursor, err
}

// UpdateCursor upserts the firehose cursor for a service.
func (r *Repository) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cursors (service, cursor_value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (service) DO UPDATE SET cursor_value = $2, updated_at = $3`,
		service, cursor, time.Now().UTC(),
	)
	return err
}
