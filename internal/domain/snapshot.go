package domain

import "time"

// Snapshot is a daily point-in-time record of an account's public counters
// and aggregated post engagement. At most one snapshot exists per (DID, date).
type Snapshot struct {
	DID string

	// Date is the snapshot's calendar day (UTC, truncated to midnight).
	Date time.Time

	// Followers, Following and Posts come from the fetched profile.
	Followers int
	Following int
	Posts     int

	// Engagement is the sum over all stored posts at processing time.
	Engagement Engagement
}

// Run log statuses.
const (
	RunStatusInProgress = "in_progress"
	RunStatusCompleted  = "completed"
)

// RunLog records one batch snapshot execution. A crash mid-run leaves the
// entry in_progress; it is not repaired automatically.
type RunLog struct {
	ID          int64
	Status      string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	TotalUsers  int
}
