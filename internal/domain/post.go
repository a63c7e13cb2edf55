package domain

import "time"

// Engagement holds the four public engagement counters of a post.
type Engagement struct {
	Likes   int
	Replies int
	Quotes  int
	Reposts int
}

// Post represents a tracked post stored in our database.
type Post struct {
	// URI is the AT-URI of the post (e.g. at://did:plc:abc/app.bsky.feed.post/3l3qo2vuowo2b).
	URI string

	// DID is the author's DID. A post belongs to exactly one account.
	DID string

	// Engagement is the counter state as of the last sync.
	Engagement Engagement

	// CreatedAt is the post's creation time. Immutable once inserted.
	CreatedAt time.Time

	// UpdatedAt is refreshed whenever the engagement counters change.
	UpdatedAt time.Time
}

// EngagementUpdate is a pending counter update for an existing post.
type EngagementUpdate struct {
	URI        string
	Engagement Engagement
}

// FeedPost is a post entry from an author feed page, before it has been
// merged into storage.
type FeedPost struct {
	URI        string
	AuthorDID  string
	Engagement Engagement
	CreatedAt  time.Time
}

// FeedPage is one page of an author feed.
type FeedPage struct {
	Posts []FeedPost

	// Cursor is the opaque pagination token for the next page. Empty when
	// the feed is exhausted.
	Cursor string
}
