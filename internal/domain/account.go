package domain

// Account represents a tracked BlueSky account stored in our database.
type Account struct {
	// DID is the stable decentralized identifier of the account.
	DID string

	// Handle is the account's current handle (e.g. user.bsky.social). Handles
	// can change over time; the DID is the identity.
	Handle string

	// DisplayName is the profile display name as of the last fetch.
	DisplayName string

	// Avatar is the URL of the profile avatar as of the last fetch.
	Avatar string

	// Followers, Following and Posts are the public counters as of the last
	// fetch. In steady state these are only persisted through snapshots, not
	// written back to the account row.
	Followers int
	Following int
	Posts     int

	// SkipSnapshots excludes the account from snapshot runs when set.
	SkipSnapshots bool
}

// AccountRef is a lightweight (DID, handle) pair used when resolving the set
// of accounts to process.
type AccountRef struct {
	DID    string
	Handle string
}

// Profile is an account profile as returned by the BlueSky API.
type Profile struct {
	DID         string
	Handle      string
	DisplayName string
	Avatar      string

	FollowersCount int
	FollowsCount   int
	PostsCount     int
}

// profileChanged reports whether the fetched profile differs from the stored
// account in any of the mutable identity fields.
func profileChanged(p Profile, a *Account) bool {
	return p.Handle != a.Handle ||
		p.DisplayName != a.DisplayName ||
		p.Avatar != a.Avatar
}
