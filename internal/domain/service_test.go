package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var runNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// memStore is an in-memory implementation of all repository ports, good
// enough to drive the orchestrator end to end.
type memStore struct {
	mu        sync.Mutex
	accounts  map[string]*Account
	posts     map[string]Post
	snapshots map[string]Snapshot
	runs      map[int64]*RunLog
	nextRunID int64
}

func newMemStore() *memStore {
	return &memStore{
		accounts:  make(map[string]*Account),
		posts:     make(map[string]Post),
		snapshots: make(map[string]Snapshot),
		runs:      make(map[int64]*RunLog),
	}
}

func snapshotKey(did string, date time.Time) string {
	return did + "|" + date.Format("2006-01-02")
}

func (m *memStore) GetAccount(_ context.Context, did string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[did]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *a
	return &copied, nil
}

func (m *memStore) ListAccounts(_ context.Context) ([]AccountRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var refs []AccountRef
	for _, a := range m.accounts {
		refs = append(refs, AccountRef{DID: a.DID, Handle: a.Handle})
	}
	return refs, nil
}

func (m *memStore) ListActiveAccounts(ctx context.Context, _ time.Time) ([]AccountRef, error) {
	return m.ListAccounts(ctx)
}

func (m *memStore) UpdateAccountProfile(_ context.Context, profile Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[profile.DID]
	if !ok {
		return ErrAccountNotFound
	}
	a.Handle = profile.Handle
	a.DisplayName = profile.DisplayName
	a.Avatar = profile.Avatar
	return nil
}

func (m *memStore) CountPosts(_ context.Context, did string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, p := range m.posts {
		if p.DID == did {
			count++
		}
	}
	return count, nil
}

func (m *memStore) ListPosts(_ context.Context, did string, since time.Time) ([]Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var posts []Post
	for _, p := range m.posts {
		if p.DID != did {
			continue
		}
		if !since.IsZero() && !p.CreatedAt.After(since) {
			continue
		}
		posts = append(posts, p)
	}
	return posts, nil
}

func (m *memStore) ApplyPostChanges(_ context.Context, _ string, inserts []Post, updates []EngagementUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range inserts {
		if _, exists := m.posts[p.URI]; !exists {
			m.posts[p.URI] = p
		}
	}
	for _, u := range updates {
		p, ok := m.posts[u.URI]
		if !ok {
			return fmt.Errorf("update of unknown post %s", u.URI)
		}
		p.Engagement = u.Engagement
		p.UpdatedAt = runNow
		m.posts[u.URI] = p
	}
	return nil
}

func (m *memStore) EngagementTotals(_ context.Context, did string) (Engagement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var totals Engagement
	for _, p := range m.posts {
		if p.DID != did {
			continue
		}
		totals.Likes += p.Engagement.Likes
		totals.Replies += p.Engagement.Replies
		totals.Quotes += p.Engagement.Quotes
		totals.Reposts += p.Engagement.Reposts
	}
	return totals, nil
}

func (m *memStore) UpsertSnapshot(_ context.Context, snapshot Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshotKey(snapshot.DID, snapshot.Date)] = snapshot
	return nil
}

func (m *memStore) CreateRunLog(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRunID++
	m.runs[m.nextRunID] = &RunLog{
		ID:        m.nextRunID,
		Status:    RunStatusInProgress,
		StartedAt: runNow,
	}
	return m.nextRunID, nil
}

func (m *memStore) CompleteRunLog(_ context.Context, id int64, duration time.Duration, totalUsers int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.runs[id]
	if !ok {
		return fmt.Errorf("unknown run log %d", id)
	}
	entry.Status = RunStatusCompleted
	entry.Duration = duration
	entry.TotalUsers = totalUsers
	return nil
}

func newTestService(t *testing.T, store *memStore, profileAPI ProfileAPI, feedAPI FeedAPI) *SnapshotService {
	t.Helper()

	syncer := NewPostSyncer(feedAPI, store, 7*24*time.Hour, testLogger())
	syncer.now = func() time.Time { return runNow }

	service, err := NewSnapshotService(SnapshotServiceConfig{
		Fetcher:        NewProfileFetcher(profileAPI, testLogger()),
		Syncer:         syncer,
		Accounts:       store,
		Posts:          store,
		Snapshots:      store,
		Runs:           store,
		MaxWorkers:     4,
		ActivityWindow: 7 * 24 * time.Hour,
	}, testLogger())
	require.NoError(t, err)
	service.now = func() time.Time { return runNow }
	return service
}

func staticProfiles(profiles ...Profile) *fakeProfileAPI {
	return &fakeProfileAPI{
		getProfiles: func(_ context.Context, actors []string) ([]Profile, error) {
			var out []Profile
			for _, p := range profiles {
				for _, actor := range actors {
					if p.DID == actor {
						out = append(out, p)
					}
				}
			}
			return out, nil
		},
	}
}

func TestRunFirstSnapshot(t *testing.T) {
	store := newMemStore()
	store.accounts["did:abc"] = &Account{DID: "did:abc", Handle: "abc.bsky.social"}

	profileAPI := staticProfiles(Profile{
		DID:            "did:abc",
		Handle:         "abc.bsky.social",
		FollowersCount: 100,
		FollowsCount:   50,
		PostsCount:     5,
	})
	feedAPI := singlePage(
		FeedPost{URI: "at://p1", AuthorDID: "did:abc", CreatedAt: runNow.Add(-time.Hour), Engagement: Engagement{Likes: 10, Replies: 2}},
		FeedPost{URI: "at://p2", AuthorDID: "did:abc", CreatedAt: runNow.Add(-2 * time.Hour), Engagement: Engagement{Likes: 10, Quotes: 1}},
		FeedPost{URI: "at://p3", AuthorDID: "did:abc", CreatedAt: runNow.Add(-3 * time.Hour), Engagement: Engagement{Reposts: 4}},
	)

	service := newTestService(t, store, profileAPI, feedAPI)
	processed, err := service.Run(context.Background(), RunOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Len(t, store.posts, 3)

	snap, ok := store.snapshots[snapshotKey("did:abc", runNow.Truncate(24*time.Hour))]
	require.True(t, ok, "snapshot row for (did:abc, today) must exist")
	assert.Equal(t, 100, snap.Followers)
	assert.Equal(t, 50, snap.Following)
	assert.Equal(t, 5, snap.Posts)
	assert.Equal(t, Engagement{Likes: 20, Replies: 2, Quotes: 1, Reposts: 4}, snap.Engagement)

	run := store.runs[1]
	require.NotNil(t, run)
	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.TotalUsers)
}

func TestRunSecondRunOverwritesSnapshot(t *testing.T) {
	store := newMemStore()
	store.accounts["did:abc"] = &Account{DID: "did:abc", Handle: "abc.bsky.social"}

	profile := Profile{DID: "did:abc", Handle: "abc.bsky.social", FollowersCount: 100, FollowsCount: 50, PostsCount: 5}
	firstFeed := singlePage(
		FeedPost{URI: "at://p1", AuthorDID: "did:abc", CreatedAt: runNow.Add(-time.Hour), Engagement: Engagement{Likes: 1}},
		FeedPost{URI: "at://p2", AuthorDID: "did:abc", CreatedAt: runNow.Add(-2 * time.Hour), Engagement: Engagement{Likes: 10}},
		FeedPost{URI: "at://p3", AuthorDID: "did:abc", CreatedAt: runNow.Add(-3 * time.Hour), Engagement: Engagement{Likes: 2}},
	)

	service := newTestService(t, store, staticProfiles(profile), firstFeed)
	_, err := service.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	// Same day, post #2's like count changed, no new posts.
	secondFeed := singlePage(
		FeedPost{URI: "at://p1", AuthorDID: "did:abc", CreatedAt: runNow.Add(-time.Hour), Engagement: Engagement{Likes: 1}},
		FeedPost{URI: "at://p2", AuthorDID: "did:abc", CreatedAt: runNow.Add(-2 * time.Hour), Engagement: Engagement{Likes: 15}},
		FeedPost{URI: "at://p3", AuthorDID: "did:abc", CreatedAt: runNow.Add(-3 * time.Hour), Engagement: Engagement{Likes: 2}},
	)
	service = newTestService(t, store, staticProfiles(profile), secondFeed)
	processed, err := service.Run(context.Background(), RunOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Len(t, store.posts, 3, "no new post rows on unchanged feed")
	assert.Equal(t, 15, store.posts["at://p2"].Engagement.Likes)
	assert.Equal(t, runNow, store.posts["at://p2"].UpdatedAt)

	assert.Len(t, store.snapshots, 1, "second run must overwrite, not duplicate")
	snap := store.snapshots[snapshotKey("did:abc", runNow.Truncate(24*time.Hour))]
	assert.Equal(t, Engagement{Likes: 18}, snap.Engagement)
}

func TestRunExcludesSkipFlaggedAccount(t *testing.T) {
	store := newMemStore()
	store.accounts["did:abc"] = &Account{DID: "did:abc", Handle: "abc.bsky.social", SkipSnapshots: true}

	profileAPI := staticProfiles(Profile{DID: "did:abc", Handle: "changed.bsky.social", FollowersCount: 100})
	feedAPI := &fakeFeedAPI{
		getAuthorFeed: func(context.Context, string, string, int) (*FeedPage, error) {
			t.Fatal("post sync must not run for a skip-flagged account")
			return nil, nil
		},
	}

	service := newTestService(t, store, profileAPI, feedAPI)
	processed, err := service.Run(context.Background(), RunOptions{})

	require.NoError(t, err)
	assert.Zero(t, processed)
	assert.Empty(t, store.snapshots)
	assert.Equal(t, "abc.bsky.social", store.accounts["did:abc"].Handle, "skipped account must not be updated")
	assert.Equal(t, RunStatusCompleted, store.runs[1].Status)
}

func TestRunSkipsUntrackedProfile(t *testing.T) {
	store := newMemStore()
	store.accounts["did:abc"] = &Account{DID: "did:abc", Handle: "abc.bsky.social"}

	// API knows a profile the database does not track.
	profileAPI := &fakeProfileAPI{
		getProfiles: func(context.Context, []string) ([]Profile, error) {
			return []Profile{{DID: "did:stranger", Handle: "stranger.bsky.social"}}, nil
		},
	}
	service := newTestService(t, store, profileAPI, singlePage())

	processed, err := service.Run(context.Background(), RunOptions{})

	require.NoError(t, err)
	assert.Zero(t, processed)
	assert.Empty(t, store.snapshots)
}

func TestRunUpdatesDriftedProfile(t *testing.T) {
	store := newMemStore()
	store.accounts["did:abc"] = &Account{DID: "did:abc", Handle: "old.bsky.social", DisplayName: "Old"}

	profileAPI := staticProfiles(Profile{DID: "did:abc", Handle: "new.bsky.social", DisplayName: "New"})
	service := newTestService(t, store, profileAPI, singlePage())

	processed, err := service.Run(context.Background(), RunOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, "new.bsky.social", store.accounts["did:abc"].Handle)
	assert.Equal(t, "New", store.accounts["did:abc"].DisplayName)
}

func TestRunTwiceSameDayIsIdempotent(t *testing.T) {
	store := newMemStore()
	store.accounts["did:abc"] = &Account{DID: "did:abc", Handle: "abc.bsky.social"}

	profile := Profile{DID: "did:abc", Handle: "abc.bsky.social", FollowersCount: 7}
	feed := singlePage(
		FeedPost{URI: "at://p1", AuthorDID: "did:abc", CreatedAt: runNow.Add(-time.Hour), Engagement: Engagement{Likes: 3}},
	)

	service := newTestService(t, store, staticProfiles(profile), feed)
	_, err := service.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	firstSnapshots := make(map[string]Snapshot, len(store.snapshots))
	for k, v := range store.snapshots {
		firstSnapshots[k] = v
	}

	_, err = service.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, firstSnapshots, store.snapshots, "unchanged upstream data must yield identical snapshots")
	assert.Len(t, store.posts, 1)
}

func TestRunSurvivesPartialBatchFailure(t *testing.T) {
	store := newMemStore()
	dids := makeDIDs(60)
	for _, did := range dids {
		store.accounts[did] = &Account{DID: did, Handle: did + ".bsky.social"}
	}

	call := 0
	profileAPI := &fakeProfileAPI{
		getProfiles: func(_ context.Context, actors []string) ([]Profile, error) {
			call++
			if call == 2 {
				return nil, errors.New("rate limited")
			}
			return profilesFor(actors), nil
		},
	}
	service := newTestService(t, store, profileAPI, singlePage())

	processed, err := service.Run(context.Background(), RunOptions{})

	require.NoError(t, err)
	assert.Equal(t, 35, processed, "only the two successful batches' accounts count")
	run := store.runs[1]
	require.NotNil(t, run)
	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.Equal(t, 35, run.TotalUsers)
}

func TestRunFailsWhenRunLogCannotBeCreated(t *testing.T) {
	store := newMemStore()
	service := newTestService(t, store, staticProfiles(), singlePage())

	brokenRuns := &failingRunLog{err: errors.New("connection refused")}
	service.runs = brokenRuns

	_, err := service.Run(context.Background(), RunOptions{})
	assert.ErrorIs(t, err, brokenRuns.err)
}

type failingRunLog struct {
	err error
}

func (f *failingRunLog) CreateRunLog(context.Context) (int64, error) { return 0, f.err }
func (f *failingRunLog) CompleteRunLog(context.Context, int64, time.Duration, int) error {
	return f.err
}
