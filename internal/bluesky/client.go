package bluesky

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/AceyAdapter/dopplersky-workers/internal/domain"
)

const defaultBaseURL = "https://public.api.bsky.app"

// ErrProfileNotFound is returned by GetProfile when the API has no profile
// for the requested actor.
var ErrProfileNotFound = errors.New("profile not found")

// APIError represents a failed call to the BlueSky API. It carries the
// endpoint so callers can tell which capability failed.
type APIError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("bluesky api %s: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("bluesky api %s: %v", e.Endpoint, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Client is a minimal BlueSky API client for the public read endpoints used
// by the snapshot workers. No authentication is required.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new BlueSky API client. If baseURL is empty, it
// defaults to https://public.api.bsky.app.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetProfiles fetches multiple actor profiles in a single call to
// app.bsky.actor.getProfiles. The API accepts at most 25 actors per call;
// callers batch accordingly. An empty actor list makes no call.
func (c *Client) GetProfiles(ctx context.Context, actors []string) ([]domain.Profile, error) {
	if len(actors) == 0 {
		return nil, nil
	}

	query := url.Values{}
	for _, actor := range actors {
		query.Add("actors", actor)
	}

	var resp getProfilesResponse
	if err := c.get(ctx, "app.bsky.actor.getProfiles", query, &resp); err != nil {
		return nil, err
	}

	profiles := make([]domain.Profile, len(resp.Profiles))
	for i, p := range resp.Profiles {
		profiles[i] = domain.Profile{
			DID:            p.DID,
			Handle:         p.Handle,
			DisplayName:    p.DisplayName,
			Avatar:         p.Avatar,
			FollowersCount: p.FollowersCount,
			FollowsCount:   p.FollowsCount,
			PostsCount:     p.PostsCount,
		}
	}
	return profiles, nil
}

// GetProfile fetches a single actor profile. Returns ErrProfileNotFound if
// the API has no match.
func (c *Client) GetProfile(ctx context.Context, actor string) (*domain.Profile, error) {
	profiles, err := c.GetProfiles(ctx, []string{actor})
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, actor)
	}
	return &profiles[0], nil
}

// GetAuthorFeed fetches one page of an actor's feed via
// app.bsky.feed.getAuthorFeed. The feed is reverse-chronological and may
// include reposts of other authors; callers filter by author DID.
func (c *Client) GetAuthorFeed(ctx context.Context, actor, cursor string, limit int) (*domain.FeedPage, error) {
	query := url.Values{}
	query.Set("actor", actor)
	query.Set("limit", fmt.Sprintf("%d", limit))
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	var resp getAuthorFeedResponse
	if err := c.get(ctx, "app.bsky.feed.getAuthorFeed", query, &resp); err != nil {
		return nil, err
	}

	page := &domain.FeedPage{
		Cursor: resp.Cursor,
		Posts:  make([]domain.FeedPost, 0, len(resp.Feed)),
	}
	for _, item := range resp.Feed {
		createdAt, err := time.Parse(time.RFC3339, item.Post.Record.CreatedAt)
		if err != nil {
			// Malformed timestamps are rare but real; skip the entry rather
			// than failing the whole page.
			continue
		}
		page.Posts = append(page.Posts, domain.FeedPost{
			URI:       item.Post.URI,
			AuthorDID: item.Post.Author.DID,
			CreatedAt: createdAt.UTC(),
			Engagement: domain.Engagement{
				Likes:   item.Post.LikeCount,
				Replies: item.Post.ReplyCount,
				Quotes:  item.Post.QuoteCount,
				Reposts: item.Post.RepostCount,
			},
		})
	}
	return page, nil
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, result any) error {
	reqURL := c.baseURL + "/xrpc/" + endpoint
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &APIError{Endpoint: endpoint, Err: fmt.Errorf("create request: %w", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Endpoint: endpoint, Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Endpoint: endpoint, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", respBody),
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return &APIError{Endpoint: endpoint, Err: fmt.Errorf("unmarshal response: %w", err)}
		}
	}

	return nil
}

type getProfilesResponse struct {
	Profiles []profileView `json:"profiles"`
}

type profileView struct {
	DID            string `json:"did"`
	Handle         string `json:"handle"`
	DisplayName    string `json:"displayName"`
	Avatar         string `json:"avatar"`
	FollowersCount int    `json:"followersCount"`
	FollowsCount   int    `json:"followsCount"`
	PostsCount     int    `json:"postsCount"`
}

type getAuthorFeedResponse struct {
	Feed   []feedViewPost `json:"feed"`
	Cursor string         `json:"cursor"`
}

type feedViewPost struct {
	Post postView `json:"post"`
}

type postView struct {
	URI    string `json:"uri"`
	Author struct {
		DID string `json:"did"`
	} `json:"author"`
	Record struct {
		CreatedAt string `json:"createdAt"`
	} `json:"record"`
	LikeCount   int `json:"likeCount"`
	ReplyCount  int `json:"replyCount"`
	QuoteCount  int `json:"quoteCount"`
	RepostCount int `json:"repostCount"`
}
