// Package bluesky is a minimal AT Protocol API client: public AppView reads
// for profile and author-feed lookups, and authenticated PDS writes for
// managing feed generator records.
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultPDS     = "https://bsky.social"
	defaultAppView = "https://public.api.bsky.app"

	// MaxProfileBatch is the cap on actors per getProfiles call.
	MaxProfileBatch = 25
)

// Client talks to the AT Protocol XRPC endpoints. Read calls are paced by a
// rate limiter so crawls stay polite.
type Client struct {
	pds        string
	appView    string
	httpClient *http.Client
	limiter    *rate.Limiter

	// populated after Login
	accessJwt string
	did       string
}

// NewClient creates a client. Empty pds or appView fall back to the public
// defaults; requestsPerSecond <= 0 disables pacing.
func NewClient(pds, appView string, requestsPerSecond float64) *Client {
	if pds == "" {
		pds = defaultPDS
	}
	if appView == "" {
		appView = defaultAppView
	}

	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}

	return &Client{
		pds:     pds,
		appView: appView,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// FollowerCounts fetches current follower counts for up to MaxProfileBatch
// authors via app.bsky.actor.getProfiles. DIDs absent from the response are
// simply missing from the result map.
func (c *Client) FollowerCounts(ctx context.Context, dids []string) (map[string]int, error) {
	if len(dids) > MaxProfileBatch {
		return nil, fmt.Errorf("too many actors: %d (max %d)", len(dids), MaxProfileBatch)
	}

	q := url.Values{}
	for _, did := range dids {
		q.Add("actors", did)
	}

	var resp struct {
		Profiles []struct {
			DID            string `json:"did"`
			FollowersCount int    `json:"followersCount"`
		} `json:"profiles"`
	}
	if err := c.get(ctx, "/xrpc/app.bsky.actor.getProfiles", q, &resp); err != nil {
		return nil, fmt.Errorf("get profiles: %w", err)
	}

	counts := make(map[string]int, len(resp.Profiles))
	for _, p := range resp.Profiles {
		counts[p.DID] = p.FollowersCount
	}
	return counts, nil
}

// FeedItem is one post from an author feed, reduced to the fields the
// backfill crawler indexes.
type FeedItem struct {
	URI       string
	CID       string
	Author    string
	CreatedAt string

	// Repost marks items surfaced by a repost rather than authored.
	Repost bool
}

// AuthorFeedPage is one page of app.bsky.feed.getAuthorFeed.
type AuthorFeedPage struct {
	Items  []FeedItem
	Cursor string
}

// AuthorFeed fetches one page of an author's posts, excluding replies at the
// API level. Pass the previous page's cursor to continue.
func (c *Client) AuthorFeed(ctx context.Context, actor string, limit int, cursor string) (*AuthorFeedPage, error) {
	q := url.Values{}
	q.Set("actor", actor)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("filter", "posts_no_replies")
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var resp struct {
		Cursor string `json:"cursor"`
		Feed   []struct {
			Post struct {
				URI    string `json:"uri"`
				CID    string `json:"cid"`
				Author struct {
					DID string `json:"did"`
				} `json:"author"`
				Record struct {
					CreatedAt string `json:"createdAt"`
				} `json:"record"`
			} `json:"post"`
			Reason *struct {
				Type string `json:"$type"`
			} `json:"reason,omitempty"`
		} `json:"feed"`
	}
	if err := c.get(ctx, "/xrpc/app.bsky.feed.getAuthorFeed", q, &resp); err != nil {
		return nil, fmt.Errorf("get author feed: %w", err)
	}

	page := &AuthorFeedPage{Cursor: resp.Cursor}
	for _, item := range resp.Feed {
		page.Items = append(page.Items, FeedItem{
			URI:       item.Post.URI,
			CID:       item.Post.CID,
			Author:    item.Post.Author.DID,
			CreatedAt: item.Post.Record.CreatedAt,
			Repost:    item.Reason != nil && item.Reason.Type == "app.bsky.feed.defs#reasonRepost",
		})
	}
	return page, nil
}

// Login authenticates with the PDS and stores the session token. Use an App
// Password, not your account password.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	body := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	var resp struct {
		AccessJwt string `json:"accessJwt"`
		DID       string `json:"did"`
	}
	if err := c.post(ctx, "/xrpc/com.atproto.server.createSession", body, &resp); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	c.accessJwt = resp.AccessJwt
	c.did = resp.DID
	return nil
}

// DID returns the authenticated user's DID. Only valid after Login.
func (c *Client) DID() string {
	return c.did
}

// FeedGeneratorRecord is the record body for app.bsky.feed.generator.
type FeedGeneratorRecord struct {
	DID         string `json:"did"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

// PublishFeedGenerator creates or updates a feed generator record in the
// authenticated user's repo via com.atproto.repo.putRecord.
func (c *Client) PublishFeedGenerator(ctx context.Context, rkey string, record FeedGeneratorRecord) error {
	if c.accessJwt == "" {
		return fmt.Errorf("not authenticated: call Login first")
	}

	body := map[string]any{
		"repo":       c.did,
		"collection": "app.bsky.feed.generator",
		"rkey":       rkey,
		"record":     record,
	}

	var resp json.RawMessage
	if err := c.post(ctx, "/xrpc/com.atproto.repo.putRecord", body, &resp); err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

// UnpublishFeedGenerator deletes a feed generator record from the
// authenticated user's repo via com.atproto.repo.deleteRecord.
func (c *Client) UnpublishFeedGenerator(ctx context.Context, rkey string) error {
	if c.accessJwt == "" {
		return fmt.Errorf("not authenticated: call Login first")
	}

	body := map[string]any{
		"repo":       c.did,
		"collection": "app.bsky.feed.generator",
		"rkey":       rkey,
	}

	var resp json.RawMessage
	if err := c.post(ctx, "/xrpc/com.atproto.repo.deleteRecord", body, &resp); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.appView+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pds+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessJwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJwt)
	}

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
