// Package netclient is Charcoal's read-only AT Protocol client: fetching
// posts, followers, and DID resolutions from the public AppView, plus
// amplification events from the Constellation backlink index. Grounded
// in shape on the teacher's embedder.VoyageEmbedder HTTP client
// (core/vectorgraphdb/vamana/embedder/voyage.go) — request construction,
// a shared *http.Client with a fixed timeout, and a typed API error —
// but deliberately without its retry loop: spec.md §4.2 requires every
// call to surface its raw error so the caller can apply its own
// error-tier policy instead of one baked into the client.
package netclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	charcoalerr "github.com/chaosgreml/charcoal/core/errors"
	"github.com/chaosgreml/charcoal/core/model"
)

const (
	defaultTimeout      = 30 * time.Second
	userAgent           = "charcoal/0.1 (threat-detection; @chaosgreml.in)"
	replySampleLimit    = 50
	defaultFollowerPage = 100
	defaultBacklinkPage = 100
)

// Client talks to the public Bluesky AppView and the Constellation
// backlink index. Both base URLs are read-only dependencies, configured
// once at startup and never mutated.
type Client struct {
	httpClient       *http.Client
	publicAPIBaseURL string
	constellationURL string
}

// New builds a Client pointed at the given AppView and Constellation
// base URLs.
func New(publicAPIBaseURL, constellationURL string) *Client {
	return &Client{
		httpClient:       &http.Client{Timeout: defaultTimeout},
		publicAPIBaseURL: strings.TrimSuffix(publicAPIBaseURL, "/"),
		constellationURL: strings.TrimSuffix(constellationURL, "/"),
	}
}

// APIError is returned for any non-2xx XRPC response.
type APIError struct {
	StatusCode int
	Body       string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("netclient: %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (c *Client) get(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return charcoalerr.WrapWithTier(charcoalerr.TierPermanent, "build request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return charcoalerr.WrapWithTier(charcoalerr.TierTransient, "request failed: "+rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return charcoalerr.WrapWithTier(charcoalerr.TierTransient, "read response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body), Endpoint: rawURL}
		if resp.StatusCode == http.StatusTooManyRequests {
			return charcoalerr.WrapWithTier(charcoalerr.TierExternalRateLimit, "rate limited", apiErr)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return charcoalerr.WrapWithTier(charcoalerr.TierTransient, "server error", apiErr)
		}
		return charcoalerr.WrapWithTier(charcoalerr.TierPermanent, "client error", apiErr)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return charcoalerr.WrapWithTier(charcoalerr.TierPermanent, "unmarshal response", err)
	}
	return nil
}

// --- app.bsky.feed.getAuthorFeed ---

type feedItemPost struct {
	URI    string `json:"uri"`
	Record struct {
		Text      string `json:"text"`
		CreatedAt string `json:"createdAt"`
		Embed     any    `json:"embed"`
		Reply     any    `json:"reply"`
	} `json:"record"`
	LikeCount   int `json:"likeCount"`
	RepostCount int `json:"repostCount"`
	QuoteCount  int `json:"quoteCount"`
}

type feedItem struct {
	Post  feedItemPost `json:"post"`
	Reply any          `json:"reply"`
}

type authorFeedResponse struct {
	Feed   []feedItem `json:"feed"`
	Cursor string     `json:"cursor"`
}

// FetchRecentPosts returns up to limit non-reply posts authored by actor
// (a handle or DID), newest first. is_quote is derived from the presence
// of a record embed on the post.
func (c *Client) FetchRecentPosts(ctx context.Context, actor string, limit int) ([]model.Post, error) {
	v := url.Values{}
	v.Set("actor", actor)
	v.Set("limit", strconv.Itoa(limit))
	v.Set("filter", "posts_no_replies")

	var resp authorFeedResponse
	endpoint := fmt.Sprintf("%s/xrpc/app.bsky.feed.getAuthorFeed?%s", c.publicAPIBaseURL, v.Encode())
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	posts := make([]model.Post, 0, len(resp.Feed))
	for _, item := range resp.Feed {
		createdAt, _ := time.Parse(time.RFC3339, item.Post.Record.CreatedAt)
		posts = append(posts, model.Post{
			URI:         item.Post.URI,
			Text:        item.Post.Record.Text,
			CreatedAt:   createdAt,
			LikeCount:   item.Post.LikeCount,
			RepostCount: item.Post.RepostCount,
			QuoteCount:  item.Post.QuoteCount,
			IsQuote:     item.Post.Record.Embed != nil,
		})
		if len(posts) >= limit {
			break
		}
	}
	return posts, nil
}

// ReplySample is a single page of an actor's feed including replies,
// used only to derive a reply ratio.
type ReplySample struct {
	ReplyCount int
	Total      int
}

// FetchReplySample fetches a single page (up to replySampleLimit posts,
// including replies) and counts how many are replies.
func (c *Client) FetchReplySample(ctx context.Context, actor string) (ReplySample, error) {
	v := url.Values{}
	v.Set("actor", actor)
	v.Set("limit", strconv.Itoa(replySampleLimit))
	v.Set("filter", "posts_with_replies")

	var resp authorFeedResponse
	endpoint := fmt.Sprintf("%s/xrpc/app.bsky.feed.getAuthorFeed?%s", c.publicAPIBaseURL, v.Encode())
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return ReplySample{}, err
	}

	sample := ReplySample{Total: len(resp.Feed)}
	for _, item := range resp.Feed {
		if item.Post.Record.Reply != nil {
			sample.ReplyCount++
		}
	}
	return sample, nil
}

// --- app.bsky.graph.getFollowers ---

type followerActor struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}

type getFollowersResponse struct {
	Followers []followerActor `json:"followers"`
	Cursor    string          `json:"cursor"`
}

// Follower is one entry of an actor's follower list.
type Follower struct {
	DID    string
	Handle string
}

// FetchFollowers returns up to maxFollowers followers of actor,
// paginating internally via the cursor the AppView returns.
func (c *Client) FetchFollowers(ctx context.Context, actor string, maxFollowers int) ([]Follower, error) {
	var followers []Follower
	cursor := ""

	for len(followers) < maxFollowers {
		v := url.Values{}
		v.Set("actor", actor)
		v.Set("limit", strconv.Itoa(defaultFollowerPage))
		if cursor != "" {
			v.Set("cursor", cursor)
		}

		var resp getFollowersResponse
		endpoint := fmt.Sprintf("%s/xrpc/app.bsky.graph.getFollowers?%s", c.publicAPIBaseURL, v.Encode())
		if err := c.get(ctx, endpoint, &resp); err != nil {
			return followers, err
		}

		for _, f := range resp.Followers {
			followers = append(followers, Follower{DID: f.DID, Handle: f.Handle})
			if len(followers) >= maxFollowers {
				break
			}
		}

		if resp.Cursor == "" || len(resp.Followers) == 0 {
			break
		}
		cursor = resp.Cursor
	}

	return followers, nil
}

// --- com.atproto.identity.resolveHandle ---

type resolveHandleResponse struct {
	DID string `json:"did"`
}

// ResolveDIDs resolves each handle to its DID, one XRPC call per handle
// (the AppView exposes no batch resolution endpoint). A failure to
// resolve one handle does not abort the batch; it is simply omitted
// from the result map.
func (c *Client) ResolveDIDs(ctx context.Context, handles []string) (map[string]string, error) {
	resolved := make(map[string]string, len(handles))
	var firstErr error

	for _, handle := range handles {
		v := url.Values{}
		v.Set("handle", handle)

		var resp resolveHandleResponse
		endpoint := fmt.Sprintf("%s/xrpc/com.atproto.identity.resolveHandle?%s", c.publicAPIBaseURL, v.Encode())
		if err := c.get(ctx, endpoint, &resp); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		resolved[handle] = resp.DID
	}

	if len(resolved) == 0 && firstErr != nil {
		return resolved, firstErr
	}
	return resolved, nil
}

// --- app.bsky.actor.getProfiles ---

const maxProfilesPerBatch = 25

type profileActor struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}

type getProfilesResponse struct {
	Profiles []profileActor `json:"profiles"`
}

// ResolveHandles resolves each DID to its current handle, batching up
// to maxProfilesPerBatch per XRPC call. A DID the AppView cannot
// resolve is simply omitted from the result map rather than aborting
// the batch.
func (c *Client) ResolveHandles(ctx context.Context, dids []string) (map[string]string, error) {
	resolved := make(map[string]string, len(dids))
	var firstErr error

	for start := 0; start < len(dids); start += maxProfilesPerBatch {
		end := min(start+maxProfilesPerBatch, len(dids))
		batch := dids[start:end]

		v := url.Values{}
		for _, did := range batch {
			v.Add("actors", did)
		}

		var resp getProfilesResponse
		endpoint := fmt.Sprintf("%s/xrpc/app.bsky.actor.getProfiles?%s", c.publicAPIBaseURL, v.Encode())
		if err := c.get(ctx, endpoint, &resp); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, p := range resp.Profiles {
			resolved[p.DID] = p.Handle
		}
	}

	if len(resolved) == 0 && firstErr != nil {
		return resolved, firstErr
	}
	return resolved, nil
}

// --- app.bsky.feed.getPosts ---

const maxPostsPerBatch = 25

type getPostsResponse struct {
	Posts []feedItemPost `json:"posts"`
}

// FetchPostsByURI fetches the given posts directly by AT-URI, batching
// up to maxPostsPerBatch per call. Used to retrieve an amplifier's
// quote-post text for toxicity scoring and evidence display.
func (c *Client) FetchPostsByURI(ctx context.Context, uris []string) ([]model.Post, error) {
	var posts []model.Post

	for start := 0; start < len(uris); start += maxPostsPerBatch {
		end := min(start+maxPostsPerBatch, len(uris))
		batch := uris[start:end]

		v := url.Values{}
		for _, uri := range batch {
			v.Add("uris", uri)
		}

		var resp getPostsResponse
		endpoint := fmt.Sprintf("%s/xrpc/app.bsky.feed.getPosts?%s", c.publicAPIBaseURL, v.Encode())
		if err := c.get(ctx, endpoint, &resp); err != nil {
			return posts, err
		}

		for _, p := range resp.Posts {
			createdAt, _ := time.Parse(time.RFC3339, p.Record.CreatedAt)
			posts = append(posts, model.Post{
				URI:         p.URI,
				Text:        p.Record.Text,
				CreatedAt:   createdAt,
				LikeCount:   p.LikeCount,
				RepostCount: p.RepostCount,
				QuoteCount:  p.QuoteCount,
				IsQuote:     p.Record.Embed != nil,
			})
		}
	}

	return posts, nil
}

// --- blue.microcosm.links.getBacklinks (Constellation) ---

type backlinkRecord struct {
	DID        string `json:"did"`
	Collection string `json:"collection"`
	Rkey       string `json:"rkey"`
}

type backlinksResponse struct {
	Total   *int64           `json:"total"`
	Records []backlinkRecord `json:"records"`
	Cursor  string           `json:"cursor"`
}

const (
	quoteBacklinkSource  = "app.bsky.feed.post:embed.record.uri"
	repostBacklinkSource = "app.bsky.feed.repost:subject.uri"
)

func (c *Client) getBacklinks(ctx context.Context, subject, source string, limit int) (backlinksResponse, error) {
	v := url.Values{}
	v.Set("subject", subject)
	v.Set("source", source)
	v.Set("limit", strconv.Itoa(limit))

	var resp backlinksResponse
	endpoint := fmt.Sprintf("%s/xrpc/blue.microcosm.links.getBacklinks?%s", c.constellationURL, v.Encode())
	err := c.get(ctx, endpoint, &resp)
	return resp, err
}

// FindAmplificationEvents queries Constellation for quotes and reposts
// of each of postURIs, deduplicating by the synthesized amplifier-post
// AT-URI. Grounded precisely in
// original_source/src/constellation/client.rs's find_amplification_events:
// two getBacklinks queries per URI (one per source template), merged and
// deduped against a single seen-set spanning both event types.
func (c *Client) FindAmplificationEvents(ctx context.Context, postURIs []string) ([]model.AmplificationEvent, error) {
	var events []model.AmplificationEvent
	seen := make(map[string]bool)

	for _, uri := range postURIs {
		quotes, err := c.getBacklinks(ctx, uri, quoteBacklinkSource, defaultBacklinkPage)
		if err != nil {
			return events, err
		}
		events = appendAmplificationEvents(events, seen, uri, quotes.Records, model.EventQuote)

		reposts, err := c.getBacklinks(ctx, uri, repostBacklinkSource, defaultBacklinkPage)
		if err != nil {
			return events, err
		}
		events = appendAmplificationEvents(events, seen, uri, reposts.Records, model.EventRepost)
	}

	return events, nil
}

func appendAmplificationEvents(events []model.AmplificationEvent, seen map[string]bool, originalURI string, records []backlinkRecord, eventType model.AmplificationEventType) []model.AmplificationEvent {
	for _, r := range records {
		ampURI := fmt.Sprintf("at://%s/%s/%s", r.DID, r.Collection, r.Rkey)
		if seen[ampURI] {
			continue
		}
		seen[ampURI] = true

		events = append(events, model.AmplificationEvent{
			EventType:        eventType,
			AmplifierDID:     r.DID,
			AmplifierHandle:  r.DID,
			OriginalPostURI:  originalURI,
			AmplifierPostURI: &ampURI,
			DetectedAt:       time.Now().UTC(),
		})
	}
	return events
}
