package netclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	charcoalerr "github.com/chaosgreml/charcoal/core/errors"
	"github.com/chaosgreml/charcoal/core/model"
)

func TestFetchRecentPostsDerivesIsQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/xrpc/app.bsky.feed.getAuthorFeed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		resp := authorFeedResponse{Feed: []feedItem{
			{Post: feedItemPost{
				URI: "at://did:plc:a/app.bsky.feed.post/1",
				Record: struct {
					Text      string `json:"text"`
					CreatedAt string `json:"createdAt"`
					Embed     any    `json:"embed"`
					Reply     any    `json:"reply"`
				}{Text: "hello", CreatedAt: "2024-01-01T00:00:00Z", Embed: map[string]any{"uri": "at://x"}},
				LikeCount: 3,
			}},
			{Post: feedItemPost{
				URI: "at://did:plc:a/app.bsky.feed.post/2",
				Record: struct {
					Text      string `json:"text"`
					CreatedAt string `json:"createdAt"`
					Embed     any    `json:"embed"`
					Reply     any    `json:"reply"`
				}{Text: "world", CreatedAt: "2024-01-02T00:00:00Z"},
			}},
		}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := New(server.URL, server.URL)
	posts, err := c.FetchRecentPosts(context.Background(), "alice.bsky.social", 10)
	if err != nil {
		t.Fatalf("FetchRecentPosts failed: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}
	if !posts[0].IsQuote {
		t.Fatalf("expected first post to be a quote")
	}
	if posts[1].IsQuote {
		t.Fatalf("expected second post to not be a quote")
	}
}

func TestFetchRecentPostsSurfacesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	c := New(server.URL, server.URL)
	_, err := c.FetchRecentPosts(context.Background(), "alice.bsky.social", 10)
	if err == nil {
		t.Fatal("expected error")
	}
	if charcoalerr.GetTier(err) != charcoalerr.TierTransient {
		t.Fatalf("expected transient tier for a 5xx, got %v", charcoalerr.GetTier(err))
	}
}

func TestFetchRecentPostsSurfacesRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := New(server.URL, server.URL)
	_, err := c.FetchRecentPosts(context.Background(), "alice.bsky.social", 10)
	if charcoalerr.GetTier(err) != charcoalerr.TierExternalRateLimit {
		t.Fatalf("expected external rate limit tier, got %v", charcoalerr.GetTier(err))
	}
}

func TestFetchReplySampleCountsReplies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := authorFeedResponse{Feed: []feedItem{
			{Post: feedItemPost{URI: "at://1", Record: struct {
				Text      string `json:"text"`
				CreatedAt string `json:"createdAt"`
				Embed     any    `json:"embed"`
				Reply     any    `json:"reply"`
			}{Reply: map[string]any{"root": "at://root"}}}},
			{Post: feedItemPost{URI: "at://2"}},
			{Post: feedItemPost{URI: "at://3"}},
		}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := New(server.URL, server.URL)
	sample, err := c.FetchReplySample(context.Background(), "alice.bsky.social")
	if err != nil {
		t.Fatalf("FetchReplySample failed: %v", err)
	}
	if sample.Total != 3 || sample.ReplyCount != 1 {
		t.Fatalf("expected total=3 reply=1, got %+v", sample)
	}
}

func TestFetchFollowersPaginatesUntilMax(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		cursor := r.URL.Query().Get("cursor")
		resp := getFollowersResponse{
			Followers: []followerActor{
				{DID: "did:plc:a", Handle: "a.bsky.social"},
				{DID: "did:plc:b", Handle: "b.bsky.social"},
			},
		}
		if cursor == "" {
			resp.Cursor = "page2"
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := New(server.URL, server.URL)
	followers, err := c.FetchFollowers(context.Background(), "alice.bsky.social", 3)
	if err != nil {
		t.Fatalf("FetchFollowers failed: %v", err)
	}
	if len(followers) != 3 {
		t.Fatalf("expected 3 followers (capped), got %d", len(followers))
	}
	if calls != 2 {
		t.Fatalf("expected 2 pages fetched, got %d", calls)
	}
}

func TestResolveDIDsSkipsFailuresButKeepsSuccesses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle := r.URL.Query().Get("handle")
		if handle == "missing.bsky.social" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(resolveHandleResponse{DID: "did:plc:" + handle})
	}))
	defer server.Close()

	c := New(server.URL, server.URL)
	resolved, err := c.ResolveDIDs(context.Background(), []string{"alice.bsky.social", "missing.bsky.social"})
	if err != nil {
		t.Fatalf("ResolveDIDs failed: %v", err)
	}
	if len(resolved) != 1 || resolved["alice.bsky.social"] == "" {
		t.Fatalf("expected only alice resolved, got %+v", resolved)
	}
}

func TestFindAmplificationEventsDedupesAcrossQuoteAndRepostQueries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		source := r.URL.Query().Get("source")
		var resp backlinksResponse
		switch source {
		case quoteBacklinkSource:
			resp.Records = []backlinkRecord{
				{DID: "did:plc:amp1", Collection: "app.bsky.feed.post", Rkey: "abc"},
			}
		case repostBacklinkSource:
			resp.Records = []backlinkRecord{
				{DID: "did:plc:amp2", Collection: "app.bsky.feed.repost", Rkey: "def"},
				// Same synthesized URI as the quote above would only collide if
				// DID/collection/rkey matched; here it's distinct by construction.
			}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := New(server.URL, server.URL)
	events, err := c.FindAmplificationEvents(context.Background(), []string{"at://did:plc:protected/app.bsky.feed.post/1"})
	if err != nil {
		t.Fatalf("FindAmplificationEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	var sawQuote, sawRepost bool
	for _, e := range events {
		if e.EventType == model.EventQuote {
			sawQuote = true
		}
		if e.EventType == model.EventRepost {
			sawRepost = true
		}
	}
	if !sawQuote || !sawRepost {
		t.Fatalf("expected one quote and one repost event, got %+v", events)
	}
}

func TestResolveHandlesBatchesOver25(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		actors := r.URL.Query()["actors"]
		profiles := make([]profileActor, len(actors))
		for i, did := range actors {
			profiles[i] = profileActor{DID: did, Handle: did + ".bsky.social"}
		}
		json.NewEncoder(w).Encode(getProfilesResponse{Profiles: profiles})
	}))
	defer server.Close()

	dids := make([]string, 30)
	for i := range dids {
		dids[i] = "did:plc:" + string(rune('a'+i))
	}

	c := New(server.URL, server.URL)
	resolved, err := c.ResolveHandles(context.Background(), dids)
	if err != nil {
		t.Fatalf("ResolveHandles failed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 batched calls for 30 dids, got %d", calls)
	}
	if len(resolved) != 30 {
		t.Fatalf("expected 30 resolved handles, got %d", len(resolved))
	}
}

func TestFetchPostsByURIParsesRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uris := r.URL.Query()["uris"]
		posts := make([]feedItemPost, len(uris))
		for i, uri := range uris {
			posts[i] = feedItemPost{URI: uri}
			posts[i].Record.Text = "quoted text"
			posts[i].Record.CreatedAt = "2024-05-01T00:00:00Z"
		}
		json.NewEncoder(w).Encode(getPostsResponse{Posts: posts})
	}))
	defer server.Close()

	c := New(server.URL, server.URL)
	posts, err := c.FetchPostsByURI(context.Background(), []string{"at://did:plc:x/app.bsky.feed.post/1"})
	if err != nil {
		t.Fatalf("FetchPostsByURI failed: %v", err)
	}
	if len(posts) != 1 || posts[0].Text != "quoted text" {
		t.Fatalf("unexpected posts: %+v", posts)
	}
}

func TestFindAmplificationEventsDedupesIdenticalRecord(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := backlinksResponse{Records: []backlinkRecord{
			{DID: "did:plc:amp", Collection: "app.bsky.feed.post", Rkey: "same"},
		}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := New(server.URL, server.URL)
	events, err := c.FindAmplificationEvents(context.Background(), []string{
		"at://did:plc:protected/app.bsky.feed.post/1",
		"at://did:plc:protected/app.bsky.feed.post/2",
	})
	if err != nil {
		t.Fatalf("FindAmplificationEvents failed: %v", err)
	}
	seen := make(map[string]int)
	for _, e := range events {
		seen[*e.AmplifierPostURI]++
	}
	for uri, count := range seen {
		if count != 1 {
			t.Fatalf("expected amplifier URI %s to appear once, got %d", uri, count)
		}
	}
}
