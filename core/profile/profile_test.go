package profile

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chaosgreml/charcoal/core/embedding"
	"github.com/chaosgreml/charcoal/core/model"
	"github.com/chaosgreml/charcoal/core/netclient"
	"github.com/chaosgreml/charcoal/core/storage"
	"github.com/chaosgreml/charcoal/core/topics"
	"github.com/chaosgreml/charcoal/core/toxicity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func newTestBuilder(t *testing.T, serverURL string) *Builder {
	t.Helper()
	store, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "charcoal.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	b := NewBuilder(
		netclient.New(serverURL, serverURL),
		embedding.NewEngine(t.TempDir()),
		toxicity.NewEngine(t.TempDir()),
		store,
		testLogger(),
	)
	return b
}

func emptyFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "getAuthorFeed"):
			json.NewEncoder(w).Encode(map[string]any{"feed": []any{}})
		default:
			json.NewEncoder(w).Encode(map[string]any{})
		}
	}))
}

func TestBuildWithNoPostsWritesNullScore(t *testing.T) {
	server := emptyFeedServer(t)
	defer server.Close()

	b := newTestBuilder(t, server.URL)
	score, err := b.Build(context.Background(), "did:plc:empty", "empty.bsky.social", Context{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if score.PostsAnalyzed != 0 {
		t.Fatalf("expected 0 posts analyzed, got %d", score.PostsAnalyzed)
	}
	if score.ToxicityScore != nil || score.TopicOverlap != nil || score.ThreatScore != nil || score.ThreatTier != nil {
		t.Fatalf("expected all scores nil for a postless account, got %+v", score)
	}

	stored, err := b.Store.GetAccountScore(context.Background(), "did:plc:empty")
	if err != nil || stored == nil {
		t.Fatalf("expected the null score to be persisted, err=%v", err)
	}
}

func feedServerWithPosts(t *testing.T, texts []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "getAuthorFeed") {
			items := make([]map[string]any, len(texts))
			for i, text := range texts {
				items[i] = map[string]any{
					"post": map[string]any{
						"uri": "at://did:plc:target/app.bsky.feed.post/" + string(rune('a'+i)),
						"record": map[string]any{
							"text":      text,
							"createdAt": "2024-01-01T00:00:00Z",
						},
						"likeCount":   1,
						"repostCount": 0,
						"quoteCount":  0,
					},
				}
			}
			json.NewEncoder(w).Encode(map[string]any{"feed": items})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"feed": []any{}})
	}))
}

func TestBuildWithPostsAndNoModelsFallsBackToKeywordOverlap(t *testing.T) {
	texts := []string{
		"the weather today is sunny and warm",
		"sunny weather makes for a good walk outside",
		"warm sunny days are the best kind of weather",
	}
	server := feedServerWithPosts(t, texts)
	defer server.Close()

	b := newTestBuilder(t, server.URL)

	fingerprint, err := topics.DefaultExtractor().Extract(texts)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	score, err := b.Build(context.Background(), "did:plc:target", "target.bsky.social", Context{
		Fingerprint: fingerprint,
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if score.PostsAnalyzed != len(texts) {
		t.Fatalf("expected %d posts analyzed, got %d", len(texts), score.PostsAnalyzed)
	}
	if score.ToxicityScore == nil || *score.ToxicityScore != 0 {
		t.Fatalf("expected toxicity 0 with no model loaded, got %v", score.ToxicityScore)
	}
	if score.TopicOverlap == nil {
		t.Fatalf("expected a non-nil keyword-fallback overlap")
	}
	if *score.TopicOverlap <= 0 {
		t.Fatalf("expected positive overlap between near-identical post sets, got %v", *score.TopicOverlap)
	}
	if score.ThreatTier == nil || *score.ThreatTier != model.TierLow {
		t.Fatalf("expected Low tier with zero toxicity, got %v", score.ThreatTier)
	}
}

func TestTruncateRunesRespectsCodePointBoundaries(t *testing.T) {
	s := strings.Repeat("日", 500)
	truncated := truncateRunes(s, 400)
	if count := len([]rune(truncated)); count != 400 {
		t.Fatalf("expected 400 runes, got %d", count)
	}
	if !strings.Contains(s, truncated) {
		t.Fatalf("truncated string should be a valid prefix")
	}
}

func TestTruncateRunesLeavesShortStringsUnchanged(t *testing.T) {
	s := "short text"
	if got := truncateRunes(s, 400); got != s {
		t.Fatalf("expected unchanged string, got %q", got)
	}
}

func TestKeywordWeightsForPostsEmptyReturnsNil(t *testing.T) {
	if w := keywordWeightsForPosts(nil); w != nil {
		t.Fatalf("expected nil for no posts, got %v", w)
	}
	if w := keywordWeightsForPosts([]model.Post{{Text: ""}}); w != nil {
		t.Fatalf("expected nil for blank-text posts, got %v", w)
	}
}
