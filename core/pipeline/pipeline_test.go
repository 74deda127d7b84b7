package pipeline

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaosgreml/charcoal/core/embedding"
	"github.com/chaosgreml/charcoal/core/netclient"
	"github.com/chaosgreml/charcoal/core/profile"
	"github.com/chaosgreml/charcoal/core/storage"
	"github.com/chaosgreml/charcoal/core/toxicity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// fakeAppView serves just enough of the AppView + Constellation surface
// for the amplification pipeline to run end to end: one protected post,
// one quote of it by an amplifier who has two followers.
func fakeAppView(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "getAuthorFeed"):
			actor := r.URL.Query().Get("actor")
			if actor == "did:plc:protected" {
				json.NewEncoder(w).Encode(map[string]any{"feed": []map[string]any{
					{"post": map[string]any{
						"uri": "at://did:plc:protected/app.bsky.feed.post/1",
						"record": map[string]any{
							"text":      "protected user's post",
							"createdAt": "2024-06-01T00:00:00Z",
						},
					}},
				}})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"feed": []any{}})

		case strings.Contains(r.URL.Path, "getFollowers"):
			actor := r.URL.Query().Get("actor")
			if actor == "quoter.bsky.social" || actor == "did:plc:quoter" {
				json.NewEncoder(w).Encode(map[string]any{"followers": []map[string]any{
					{"did": "did:plc:f1", "handle": "f1.bsky.social"},
					{"did": "did:plc:f2", "handle": "f2.bsky.social"},
				}})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"followers": []any{}})

		case strings.Contains(r.URL.Path, "getProfiles"):
			actors := r.URL.Query()["actors"]
			profiles := make([]map[string]any, len(actors))
			for i, did := range actors {
				profiles[i] = map[string]any{"did": did, "handle": "quoter.bsky.social"}
			}
			json.NewEncoder(w).Encode(map[string]any{"profiles": profiles})

		case strings.Contains(r.URL.Path, "getPosts"):
			uris := r.URL.Query()["uris"]
			posts := make([]map[string]any, len(uris))
			for i, uri := range uris {
				posts[i] = map[string]any{
					"uri": uri,
					"record": map[string]any{
						"text":      "quoting you, interesting take",
						"createdAt": "2024-06-02T00:00:00Z",
					},
				}
			}
			json.NewEncoder(w).Encode(map[string]any{"posts": posts})

		case strings.Contains(r.URL.Path, "getBacklinks"):
			source := r.URL.Query().Get("source")
			if source == quoteBacklinkSourceForTest {
				json.NewEncoder(w).Encode(map[string]any{"records": []map[string]any{
					{"did": "did:plc:quoter", "collection": "app.bsky.feed.post", "rkey": "xyz"},
				}})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"records": []any{}})

		default:
			json.NewEncoder(w).Encode(map[string]any{})
		}
	}))
}

const quoteBacklinkSourceForTest = "app.bsky.feed.post:embed.record.uri"

func newTestPipeline(t *testing.T, serverURL string) *Pipeline {
	t.Helper()
	store, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "charcoal.db"))
	require.NoError(t, err, "OpenSQLite")
	t.Cleanup(func() { store.Close() })

	client := netclient.New(serverURL, serverURL)
	builder := profile.NewBuilder(client, embedding.NewEngine(t.TempDir()), toxicity.NewEngine(t.TempDir()), store, testLogger())

	return &Pipeline{
		Client:          client,
		ProfileBuilder:  builder,
		Store:           store,
		ProtectedDID:    "did:plc:protected",
		ProtectedHandle: "protected.bsky.social",
		Concurrency:     4,
		MaxFollowers:    50,
		StalenessDays:   7,
		Logger:          testLogger(),
	}
}

func TestRunAmplificationDetectsQuoteAndScoresFollowers(t *testing.T) {
	server := fakeAppView(t)
	defer server.Close()

	p := newTestPipeline(t, server.URL)

	result, err := p.RunAmplification(context.Background())
	require.NoError(t, err, "RunAmplification")

	assert.Equal(t, 1, result.NewEvents)
	assert.Equal(t, 2, result.FollowersQueued, "expected 2 followers queued (f1, f2)")
	assert.Equal(t, 2, result.AccountsScored)

	events, err := p.Store.GetRecentEvents(context.Background(), 10)
	require.NoError(t, err, "GetRecentEvents")
	require.Len(t, events, 1)
	assert.Equal(t, "quoter.bsky.social", events[0].AmplifierHandle, "expected resolved quoter handle")
	require.NotNil(t, events[0].AmplifierText, "expected quote text to be recorded")
	assert.NotEmpty(t, *events[0].AmplifierText)

	cursor, found, err := p.Store.GetScanState(context.Background(), amplificationCursorKey)
	require.NoError(t, err, "GetScanState")
	require.True(t, found, "expected cursor to be set")
	assert.NotEmpty(t, cursor)
}

func TestRunAmplificationSkipsAlreadyScannedPosts(t *testing.T) {
	server := fakeAppView(t)
	defer server.Close()

	p := newTestPipeline(t, server.URL)
	ctx := context.Background()

	require.NoError(t, p.Store.SetScanState(ctx, amplificationCursorKey, "2099-01-01T00:00:00Z"))

	result, err := p.RunAmplification(ctx)
	require.NoError(t, err, "RunAmplification")
	assert.Equal(t, 0, result.NewEvents, "expected 0 new events when cursor is already past the only post")
}

func TestRunSweepDedupesFirstAndSecondDegree(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "getFollowers") {
			json.NewEncoder(w).Encode(map[string]any{})
			return
		}
		actor := r.URL.Query().Get("actor")
		switch actor {
		case "protected.bsky.social":
			json.NewEncoder(w).Encode(map[string]any{"followers": []map[string]any{
				{"did": "did:plc:fd1", "handle": "fd1.bsky.social"},
			}})
		case "fd1.bsky.social":
			json.NewEncoder(w).Encode(map[string]any{"followers": []map[string]any{
				{"did": "did:plc:fd1", "handle": "fd1.bsky.social"}, // overlaps first-degree, must be excluded
				{"did": "did:plc:sd1", "handle": "sd1.bsky.social"},
			}})
		default:
			json.NewEncoder(w).Encode(map[string]any{"followers": []any{}})
		}
	}))
	defer server.Close()

	p := newTestPipeline(t, server.URL)
	result, err := p.RunSweep(context.Background(), 50)
	require.NoError(t, err, "RunSweep")
	assert.Equal(t, 1, result.FirstDegreeCount)
	assert.Equal(t, 1, result.SecondDegreeCount, "expected exactly 1 unique second-degree account (fd1 excluded)")
}
