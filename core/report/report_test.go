package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chaosgreml/charcoal/core/model"
)

func ptr(v float64) *float64 { return &v }

func sampleThreats() []model.AccountScore {
	tier := model.TierHigh
	return []model.AccountScore{
		{
			DID:           "did:plc:a",
			Handle:        "a.bsky.social",
			ThreatScore:   ptr(42.5),
			ToxicityScore: ptr(0.8),
			TopicOverlap:  ptr(0.3),
			ThreatTier:    &tier,
			PostsAnalyzed: 12,
			TopToxicPosts: []model.ToxicPost{
				{URI: "at://did:plc:a/app.bsky.feed.post/1", Text: "a pretty nasty post", Toxicity: 0.91},
			},
			ScoredAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func sampleEvents() []model.AmplificationEvent {
	return []model.AmplificationEvent{
		{
			EventType:       model.EventQuote,
			AmplifierDID:    "did:plc:a",
			AmplifierHandle: "a.bsky.social",
			OriginalPostURI: "at://did:plc:protected/app.bsky.feed.post/1",
			DetectedAt:      time.Date(2024, 6, 2, 10, 30, 0, 0, time.UTC),
		},
	}
}

func TestExportJSONIncludesCountsAndTimestamp(t *testing.T) {
	now := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	data, err := ExportJSON(sampleThreats(), sampleEvents(), now)
	if err != nil {
		t.Fatalf("ExportJSON failed: %v", err)
	}

	var decoded ExportedReport
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to decode exported JSON: %v", err)
	}
	if decoded.TotalAccounts != 1 || decoded.TotalEvents != 1 {
		t.Fatalf("expected 1/1 counts, got %d/%d", decoded.TotalAccounts, decoded.TotalEvents)
	}
	if !decoded.ExportedAt.Equal(now) {
		t.Fatalf("expected exported_at %v, got %v", now, decoded.ExportedAt)
	}
}

func TestGenerateMarkdownWritesRankedTableAndEvidence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "report.md")
	fingerprint := &model.TopicFingerprint{
		PostCount: 100,
		Clusters: []model.TopicCluster{
			{Label: "politics", Weight: 0.6, Keywords: []model.WeightedTerm{{Term: "election", Weight: 0.5}}},
		},
	}

	written, err := GenerateMarkdown(sampleThreats(), fingerprint, sampleEvents(), path)
	if err != nil {
		t.Fatalf("GenerateMarkdown failed: %v", err)
	}
	if written != path {
		t.Fatalf("expected path %s, got %s", path, written)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read generated report: %v", err)
	}
	text := string(content)

	for _, want := range []string{
		"# Charcoal Threat Report",
		"## Topic Fingerprint",
		"election",
		"## Ranked Threats",
		"@a.bsky.social",
		"## Evidence",
		"a pretty nasty post",
		"## Recent Amplification Events",
		"quote",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected report to contain %q, report was:\n%s", want, text)
		}
	}
}

func TestGenerateMarkdownHandlesEmptyInputs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.md")
	if _, err := GenerateMarkdown(nil, nil, nil, path); err != nil {
		t.Fatalf("GenerateMarkdown failed on empty inputs: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read generated report: %v", err)
	}
	text := string(content)
	if !strings.Contains(text, "No accounts scored yet.") {
		t.Fatalf("expected empty-threats message, got:\n%s", text)
	}
	if !strings.Contains(text, "No amplification events recorded yet.") {
		t.Fatalf("expected empty-events message, got:\n%s", text)
	}
}

func TestTruncateRunesRespectsLimit(t *testing.T) {
	s := strings.Repeat("x", 150)
	got := truncateRunes(s, 100)
	if len([]rune(got)) != 103 { // 100 chars + "..."
		t.Fatalf("expected truncated length 103, got %d", len([]rune(got)))
	}
}
