// Package report renders scored accounts and amplification events into
// the two export formats spec.md §6 and the supplemental feature set
// call for: a machine-readable JSON dump and a human-readable Markdown
// report. Grounded on original_source/src/output/{mod,terminal}.rs's
// display shape and main.rs's markdown::generate_report contract — no
// third-party templating library appears anywhere in the example
// corpus for this kind of deterministic text formatting, so both
// writers build their output with stdlib encoding/json and
// strings.Builder rather than reaching for one.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chaosgreml/charcoal/core/model"
)

// ExportedReport is the top-level shape of the JSON export, per
// spec.md §6: a snapshot of every scored account and every recorded
// amplification event, timestamped at export time.
type ExportedReport struct {
	ExportedAt    time.Time                  `json:"exported_at"`
	TotalAccounts int                        `json:"total_accounts"`
	TotalEvents   int                        `json:"total_events"`
	Accounts      []model.AccountScore       `json:"accounts"`
	Events        []model.AmplificationEvent `json:"events"`
}

// ExportJSON marshals threats and events into the spec-mandated JSON
// shape, indented for readability the way the teacher's cmd layer
// indents its own JSON output (encoder.SetIndent("", "  ")).
func ExportJSON(threats []model.AccountScore, events []model.AmplificationEvent, exportedAt time.Time) ([]byte, error) {
	report := ExportedReport{
		ExportedAt:    exportedAt,
		TotalAccounts: len(threats),
		TotalEvents:   len(events),
		Accounts:      threats,
		Events:        events,
	}

	var buf strings.Builder
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return nil, fmt.Errorf("report: marshal json export: %w", err)
	}
	return []byte(buf.String()), nil
}

const topToxicPostPreviewRunes = 100

// GenerateMarkdown writes a ranked threat report to path, creating any
// missing parent directories. Returns the path written, matching
// original_source's generate_report -> Result<PathBuf> contract.
func GenerateMarkdown(threats []model.AccountScore, fingerprint *model.TopicFingerprint, events []model.AmplificationEvent, path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("report: create output directory: %w", err)
	}

	var b strings.Builder
	writeMarkdownHeader(&b, fingerprint)
	writeMarkdownThreatTable(&b, threats)
	writeMarkdownEvidence(&b, threats)
	writeMarkdownEvents(&b, events)

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("report: write markdown report: %w", err)
	}
	return path, nil
}

func writeMarkdownHeader(b *strings.Builder, fingerprint *model.TopicFingerprint) {
	b.WriteString("# Charcoal Threat Report\n\n")

	if fingerprint == nil {
		return
	}
	b.WriteString("## Topic Fingerprint\n\n")
	fmt.Fprintf(b, "Built from %d posts.\n\n", fingerprint.PostCount)
	for _, cluster := range fingerprint.Clusters {
		fmt.Fprintf(b, "- **%s** (weight %.2f): ", cluster.Label, cluster.Weight)
		terms := make([]string, len(cluster.Keywords))
		for i, kw := range cluster.Keywords {
			terms[i] = kw.Term
		}
		b.WriteString(strings.Join(terms, ", "))
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeMarkdownThreatTable(b *strings.Builder, threats []model.AccountScore) {
	b.WriteString("## Ranked Threats\n\n")
	if len(threats) == 0 {
		b.WriteString("No accounts scored yet.\n\n")
		return
	}

	b.WriteString("| Rank | Handle | Score | Tier | Toxicity | Overlap | Posts |\n")
	b.WriteString("|-----:|--------|------:|------|---------:|--------:|------:|\n")
	for i, account := range threats {
		tier := "?"
		if account.ThreatTier != nil {
			tier = string(*account.ThreatTier)
		}
		fmt.Fprintf(b, "| %d | @%s | %s | %s | %s | %s | %d |\n",
			i+1,
			account.Handle,
			formatOptionalScore(account.ThreatScore, "%.1f"),
			tier,
			formatOptionalScore(account.ToxicityScore, "%.3f"),
			formatOptionalScore(account.TopicOverlap, "%.2f"),
			account.PostsAnalyzed,
		)
	}
	b.WriteString("\n")
}

func writeMarkdownEvidence(b *strings.Builder, threats []model.AccountScore) {
	withEvidence := false
	for _, account := range threats {
		if len(account.TopToxicPosts) > 0 {
			withEvidence = true
			break
		}
	}
	if !withEvidence {
		return
	}

	b.WriteString("## Evidence\n\n")
	for _, account := range threats {
		if len(account.TopToxicPosts) == 0 {
			continue
		}
		fmt.Fprintf(b, "### @%s\n\n", account.Handle)
		for _, post := range account.TopToxicPosts {
			preview := truncateRunes(post.Text, topToxicPostPreviewRunes)
			fmt.Fprintf(b, "> [tox: %.2f] %s\n\n", post.Toxicity, preview)
		}
	}
}

func writeMarkdownEvents(b *strings.Builder, events []model.AmplificationEvent) {
	b.WriteString("## Recent Amplification Events\n\n")
	if len(events) == 0 {
		b.WriteString("No amplification events recorded yet.\n")
		return
	}

	b.WriteString("| Detected | Type | Amplifier | Original Post |\n")
	b.WriteString("|----------|------|-----------|----------------|\n")
	for _, e := range events {
		fmt.Fprintf(b, "| %s | %s | @%s | %s |\n",
			e.DetectedAt.Format("2006-01-02 15:04"),
			e.EventType,
			e.AmplifierHandle,
			e.OriginalPostURI,
		)
	}
}

func formatOptionalScore(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

func truncateRunes(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}
