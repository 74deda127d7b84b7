package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaosgreml/charcoal/core/model"
	"github.com/chaosgreml/charcoal/core/report"
)

var (
	reportMinScore float64
	reportJSON     bool
	reportOutput   string
)

const reportEventLimit = 100

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Display and export the ranked threat report",
	Long: `Show every account scored at or above --min-score, ranked by threat
score, plus the most recent amplification events, and writes a Markdown
report to --output (or CHARCOAL_REPORT_PATH); with --json, prints the
machine-readable export instead of the terminal view and writes no
Markdown report.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().Float64Var(&reportMinScore, "min-score", 0, "minimum threat score to include")
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "print the JSON export instead of the terminal view")
	reportCmd.Flags().StringVar(&reportOutput, "output", "", "also write a Markdown report to this path (default: CHARCOAL_REPORT_PATH config)")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	threats, err := a.store.GetRankedThreats(ctx, reportMinScore)
	if err != nil {
		return fmt.Errorf("fetch ranked threats: %w", err)
	}
	events, err := a.store.GetRecentEvents(ctx, reportEventLimit)
	if err != nil {
		return fmt.Errorf("fetch recent events: %w", err)
	}

	w := cmd.OutOrStdout()

	if reportJSON {
		data, err := report.ExportJSON(threats, events, nowUTC())
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	printTerminalReport(w, threats, events)

	outputPath := reportOutput
	if outputPath == "" {
		outputPath = a.cfg.ReportPath
	}
	fingerprintJSON, _, found, err := a.store.GetFingerprint(ctx)
	if err != nil {
		return err
	}
	var fp *model.TopicFingerprint
	if found {
		var decoded model.TopicFingerprint
		if err := json.Unmarshal([]byte(fingerprintJSON), &decoded); err == nil {
			fp = &decoded
		}
	}
	written, err := report.GenerateMarkdown(threats, fp, events, outputPath)
	if err != nil {
		return fmt.Errorf("generate markdown report: %w", err)
	}
	fmt.Fprintf(w, "\n%swritten to %s%s\n", colorGray, written, colorReset)
	return nil
}

func printTerminalReport(w io.Writer, threats []model.AccountScore, events []model.AmplificationEvent) {
	fmt.Fprintf(w, "%s%sRanked Threats%s\n", colorBold, colorCyan, colorReset)
	fmt.Fprintf(w, "%s%s%s\n", colorGray, strings.Repeat("-", 40), colorReset)
	if len(threats) == 0 {
		fmt.Fprintf(w, "%sno accounts scored yet%s\n", colorYellow, colorReset)
	}
	for i, account := range threats {
		tierColor := colorGreen
		if account.ThreatTier != nil {
			switch *account.ThreatTier {
			case model.TierWatch:
				tierColor = colorYellow
			case model.TierElevated:
				tierColor = colorBlue
			case model.TierHigh:
				tierColor = colorRed
			}
		}
		fmt.Fprintf(w, "%d. %s@%s%s score=%.1f tier=%s%s%s\n",
			i+1, colorBold, account.Handle, colorReset, safeDeref(account.ThreatScore), tierColor, safeTier(account.ThreatTier), colorReset)
	}

	fmt.Fprintf(w, "\n%s%sRecent Amplification Events%s\n", colorBold, colorCyan, colorReset)
	fmt.Fprintf(w, "%s%s%s\n", colorGray, strings.Repeat("-", 40), colorReset)
	if len(events) == 0 {
		fmt.Fprintf(w, "%sno amplification events recorded yet%s\n", colorYellow, colorReset)
	}
	for _, e := range events {
		fmt.Fprintf(w, "%s %s @%s -> %s\n", e.DetectedAt.Format("2006-01-02 15:04"), e.EventType, e.AmplifierHandle, e.OriginalPostURI)
	}
}

func safeDeref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func safeTier(t *model.ThreatTier) model.ThreatTier {
	if t == nil {
		return "?"
	}
	return *t
}

func nowUTC() time.Time { return time.Now().UTC() }
