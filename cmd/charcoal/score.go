package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chaosgreml/charcoal/core/model"
)

var scoreCmd = &cobra.Command{
	Use:   "score <handle>",
	Short: "Score a single account on demand",
	Long:  `Run the full profile-building algorithm for one handle and display its score, ignoring staleness — scoring always runs even if a recent score exists.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runScore,
}

func init() {
	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	handle := strings.TrimPrefix(args[0], "@")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	dids, err := a.client.ResolveDIDs(ctx, []string{handle})
	if err != nil {
		return fmt.Errorf("resolve handle: %w", err)
	}
	did, ok := dids[handle]
	if !ok {
		return fmt.Errorf("could not resolve DID for %s", handle)
	}

	rc, err := a.loadScoringContext(ctx)
	if err != nil {
		return err
	}

	score, err := a.builder.Build(ctx, did, handle, rc)
	if err != nil {
		return fmt.Errorf("score account: %w", err)
	}

	printAccountScore(cmd.OutOrStdout(), score)
	return nil
}

func printAccountScore(w io.Writer, score *model.AccountScore) {
	fmt.Fprintf(w, "%s%s@%s%s\n", colorBold, colorCyan, score.Handle, colorReset)
	if score.ThreatScore == nil {
		fmt.Fprintf(w, "  %sno posts available to score%s\n", colorGray, colorReset)
		return
	}

	tierColor := colorGreen
	switch *score.ThreatTier {
	case model.TierWatch:
		tierColor = colorYellow
	case model.TierElevated:
		tierColor = colorBlue
	case model.TierHigh:
		tierColor = colorRed
	}

	fmt.Fprintf(w, "  score:     %s%.1f%s (%s%s%s)\n", colorBold, *score.ThreatScore, colorReset, tierColor, *score.ThreatTier, colorReset)
	fmt.Fprintf(w, "  toxicity:  %.3f\n", *score.ToxicityScore)
	fmt.Fprintf(w, "  overlap:   %.3f\n", *score.TopicOverlap)
	fmt.Fprintf(w, "  posts:     %d\n", score.PostsAnalyzed)
	if score.BehavioralSignals != nil {
		bs := score.BehavioralSignals
		fmt.Fprintf(w, "  behavior:  quote=%.2f reply=%.2f pile-on=%v boost=%.2f benign-gate=%v\n",
			bs.QuoteRatio, bs.ReplyRatio, bs.PileOn, bs.BehavioralBoost, bs.BenignGateApplied)
	}
	for _, post := range score.TopToxicPosts {
		fmt.Fprintf(w, "  %s[tox %.2f]%s %s\n", colorGray, post.Toxicity, colorReset, post.Text)
	}
}
