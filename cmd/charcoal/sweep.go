package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	sweepMaxFollowers int
	sweepConcurrency  int
	sweepDepth        int
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Proactively walk and score the protected account's second-degree network",
	Long: `Fetch the protected account's followers and each of their followers,
deduplicate against the first-degree set, and score every survivor.
Heavier than scan; intended to run far less often (e.g. weekly).`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().IntVar(&sweepMaxFollowers, "max-followers", 0, "override CHARCOAL_MAX_FOLLOWERS for this run")
	sweepCmd.Flags().IntVar(&sweepConcurrency, "concurrency", 0, "override CHARCOAL_CONCURRENCY for this run")
	sweepCmd.Flags().IntVar(&sweepDepth, "depth", 0, "max second-degree followers fetched per first-degree account (default: CHARCOAL_SWEEP_DEPTH config)")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.buildPipeline(ctx, sweepMaxFollowers, sweepConcurrency)
	if err != nil {
		return err
	}

	depth := a.cfg.SweepDepth
	if sweepDepth > 0 {
		depth = sweepDepth
	}

	result, err := p.RunSweep(ctx, depth)
	if err != nil {
		return fmt.Errorf("run network sweep: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s%ssweep complete%s — %d first-degree, %d second-degree candidates, %d accounts scored\n",
		colorBold, colorGreen, colorReset, result.FirstDegreeCount, result.SecondDegreeCount, result.AccountsScored)
	return nil
}
