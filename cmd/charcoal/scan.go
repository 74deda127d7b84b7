package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chaosgreml/charcoal/core/pipeline"
)

var (
	scanMaxFollowers int
	scanConcurrency  int
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Check for new amplification of the protected account and score amplifiers",
	Long: `Run one pass of the amplification pipeline: fetch the protected
account's posts since the last scan, look up quotes and reposts via
Constellation, record every new event, and score the followers of every
quoting account. Intended to run on a schedule (cron, systemd timer).`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().IntVar(&scanMaxFollowers, "max-followers", 0, "override CHARCOAL_MAX_FOLLOWERS for this run")
	scanCmd.Flags().IntVar(&scanConcurrency, "concurrency", 0, "override CHARCOAL_CONCURRENCY for this run")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.buildPipeline(ctx, scanMaxFollowers, scanConcurrency)
	if err != nil {
		return err
	}

	result, err := p.RunAmplification(ctx)
	if err != nil {
		return fmt.Errorf("run amplification scan: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s%sscan complete%s — %d new events, %d followers queued, %d accounts scored\n",
		colorBold, colorGreen, colorReset, result.NewEvents, result.FollowersQueued, result.AccountsScored)
	return nil
}

// buildPipeline resolves the protected account's DID and the persisted
// scoring context, then assembles a pipeline.Pipeline shared by scan
// and sweep — both need the same dependency bundle, just a different
// entry point.
func (a *app) buildPipeline(ctx context.Context, maxFollowersOverride, concurrencyOverride int) (*pipeline.Pipeline, error) {
	if a.cfg.BlueskyHandle == "" {
		return nil, fmt.Errorf("BLUESKY_HANDLE is required")
	}

	dids, err := a.client.ResolveDIDs(ctx, []string{a.cfg.BlueskyHandle})
	if err != nil {
		return nil, fmt.Errorf("resolve protected handle: %w", err)
	}
	protectedDID, ok := dids[a.cfg.BlueskyHandle]
	if !ok {
		return nil, fmt.Errorf("could not resolve DID for %s", a.cfg.BlueskyHandle)
	}

	rc, err := a.loadScoringContext(ctx)
	if err != nil {
		return nil, err
	}

	maxFollowers := a.cfg.MaxFollowers
	if maxFollowersOverride > 0 {
		maxFollowers = maxFollowersOverride
	}
	concurrency := a.cfg.Concurrency
	if concurrencyOverride > 0 {
		concurrency = concurrencyOverride
	}

	return &pipeline.Pipeline{
		Client:            a.client,
		ProfileBuilder:    a.builder,
		Store:             a.store,
		ProtectedDID:      protectedDID,
		ProtectedHandle:   a.cfg.BlueskyHandle,
		Fingerprint:       rc.Fingerprint,
		ProtectedCentroid: rc.ProtectedCentroid,
		Concurrency:       concurrency,
		MaxFollowers:      maxFollowers,
		StalenessDays:     int64(a.cfg.StalenessDays),
		Logger:            a.logger,
	}, nil
}
