package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	validatepkg "github.com/chaosgreml/charcoal/core/validate"
)

var validateCount int

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check scoring accuracy against the protected account's own blocks",
	Long: `Authenticate to the protected account's PDS with BLUESKY_APP_PASSWORD,
fetch its most recently blocked accounts, score each one, and report
the fraction Charcoal's own pipeline would have flagged at Watch tier
or above. A sanity check, not a scoring input.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().IntVar(&validateCount, "count", 10, "number of most recent blocks to check")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.BlueskyHandle == "" || a.cfg.BlueskyAppPassword == "" {
		return fmt.Errorf("BLUESKY_HANDLE and BLUESKY_APP_PASSWORD are both required for validate")
	}

	dids, err := a.client.ResolveDIDs(ctx, []string{a.cfg.BlueskyHandle})
	if err != nil {
		return fmt.Errorf("resolve protected handle: %w", err)
	}
	protectedDID, ok := dids[a.cfg.BlueskyHandle]
	if !ok {
		return fmt.Errorf("could not resolve DID for %s", a.cfg.BlueskyHandle)
	}

	pdsURL, err := a.client.ResolvePDSURL(ctx, protectedDID)
	if err != nil {
		return fmt.Errorf("resolve PDS endpoint: %w", err)
	}

	session, err := a.client.CreateSession(ctx, pdsURL, a.cfg.BlueskyHandle, a.cfg.BlueskyAppPassword)
	if err != nil {
		return fmt.Errorf("authenticate to PDS: %w", err)
	}

	rc, err := a.loadScoringContext(ctx)
	if err != nil {
		return err
	}

	runner := &validatepkg.Runner{
		Client:         a.client,
		ProfileBuilder: a.builder,
		Store:          a.store,
		Logger:         a.logger,
	}
	summary, err := runner.Run(ctx, session, rc, validateCount)
	if err != nil {
		return fmt.Errorf("run validation: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s%svalidation complete%s — %d/%d blocked accounts detected (%.1f%%)\n",
		colorBold, colorGreen, colorReset, summary.DetectedCount, summary.TotalChecked, summary.DetectionRate*100)
	for _, r := range summary.Results {
		mark := fmt.Sprintf("%s✗%s", colorRed, colorReset)
		if r.Detected {
			mark = fmt.Sprintf("%s✓%s", colorGreen, colorReset)
		}
		fmt.Fprintf(w, "  %s @%s\n", mark, r.Handle)
	}
	return nil
}
