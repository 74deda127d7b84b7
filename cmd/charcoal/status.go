package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/chaosgreml/charcoal/core/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database, fingerprint, and scan-state health",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	w := cmd.OutOrStdout()

	backend := "sqlite (" + a.cfg.DBPath + ")"
	if a.cfg.UsesNetworkedBackend() {
		backend = "postgres (" + a.cfg.RedactedDatabaseURL() + ")"
	}

	count, err := a.store.TableCount(ctx)
	if err != nil {
		return fmt.Errorf("count tables: %w", err)
	}
	fmt.Fprintf(w, "%s%sbackend:%s    %s (%d tables)\n", colorBold, colorGray, colorReset, backend, count)

	if checker, ok := a.store.(storage.IntegrityChecker); ok {
		if err := checker.IntegrityCheck(ctx); err != nil {
			fmt.Fprintf(w, "%sintegrity:%s   %s%v%s\n", colorGray, colorReset, colorRed, err, colorReset)
		} else {
			fmt.Fprintf(w, "%sintegrity:%s   ok\n", colorGray, colorReset)
		}
	}

	_, postCount, found, err := a.store.GetFingerprint(ctx)
	if err != nil {
		return fmt.Errorf("fetch fingerprint: %w", err)
	}
	if found {
		fmt.Fprintf(w, "%sfingerprint:%s built from %d posts\n", colorGray, colorReset, postCount)
	} else {
		fmt.Fprintf(w, "%sfingerprint:%s %snot built — run 'charcoal fingerprint'%s\n", colorGray, colorReset, colorYellow, colorReset)
	}

	if _, found, err := a.store.GetEmbedding(ctx); err == nil {
		if found {
			fmt.Fprintf(w, "%scentroid:%s    present\n", colorGray, colorReset)
		} else {
			fmt.Fprintf(w, "%scentroid:%s    %sabsent%s\n", colorGray, colorReset, colorYellow, colorReset)
		}
	}

	if a.embed.ModelPresent() {
		fmt.Fprintf(w, "%sembedding model:%s present\n", colorGray, colorReset)
	} else {
		fmt.Fprintf(w, "%sembedding model:%s %sabsent — run 'charcoal download-model'%s\n", colorGray, colorReset, colorYellow, colorReset)
	}
	if a.tox.ModelPresent() {
		fmt.Fprintf(w, "%stoxicity model:%s  present\n", colorGray, colorReset)
	} else {
		fmt.Fprintf(w, "%stoxicity model:%s  %sabsent — run 'charcoal download-model'%s\n", colorGray, colorReset, colorYellow, colorReset)
	}

	state, err := a.store.GetAllScanState(ctx)
	if err != nil {
		return fmt.Errorf("fetch scan state: %w", err)
	}
	if len(state) == 0 {
		fmt.Fprintf(w, "%sscan state:%s  none recorded yet\n", colorGray, colorReset)
	} else {
		keys := make([]string, 0, len(state))
		for k := range state {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(w, "%sscan state:%s\n", colorGray, colorReset)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s = %s\n", k, state[k])
		}
	}

	threats, err := a.store.GetRankedThreats(ctx, 0)
	if err != nil {
		return fmt.Errorf("fetch ranked threats: %w", err)
	}
	fmt.Fprintf(w, "%sscored accounts:%s %d\n", colorGray, colorReset, len(threats))
	return nil
}
