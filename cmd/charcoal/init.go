package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create and migrate the Charcoal database",
	Long: `Create the configured database (SQLite by default, Postgres if
DATABASE_URL is set) and apply all pending migrations. Safe to run
repeatedly; migrations already applied are skipped.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	count, err := a.store.TableCount(ctx)
	if err != nil {
		return fmt.Errorf("count tables: %w", err)
	}

	w := cmd.OutOrStdout()
	if a.cfg.UsesNetworkedBackend() {
		fmt.Fprintf(w, "%s%sdatabase ready%s — postgres (%s), %d tables\n",
			colorBold, colorGreen, colorReset, a.cfg.RedactedDatabaseURL(), count)
	} else {
		fmt.Fprintf(w, "%s%sdatabase ready%s — sqlite (%s), %d tables\n",
			colorBold, colorGreen, colorReset, a.cfg.DBPath, count)
	}
	return nil
}
