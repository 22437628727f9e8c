package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mortgage-rate-alerts/internal/app"
)

var (
	purgeBefore string
	purgeDryRun bool
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete observations older than a cutoff (administrative reset)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if purgeBefore == "" {
			return fmt.Errorf("--before must be provided")
		}

		before, err := time.Parse(time.RFC3339, purgeBefore)
		if err != nil {
			return fmt.Errorf("invalid --before value: %w", err)
		}

		opts := app.PurgeOptions{
			Before: before,
			DryRun: purgeDryRun,
		}

		return getApp().Purge(cmd.Context(), opts)
	},
}

func init() {
	purgeCmd.Flags().StringVar(&purgeBefore, "before", "", "Delete observations dated before this timestamp (RFC3339)")
	purgeCmd.Flags().BoolVar(&purgeDryRun, "dry-run", false, "Report what would be deleted without deleting")
}
