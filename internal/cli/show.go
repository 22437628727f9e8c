package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mortgage-rate-alerts/internal/app"
)

var (
	showHistoryDays int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current rates and series statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showHistoryDays <= 0 {
			return fmt.Errorf("--history-days must be greater than zero")
		}

		opts := app.ShowOptions{
			HistoryDays: showHistoryDays,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showHistoryDays, "history-days", 364, "History window for the statistics")
}
