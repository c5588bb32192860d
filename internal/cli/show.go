package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"market-risk-alerts/internal/app"
)

var (
	showLimit int
)

var showCmd = &cobra.Command{
	Use:       "show <companies|trends|dashboard|dead-letters>",
	Short:     "Display a cached report view",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{app.ViewCompanies, app.ViewTrends, app.ViewDashboard, app.ViewDeadLetters},
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			View:  args[0],
			Limit: showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of dead letters to display")
}
