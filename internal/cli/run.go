package cli

import (
	"github.com/spf13/cobra"

	"market-risk-alerts/internal/app"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the task workers and the daily scheduler in one process",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{Worker: true, Beat: true})
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume and execute queued tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{Worker: true})
	},
}

var beatCmd = &cobra.Command{
	Use:   "beat",
	Short: "Enqueue the daily rollup at the configured time",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{Beat: true})
	},
}
