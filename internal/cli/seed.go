package cli

import (
	"github.com/spf13/cobra"

	"market-risk-alerts/internal/app"
)

var seedOpts app.SeedOptions

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert synthetic alerts for local testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Seed(cmd.Context(), seedOpts)
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedOpts.Count, "count", 1000, "Number of alerts to generate")
	seedCmd.Flags().IntVar(&seedOpts.Companies, "companies", 20, "Number of distinct companies")
	seedCmd.Flags().IntVar(&seedOpts.Days, "days", 30, "Spread detection times over this many past days")
	seedCmd.Flags().IntVar(&seedOpts.BatchSize, "batch-size", 500, "Rows per insert batch")
	seedCmd.Flags().Int64Var(&seedOpts.Seed, "seed", 0, "Random seed (0 uses the clock)")
	seedCmd.Flags().BoolVar(&seedOpts.Dispatch, "dispatch", false, "Dispatch the generated alerts for processing")
}
