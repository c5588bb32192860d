package cli

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	recalculateCompany string
	aggregateDate      string
)

var recalculateCmd = &cobra.Command{
	Use:   "recalculate",
	Short: "Rebuild one company's risk profile now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Recalculate(cmd.Context(), recalculateCompany)
	},
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate-daily",
	Short: "Roll up one day of alerts now (defaults to yesterday)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		var date *time.Time
		if aggregateDate != "" {
			d, err := a.ParseDate(aggregateDate)
			if err != nil {
				return err
			}
			date = &d
		}
		return a.AggregateDaily(cmd.Context(), date)
	},
}

var groupStatusCmd = &cobra.Command{
	Use:   "group-status <group-id>",
	Short: "Show member outcomes of a dispatched batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().GroupStatus(cmd.Context(), args[0])
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context())
	},
}

func init() {
	recalculateCmd.Flags().StringVar(&recalculateCompany, "company", "", "Company name")
	aggregateCmd.Flags().StringVar(&aggregateDate, "date", "", "Day to roll up (YYYY-MM-DD)")
}
