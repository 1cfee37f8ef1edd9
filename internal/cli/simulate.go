package cli

import (
	"github.com/spf13/cobra"

	"tao-supply-stats/internal/app"
)

var simulateCSV string

var simulateCmd = &cobra.Command{
	Use:   "simulate-report",
	Short: "Send a run report built from an existing dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateReport(cmd.Context(), app.DatasetOptions{CSVPath: simulateCSV})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateCSV, "csv", "", "Dataset file (defaults to the newest in output.dir)")
}
