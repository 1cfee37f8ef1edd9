package cli

import (
	"github.com/spf13/cobra"

	"tao-supply-stats/internal/app"
)

var summaryCSV string

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print summary statistics of a dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Summary(cmd.Context(), app.DatasetOptions{CSVPath: summaryCSV})
	},
}

func init() {
	summaryCmd.Flags().StringVar(&summaryCSV, "csv", "", "Dataset file (defaults to the newest in output.dir)")
}
