package cli

import (
	"github.com/spf13/cobra"

	"tao-supply-stats/internal/app"
)

var (
	repriceCSV     string
	repriceForce   bool
	repriceNoChart bool
)

var repriceCmd = &cobra.Command{
	Use:   "reprice",
	Short: "Attach historical prices to an existing dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.RepriceOptions{
			CSVPath: repriceCSV,
			Force:   repriceForce,
			Chart:   !repriceNoChart,
		}
		return getApp().Reprice(cmd.Context(), opts)
	},
}

func init() {
	repriceCmd.Flags().StringVar(&repriceCSV, "from-csv", "", "Dataset to reprice (defaults to the newest in output.dir)")
	repriceCmd.Flags().BoolVar(&repriceForce, "force", false, "Reprice even when historical prices are present")
	repriceCmd.Flags().BoolVar(&repriceNoChart, "no-chart", false, "Skip chart rendering")
}
