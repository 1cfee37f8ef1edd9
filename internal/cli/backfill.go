package cli

import (
	"github.com/spf13/cobra"

	"tao-supply-stats/internal/app"
)

var (
	backfillCSV    string
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Load a dataset file and cached prices into the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.BackfillOptions{
			CSVPath: backfillCSV,
			DryRun:  backfillDryRun,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillCSV, "from-csv", "", "Dataset to load (defaults to the newest in output.dir)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Run without writing to storage")
}
