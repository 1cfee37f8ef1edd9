package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"tao-supply-stats/internal/app"
)

var (
	showDays int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display observations stored in the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showDays <= 0 {
			return fmt.Errorf("--days must be greater than zero")
		}

		opts := app.ShowOptions{
			Days: showDays,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showDays, "days", 7, "Number of days to display")
}
