package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tao-supply-stats/internal/app"
)

var (
	pricesFrom string
	pricesTo   string
)

var pricesCmd = &cobra.Command{
	Use:   "prices",
	Short: "Refresh and print the daily price cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts app.PricesOptions

		if pricesFrom != "" {
			from, err := time.Parse("2006-01-02", pricesFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if pricesTo != "" {
			to, err := time.Parse("2006-01-02", pricesTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		return getApp().Prices(cmd.Context(), opts)
	},
}

func init() {
	pricesCmd.Flags().StringVar(&pricesFrom, "from", "", "First day (YYYY-MM-DD, inclusive)")
	pricesCmd.Flags().StringVar(&pricesTo, "to", "", "Last day (YYYY-MM-DD, exclusive)")
}
