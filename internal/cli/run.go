package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"tao-supply-stats/internal/app"
)

var (
	runNoUSD     bool
	runNoChart   bool
	runFrequency string
	runPageSize  int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch the supply history, attach prices and write the dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := runOptions()
		if err != nil {
			return err
		}
		return getApp().Run(cmd.Context(), opts)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-run the pipeline on the configured schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := runOptions()
		if err != nil {
			return err
		}
		return getApp().Watch(cmd.Context(), opts)
	},
}

func runOptions() (app.RunOptions, error) {
	if runPageSize < 0 {
		return app.RunOptions{}, fmt.Errorf("--page-size cannot be negative")
	}
	return app.RunOptions{
		WithUSD:   !runNoUSD,
		Frequency: runFrequency,
		PageSize:  runPageSize,
		Chart:     !runNoChart,
	}, nil
}

func init() {
	for _, cmd := range []*cobra.Command{runCmd, watchCmd} {
		cmd.Flags().BoolVar(&runNoUSD, "no-usd", false, "Skip price enrichment")
		cmd.Flags().BoolVar(&runNoChart, "no-chart", false, "Skip chart rendering")
		cmd.Flags().StringVar(&runFrequency, "frequency", "", "Sampling frequency (defaults to config)")
		cmd.Flags().IntVar(&runPageSize, "page-size", 0, "Records per page (defaults to config)")
	}
}
