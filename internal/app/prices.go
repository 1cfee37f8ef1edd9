package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"tao-supply-stats/internal/price"
)

// Prices refreshes the price cache for a window and prints it.
func (a *App) Prices(ctx context.Context, opts PricesOptions) error {
	to := a.now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from, _ := a.Config.HistoryStart()
	if from.IsZero() {
		from = price.DefaultHistoryStart
	}
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return fmt.Errorf("invalid range: from %s is not before to %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	}

	series, outcome, err := a.newCache().GetOrFetch(ctx, from, to)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("price cache degraded")
	}
	a.Logger.Info().Str("outcome", outcome.String()).Int("rows", len(series)).Msg("prices ready")

	if len(series) == 0 {
		fmt.Fprintln(os.Stdout, "no prices available")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tPrice (USD)")
	for _, d := range series.Dates() {
		if d.Time().Before(price.DateOf(from).Time()) || !d.Time().Before(to) {
			continue
		}
		fmt.Fprintf(writer, "%s\t%s\n", d, formatDecimal(series[d], 2))
	}
	return writer.Flush()
}

