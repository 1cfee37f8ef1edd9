package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints observations stored in the database sink for the last N days.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	sink, err := a.openSink(ctx)
	if err != nil {
		return err
	}
	if sink == nil {
		return errors.New("database not configured; cannot show observations")
	}
	defer sink.Close()

	days := opts.Days
	if days <= 0 {
		days = 7
	}
	to := a.now().UTC()
	from := to.AddDate(0, 0, -days)

	records, err := sink.ListObservationsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no observations found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tBlock\tIssued\tStaked\tStaked%\tPrice\tAccounts\tRun")

	for _, rec := range records {
		priceCell := "-"
		if rec.USD != nil {
			priceCell = formatDecimal(rec.USD.PriceUSD, 2)
		}
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			rec.Timestamp.UTC().Format(time.RFC3339),
			rec.BlockNumber,
			formatDecimal(rec.IssuedTAO, 2),
			formatDecimal(rec.StakedTAO, 2),
			formatDecimal(rec.StakedPercentage, 3),
			priceCell,
			rec.Accounts,
			rec.RunID,
		)
	}

	return writer.Flush()
}
