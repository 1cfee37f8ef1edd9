package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"tao-supply-stats/internal/normalize"
	"tao-supply-stats/internal/price"
)

// staticPriceLimit is the distinct-price count at or below which a dataset is
// treated as statically priced.
const staticPriceLimit = 5

// NeedsRepricing reports whether a dataset lacks prices or carries too few
// distinct prices to be historical.
func NeedsRepricing(observations []normalize.Observation) bool {
	distinct := make(map[string]struct{})
	for _, o := range observations {
		if o.USD == nil {
			return true
		}
		distinct[o.USD.PriceUSD.String()] = struct{}{}
	}
	return len(distinct) <= staticPriceLimit
}

// Reprice attaches cached historical prices to an existing dataset and writes
// a new dataset file.
func (a *App) Reprice(ctx context.Context, opts RepriceOptions) error {
	path, err := a.datasetPath(opts.CSVPath)
	if err != nil {
		return err
	}
	observations, err := ReadDataset(path)
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		return fmt.Errorf("%s: %w", path, ErrNoObservations)
	}

	logger := a.Logger.With().Str("dataset", path).Logger()
	if !opts.Force && !NeedsRepricing(observations) {
		logger.Info().Int("rows", len(observations)).Msg("dataset already has historical prices")
		return nil
	}

	start := price.DateOf(observations[0].Timestamp).Time()
	end := price.DateOf(observations[len(observations)-1].Timestamp).Time().Add(24 * time.Hour)

	series, outcome, err := a.newCache().GetOrFetch(ctx, start, end)
	if err != nil {
		logger.Warn().Err(err).Msg("price cache degraded")
	}
	logger.Info().Str("outcome", outcome.String()).Int("rows", len(series)).Msg("prices ready")

	priced := ApplyPrices(observations, series)
	if priced == 0 {
		logger.Warn().Msg("no prices available, dataset left without USD metrics")
	}

	datasetPath, chartPath, err := a.writeOutputs(observations, opts.Chart)
	if err != nil {
		return err
	}

	logger.Info().Int("priced", priced).Int("rows", len(observations)).Msg("dataset repriced")
	fmt.Fprintf(os.Stdout, "Repriced %d of %d rows\nDataset: %s\n", priced, len(observations), datasetPath)
	if chartPath != "" {
		fmt.Fprintf(os.Stdout, "Chart: %s\n", chartPath)
	}
	return nil
}

// ApplyPrices replaces USD metrics in place using the nearest-date rule and
// returns the number of priced observations.
func ApplyPrices(observations []normalize.Observation, series price.Series) int {
	resolver := price.NewResolver(series)
	priced := 0
	for i := range observations {
		p, ok := resolver.Resolve(observations[i].Date())
		if !ok {
			observations[i].USD = nil
			continue
		}
		observations[i].USD = normalize.NewUSDMetrics(observations[i], p)
		priced++
	}
	return priced
}
