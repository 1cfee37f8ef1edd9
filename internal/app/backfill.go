package app

import (
	"context"
	"errors"
	"fmt"

	"tao-supply-stats/internal/logging"
)

// Backfill loads a dataset file and the cached prices into the database sink.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	path, err := a.datasetPath(opts.CSVPath)
	if err != nil {
		return err
	}
	observations, err := ReadDataset(path)
	if err != nil {
		return err
	}

	series, snapshot, err := a.newCache().Load()
	if err != nil {
		a.Logger.Warn().Err(err).Msg("no cached prices to backfill")
	}

	runID := logging.NewRunID()
	logger := logging.WithRun(a.Logger, runID).With().Str("dataset", path).Logger()

	if opts.DryRun {
		logger.Warn().
			Int("observations", len(observations)).
			Int("prices", len(series)).
			Str("snapshot", snapshot.Path).
			Msg("backfill dry-run: nothing written")
		return nil
	}

	sink, err := a.openSink(ctx)
	if err != nil {
		return err
	}
	if sink == nil {
		return errors.New("database.driver not configured; cannot backfill")
	}
	defer sink.Close()

	if err := sink.UpsertObservations(ctx, runID, observations); err != nil {
		return fmt.Errorf("backfill observations: %w", err)
	}
	if len(series) > 0 {
		if err := sink.UpsertPrices(ctx, series); err != nil {
			return fmt.Errorf("backfill prices: %w", err)
		}
	}

	total, err := sink.CountObservations(ctx)
	if err != nil {
		return err
	}
	logger.Info().
		Int("observations", len(observations)).
		Int("prices", len(series)).
		Int64("stored", total).
		Msg("backfill complete")
	return nil
}
