package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tao-supply-stats/internal/scheduler"
)

// Watch re-runs the pipeline on the configured schedule until interrupted.
func (a *App) Watch(ctx context.Context, opts RunOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := a.Config.Scheduler
	sched, err := scheduler.New(scheduler.Options{
		Interval:       cfg.Interval,
		Cron:           cfg.Cron,
		AlignToStart:   cfg.AlignToBucket,
		StartupDelay:   cfg.StartupDelay,
		RunImmediately: true,
	}, a.Logger)
	if err != nil {
		return err
	}

	a.Logger.Info().
		Dur("interval", cfg.Interval).
		Str("cron", cfg.Cron).
		Time("next_run", sched.Next(a.now().UTC())).
		Msg("watch started")

	err = sched.Run(ctx, func(ctx context.Context, at time.Time) error {
		result, err := a.runOnce(ctx, opts)
		if err != nil {
			return err
		}
		a.Logger.Info().
			Str("run_id", result.Report.RunID).
			Int("observations", len(result.Report.Observations)).
			Str("dataset", result.DatasetPath).
			Msg("scheduled run complete")
		return nil
	})
	if errors.Is(err, context.Canceled) {
		a.Logger.Info().Msg("watch stopped")
		return nil
	}
	return err
}
