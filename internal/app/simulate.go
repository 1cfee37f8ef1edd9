package app

import (
	"context"
	"errors"

	"tao-supply-stats/internal/alerting"
	"tao-supply-stats/internal/logging"
	"tao-supply-stats/internal/stats"
)

// SimulateReport sends a run report built from the newest dataset without fetching.
func (a *App) SimulateReport(ctx context.Context, opts DatasetOptions) error {
	if !a.Config.Alerting.Telegram.Enabled {
		return errors.New("alerting.telegram is not enabled")
	}
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no notifier configured")
	}

	path, err := a.datasetPath(opts.CSVPath)
	if err != nil {
		return err
	}
	observations, err := ReadDataset(path)
	if err != nil {
		return err
	}

	priced := 0
	for _, o := range observations {
		if o.USD != nil {
			priced++
		}
	}

	status := stats.StatusComplete
	if len(observations) == 0 {
		status = stats.StatusEmpty
	}

	return notifier.Notify(ctx, alerting.Notification{
		RunID:        logging.NewRunID(),
		FinishedAt:   a.now().UTC(),
		FetchStatus:  status.String(),
		Observations: len(observations),
		Priced:       priced,
		Latest:       latestOf(observations),
		Degraded:     []string{"simulated report"},
		DatasetPath:  path,
	})
}
