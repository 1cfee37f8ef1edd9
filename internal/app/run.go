package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"tao-supply-stats/internal/alerting"
	"tao-supply-stats/internal/normalize"
	"tao-supply-stats/internal/pipeline"
)

// RunResult lists what a run produced.
type RunResult struct {
	Report      *pipeline.Report
	DatasetPath string
	ChartPath   string
}

// Run executes one pipeline run, writes the outputs and prints the summary.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	result, err := a.runOnce(ctx, opts)
	if err != nil {
		return err
	}
	if len(result.Report.Observations) == 0 {
		fmt.Fprintln(os.Stdout, "no data fetched")
		return nil
	}

	s, err := Summarize(result.Report.Observations)
	if err != nil {
		return err
	}
	if err := WriteSummary(os.Stdout, s); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\nDataset: %s\n", result.DatasetPath)
	if result.ChartPath != "" {
		fmt.Fprintf(os.Stdout, "Chart: %s\n", result.ChartPath)
	}
	return nil
}

func (a *App) runOnce(ctx context.Context, opts RunOptions) (*RunResult, error) {
	sink, err := a.openSink(ctx)
	if err != nil {
		return nil, err
	}
	if sink != nil {
		defer sink.Close()
	}

	p, err := a.newPipeline(opts, sink)
	if err != nil {
		return nil, err
	}

	report, err := p.Run(ctx)
	if err != nil {
		return nil, err
	}

	result := &RunResult{Report: report}
	if len(report.Observations) > 0 {
		result.DatasetPath, result.ChartPath, err = a.writeOutputs(report.Observations, opts.Chart)
		if err != nil {
			return nil, err
		}
	}

	a.notify(ctx, alerting.Notification{
		RunID:        report.RunID,
		FinishedAt:   report.FinishedAt,
		FetchStatus:  report.FetchStatus.String(),
		Observations: len(report.Observations),
		Priced:       report.Priced,
		Latest:       latestOf(report.Observations),
		Degraded:     report.Degraded,
		DatasetPath:  result.DatasetPath,
		ChartPath:    result.ChartPath,
	})
	return result, nil
}

// writeOutputs writes the dataset and, when enabled, the chart. A chart failure
// is logged and leaves chartPath empty.
func (a *App) writeOutputs(observations []normalize.Observation, withChart bool) (datasetPath, chartPath string, err error) {
	stamp := a.now()
	datasetPath = filepath.Join(a.Config.Output.Dir, DatasetName(stamp))
	if err := WriteDataset(datasetPath, observations); err != nil {
		return "", "", fmt.Errorf("write dataset: %w", err)
	}
	a.Logger.Info().Str("path", datasetPath).Int("rows", len(observations)).Msg("dataset written")

	if !withChart || !a.Config.Output.Chart {
		return datasetPath, "", nil
	}

	chartPath = filepath.Join(a.Config.Output.Dir, ChartName(stamp))
	err = RenderChart(chartPath, observations, a.Config.Output.ChartWidth, a.Config.Output.ChartHeight)
	switch {
	case errors.Is(err, ErrTooFewPoints):
		a.Logger.Warn().Int("rows", len(observations)).Msg("chart skipped")
		return datasetPath, "", nil
	case err != nil:
		a.Logger.Error().Err(err).Msg("failed to render chart")
		return datasetPath, "", nil
	}
	a.Logger.Info().Str("path", chartPath).Msg("chart written")
	return datasetPath, chartPath, nil
}

func (a *App) notify(ctx context.Context, note alerting.Notification) {
	notifier := a.newNotifier()
	if notifier == nil {
		return
	}
	if err := notifier.Notify(ctx, note); err != nil {
		a.Logger.Error().Err(err).Str("run_id", note.RunID).Msg("failed to send run report")
	}
}

func latestOf(observations []normalize.Observation) *normalize.Observation {
	if len(observations) == 0 {
		return nil
	}
	latest := observations[len(observations)-1]
	return &latest
}
