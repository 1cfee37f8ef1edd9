package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tao-supply-stats/internal/logging"
	"tao-supply-stats/internal/normalize"
	"tao-supply-stats/internal/price"
	"tao-supply-stats/internal/pricecache"
	"tao-supply-stats/internal/stats"
	"tao-supply-stats/internal/storage"
)

// StatsFetcher retrieves the raw supply history.
type StatsFetcher interface {
	FetchAll(ctx context.Context, frequency string, pageSize int) (stats.FetchResult, error)
}

// PriceCache supplies daily prices for a date span.
type PriceCache interface {
	GetOrFetch(ctx context.Context, start, end time.Time) (price.Series, pricecache.Outcome, error)
}

// Normalizer turns raw records into observations.
type Normalizer interface {
	Normalize(records []stats.RawRecord, prices price.Series) ([]normalize.Observation, error)
}

// Options tune a pipeline run.
type Options struct {
	Frequency string
	PageSize  int
	// WithUSD enables price enrichment.
	WithUSD bool
}

// Report summarises one run. Observations are sorted by timestamp.
type Report struct {
	RunID        string
	StartedAt    time.Time
	FinishedAt   time.Time
	FetchStatus  stats.Status
	Pages        int
	TotalPages   int
	Records      int
	PriceOutcome pricecache.Outcome
	PriceRows    int
	Priced       int
	Observations []normalize.Observation
	// Degraded collects non-fatal problems met during the run.
	Degraded []string
}

// Latest returns the newest observation.
func (r *Report) Latest() (normalize.Observation, bool) {
	if r == nil || len(r.Observations) == 0 {
		return normalize.Observation{}, false
	}
	return r.Observations[len(r.Observations)-1], true
}

// Pipeline composes fetcher, price cache and normalizer.
type Pipeline struct {
	opts       Options
	fetcher    StatsFetcher
	cache      PriceCache
	normalizer Normalizer
	sink       storage.Sink
	logger     zerolog.Logger
	now        func() time.Time
}

// New constructs a pipeline. cache may be nil when USD enrichment is off; sink may be nil.
func New(opts Options, fetcher StatsFetcher, cache PriceCache, normalizer Normalizer, sink storage.Sink, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		opts:       opts,
		fetcher:    fetcher,
		cache:      cache,
		normalizer: normalizer,
		sink:       sink,
		logger:     logger.With().Str("component", "pipeline").Logger(),
		now:        time.Now,
	}
}

// Run executes one batch acquisition. Only hard failures are returned as
// errors; partial fetches and missing prices degrade the report instead.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:     logging.NewRunID(),
		StartedAt: p.now().UTC(),
	}
	logger := logging.WithRun(p.logger, report.RunID)
	logger.Info().Bool("usd", p.opts.WithUSD).Msg("pipeline run started")

	fetched, err := p.fetcher.FetchAll(ctx, p.opts.Frequency, p.opts.PageSize)
	if err != nil {
		return nil, fmt.Errorf("fetch stats: %w", err)
	}
	report.FetchStatus = fetched.Status
	report.Pages = fetched.Pages
	report.TotalPages = fetched.TotalPages
	report.Records = len(fetched.Records)

	switch fetched.Status {
	case stats.StatusPartial:
		report.Degraded = append(report.Degraded, fmt.Sprintf("partial history: %v", fetched.LastErr))
	case stats.StatusEmpty:
		if fetched.LastErr != nil {
			report.Degraded = append(report.Degraded, fmt.Sprintf("no history: %v", fetched.LastErr))
		}
		logger.Warn().Msg("no supply records fetched")
		report.FinishedAt = p.now().UTC()
		return report, nil
	}

	var prices price.Series
	if p.opts.WithUSD {
		prices = p.prices(ctx, logger, fetched.Records, report)
	}

	observations, err := p.normalizer.Normalize(fetched.Records, prices)
	if err != nil {
		return nil, fmt.Errorf("normalize records: %w", err)
	}
	report.Observations = observations
	for _, o := range observations {
		if o.USD != nil {
			report.Priced++
		}
	}
	if p.opts.WithUSD && report.Priced < len(observations) {
		report.Degraded = append(report.Degraded, fmt.Sprintf("%d observations without price", len(observations)-report.Priced))
	}

	p.persist(ctx, logger, report, prices)

	report.FinishedAt = p.now().UTC()
	logger.Info().
		Str("fetch_status", report.FetchStatus.String()).
		Int("observations", len(observations)).
		Int("priced", report.Priced).
		Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).
		Msg("pipeline run finished")
	return report, nil
}

func (p *Pipeline) prices(ctx context.Context, logger zerolog.Logger, records []stats.RawRecord, report *Report) price.Series {
	if p.cache == nil {
		report.Degraded = append(report.Degraded, "price cache not configured")
		return price.Series{}
	}

	start, end, ok := Span(records)
	if !ok {
		return price.Series{}
	}

	series, outcome, err := p.cache.GetOrFetch(ctx, start, end)
	report.PriceOutcome = outcome
	if err != nil {
		logger.Warn().Err(err).Msg("price cache degraded")
		report.Degraded = append(report.Degraded, fmt.Sprintf("price cache: %v", err))
	}
	if series == nil {
		series = price.Series{}
	}
	report.PriceRows = len(series)

	first, last, _ := series.Span()
	logger.Info().
		Str("outcome", outcome.String()).
		Int("rows", len(series)).
		Str("first", first.String()).
		Str("last", last.String()).
		Msg("prices ready")

	return series.Clone()
}

func (p *Pipeline) persist(ctx context.Context, logger zerolog.Logger, report *Report, prices price.Series) {
	if p.sink == nil {
		return
	}
	if err := p.sink.UpsertObservations(ctx, report.RunID, report.Observations); err != nil {
		logger.Error().Err(err).Msg("failed to persist observations")
		report.Degraded = append(report.Degraded, fmt.Sprintf("observation sink: %v", err))
	}
	if len(prices) > 0 {
		if err := p.sink.UpsertPrices(ctx, prices); err != nil {
			logger.Error().Err(err).Msg("failed to persist prices")
			report.Degraded = append(report.Degraded, fmt.Sprintf("price sink: %v", err))
		}
	}
}

// Span returns the price window covering the records: midnight of the first
// day through midnight after the last day. Unparseable timestamps are skipped.
func Span(records []stats.RawRecord) (start, end time.Time, ok bool) {
	for _, rec := range records {
		ts, err := normalize.ParseTimestamp(rec.Timestamp)
		if err != nil {
			continue
		}
		if !ok || ts.Before(start) {
			start = ts
		}
		if !ok || ts.After(end) {
			end = ts
		}
		ok = true
	}
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return price.DateOf(start).Time(), price.DateOf(end).Time().Add(24 * time.Hour), true
}
