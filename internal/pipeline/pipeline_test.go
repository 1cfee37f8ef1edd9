package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tao-supply-stats/internal/normalize"
	"tao-supply-stats/internal/price"
	"tao-supply-stats/internal/pricecache"
	"tao-supply-stats/internal/stats"
	"tao-supply-stats/internal/storage"
)

type fakeFetcher struct {
	result stats.FetchResult
	err    error
}

func (f *fakeFetcher) FetchAll(context.Context, string, int) (stats.FetchResult, error) {
	return f.result, f.err
}

type fakeCache struct {
	series     price.Series
	err        error
	start, end time.Time
	calls      int
}

func (f *fakeCache) GetOrFetch(_ context.Context, start, end time.Time) (price.Series, pricecache.Outcome, error) {
	f.calls++
	f.start, f.end = start, end
	return f.series, pricecache.OutcomeFetched, f.err
}

type fakeSink struct {
	runID        string
	observations []normalize.Observation
	prices       price.Series
	obsErr       error
}

func (f *fakeSink) UpsertObservations(_ context.Context, runID string, obs []normalize.Observation) error {
	f.runID = runID
	f.observations = obs
	return f.obsErr
}

func (f *fakeSink) ListObservationsBetween(context.Context, time.Time, time.Time) ([]storage.ObservationRecord, error) {
	return nil, nil
}

func (f *fakeSink) CountObservations(context.Context) (int64, error) {
	return int64(len(f.observations)), nil
}

func (f *fakeSink) UpsertPrices(_ context.Context, s price.Series) error {
	f.prices = s
	return nil
}

func (f *fakeSink) LoadPrices(context.Context) (price.Series, error) { return f.prices, nil }

func (f *fakeSink) Close() {}

func records() []stats.RawRecord {
	return []stats.RawRecord{
		{Timestamp: "2024-01-05T00:00:00Z", BlockNumber: 3, Issued: "3000000000", Staked: "1000000000"},
		{Timestamp: "2024-01-01T00:00:00Z", BlockNumber: 1, Issued: "1000000000", Staked: "500000000"},
		{Timestamp: "2024-01-03T12:00:00Z", BlockNumber: 2, Issued: "2000000000", Staked: "1000000000"},
	}
}

func newPipeline(opts Options, f StatsFetcher, c PriceCache, sink storage.Sink) *Pipeline {
	return New(opts, f, c, normalize.New(normalize.Options{}, zerolog.Nop()), sink, zerolog.Nop())
}

func TestRunWithPrices(t *testing.T) {
	fetcher := &fakeFetcher{result: stats.FetchResult{Records: records(), Status: stats.StatusComplete, Pages: 1, TotalPages: 1}}
	cache := &fakeCache{series: price.Series{
		"2024-01-01": decimal.NewFromInt(100),
		"2024-01-04": decimal.NewFromInt(120),
	}}
	sink := &fakeSink{}

	report, err := newPipeline(Options{WithUSD: true}, fetcher, cache, sink).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Observations, 3)
	assert.Equal(t, int64(1), report.Observations[0].BlockNumber)
	assert.Equal(t, int64(3), report.Observations[2].BlockNumber)
	assert.Equal(t, 3, report.Priced)
	assert.Empty(t, report.Degraded)

	assert.True(t, report.Observations[1].USD.PriceUSD.Equal(decimal.NewFromInt(120)), "gap day takes the next later price")
	assert.True(t, report.Observations[2].USD.PriceUSD.Equal(decimal.NewFromInt(120)), "day after range takes the last price")

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), cache.start)
	assert.Equal(t, time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC), cache.end)

	assert.Equal(t, report.RunID, sink.runID)
	assert.Len(t, sink.observations, 3)
	assert.Len(t, sink.prices, 2)

	latest, ok := report.Latest()
	require.True(t, ok)
	assert.Equal(t, int64(3), latest.BlockNumber)
}

func TestRunWithoutUSDSkipsCache(t *testing.T) {
	fetcher := &fakeFetcher{result: stats.FetchResult{Records: records(), Status: stats.StatusComplete}}
	cache := &fakeCache{}

	report, err := newPipeline(Options{}, fetcher, cache, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, cache.calls)
	for _, o := range report.Observations {
		assert.Nil(t, o.USD)
	}
}

func TestRunPartialFetchIsDegraded(t *testing.T) {
	fetcher := &fakeFetcher{result: stats.FetchResult{
		Records: records()[:1],
		Status:  stats.StatusPartial,
		LastErr: stats.ErrRetriesExhausted,
	}}

	report, err := newPipeline(Options{WithUSD: true}, fetcher, &fakeCache{series: price.Series{}}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stats.StatusPartial, report.FetchStatus)
	assert.Len(t, report.Observations, 1)
	assert.Nil(t, report.Observations[0].USD, "empty price map leaves usd absent")
	assert.Len(t, report.Degraded, 2)
}

func TestRunCacheErrorKeepsSeries(t *testing.T) {
	fetcher := &fakeFetcher{result: stats.FetchResult{Records: records(), Status: stats.StatusComplete}}
	cache := &fakeCache{series: price.Series{"2024-01-01": decimal.NewFromInt(100)}, err: errors.New("disk full")}

	report, err := newPipeline(Options{WithUSD: true}, fetcher, cache, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Priced)
	assert.NotEmpty(t, report.Degraded)
}

func TestRunHardFetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{err: stats.ErrUnauthorized}
	_, err := newPipeline(Options{}, fetcher, nil, nil).Run(context.Background())
	assert.ErrorIs(t, err, stats.ErrUnauthorized)
}

func TestRunMalformedRecord(t *testing.T) {
	fetcher := &fakeFetcher{result: stats.FetchResult{
		Records: []stats.RawRecord{{Timestamp: "yesterday", Issued: "1", Staked: "0"}},
		Status:  stats.StatusComplete,
	}}
	_, err := newPipeline(Options{}, fetcher, nil, nil).Run(context.Background())
	assert.ErrorIs(t, err, stats.ErrMalformedResponse)
}

func TestRunEmptyHistory(t *testing.T) {
	fetcher := &fakeFetcher{result: stats.FetchResult{Status: stats.StatusEmpty}}
	sink := &fakeSink{}

	report, err := newPipeline(Options{WithUSD: true}, fetcher, &fakeCache{}, sink).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Observations)
	assert.Nil(t, sink.observations)
	_, ok := report.Latest()
	assert.False(t, ok)
}

func TestRunSinkFailureIsNotFatal(t *testing.T) {
	fetcher := &fakeFetcher{result: stats.FetchResult{Records: records(), Status: stats.StatusComplete}}
	sink := &fakeSink{obsErr: errors.New("db down")}

	report, err := newPipeline(Options{}, fetcher, nil, sink).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Observations, 3)
	assert.Len(t, report.Degraded, 1)
}
