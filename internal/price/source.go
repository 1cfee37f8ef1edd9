package price

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultHistoryStart is the first day of the supply dataset.
var DefaultHistoryStart = time.Date(2023, time.March, 20, 0, 0, 0, 0, time.UTC)

// FallbackUSD is used when the feed cannot report a current price.
var FallbackUSD = decimal.NewFromInt(500)

// Feed is a raw market-data feed. Implementations may fail.
type Feed interface {
	LatestClose(ctx context.Context) (decimal.Decimal, error)
	DailyCloses(ctx context.Context, from, to time.Time) (Series, error)
}

// Source is a price source that degrades instead of failing.
type Source interface {
	CurrentPrice(ctx context.Context) decimal.Decimal
	HistoricalPrices(ctx context.Context, from, to time.Time) Result
}

// Tier reports which level of the fallback chain produced a Result.
type Tier int

const (
	TierHistorical Tier = iota
	TierCurrentFallback
	TierEmpty
)

func (t Tier) String() string {
	switch t {
	case TierHistorical:
		return "historical"
	case TierCurrentFallback:
		return "current_fallback"
	default:
		return "empty"
	}
}

// Result carries a price series together with how it was obtained.
type Result struct {
	Series Series
	Tier   Tier
}

// FallbackOptions tune WithFallback.
type FallbackOptions struct {
	// FallbackUSD is returned by CurrentPrice when the feed fails. Zero disables it.
	FallbackUSD  decimal.Decimal
	HistoryStart time.Time
	Now          func() time.Time
}

type fallbackSource struct {
	feed   Feed
	opts   FallbackOptions
	logger zerolog.Logger
}

// WithFallback wraps feed into a Source implementing the
// historical -> current-price-as-single-point -> empty chain.
func WithFallback(feed Feed, opts FallbackOptions, logger zerolog.Logger) Source {
	if opts.HistoryStart.IsZero() {
		opts.HistoryStart = DefaultHistoryStart
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &fallbackSource{
		feed:   feed,
		opts:   opts,
		logger: logger.With().Str("component", "price_source").Logger(),
	}
}

func (s *fallbackSource) CurrentPrice(ctx context.Context) decimal.Decimal {
	p, err := s.feed.LatestClose(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("fallback_usd", s.opts.FallbackUSD.String()).Msg("current price unavailable, using fallback")
		return s.opts.FallbackUSD
	}
	if !p.IsPositive() {
		s.logger.Warn().Str("fallback_usd", s.opts.FallbackUSD.String()).Msg("feed returned no current price, using fallback")
		return s.opts.FallbackUSD
	}
	s.logger.Info().Str("price_usd", p.StringFixed(2)).Msg("current price fetched")
	return p
}

func (s *fallbackSource) HistoricalPrices(ctx context.Context, from, to time.Time) Result {
	if from.IsZero() {
		from = s.opts.HistoryStart
	}
	if to.IsZero() {
		to = s.opts.Now().UTC()
	}

	series, err := s.feed.DailyCloses(ctx, from, to)
	switch {
	case err != nil:
		s.logger.Error().Err(err).Time("from", from).Time("to", to).Msg("historical prices unavailable, trying current price")
	case len(series) == 0:
		s.logger.Warn().Time("from", from).Time("to", to).Msg("no historical prices in range, trying current price")
	default:
		first, last, _ := series.Span()
		s.logger.Info().Int("days", len(series)).
			Str("first", first.String()).
			Str("last", last.String()).
			Msg("historical prices fetched")
		return Result{Series: series, Tier: TierHistorical}
	}

	current := s.CurrentPrice(ctx)
	if !current.IsPositive() {
		s.logger.Warn().Msg("price fallback exhausted, returning empty series")
		return Result{Series: Series{}, Tier: TierEmpty}
	}
	today := DateOf(s.opts.Now())
	return Result{Series: Series{today: current}, Tier: TierCurrentFallback}
}
