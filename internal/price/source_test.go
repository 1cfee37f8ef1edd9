package price

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type stubFeed struct {
	latest    decimal.Decimal
	latestErr error
	daily     Series
	dailyErr  error

	from, to time.Time
}

func (s *stubFeed) LatestClose(context.Context) (decimal.Decimal, error) {
	return s.latest, s.latestErr
}

func (s *stubFeed) DailyCloses(_ context.Context, from, to time.Time) (Series, error) {
	s.from, s.to = from, to
	return s.daily, s.dailyErr
}

var fixedNow = time.Date(2024, time.June, 1, 15, 0, 0, 0, time.UTC)

func newTestSource(feed Feed, fallback decimal.Decimal) Source {
	return WithFallback(feed, FallbackOptions{
		FallbackUSD: fallback,
		Now:         func() time.Time { return fixedNow },
	}, zerolog.Nop())
}

func TestHistoricalPricesFromFeed(t *testing.T) {
	feed := &stubFeed{daily: Series{"2024-05-30": decimal.NewFromInt(420)}}
	res := newTestSource(feed, FallbackUSD).HistoricalPrices(context.Background(), time.Time{}, time.Time{})

	if res.Tier != TierHistorical {
		t.Fatalf("expected historical tier, got %s", res.Tier)
	}
	if len(res.Series) != 1 {
		t.Fatalf("expected feed series, got %v", res.Series)
	}
	if !feed.from.Equal(DefaultHistoryStart) {
		t.Fatalf("zero from should default to history start, got %s", feed.from)
	}
	if !feed.to.Equal(fixedNow) {
		t.Fatalf("zero to should default to now, got %s", feed.to)
	}
}

func TestHistoricalPricesEmptyFallsBackToCurrent(t *testing.T) {
	feed := &stubFeed{daily: Series{}, latest: decimal.NewFromInt(333)}
	res := newTestSource(feed, FallbackUSD).HistoricalPrices(context.Background(), time.Time{}, time.Time{})

	if res.Tier != TierCurrentFallback {
		t.Fatalf("expected current fallback tier, got %s", res.Tier)
	}
	p, ok := res.Series["2024-06-01"]
	if !ok || !p.Equal(decimal.NewFromInt(333)) {
		t.Fatalf("expected today's current price, got %v", res.Series)
	}
}

func TestHistoricalPricesFeedFailureUsesConstant(t *testing.T) {
	feed := &stubFeed{dailyErr: errors.New("boom"), latestErr: errors.New("down")}
	res := newTestSource(feed, FallbackUSD).HistoricalPrices(context.Background(), time.Time{}, time.Time{})

	if res.Tier != TierCurrentFallback {
		t.Fatalf("expected current fallback tier, got %s", res.Tier)
	}
	if !res.Series["2024-06-01"].Equal(FallbackUSD) {
		t.Fatalf("expected fallback constant, got %v", res.Series)
	}
}

func TestHistoricalPricesExhaustedIsEmpty(t *testing.T) {
	feed := &stubFeed{dailyErr: errors.New("boom"), latestErr: errors.New("down")}
	res := newTestSource(feed, decimal.Zero).HistoricalPrices(context.Background(), time.Time{}, time.Time{})

	if res.Tier != TierEmpty {
		t.Fatalf("expected empty tier, got %s", res.Tier)
	}
	if res.Series == nil || len(res.Series) != 0 {
		t.Fatalf("expected empty non-nil series, got %v", res.Series)
	}
}

func TestCurrentPriceFallback(t *testing.T) {
	src := newTestSource(&stubFeed{latestErr: errors.New("down")}, FallbackUSD)
	if p := src.CurrentPrice(context.Background()); !p.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected 500 fallback, got %s", p)
	}

	src = newTestSource(&stubFeed{latest: decimal.Zero}, FallbackUSD)
	if p := src.CurrentPrice(context.Background()); !p.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("zero price should use fallback, got %s", p)
	}
}
