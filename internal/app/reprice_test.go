package app

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tao-supply-stats/internal/normalize"
	"tao-supply-stats/internal/price"
)

func pricedSeries(n int, priceFor func(i int) int64) []normalize.Observation {
	observations := make([]normalize.Observation, n)
	for i := range observations {
		observations[i] = observation(i+1, 1000, 500, 10)
		observations[i].USD = normalize.NewUSDMetrics(observations[i], decimal.NewFromInt(priceFor(i)))
	}
	return observations
}

func TestNeedsRepricing(t *testing.T) {
	unpriced := []normalize.Observation{observation(1, 1000, 500, 10)}
	assert.True(t, NeedsRepricing(unpriced))

	static := pricedSeries(10, func(int) int64 { return 500 })
	assert.True(t, NeedsRepricing(static), "a single constant price is static")

	five := pricedSeries(10, func(i int) int64 { return int64(400 + i%5) })
	assert.True(t, NeedsRepricing(five), "five distinct prices are still static")

	historical := pricedSeries(10, func(i int) int64 { return int64(400 + i) })
	assert.False(t, NeedsRepricing(historical))

	mixed := pricedSeries(10, func(i int) int64 { return int64(400 + i) })
	mixed[4].USD = nil
	assert.True(t, NeedsRepricing(mixed), "any unpriced row triggers repricing")
}

func TestApplyPrices(t *testing.T) {
	observations := []normalize.Observation{
		observation(1, 1000, 500, 10),
		observation(2, 1000, 500, 10),
		observation(3, 1000, 500, 10),
	}
	series := price.Series{
		"2024-01-01": decimal.NewFromInt(100),
		"2024-01-03": decimal.NewFromInt(120),
	}

	assert.Equal(t, 3, ApplyPrices(observations, series))
	require.NotNil(t, observations[1].USD)
	assert.True(t, observations[1].USD.PriceUSD.Equal(decimal.NewFromInt(120)), "gap day takes the later price")
	assert.True(t, observations[0].USD.TotalMarketCapUSD.Equal(decimal.NewFromInt(100000)))

	assert.Equal(t, 0, ApplyPrices(observations, price.Series{}))
	assert.Nil(t, observations[0].USD, "an empty series clears stale USD metrics")
}
