package normalize

import (
	"time"

	"github.com/shopspring/decimal"

	"tao-supply-stats/internal/price"
)

// Observation is one normalized supply row.
type Observation struct {
	Timestamp             time.Time
	BlockNumber           int64
	IssuedTAO             decimal.Decimal
	StakedTAO             decimal.Decimal
	CirculatingTAO        decimal.Decimal
	StakedPercentage      decimal.Decimal
	CirculatingPercentage decimal.Decimal
	Accounts              int64
	BalanceHolders        int64
	// USD is nil when no price was resolved for the observation's day.
	USD *USDMetrics
}

// USDMetrics groups the price-derived fields, which exist together or not at all.
type USDMetrics struct {
	PriceUSD                decimal.Decimal
	TotalMarketCapUSD       decimal.Decimal
	StakedMarketCapUSD      decimal.Decimal
	CirculatingMarketCapUSD decimal.Decimal
}

// Date returns the UTC calendar day of the observation.
func (o Observation) Date() price.Date {
	return price.DateOf(o.Timestamp)
}

// NewUSDMetrics derives the market caps of an observation at p.
func NewUSDMetrics(o Observation, p decimal.Decimal) *USDMetrics {
	return &USDMetrics{
		PriceUSD:                p,
		TotalMarketCapUSD:       o.IssuedTAO.Mul(p),
		StakedMarketCapUSD:      o.StakedTAO.Mul(p),
		CirculatingMarketCapUSD: o.CirculatingTAO.Mul(p),
	}
}
