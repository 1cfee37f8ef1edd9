package price

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Resolver answers nearest-date lookups against a fixed series.
type Resolver struct {
	series Series
	dates  []Date
}

// NewResolver sorts the series keys once so repeated lookups stay cheap.
func NewResolver(series Series) *Resolver {
	return &Resolver{series: series, dates: series.Dates()}
}

// Resolve returns the price for d using the exact day when present, otherwise the
// earliest day after d, otherwise the last known day. It fails only on an empty series.
func (r *Resolver) Resolve(d Date) (decimal.Decimal, bool) {
	if p, ok := r.series[d]; ok {
		return p, true
	}
	if len(r.dates) == 0 {
		return decimal.Decimal{}, false
	}

	idx := sort.Search(len(r.dates), func(i int) bool { return r.dates[i] >= d })
	if idx < len(r.dates) {
		return r.series[r.dates[idx]], true
	}
	return r.series[r.dates[len(r.dates)-1]], true
}

// Resolve is a one-shot helper around Resolver.
func Resolve(series Series, d Date) (decimal.Decimal, bool) {
	return NewResolver(series).Resolve(d)
}
