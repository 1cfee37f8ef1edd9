package normalize

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tao-supply-stats/internal/price"
	"tao-supply-stats/internal/stats"
)

// RaoDecimals is the exponent between rao and TAO.
const RaoDecimals = 9

const defaultPercentPlaces = 10

var hundred = decimal.NewFromInt(100)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Options tune the normalizer.
type Options struct {
	// PercentPlaces is the rounding scale of derived percentages.
	PercentPlaces int32
}

// Normalizer converts raw API records into observations.
type Normalizer struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a normalizer.
func New(opts Options, logger zerolog.Logger) *Normalizer {
	if opts.PercentPlaces <= 0 {
		opts.PercentPlaces = defaultPercentPlaces
	}
	return &Normalizer{
		opts:   opts,
		logger: logger.With().Str("component", "normalizer").Logger(),
	}
}

// Normalize converts records and sorts them by timestamp. A nil price series
// disables USD enrichment; otherwise each record is priced by nearest-date
// resolution and left without USD fields on a miss.
func (n *Normalizer) Normalize(records []stats.RawRecord, prices price.Series) ([]Observation, error) {
	out := make([]Observation, 0, len(records))

	var resolver *price.Resolver
	if prices != nil {
		resolver = price.NewResolver(prices)
	}

	var priced, missed int
	for i, rec := range records {
		obs, err := n.convert(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if resolver != nil {
			if p, ok := resolver.Resolve(obs.Date()); ok {
				obs.USD = NewUSDMetrics(obs, p)
				priced++
			} else {
				missed++
			}
		}
		out = append(out, obs)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	ev := n.logger.Debug().Int("records", len(out))
	if resolver != nil {
		ev = ev.Int("priced", priced).Int("unpriced", missed)
	}
	ev.Msg("records normalized")

	return out, nil
}

func (n *Normalizer) convert(rec stats.RawRecord) (Observation, error) {
	ts, err := ParseTimestamp(rec.Timestamp)
	if err != nil {
		return Observation{}, err
	}
	issued, err := parseRao("issued", rec.Issued)
	if err != nil {
		return Observation{}, err
	}
	staked, err := parseRao("staked", rec.Staked)
	if err != nil {
		return Observation{}, err
	}

	issuedRao := decimal.NewFromBigInt(issued, 0)
	stakedRao := decimal.NewFromBigInt(staked, 0)
	circulatingRao := issuedRao.Sub(stakedRao)

	obs := Observation{
		Timestamp:             ts,
		BlockNumber:           int64(rec.BlockNumber),
		IssuedTAO:             decimal.NewFromBigInt(issued, -RaoDecimals),
		StakedTAO:             decimal.NewFromBigInt(staked, -RaoDecimals),
		CirculatingTAO:        circulatingRao.Shift(-RaoDecimals),
		StakedPercentage:      decimal.Zero,
		CirculatingPercentage: decimal.Zero,
		Accounts:              int64(rec.Accounts),
		BalanceHolders:        int64(rec.BalanceHolders),
	}
	if issued.Sign() > 0 {
		obs.StakedPercentage = stakedRao.Mul(hundred).DivRound(issuedRao, n.opts.PercentPlaces)
		obs.CirculatingPercentage = circulatingRao.Mul(hundred).DivRound(issuedRao, n.opts.PercentPlaces)
	}
	return obs, nil
}

func parseRao(field string, v stats.RaoValue) (*big.Int, error) {
	s := strings.TrimSpace(string(v))
	if s == "" {
		return nil, fmt.Errorf("%w: %s is missing", stats.ErrMalformedResponse, field)
	}
	x, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s %q is not an integer", stats.ErrMalformedResponse, field, s)
	}
	if x.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s %q is negative", stats.ErrMalformedResponse, field, s)
	}
	return x, nil
}

// ParseTimestamp reads an API timestamp as UTC. Zone-less values are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: timestamp %q", stats.ErrMalformedResponse, s)
}
