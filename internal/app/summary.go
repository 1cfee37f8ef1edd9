package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"tao-supply-stats/internal/normalize"
)

// ErrNoObservations is returned when a summary is requested for an empty dataset.
var ErrNoObservations = errors.New("no observations to summarise")

// Summary holds the headline statistics of a dataset.
type Summary struct {
	From   time.Time
	To     time.Time
	Points int
	Latest normalize.Observation

	AvgStakedPct float64
	MinStakedPct float64
	MaxStakedPct float64
	// StdStakedPct is the sample standard deviation; zero for a single point.
	StdStakedPct float64

	SupplyGrowthPct   *float64
	StakedGrowthPct   *float64
	AccountsGrowthPct *float64
}

// Summarize computes statistics over observations sorted by timestamp.
func Summarize(observations []normalize.Observation) (Summary, error) {
	if len(observations) == 0 {
		return Summary{}, ErrNoObservations
	}

	first, last := observations[0], observations[len(observations)-1]
	s := Summary{
		From:         first.Timestamp,
		To:           last.Timestamp,
		Points:       len(observations),
		Latest:       last,
		MinStakedPct: math.Inf(1),
		MaxStakedPct: math.Inf(-1),
	}

	pct := make([]float64, len(observations))
	for i, o := range observations {
		pct[i] = o.StakedPercentage.InexactFloat64()
		s.MinStakedPct = math.Min(s.MinStakedPct, pct[i])
		s.MaxStakedPct = math.Max(s.MaxStakedPct, pct[i])
	}
	s.AvgStakedPct = mean(pct)
	if len(pct) > 1 {
		var sq float64
		for _, v := range pct {
			sq += (v - s.AvgStakedPct) * (v - s.AvgStakedPct)
		}
		s.StdStakedPct = math.Sqrt(sq / float64(len(pct)-1))
	}

	s.SupplyGrowthPct = growth(first.IssuedTAO, last.IssuedTAO)
	s.StakedGrowthPct = growth(first.StakedTAO, last.StakedTAO)
	s.AccountsGrowthPct = growth(decimal.NewFromInt(first.Accounts), decimal.NewFromInt(last.Accounts))
	return s, nil
}

func growth(first, last decimal.Decimal) *float64 {
	if !first.IsPositive() {
		return nil
	}
	g := last.Sub(first).Div(first).Mul(decimal.NewFromInt(100)).InexactFloat64()
	return &g
}

// WriteSummary renders a summary as an aligned text report.
func WriteSummary(out io.Writer, s Summary) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	latest := s.Latest

	fmt.Fprintln(w, "TAO STAKING ANALYSIS SUMMARY")
	fmt.Fprintf(w, "Data period:\t%s to %s\n", s.From.UTC().Format("2006-01-02"), s.To.UTC().Format("2006-01-02"))
	fmt.Fprintf(w, "Data points:\t%d\n", s.Points)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "CURRENT STATUS")
	fmt.Fprintf(w, "  Current supply:\t%s TAO\n", formatWhole(latest.IssuedTAO))
	fmt.Fprintf(w, "  Total staked:\t%s TAO\n", formatWhole(latest.StakedTAO))
	fmt.Fprintf(w, "  Circulating supply:\t%s TAO\n", formatWhole(latest.CirculatingTAO))
	fmt.Fprintf(w, "  Staking percentage:\t%s%%\n", formatDecimal(latest.StakedPercentage, 2))
	if latest.USD != nil {
		fmt.Fprintf(w, "  TAO price:\t$%s\n", formatPrice(latest.USD.PriceUSD))
		fmt.Fprintf(w, "  Total market cap:\t$%s\n", formatWhole(latest.USD.TotalMarketCapUSD))
		fmt.Fprintf(w, "  Circulating market cap:\t$%s\n", formatWhole(latest.USD.CirculatingMarketCapUSD))
	}
	fmt.Fprintf(w, "  Total accounts:\t%s\n", humanize.Comma(latest.Accounts))
	fmt.Fprintf(w, "  Balance holders:\t%s\n", humanize.Comma(latest.BalanceHolders))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "STAKING STATISTICS")
	fmt.Fprintf(w, "  Average staked:\t%.2f%%\n", s.AvgStakedPct)
	fmt.Fprintf(w, "  Minimum staked:\t%.2f%%\n", s.MinStakedPct)
	fmt.Fprintf(w, "  Maximum staked:\t%.2f%%\n", s.MaxStakedPct)
	fmt.Fprintf(w, "  Standard deviation:\t%.2f%%\n", s.StdStakedPct)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "GROWTH METRICS")
	fmt.Fprintf(w, "  Supply growth:\t%s\n", formatGrowth(s.SupplyGrowthPct))
	fmt.Fprintf(w, "  Staked TAO growth:\t%s\n", formatGrowth(s.StakedGrowthPct))
	fmt.Fprintf(w, "  Accounts growth:\t%s\n", formatGrowth(s.AccountsGrowthPct))

	return w.Flush()
}

// Summary prints statistics for a dataset file.
func (a *App) Summary(ctx context.Context, opts DatasetOptions) error {
	path, err := a.datasetPath(opts.CSVPath)
	if err != nil {
		return err
	}
	observations, err := ReadDataset(path)
	if err != nil {
		return err
	}
	s, err := Summarize(observations)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	a.Logger.Info().Str("dataset", path).Int("points", s.Points).Msg("dataset loaded")
	return WriteSummary(os.Stdout, s)
}

func (a *App) datasetPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	return LatestDataset(a.Config.Output.Dir)
}

func formatGrowth(g *float64) string {
	if g == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", *g)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

// formatWhole rounds to an integer and groups thousands.
func formatWhole(d decimal.Decimal) string {
	return humanize.BigComma(d.Round(0).BigInt())
}

// formatPrice groups the integer part and keeps two decimal places.
func formatPrice(d decimal.Decimal) string {
	fixed := d.StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")
	n, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return fixed
	}
	return humanize.BigComma(n) + "." + frac
}
