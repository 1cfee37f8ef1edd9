package price

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-day format used for price keys and snapshot rows.
const DateLayout = "2006-01-02"

// Date is a UTC calendar day in DateLayout form. Lexical order equals chronological order.
type Date string

// DateOf returns the UTC calendar day of t.
func DateOf(t time.Time) Date {
	return Date(t.UTC().Format(DateLayout))
}

// ParseDate validates and normalises a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Time returns midnight UTC of the day.
func (d Date) Time() time.Time {
	t, err := time.Parse(DateLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

func (d Date) String() string { return string(d) }

// Series maps calendar days to USD prices.
type Series map[Date]decimal.Decimal

// Dates returns the keys sorted ascending.
func (s Series) Dates() []Date {
	dates := make([]Date, 0, len(s))
	for d := range s {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })
	return dates
}

// Span returns the first and last day of the series.
func (s Series) Span() (first, last Date, ok bool) {
	if len(s) == 0 {
		return "", "", false
	}
	for d := range s {
		if first == "" || d < first {
			first = d
		}
		if last == "" || d > last {
			last = d
		}
	}
	return first, last, true
}

// Clone returns an independent copy.
func (s Series) Clone() Series {
	out := make(Series, len(s))
	for d, p := range s {
		out[d] = p
	}
	return out
}

// Merge returns a new series holding every row of s overlaid with fresh.
// Rows in fresh win on shared dates.
func (s Series) Merge(fresh Series) Series {
	out := s.Clone()
	for d, p := range fresh {
		out[d] = p
	}
	return out
}

// Distinct counts distinct price values.
func (s Series) Distinct() int {
	seen := make(map[string]struct{}, len(s))
	for _, p := range s {
		seen[p.String()] = struct{}{}
	}
	return len(seen)
}
