package pricecache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"tao-supply-stats/internal/price"
)

// DefaultMaxAge is the age after which a snapshot is refreshed.
const DefaultMaxAge = 24 * time.Hour

// Outcome tags how GetOrFetch produced its series.
type Outcome int

const (
	// OutcomeFetched means no usable snapshot existed and the feed was queried.
	OutcomeFetched Outcome = iota
	// OutcomeCached means a fresh snapshot was returned unchanged.
	OutcomeCached
	// OutcomeRefreshed means a stale snapshot was merged with a new fetch.
	OutcomeRefreshed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCached:
		return "cached"
	case OutcomeRefreshed:
		return "refreshed"
	default:
		return "fetched"
	}
}

// Options parameterise the snapshot cache.
type Options struct {
	Dir    string
	MaxAge time.Duration
	// Keep bounds the number of snapshots retained; zero keeps all.
	Keep int
	Now  func() time.Time
}

// Cache is a file-backed freshness cache of daily prices. It does not lock
// its directory; concurrent runs race and the last writer wins.
type Cache struct {
	opts   Options
	source price.Source
	logger zerolog.Logger
}

// New constructs a cache over source.
func New(source price.Source, opts Options, logger zerolog.Logger) *Cache {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		opts:   opts,
		source: source,
		logger: logger.With().Str("component", "price_cache").Logger(),
	}
}

// GetOrFetch returns the cached series when the newest snapshot is fresh,
// otherwise fetches [start, end) and merges it over the snapshot. A failed
// write is returned together with the usable series.
func (c *Cache) GetOrFetch(ctx context.Context, start, end time.Time) (price.Series, Outcome, error) {
	latest, ok, err := c.Latest()
	if err != nil {
		return nil, OutcomeFetched, err
	}

	var existing price.Series
	if ok {
		existing, err = ReadSnapshot(latest.Path)
		if err != nil {
			c.logger.Warn().Err(err).Str("path", latest.Path).Msg("snapshot unreadable, refetching")
			ok = false
		}
	}

	if !ok {
		res := c.source.HistoricalPrices(ctx, start, end)
		c.logFetch(res, "fetched price history")
		if len(res.Series) == 0 {
			return res.Series, OutcomeFetched, nil
		}
		return res.Series, OutcomeFetched, c.persist(res.Series)
	}

	age := c.opts.Now().Sub(latest.Created)
	if age <= c.opts.MaxAge {
		c.logger.Info().
			Str("path", latest.Path).
			Dur("age", age).
			Int("rows", len(existing)).
			Msg("using cached prices")
		return existing, OutcomeCached, nil
	}

	res := c.source.HistoricalPrices(ctx, start, end)
	c.logFetch(res, "refreshing stale price snapshot")
	if res.Tier == price.TierEmpty {
		c.logger.Warn().Str("path", latest.Path).Msg("refresh returned no prices, keeping snapshot")
		return existing, OutcomeRefreshed, nil
	}

	merged := existing.Merge(res.Series)
	return merged, OutcomeRefreshed, c.persist(merged)
}

// Latest returns the newest snapshot in the cache directory.
func (c *Cache) Latest() (Snapshot, bool, error) {
	snaps, err := ListSnapshots(c.opts.Dir)
	if err != nil {
		return Snapshot{}, false, err
	}
	if len(snaps) == 0 {
		return Snapshot{}, false, nil
	}
	return snaps[0], true, nil
}

// Load returns the newest snapshot without consulting the feed.
func (c *Cache) Load() (price.Series, Snapshot, error) {
	latest, ok, err := c.Latest()
	if err != nil {
		return nil, Snapshot{}, err
	}
	if !ok {
		return price.Series{}, Snapshot{}, nil
	}
	series, err := ReadSnapshot(latest.Path)
	return series, latest, err
}

func (c *Cache) persist(series price.Series) error {
	path := filepath.Join(c.opts.Dir, SnapshotName(c.opts.Now()))
	if err := WriteSnapshot(path, series); err != nil {
		return fmt.Errorf("persist price snapshot: %w", err)
	}
	first, last, _ := series.Span()
	c.logger.Info().
		Str("path", path).
		Int("rows", len(series)).
		Str("first", first.String()).
		Str("last", last.String()).
		Msg("price snapshot written")
	c.prune()
	return nil
}

func (c *Cache) prune() {
	if c.opts.Keep <= 0 {
		return
	}
	snaps, err := ListSnapshots(c.opts.Dir)
	if err != nil {
		c.logger.Warn().Err(err).Msg("list snapshots for pruning")
		return
	}
	for _, s := range snaps[min(c.opts.Keep, len(snaps)):] {
		if err := os.Remove(s.Path); err != nil {
			c.logger.Warn().Err(err).Str("path", s.Path).Msg("remove old snapshot")
			continue
		}
		c.logger.Debug().Str("path", s.Path).Msg("old snapshot removed")
	}
}

func (c *Cache) logFetch(res price.Result, msg string) {
	c.logger.Info().
		Str("tier", res.Tier.String()).
		Int("rows", len(res.Series)).
		Msg(msg)
}
