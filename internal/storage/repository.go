package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"tao-supply-stats/internal/normalize"
	"tao-supply-stats/internal/price"
)

const (
	upsertObservationSQL = `INSERT INTO supply_observations (
        observed_at,
        block_number,
        issued_tao,
        staked_tao,
        circulating_tao,
        staked_percentage,
        circulating_percentage,
        accounts,
        balance_holders,
        tao_price_usd,
        total_market_cap_usd,
        staked_market_cap_usd,
        circulating_market_cap_usd,
        run_id
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    )
    ON CONFLICT (observed_at) DO UPDATE
    SET
        block_number               = EXCLUDED.block_number,
        issued_tao                 = EXCLUDED.issued_tao,
        staked_tao                 = EXCLUDED.staked_tao,
        circulating_tao            = EXCLUDED.circulating_tao,
        staked_percentage          = EXCLUDED.staked_percentage,
        circulating_percentage     = EXCLUDED.circulating_percentage,
        accounts                   = EXCLUDED.accounts,
        balance_holders            = EXCLUDED.balance_holders,
        tao_price_usd              = EXCLUDED.tao_price_usd,
        total_market_cap_usd       = EXCLUDED.total_market_cap_usd,
        staked_market_cap_usd      = EXCLUDED.staked_market_cap_usd,
        circulating_market_cap_usd = EXCLUDED.circulating_market_cap_usd,
        run_id                     = EXCLUDED.run_id;`

	listObservationsBetweenSQL = `SELECT
        observed_at,
        block_number,
        issued_tao::text,
        staked_tao::text,
        circulating_tao::text,
        staked_percentage::text,
        circulating_percentage::text,
        accounts,
        balance_holders,
        tao_price_usd::text,
        total_market_cap_usd::text,
        staked_market_cap_usd::text,
        circulating_market_cap_usd::text,
        run_id,
        created_at
    FROM supply_observations
    WHERE observed_at >= $1
      AND observed_at < $2
    ORDER BY observed_at;`

	countObservationsSQL = `SELECT COUNT(*) FROM supply_observations;`

	upsertPriceSQL = `INSERT INTO price_rows (price_date, price_usd)
    VALUES ($1, $2)
    ON CONFLICT (price_date) DO UPDATE
    SET price_usd = EXCLUDED.price_usd,
        updated_at = now();`

	loadPricesSQL = `SELECT price_date, price_usd::text FROM price_rows ORDER BY price_date;`
)

// Store persists observations and prices in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertObservations writes a run's observations in one batch, keyed by timestamp.
func (s *Store) UpsertObservations(ctx context.Context, runID string, observations []normalize.Observation) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, o := range observations {
		batch.Queue(upsertObservationSQL, observationArgs(o, runID)...)
	}

	br := pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range observations {
		if _, execErr := br.Exec(); execErr != nil {
			return fmt.Errorf("upsert observation %s: %w", observations[i].Timestamp.Format(time.RFC3339), execErr)
		}
	}
	return nil
}

// ListObservationsBetween lists observations with timestamps in [from, to).
func (s *Store) ListObservationsBetween(ctx context.Context, from, to time.Time) ([]ObservationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listObservationsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list observations between: %w", queryErr)
	}
	defer rows.Close()

	records := make([]ObservationRecord, 0)
	for rows.Next() {
		rec, scanErr := scanObservation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// CountObservations counts stored observations.
func (s *Store) CountObservations(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countObservationsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count observations: %w", scanErr)
	}
	return count, nil
}

// UpsertPrices writes every row of series; same-day rows are overwritten.
func (s *Store) UpsertPrices(ctx context.Context, series price.Series) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(series) == 0 {
		return nil
	}

	dates := series.Dates()
	batch := &pgx.Batch{}
	for _, d := range dates {
		batch.Queue(upsertPriceSQL, d.Time(), series[d].String())
	}

	br := pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, d := range dates {
		if _, execErr := br.Exec(); execErr != nil {
			return fmt.Errorf("upsert price %s: %w", d, execErr)
		}
	}
	return nil
}

// LoadPrices returns every stored price row.
func (s *Store) LoadPrices(ctx context.Context) (price.Series, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, loadPricesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("load prices: %w", queryErr)
	}
	defer rows.Close()

	series := price.Series{}
	for rows.Next() {
		var (
			day      time.Time
			priceStr string
		)
		if scanErr := rows.Scan(&day, &priceStr); scanErr != nil {
			return nil, scanErr
		}
		p, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse price %s: %w", price.DateOf(day), convErr)
		}
		series[price.DateOf(day)] = p
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return series, nil
}

func observationArgs(o normalize.Observation, runID string) []any {
	var priceUSD, totalCap, stakedCap, circulatingCap any
	if o.USD != nil {
		priceUSD = o.USD.PriceUSD.String()
		totalCap = o.USD.TotalMarketCapUSD.String()
		stakedCap = o.USD.StakedMarketCapUSD.String()
		circulatingCap = o.USD.CirculatingMarketCapUSD.String()
	}
	return []any{
		o.Timestamp.UTC(),
		o.BlockNumber,
		o.IssuedTAO.String(),
		o.StakedTAO.String(),
		o.CirculatingTAO.String(),
		o.StakedPercentage.String(),
		o.CirculatingPercentage.String(),
		o.Accounts,
		o.BalanceHolders,
		priceUSD,
		totalCap,
		stakedCap,
		circulatingCap,
		runID,
	}
}

// observationColumns holds the textual form shared by both SQL backends.
type observationColumns struct {
	issued, staked, circulating            string
	stakedPct, circulatingPct              string
	priceUSD, totalCap, stakedCap, circCap *string
}

func (c observationColumns) decode(o *normalize.Observation) error {
	fields := []struct {
		name string
		src  string
		dst  *decimal.Decimal
	}{
		{"issued_tao", c.issued, &o.IssuedTAO},
		{"staked_tao", c.staked, &o.StakedTAO},
		{"circulating_tao", c.circulating, &o.CirculatingTAO},
		{"staked_percentage", c.stakedPct, &o.StakedPercentage},
		{"circulating_percentage", c.circulatingPct, &o.CirculatingPercentage},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.src)
		if err != nil {
			return fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = v
	}

	if c.priceUSD == nil {
		o.USD = nil
		return nil
	}
	usd := &normalize.USDMetrics{}
	usdFields := []struct {
		name string
		src  *string
		dst  *decimal.Decimal
	}{
		{"tao_price_usd", c.priceUSD, &usd.PriceUSD},
		{"total_market_cap_usd", c.totalCap, &usd.TotalMarketCapUSD},
		{"staked_market_cap_usd", c.stakedCap, &usd.StakedMarketCapUSD},
		{"circulating_market_cap_usd", c.circCap, &usd.CirculatingMarketCapUSD},
	}
	for _, f := range usdFields {
		if f.src == nil {
			return fmt.Errorf("parse %s: partial usd columns", f.name)
		}
		v, err := decimal.NewFromString(*f.src)
		if err != nil {
			return fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = v
	}
	o.USD = usd
	return nil
}

func scanObservation(rows pgx.Rows) (ObservationRecord, error) {
	var (
		rec  ObservationRecord
		cols observationColumns
	)
	if err := rows.Scan(
		&rec.Timestamp,
		&rec.BlockNumber,
		&cols.issued,
		&cols.staked,
		&cols.circulating,
		&cols.stakedPct,
		&cols.circulatingPct,
		&rec.Accounts,
		&rec.BalanceHolders,
		&cols.priceUSD,
		&cols.totalCap,
		&cols.stakedCap,
		&cols.circCap,
		&rec.RunID,
		&rec.CreatedAt,
	); err != nil {
		return ObservationRecord{}, err
	}
	if err := cols.decode(&rec.Observation); err != nil {
		return ObservationRecord{}, err
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return rec, nil
}

var (
	_ Sink = (*Store)(nil)
	_ Sink = (*SQLiteStore)(nil)
)
