package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"tao-supply-stats/internal/normalize"
	"tao-supply-stats/internal/price"
	"tao-supply-stats/internal/storage/migrations"
)

const (
	sqliteUpsertObservationSQL = `INSERT INTO supply_observations (
        observed_at, block_number, issued_tao, staked_tao, circulating_tao,
        staked_percentage, circulating_percentage, accounts, balance_holders,
        tao_price_usd, total_market_cap_usd, staked_market_cap_usd, circulating_market_cap_usd,
        run_id, created_at
    ) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
    ON CONFLICT (observed_at) DO UPDATE SET
        block_number               = excluded.block_number,
        issued_tao                 = excluded.issued_tao,
        staked_tao                 = excluded.staked_tao,
        circulating_tao            = excluded.circulating_tao,
        staked_percentage          = excluded.staked_percentage,
        circulating_percentage     = excluded.circulating_percentage,
        accounts                   = excluded.accounts,
        balance_holders            = excluded.balance_holders,
        tao_price_usd              = excluded.tao_price_usd,
        total_market_cap_usd       = excluded.total_market_cap_usd,
        staked_market_cap_usd      = excluded.staked_market_cap_usd,
        circulating_market_cap_usd = excluded.circulating_market_cap_usd,
        run_id                     = excluded.run_id,
        created_at                 = excluded.created_at`

	sqliteListObservationsBetweenSQL = `SELECT
        observed_at, block_number, issued_tao, staked_tao, circulating_tao,
        staked_percentage, circulating_percentage, accounts, balance_holders,
        tao_price_usd, total_market_cap_usd, staked_market_cap_usd, circulating_market_cap_usd,
        run_id, created_at
    FROM supply_observations
    WHERE observed_at >= ? AND observed_at < ?
    ORDER BY observed_at`

	sqliteUpsertPriceSQL = `INSERT INTO price_rows (price_date, price_usd, updated_at)
    VALUES (?, ?, ?)
    ON CONFLICT (price_date) DO UPDATE SET
        price_usd  = excluded.price_usd,
        updated_at = excluded.updated_at`

	sqliteLoadPricesSQL = `SELECT price_date, price_usd FROM price_rows ORDER BY price_date`
)

// SQLiteStore persists observations and prices in a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// OpenSQLite opens (or creates) the database file and runs migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	err = applyMigrations(migrations.SQLiteFS, "sqlite", func(name, script string) error {
		for _, stmt := range strings.Split(script, ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// UpsertObservations writes a run's observations in one transaction.
func (s *SQLiteStore) UpsertObservations(ctx context.Context, runID string, observations []normalize.Observation) error {
	if s == nil || s.db == nil {
		return ErrNotConfigured
	}
	if len(observations) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertObservationSQL)
	if err != nil {
		return fmt.Errorf("prepare observation upsert: %w", err)
	}
	defer stmt.Close()

	created := s.now().Unix()
	for _, o := range observations {
		args := observationArgs(o, runID)
		args[0] = o.Timestamp.UTC().Unix()
		args = append(args, created)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("upsert observation %s: %w", o.Timestamp.Format(time.RFC3339), err)
		}
	}
	return tx.Commit()
}

// ListObservationsBetween lists observations with timestamps in [from, to).
func (s *SQLiteStore) ListObservationsBetween(ctx context.Context, from, to time.Time) ([]ObservationRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}

	rows, err := s.db.QueryContext(ctx, sqliteListObservationsBetweenSQL, from.UTC().Unix(), to.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("list observations between: %w", err)
	}
	defer rows.Close()

	records := make([]ObservationRecord, 0)
	for rows.Next() {
		var (
			rec              ObservationRecord
			cols             observationColumns
			observed, create int64
			priceUSD         sql.NullString
			totalCap         sql.NullString
			stakedCap        sql.NullString
			circCap          sql.NullString
		)
		if err := rows.Scan(
			&observed,
			&rec.BlockNumber,
			&cols.issued,
			&cols.staked,
			&cols.circulating,
			&cols.stakedPct,
			&cols.circulatingPct,
			&rec.Accounts,
			&rec.BalanceHolders,
			&priceUSD,
			&totalCap,
			&stakedCap,
			&circCap,
			&rec.RunID,
			&create,
		); err != nil {
			return nil, err
		}
		cols.priceUSD = nullable(priceUSD)
		cols.totalCap = nullable(totalCap)
		cols.stakedCap = nullable(stakedCap)
		cols.circCap = nullable(circCap)
		if err := cols.decode(&rec.Observation); err != nil {
			return nil, err
		}
		rec.Timestamp = time.Unix(observed, 0).UTC()
		rec.CreatedAt = time.Unix(create, 0).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// CountObservations counts stored observations.
func (s *SQLiteStore) CountObservations(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrNotConfigured
	}
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM supply_observations`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return count, nil
}

// UpsertPrices writes every row of series; same-day rows are overwritten.
func (s *SQLiteStore) UpsertPrices(ctx context.Context, series price.Series) error {
	if s == nil || s.db == nil {
		return ErrNotConfigured
	}
	if len(series) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	updated := s.now().Unix()
	for _, d := range series.Dates() {
		if _, err := tx.ExecContext(ctx, sqliteUpsertPriceSQL, d.String(), series[d].String(), updated); err != nil {
			return fmt.Errorf("upsert price %s: %w", d, err)
		}
	}
	return tx.Commit()
}

// LoadPrices returns every stored price row.
func (s *SQLiteStore) LoadPrices(ctx context.Context) (price.Series, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}

	rows, err := s.db.QueryContext(ctx, sqliteLoadPricesSQL)
	if err != nil {
		return nil, fmt.Errorf("load prices: %w", err)
	}
	defer rows.Close()

	series := price.Series{}
	for rows.Next() {
		var day, priceStr string
		if err := rows.Scan(&day, &priceStr); err != nil {
			return nil, err
		}
		d, err := price.ParseDate(day)
		if err != nil {
			return nil, err
		}
		p, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parse price %s: %w", d, err)
		}
		series[d] = p
	}
	return series, rows.Err()
}

func nullable(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
