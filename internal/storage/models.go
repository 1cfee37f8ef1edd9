package storage

import (
	"context"
	"errors"
	"time"

	"tao-supply-stats/internal/normalize"
	"tao-supply-stats/internal/price"
)

var (
	// ErrNotConfigured indicates no database sink was configured or initialised.
	ErrNotConfigured = errors.New("storage: database not configured")
)

// ObservationRecord is a persisted observation with its write metadata.
type ObservationRecord struct {
	normalize.Observation
	RunID     string
	CreatedAt time.Time
}

// ObservationStore defines operations for observation persistence.
type ObservationStore interface {
	UpsertObservations(ctx context.Context, runID string, observations []normalize.Observation) error
	ListObservationsBetween(ctx context.Context, from, to time.Time) ([]ObservationRecord, error)
	CountObservations(ctx context.Context) (int64, error)
}

// PriceStore defines operations for daily price persistence.
type PriceStore interface {
	UpsertPrices(ctx context.Context, series price.Series) error
	LoadPrices(ctx context.Context) (price.Series, error)
}

// Sink aggregates both stores behind one closable handle.
type Sink interface {
	ObservationStore
	PriceStore
	Close()
}
