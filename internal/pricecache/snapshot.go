package pricecache

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tao-supply-stats/internal/price"
)

const (
	snapshotPrefix = "tao_price_data_"
	snapshotSuffix = ".csv"
	nameLayout     = "20060102_150405"
)

var snapshotHeader = []string{"date", "price_usd"}

// Snapshot is one persisted price table.
type Snapshot struct {
	Path    string
	Created time.Time
}

// SnapshotName returns the file name for a snapshot created at t (UTC).
func SnapshotName(t time.Time) string {
	return snapshotPrefix + t.UTC().Format(nameLayout) + snapshotSuffix
}

// ListSnapshots returns the snapshots in dir, newest first. Creation time
// comes from the file name, or the modification time when the name carries none.
func ListSnapshots(dir string) ([]Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	var out []Snapshot
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
			continue
		}
		created, err := time.Parse(nameLayout, strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotSuffix))
		if err != nil {
			info, ierr := e.Info()
			if ierr != nil {
				continue
			}
			created = info.ModTime().UTC()
		}
		out = append(out, Snapshot{Path: filepath.Join(dir, name), Created: created})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].Path > out[j].Path
		}
		return out[i].Created.After(out[j].Created)
	})
	return out, nil
}

// ReadSnapshot loads a date,price_usd CSV.
func ReadSnapshot(path string) (price.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read snapshot header %s: %w", path, err)
	}
	dateCol, priceCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) {
		case "date":
			dateCol = i
		case "price_usd":
			priceCol = i
		}
	}
	if dateCol < 0 || priceCol < 0 {
		return nil, fmt.Errorf("snapshot %s: missing date or price_usd column", path)
	}

	series := price.Series{}
	for line := 2; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read snapshot %s: %w", path, err)
		}
		if dateCol >= len(row) || priceCol >= len(row) {
			return nil, fmt.Errorf("snapshot %s line %d: short row", path, line)
		}
		d, err := price.ParseDate(row[dateCol])
		if err != nil {
			return nil, fmt.Errorf("snapshot %s line %d: %w", path, line, err)
		}
		p, err := decimal.NewFromString(strings.TrimSpace(row[priceCol]))
		if err != nil {
			return nil, fmt.Errorf("snapshot %s line %d: price: %w", path, line, err)
		}
		series[d] = p
	}
	return series, nil
}

// WriteSnapshot persists series sorted by date. The file is written beside
// its final name and renamed into place.
func WriteSnapshot(path string, series price.Series) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := csv.NewWriter(tmp)
	if err := w.Write(snapshotHeader); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot header: %w", err)
	}
	for _, d := range series.Dates() {
		if err := w.Write([]string{d.String(), series[d].String()}); err != nil {
			tmp.Close()
			return fmt.Errorf("write snapshot row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
