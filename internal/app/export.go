package app

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tao-supply-stats/internal/normalize"
)

const (
	datasetPrefix   = "tao_staking_data_"
	chartPrefix     = "tao_staking_analysis_"
	fileStampLayout = "20060102_150405"
)

var datasetHeader = []string{
	"timestamp",
	"block_number",
	"issued_tao",
	"staked_tao",
	"circulating_tao",
	"staked_percentage",
	"circulating_percentage",
	"accounts",
	"balance_holders",
	"tao_price_usd",
	"total_market_cap_usd",
	"staked_market_cap_usd",
	"circulating_market_cap_usd",
}

// ErrNoDataset is returned when no dataset file can be found.
var ErrNoDataset = errors.New("no dataset file found")

// DatasetName returns the dataset file name for a run finished at t.
func DatasetName(t time.Time) string {
	return datasetPrefix + t.UTC().Format(fileStampLayout) + ".csv"
}

// ChartName returns the chart file name for a run finished at t.
func ChartName(t time.Time) string {
	return chartPrefix + t.UTC().Format(fileStampLayout) + ".png"
}

// LatestDataset returns the newest dataset file in dir by its name stamp.
func LatestDataset(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, datasetPrefix+"*.csv"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoDataset, dir)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// WriteDataset writes observations as CSV. USD cells are empty for unpriced rows.
func WriteDataset(path string, observations []normalize.Observation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(datasetHeader); err != nil {
		return err
	}

	for _, o := range observations {
		record := []string{
			o.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatInt(o.BlockNumber, 10),
			o.IssuedTAO.String(),
			o.StakedTAO.String(),
			o.CirculatingTAO.String(),
			o.StakedPercentage.String(),
			o.CirculatingPercentage.String(),
			strconv.FormatInt(o.Accounts, 10),
			strconv.FormatInt(o.BalanceHolders, 10),
			"", "", "", "",
		}
		if o.USD != nil {
			record[9] = o.USD.PriceUSD.String()
			record[10] = o.USD.TotalMarketCapUSD.String()
			record[11] = o.USD.StakedMarketCapUSD.String()
			record[12] = o.USD.CirculatingMarketCapUSD.String()
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

// ReadDataset loads a dataset CSV. Columns are matched by header name; market
// caps are recomputed from the price so USD fields stay all-or-none.
func ReadDataset(path string) ([]normalize.Observation, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read dataset header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, required := range []string{"timestamp", "issued_tao", "staked_tao"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("dataset %s: missing column %s", path, required)
		}
	}

	var observations []normalize.Observation
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read dataset: %w", err)
		}
		o, err := parseDatasetRow(cols, row)
		if err != nil {
			return nil, fmt.Errorf("dataset %s line %d: %w", path, line, err)
		}
		observations = append(observations, o)
	}

	sort.SliceStable(observations, func(i, j int) bool {
		return observations[i].Timestamp.Before(observations[j].Timestamp)
	})
	return observations, nil
}

func parseDatasetRow(cols map[string]int, row []string) (normalize.Observation, error) {
	cell := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var (
		o   normalize.Observation
		err error
	)
	if o.Timestamp, err = normalize.ParseTimestamp(cell("timestamp")); err != nil {
		return o, err
	}
	if o.BlockNumber, err = parseCount(cell("block_number")); err != nil {
		return o, fmt.Errorf("block_number: %w", err)
	}
	if o.Accounts, err = parseCount(cell("accounts")); err != nil {
		return o, fmt.Errorf("accounts: %w", err)
	}
	if o.BalanceHolders, err = parseCount(cell("balance_holders")); err != nil {
		return o, fmt.Errorf("balance_holders: %w", err)
	}

	amounts := []struct {
		name string
		dst  *decimal.Decimal
	}{
		{"issued_tao", &o.IssuedTAO},
		{"staked_tao", &o.StakedTAO},
	}
	for _, a := range amounts {
		if *a.dst, err = decimal.NewFromString(cell(a.name)); err != nil {
			return o, fmt.Errorf("%s: %w", a.name, err)
		}
	}

	o.CirculatingTAO = o.IssuedTAO.Sub(o.StakedTAO)
	if v := cell("circulating_tao"); v != "" {
		if o.CirculatingTAO, err = decimal.NewFromString(v); err != nil {
			return o, fmt.Errorf("circulating_tao: %w", err)
		}
	}
	o.StakedPercentage, o.CirculatingPercentage = decimal.Zero, decimal.Zero
	if o.IssuedTAO.IsPositive() {
		o.StakedPercentage = o.StakedTAO.Mul(decimal.NewFromInt(100)).DivRound(o.IssuedTAO, 10)
		o.CirculatingPercentage = o.CirculatingTAO.Mul(decimal.NewFromInt(100)).DivRound(o.IssuedTAO, 10)
	}
	if v := cell("staked_percentage"); v != "" {
		if o.StakedPercentage, err = decimal.NewFromString(v); err != nil {
			return o, fmt.Errorf("staked_percentage: %w", err)
		}
	}
	if v := cell("circulating_percentage"); v != "" {
		if o.CirculatingPercentage, err = decimal.NewFromString(v); err != nil {
			return o, fmt.Errorf("circulating_percentage: %w", err)
		}
	}

	if v := cell("tao_price_usd"); v != "" {
		p, err := decimal.NewFromString(v)
		if err != nil {
			return o, fmt.Errorf("tao_price_usd: %w", err)
		}
		o.USD = normalize.NewUSDMetrics(o, p)
	}
	return o, nil
}

func parseCount(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
