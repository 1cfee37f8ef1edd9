package stats

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrMalformedResponse marks a payload whose shape cannot be decoded.
	ErrMalformedResponse = errors.New("malformed stats response")
	// ErrUnauthorized marks a rejected credential (HTTP 401/403).
	ErrUnauthorized = errors.New("stats api rejected credential")
	// ErrRetriesExhausted marks a page abandoned after the retry budget was spent.
	ErrRetriesExhausted = errors.New("stats retries exhausted")
)

// RawRecord is one supply observation as served by the history API.
type RawRecord struct {
	Timestamp      string   `json:"timestamp"`
	BlockNumber    FlexInt  `json:"block_number"`
	Issued         RaoValue `json:"issued"`
	Staked         RaoValue `json:"staked"`
	Accounts       FlexInt  `json:"accounts"`
	BalanceHolders FlexInt  `json:"balance_holders"`
}

// RaoValue holds an integer amount in the smallest ledger unit, kept as text.
// The API sends it as a string; bare JSON numbers are accepted too.
type RaoValue string

// UnmarshalJSON accepts "123", 123 and null.
func (v *RaoValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = RaoValue(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("rao amount %s: %w", data, err)
	}
	*v = RaoValue(n.String())
	return nil
}

// FlexInt decodes integers sent either as JSON numbers or numeric strings.
type FlexInt int64

// UnmarshalJSON accepts 42, "42" and null.
func (i *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*i = 0
		return nil
	}
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			*i = 0
			return nil
		}
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err == nil {
		*i = FlexInt(n)
		return nil
	}
	// Integral floats such as 12.0 or 1e3 are accepted; fractions and
	// values outside int64 are not.
	f, ferr := strconv.ParseFloat(raw, 64)
	if ferr != nil {
		return fmt.Errorf("%w: integer %s: %v", ErrMalformedResponse, data, err)
	}
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return fmt.Errorf("%w: integer %s out of range or not integral", ErrMalformedResponse, data)
	}
	*i = FlexInt(f)
	return nil
}

type pageResponse struct {
	Data       []RawRecord `json:"data"`
	Pagination *pagination `json:"pagination"`
}

type pagination struct {
	TotalPages FlexInt `json:"total_pages"`
	TotalItems FlexInt `json:"total_items"`
}

// Status tags how much of the history a fetch obtained.
type Status int

const (
	// StatusEmpty means no records were obtained.
	StatusEmpty Status = iota
	// StatusPartial means a page was abandoned after exhausting retries.
	StatusPartial
	// StatusComplete means paging ended normally.
	StatusComplete
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusPartial:
		return "partial"
	default:
		return "empty"
	}
}

// FetchResult is the outcome of FetchAll.
type FetchResult struct {
	Records    []RawRecord
	Status     Status
	Pages      int
	TotalPages int
	TotalItems int
	// LastErr holds the error that ended a partial fetch.
	LastErr error
}
