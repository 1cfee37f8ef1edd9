package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tao-supply-stats/internal/config"
)

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return nil
}

func newTestFetcher(t *testing.T, url string, sleeper Sleeper) *Fetcher {
	t.Helper()
	f, err := NewFetcher(Options{
		BaseURL:          url,
		APIKey:           "test-key",
		RequestDelay:     3 * time.Second,
		MaxRetries:       3,
		RateLimitBackoff: 5 * time.Second,
		Timeout:          time.Second,
		Sleeper:          sleeper,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	return f
}

func pageBody(page, totalPages int) string {
	return fmt.Sprintf(`{"data":[{"timestamp":"2024-01-0%dT00:00:00Z","block_number":%d,"issued":"%d000000000","staked":"1000000000","accounts":10,"balance_holders":5}],"pagination":{"total_pages":%d,"total_items":%d}}`,
		page, page*100, page+1, totalPages, totalPages)
}

func TestFetchAllStopsAtTotalPages(t *testing.T) {
	var requested []int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "test-key" {
			t.Errorf("missing credential header")
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("missing accept header")
		}
		if r.URL.Query().Get("frequency") != "by_day" || r.URL.Query().Get("limit") != "50" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		mu.Lock()
		requested = append(requested, page)
		mu.Unlock()
		if page > 3 {
			_, _ = w.Write([]byte(`{"data":[],"pagination":{"total_pages":3}}`))
			return
		}
		_, _ = w.Write([]byte(pageBody(page, 3)))
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	res, err := newTestFetcher(t, srv.URL, sleeper).FetchAll(context.Background(), "by_day", 50)
	if err != nil {
		t.Fatalf("fetch all: %v", err)
	}
	if res.Status != StatusComplete {
		t.Fatalf("expected complete, got %s", res.Status)
	}
	if len(res.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(res.Records))
	}
	for i, rec := range res.Records {
		if int(rec.BlockNumber) != (i+1)*100 {
			t.Fatalf("records out of page order: %+v", res.Records)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(requested) != 3 || requested[2] != 3 {
		t.Fatalf("page 4 must not be requested, got %v", requested)
	}
	if len(sleeper.waits) != 2 || sleeper.waits[0] != 3*time.Second {
		t.Fatalf("expected two inter-page delays, got %v", sleeper.waits)
	}
	if res.Pages != 3 || res.TotalPages != 3 {
		t.Fatalf("unexpected page counters %d/%d", res.Pages, res.TotalPages)
	}
}

func TestFetchAllRateLimitBackoff(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(pageBody(1, 1)))
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	res, err := newTestFetcher(t, srv.URL, sleeper).FetchAll(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("fetch all: %v", err)
	}
	if res.Status != StatusComplete || len(res.Records) != 1 {
		t.Fatalf("third attempt should succeed, got %s with %d records", res.Status, len(res.Records))
	}
	want := []time.Duration{6 * time.Second, 7 * time.Second}
	if len(sleeper.waits) != len(want) {
		t.Fatalf("expected waits %v, got %v", want, sleeper.waits)
	}
	for i := range want {
		if sleeper.waits[i] != want[i] {
			t.Fatalf("expected waits %v, got %v", want, sleeper.waits)
		}
	}
}

func TestFetchAllTransientBackoff(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(pageBody(1, 1)))
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	if _, err := newTestFetcher(t, srv.URL, sleeper).FetchAll(context.Background(), "by_day", 50); err != nil {
		t.Fatalf("fetch all: %v", err)
	}
	if len(sleeper.waits) != 1 || sleeper.waits[0] != time.Second {
		t.Fatalf("expected a single 1s wait, got %v", sleeper.waits)
	}
}

func TestFetchAllPartialOnExhaustedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			_, _ = w.Write([]byte(pageBody(1, 3)))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	res, err := newTestFetcher(t, srv.URL, sleeper).FetchAll(context.Background(), "by_day", 50)
	if err != nil {
		t.Fatalf("exhausted retries must not be an error: %v", err)
	}
	if res.Status != StatusPartial {
		t.Fatalf("expected partial, got %s", res.Status)
	}
	if len(res.Records) != 1 {
		t.Fatalf("expected page 1 records kept, got %d", len(res.Records))
	}
	if !errors.Is(res.LastErr, ErrRetriesExhausted) {
		t.Fatalf("last error should mark exhaustion, got %v", res.LastErr)
	}
	// one inter-page delay, then 1s and 2s between the three attempts
	want := []time.Duration{3 * time.Second, time.Second, 2 * time.Second}
	if len(sleeper.waits) != len(want) {
		t.Fatalf("expected waits %v, got %v", want, sleeper.waits)
	}
	for i := range want {
		if sleeper.waits[i] != want[i] {
			t.Fatalf("expected waits %v, got %v", want, sleeper.waits)
		}
	}
}

func TestFetchAllMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": "oops"`))
	}))
	defer srv.Close()

	_, err := newTestFetcher(t, srv.URL, &recordingSleeper{}).FetchAll(context.Background(), "by_day", 50)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected malformed response error, got %v", err)
	}
}

func TestFetchAllUnauthorized(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestFetcher(t, srv.URL, &recordingSleeper{}).FetchAll(context.Background(), "by_day", 50)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("401 must not be retried, got %d calls", calls.Load())
	}
}

func TestFetchAllEmptyFirstPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pagination":{"total_pages":0,"total_items":0}}`))
	}))
	defer srv.Close()

	res, err := newTestFetcher(t, srv.URL, &recordingSleeper{}).FetchAll(context.Background(), "by_day", 50)
	if err != nil {
		t.Fatalf("fetch all: %v", err)
	}
	if res.Status != StatusEmpty || len(res.Records) != 0 {
		t.Fatalf("expected empty result, got %s with %d records", res.Status, len(res.Records))
	}
}

func TestFetchAllContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(pageBody(1, 2)))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sleeper := SleeperFunc(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	})

	res, err := newTestFetcher(t, srv.URL, sleeper).FetchAll(ctx, "by_day", 50)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("records fetched before cancellation should be returned, got %d", len(res.Records))
	}
}

func TestNewFetcherRejectsPlaceholderKey(t *testing.T) {
	for _, key := range []string{"", config.PlaceholderAPIKey} {
		_, err := NewFetcher(Options{APIKey: key}, zerolog.Nop())
		var cfgErr *config.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("key %q: expected configuration error, got %v", key, err)
		}
	}
}

func TestRawRecordFlexibleNumbers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"timestamp":"2024-01-01T00:00:00Z","block_number":"42","issued":7000000000,"staked":"3000000000","accounts":null,"balance_holders":"9"}]}`))
	}))
	defer srv.Close()

	res, err := newTestFetcher(t, srv.URL, &recordingSleeper{}).FetchAll(context.Background(), "by_day", 50)
	if err != nil {
		t.Fatalf("fetch all: %v", err)
	}
	rec := res.Records[0]
	if rec.BlockNumber != 42 || rec.Issued != "7000000000" || rec.Staked != "3000000000" || rec.Accounts != 0 || rec.BalanceHolders != 9 {
		t.Fatalf("unexpected decode %+v", rec)
	}
	if res.Status != StatusComplete || res.TotalPages != 1 {
		t.Fatalf("missing pagination should mean a single page, got %s/%d", res.Status, res.TotalPages)
	}
}

func TestFlexIntRejectsLossyValues(t *testing.T) {
	accepted := map[string]FlexInt{`12`: 12, `"12"`: 12, `12.0`: 12, `"1e3"`: 1000, `null`: 0, `""`: 0}
	for input, want := range accepted {
		var got FlexInt
		if err := json.Unmarshal([]byte(input), &got); err != nil {
			t.Fatalf("%s: unexpected error %v", input, err)
		}
		if got != want {
			t.Fatalf("%s: expected %d, got %d", input, want, got)
		}
	}

	for _, input := range []string{`1.5`, `"2.25"`, `1e30`, `"-1e19"`, `"99999999999999999999"`, `"NaN"`, `"abc"`} {
		var got FlexInt
		err := json.Unmarshal([]byte(input), &got)
		if !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("%s: expected malformed response error, got %v (value %d)", input, err, got)
		}
	}
}

func TestFetchAllFractionalCountIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"timestamp":"2024-01-01T00:00:00Z","block_number":1,"issued":"1","staked":"1","accounts":10.5,"balance_holders":1}]}`))
	}))
	defer srv.Close()

	_, err := newTestFetcher(t, srv.URL, &recordingSleeper{}).FetchAll(context.Background(), "by_day", 50)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected malformed response error, got %v", err)
	}
}
