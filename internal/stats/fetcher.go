package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tao-supply-stats/internal/config"
)

const (
	DefaultBaseURL   = "https://api.taostats.io/api/stats/history/v1"
	DefaultFrequency = "by_day"
	DefaultPageSize  = 50

	defaultUserAgent = "taostats/1.0"
)

// Sleeper blocks for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep implements Sleeper.
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Options parameterise the history API client. MaxRetries is the attempt
// budget per page and defaults to 3 when unset.
type Options struct {
	BaseURL          string
	APIKey           string
	RequestDelay     time.Duration
	MaxRetries       int
	RateLimitBackoff time.Duration
	// RequestsPerMinute caps outgoing requests; zero disables the limiter.
	RequestsPerMinute int
	Timeout           time.Duration
	UserAgent         string
	HTTPClient        *http.Client
	Sleeper           Sleeper
}

// Fetcher pages through the supply history endpoint.
type Fetcher struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	sleeper Sleeper
	limiter *rate.Limiter
}

// NewFetcher validates the credential and constructs a fetcher.
func NewFetcher(opts Options, logger zerolog.Logger) (*Fetcher, error) {
	if err := config.CheckCredential(opts.APIKey); err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = defaultUserAgent
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = SleeperFunc(contextSleep)
	}

	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}

	return &Fetcher{
		opts:    opts,
		logger:  logger.With().Str("component", "stats_fetcher").Logger(),
		client:  client,
		baseURL: baseURL,
		sleeper: sleeper,
		limiter: limiter,
	}, nil
}

// FetchAll walks every page of the history. Exhausted retries end the walk
// with the records gathered so far and a Partial status, not an error.
func (f *Fetcher) FetchAll(ctx context.Context, frequency string, pageSize int) (FetchResult, error) {
	if frequency == "" {
		frequency = DefaultFrequency
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var result FetchResult
	for page := 1; ; page++ {
		resp, err := f.fetchPage(ctx, frequency, page, pageSize)
		if err != nil {
			if errors.Is(err, ErrRetriesExhausted) {
				result.LastErr = err
				result.Status = StatusEmpty
				if len(result.Records) > 0 {
					result.Status = StatusPartial
				}
				f.logger.Warn().Err(err).Int("page", page).Int("records", len(result.Records)).Msg("abandoning fetch with partial history")
				return result, nil
			}
			return result, err
		}

		if len(resp.Data) == 0 {
			f.logger.Info().Int("page", page).Msg("no more data")
			result.Status = statusFor(result.Records)
			return result, nil
		}

		result.Records = append(result.Records, resp.Data...)
		result.Pages = page

		totalPages := 1
		if resp.Pagination != nil {
			totalPages = int(resp.Pagination.TotalPages)
			result.TotalItems = int(resp.Pagination.TotalItems)
		}
		result.TotalPages = totalPages

		f.logger.Info().
			Int("page", page).
			Int("total_pages", totalPages).
			Int("page_records", len(resp.Data)).
			Int("records", len(result.Records)).
			Msg("fetched stats page")

		if page >= totalPages {
			result.Status = StatusComplete
			return result, nil
		}

		if err := f.sleeper.Sleep(ctx, f.opts.RequestDelay); err != nil {
			return result, err
		}
	}
}

func statusFor(records []RawRecord) Status {
	if len(records) == 0 {
		return StatusEmpty
	}
	return StatusComplete
}

// fetchPage retries one page. Unauthorized and malformed responses are not retried.
func (f *Fetcher) fetchPage(ctx context.Context, frequency string, page, pageSize int) (*pageResponse, error) {
	var lastErr error
	for attempt := 0; attempt < f.opts.MaxRetries; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := f.request(ctx, frequency, page, pageSize)
		if err == nil {
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrMalformedResponse) {
			return nil, err
		}

		lastErr = err
		if attempt == f.opts.MaxRetries-1 {
			break
		}

		wait := f.backoff(err, attempt)
		f.logger.Warn().
			Err(err).
			Int("page", page).
			Int("attempt", attempt+1).
			Dur("wait", wait).
			Msg("stats request failed, retrying")

		if err := f.sleeper.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("page %d after %d attempts: %w: %w", page, f.opts.MaxRetries, ErrRetriesExhausted, lastErr)
}

// backoff is rate_limit_backoff + 2^attempt seconds after a 429, else 2^attempt seconds.
func (f *Fetcher) backoff(err error, attempt int) time.Duration {
	wait := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	var se *statusError
	if errors.As(err, &se) && se.Code == http.StatusTooManyRequests {
		wait += f.opts.RateLimitBackoff
	}
	return wait
}

func (f *Fetcher) request(ctx context.Context, frequency string, page, pageSize int) (*pageResponse, error) {
	params := url.Values{}
	params.Set("frequency", frequency)
	params.Set("page", strconv.Itoa(page))
	params.Set("limit", strconv.Itoa(pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create stats request: %w", err)
	}
	req.Header.Set("Authorization", f.opts.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stats fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("stats read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var payload pageResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", ErrMalformedResponse, page, err)
	}
	return &payload, nil
}

type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("stats api error (%d)", e.Code)
	}
	return fmt.Sprintf("stats api error (%d): %s", e.Code, e.Body)
}
