package price

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	DefaultYahooBaseURL = "https://query1.finance.yahoo.com"
	DefaultTicker       = "TAO22974-USD"
	defaultUserAgent    = "Mozilla/5.0"
)

// YahooOptions parameterise the Yahoo Finance chart feed.
type YahooOptions struct {
	BaseURL    string
	Ticker     string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Yahoo reads daily closes from the Yahoo Finance v8 chart endpoint.
type Yahoo struct {
	opts    YahooOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewYahoo constructs the feed.
func NewYahoo(opts YahooOptions, logger zerolog.Logger) *Yahoo {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.Ticker == "" {
		opts.Ticker = DefaultTicker
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = defaultUserAgent
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultYahooBaseURL
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	return &Yahoo{
		opts:    opts,
		logger:  logger.With().Str("component", "yahoo_feed").Logger(),
		client:  client,
		baseURL: baseURL,
	}
}

// LatestClose returns the regular market price, or the last daily close when absent.
func (y *Yahoo) LatestClose(ctx context.Context) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("range", "1d")

	result, err := y.chart(ctx, params)
	if err != nil {
		return decimal.Decimal{}, err
	}

	if p := result.Get("meta.regularMarketPrice"); p.Exists() && p.Float() > 0 {
		return decimal.NewFromFloat(p.Float()), nil
	}

	series := closes(result)
	if len(series) == 0 {
		return decimal.Decimal{}, errors.New("yahoo: no price data")
	}
	dates := series.Dates()
	return series[dates[len(dates)-1]], nil
}

// DailyCloses returns closes for days in [from, to).
func (y *Yahoo) DailyCloses(ctx context.Context, from, to time.Time) (Series, error) {
	if !from.Before(to) {
		return Series{}, nil
	}

	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("period1", strconv.FormatInt(from.UTC().Unix(), 10))
	params.Set("period2", strconv.FormatInt(to.UTC().Unix(), 10))

	result, err := y.chart(ctx, params)
	if err != nil {
		return nil, err
	}

	series := closes(result)
	for d := range series {
		if d.Time().Before(DateOf(from).Time()) || !d.Time().Before(to.UTC()) {
			delete(series, d)
		}
	}
	return series, nil
}

func (y *Yahoo) chart(ctx context.Context, params url.Values) (gjson.Result, error) {
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.baseURL, url.PathEscape(y.opts.Ticker), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create yahoo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", y.opts.UserAgent)

	resp, err := y.client.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("yahoo: status %d, body: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, errors.New("yahoo: invalid json payload")
	}

	doc := gjson.ParseBytes(body)
	if desc := doc.Get("chart.error.description"); desc.Exists() && desc.String() != "" {
		return gjson.Result{}, fmt.Errorf("yahoo api error: %s", desc.String())
	}

	result := doc.Get("chart.result.0")
	if !result.Exists() {
		return gjson.Result{}, errors.New("yahoo: no chart result")
	}

	y.logger.Debug().Str("ticker", y.opts.Ticker).Int("bytes", len(body)).Msg("chart fetched")
	return result, nil
}

// closes extracts non-null daily closes keyed by UTC day.
func closes(result gjson.Result) Series {
	timestamps := result.Get("timestamp").Array()
	values := result.Get("indicators.quote.0.close").Array()

	series := make(Series, len(timestamps))
	for i, ts := range timestamps {
		if i >= len(values) {
			break
		}
		v := values[i]
		if v.Type != gjson.Number || v.Float() <= 0 {
			continue
		}
		series[DateOf(time.Unix(ts.Int(), 0))] = decimal.NewFromFloat(v.Float())
	}
	return series
}

var _ Feed = (*Yahoo)(nil)
