package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tao-supply-stats/internal/alerting"
	"tao-supply-stats/internal/config"
	"tao-supply-stats/internal/normalize"
	"tao-supply-stats/internal/pipeline"
	"tao-supply-stats/internal/price"
	"tao-supply-stats/internal/pricecache"
	"tao-supply-stats/internal/stats"
	"tao-supply-stats/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	now func() time.Time
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), now: time.Now}
}

func (a *App) newFetcher() (*stats.Fetcher, error) {
	cfg := a.Config.Stats
	return stats.NewFetcher(stats.Options{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		RequestDelay:      cfg.RequestDelay,
		MaxRetries:        cfg.MaxRetries,
		RateLimitBackoff:  cfg.RateLimitBackoff,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Timeout:           cfg.RequestTimeout,
		UserAgent:         cfg.UserAgent,
	}, a.Logger)
}

func (a *App) newPriceSource() price.Source {
	cfg := a.Config.Price
	feed := price.NewYahoo(price.YahooOptions{
		BaseURL:   cfg.BaseURL,
		Ticker:    cfg.Ticker,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.RequestTimeout,
	}, a.Logger)

	start, _ := a.Config.HistoryStart()
	return price.WithFallback(feed, price.FallbackOptions{
		FallbackUSD:  decimal.NewFromFloat(cfg.FallbackUSD),
		HistoryStart: start,
	}, a.Logger)
}

func (a *App) newCache() *pricecache.Cache {
	return pricecache.New(a.newPriceSource(), pricecache.Options{
		Dir:    a.Config.Cache.Dir,
		MaxAge: a.Config.Cache.MaxAge,
		Keep:   a.Config.Cache.KeepSnapshots,
	}, a.Logger)
}

func (a *App) newNormalizer() *normalize.Normalizer {
	return normalize.New(normalize.Options{}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

// openSink returns a nil sink and no error when no database is configured.
func (a *App) openSink(ctx context.Context) (storage.Sink, error) {
	sink, err := storage.Open(ctx, a.Config.Database, a.Logger)
	if errors.Is(err, storage.ErrNotConfigured) {
		return nil, nil
	}
	return sink, err
}

func (a *App) newPipeline(opts RunOptions, sink storage.Sink) (*pipeline.Pipeline, error) {
	fetcher, err := a.newFetcher()
	if err != nil {
		return nil, err
	}

	var cache pipeline.PriceCache
	if opts.WithUSD {
		cache = a.newCache()
	}

	frequency := opts.Frequency
	if frequency == "" {
		frequency = a.Config.Stats.Frequency
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = a.Config.Stats.PageSize
	}

	return pipeline.New(pipeline.Options{
		Frequency: frequency,
		PageSize:  pageSize,
		WithUSD:   opts.WithUSD,
	}, fetcher, cache, a.newNormalizer(), sink, a.Logger), nil
}

// RunOptions configure a pipeline run.
type RunOptions struct {
	WithUSD   bool
	Frequency string
	PageSize  int
	Chart     bool
}

// PricesOptions configure the prices command.
type PricesOptions struct {
	From *time.Time
	To   *time.Time
}

// DatasetOptions select a dataset file; an empty path means the newest in output.dir.
type DatasetOptions struct {
	CSVPath string
}

// RepriceOptions configure the reprice command.
type RepriceOptions struct {
	CSVPath string
	Force   bool
	Chart   bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Days int
}

// BackfillOptions configure loading a dataset into the database sink.
type BackfillOptions struct {
	CSVPath string
	DryRun  bool
}
