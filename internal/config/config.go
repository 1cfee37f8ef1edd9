package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"tao-supply-stats/internal/logging"
)

// PlaceholderAPIKey is the value shipped in sample configs.
const PlaceholderAPIKey = "your-api-key-here"

// LegacyAPIKeyEnv is the variable older deployments export the credential under.
const LegacyAPIKeyEnv = "TAO_STATS_API_KEY"

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Stats     StatsConfig     `mapstructure:"stats"`
	Price     PriceConfig     `mapstructure:"price"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Output    OutputConfig    `mapstructure:"output"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StatsConfig covers the supply statistics API.
type StatsConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Frequency         string        `mapstructure:"frequency"`
	PageSize          int           `mapstructure:"page_size"`
	RequestDelay      time.Duration `mapstructure:"request_delay"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RateLimitBackoff  time.Duration `mapstructure:"rate_limit_backoff"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// PriceConfig covers the market-data feed.
type PriceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Ticker         string        `mapstructure:"ticker"`
	HistoryStart   string        `mapstructure:"history_start"`
	FallbackUSD    float64       `mapstructure:"fallback_usd"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// CacheConfig governs price snapshot files.
type CacheConfig struct {
	Dir           string        `mapstructure:"dir"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	KeepSnapshots int           `mapstructure:"keep_snapshots"`
}

// OutputConfig governs dataset and chart files.
type OutputConfig struct {
	Dir         string `mapstructure:"dir"`
	Chart       bool   `mapstructure:"chart"`
	ChartWidth  int    `mapstructure:"chart_width"`
	ChartHeight int    `mapstructure:"chart_height"`
}

// DatabaseConfig encapsulates the optional SQL sink.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs the watch loop cadence.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	Cron          string        `mapstructure:"cron"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
}

// AlertingConfig defines run report routing.
type AlertingConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram notifier.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ConfigurationError reports an unusable configuration value. It is fatal at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
}

// CheckCredential rejects empty and placeholder API keys.
func CheckCredential(apiKey string) error {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return &ConfigurationError{Field: "stats.api_key", Reason: "is required (set TAOSTATS_STATS_API_KEY or " + LegacyAPIKeyEnv + ")"}
	}
	if key == PlaceholderAPIKey {
		return &ConfigurationError{Field: "stats.api_key", Reason: "still holds the placeholder value"}
	}
	return nil
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("TAOSTATS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Stats.APIKey == "" {
		cfg.Stats.APIKey = os.Getenv(LegacyAPIKeyEnv)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "taostats")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("stats.base_url", "https://api.taostats.io/api/stats/history/v1")
	v.SetDefault("stats.api_key", "")
	v.SetDefault("stats.frequency", "by_day")
	v.SetDefault("stats.page_size", 50)
	v.SetDefault("stats.request_delay", "3s")
	v.SetDefault("stats.max_retries", 3)
	v.SetDefault("stats.rate_limit_backoff", "5s")
	v.SetDefault("stats.requests_per_minute", 0)
	v.SetDefault("stats.request_timeout", "30s")
	v.SetDefault("stats.user_agent", "taostats/1.0")

	v.SetDefault("price.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("price.ticker", "TAO22974-USD")
	v.SetDefault("price.history_start", "2023-03-20")
	v.SetDefault("price.fallback_usd", 500.0)
	v.SetDefault("price.request_timeout", "30s")
	v.SetDefault("price.user_agent", "Mozilla/5.0")

	v.SetDefault("cache.dir", ".")
	v.SetDefault("cache.max_age", "24h")
	v.SetDefault("cache.keep_snapshots", 0)

	v.SetDefault("output.dir", ".")
	v.SetDefault("output.chart", true)
	v.SetDefault("output.chart_width", 1800)
	v.SetDefault("output.chart_height", 1500)

	v.SetDefault("database.driver", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.cron", "")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if err := CheckCredential(c.Stats.APIKey); err != nil {
		return err
	}
	if strings.TrimSpace(c.Stats.BaseURL) == "" {
		return &ConfigurationError{Field: "stats.base_url", Reason: "is required"}
	}
	if c.Stats.PageSize <= 0 {
		return fmt.Errorf("stats.page_size must be greater than zero")
	}
	if c.Stats.MaxRetries <= 0 {
		return fmt.Errorf("stats.max_retries must be greater than zero")
	}
	if c.Stats.RequestDelay < 0 || c.Stats.RateLimitBackoff < 0 {
		return fmt.Errorf("stats.request_delay and stats.rate_limit_backoff cannot be negative")
	}
	if c.Stats.RequestsPerMinute < 0 {
		return fmt.Errorf("stats.requests_per_minute cannot be negative")
	}
	if _, err := c.HistoryStart(); err != nil {
		return fmt.Errorf("price.history_start: %w", err)
	}
	if c.Price.FallbackUSD < 0 {
		return fmt.Errorf("price.fallback_usd cannot be negative")
	}
	if c.Cache.MaxAge <= 0 {
		return fmt.Errorf("cache.max_age must be greater than zero")
	}
	if c.Cache.KeepSnapshots < 0 {
		return fmt.Errorf("cache.keep_snapshots cannot be negative")
	}
	switch c.Database.Driver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres, sqlite or empty, got %q", c.Database.Driver)
	}
	if c.Database.Driver != "" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database.driver is set")
	}
	if c.Scheduler.Cron == "" && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero when scheduler.cron is empty")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// HistoryStart parses price.history_start; empty means the feed default.
func (c *Config) HistoryStart() (time.Time, error) {
	if strings.TrimSpace(c.Price.HistoryStart) == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", strings.TrimSpace(c.Price.HistoryStart))
}
