package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TAOSTATS_STATS_API_KEY", "secret")

	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Name)
	assert.Equal(t, "by_day", cfg.Stats.Frequency)
	assert.Equal(t, 50, cfg.Stats.PageSize)
	assert.Equal(t, 3*time.Second, cfg.Stats.RequestDelay)
	assert.Equal(t, 3, cfg.Stats.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Stats.RateLimitBackoff)
	assert.Equal(t, "TAO22974-USD", cfg.Price.Ticker)
	assert.Equal(t, 500.0, cfg.Price.FallbackUSD)
	assert.Equal(t, 24*time.Hour, cfg.Cache.MaxAge)

	start, err := cfg.HistoryStart()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 3, 20, 0, 0, 0, 0, time.UTC), start)
}

func TestLoadLegacyCredentialEnv(t *testing.T) {
	t.Setenv("TAOSTATS_STATS_API_KEY", "")
	t.Setenv(LegacyAPIKeyEnv, "legacy-key")

	cfg, err := Load(writeConfig(t, "stats:\n  page_size: 10\n"))
	require.NoError(t, err)
	assert.Equal(t, "legacy-key", cfg.Stats.APIKey)
	assert.Equal(t, 10, cfg.Stats.PageSize)
}

func TestLoadRejectsPlaceholderCredential(t *testing.T) {
	t.Setenv("TAOSTATS_STATS_API_KEY", PlaceholderAPIKey)

	_, err := Load(writeConfig(t, "app:\n  name: test\n"))
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr), "expected configuration error, got %v", err)
	assert.Equal(t, "stats.api_key", cfgErr.Field)
}

func TestCheckCredential(t *testing.T) {
	var cfgErr *ConfigurationError
	assert.True(t, errors.As(CheckCredential(""), &cfgErr))
	assert.True(t, errors.As(CheckCredential("  "), &cfgErr))
	assert.True(t, errors.As(CheckCredential(PlaceholderAPIKey), &cfgErr))
	assert.NoError(t, CheckCredential("real-key"))
}

func TestValidateDatabaseDriver(t *testing.T) {
	t.Setenv("TAOSTATS_STATS_API_KEY", "secret")

	_, err := Load(writeConfig(t, "database:\n  driver: mysql\n  dsn: x\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "database:\n  driver: sqlite\n"))
	require.Error(t, err, "sqlite without dsn should be rejected")

	cfg, err := Load(writeConfig(t, "database:\n  driver: sqlite\n  dsn: file.db\n"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestValidateRejectsZeroRetries(t *testing.T) {
	t.Setenv("TAOSTATS_STATS_API_KEY", "secret")

	_, err := Load(writeConfig(t, "stats:\n  max_retries: 0\n"))
	require.ErrorContains(t, err, "stats.max_retries")
}
