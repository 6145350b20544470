package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, []string{"BTC/USD", "ETH/USD", "SOL/USD"}, cfg.Oracle.Symbols)
	assert.True(t, cfg.Sources.Pyth.Enabled)
	assert.True(t, cfg.Sources.Switchboard.Enabled)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: 8080
oracle:
  symbols: ["BTC/USD"]
  manipulation_threshold: 0.5
sources:
  switchboard:
    enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"BTC/USD"}, cfg.Oracle.Symbols)
	assert.Equal(t, 0.5, cfg.Oracle.ManipulationThreshold)
	assert.False(t, cfg.Sources.Switchboard.Enabled)

	// Untouched fields keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 250, cfg.Oracle.CacheTTLMS)
	assert.True(t, cfg.Sources.Pyth.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://feeds:secret@db:5432/oracle")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("ORACLE_RPC_URL_PRIMARY", "https://hermes.example.net")
	t.Setenv("ORACLE_SYMBOLS", "btc/usd, eth/usd")
	t.Setenv("MANIPULATION_THRESHOLD", "0.55")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://feeds:secret@db:5432/oracle", cfg.Database.URL)
	assert.Equal(t, "redis://cache:6379/0", cfg.Redis.URL)
	assert.True(t, cfg.Redis.Enabled, "REDIS_URL implies the mirror is on")
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://hermes.example.net", cfg.Sources.Pyth.BaseURL)
	assert.Equal(t, []string{"BTC/USD", "ETH/USD"}, cfg.Oracle.Symbols)
	assert.Equal(t, 0.55, cfg.Oracle.ManipulationThreshold)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestEnvRejectsMalformedNumbers(t *testing.T) {
	t.Setenv("CACHE_TTL_MS", "soon")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CACHE_TTL_MS")
}

func TestValidateFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"negative_port", func(c *Config) { c.Server.Port = -1 }, "server port"},
		{"no_symbols", func(c *Config) { c.Oracle.Symbols = nil }, "symbols cannot be empty"},
		{"bare_symbol", func(c *Config) { c.Oracle.Symbols = []string{"BTCUSD"} }, "BASE/QUOTE"},
		{"zero_cache_ttl", func(c *Config) { c.Oracle.CacheTTLMS = 0 }, "cache_ttl_ms"},
		{"deviation_too_large", func(c *Config) { c.Oracle.DeviationMax = 1.5 }, "deviation_max"},
		{"threshold_zero", func(c *Config) { c.Oracle.ManipulationThreshold = 0 }, "manipulation_threshold"},
		{"all_sources_disabled", func(c *Config) {
			c.Sources.Pyth.Enabled = false
			c.Sources.Switchboard.Enabled = false
		}, "at least one oracle source"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestDurationGetters(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 250*time.Millisecond, cfg.Oracle.CacheTTL())
	assert.Equal(t, 250*time.Millisecond, cfg.Oracle.PollInterval())
	assert.Equal(t, 30*time.Second, cfg.Oracle.StalenessMax())
	assert.Equal(t, time.Hour, cfg.Oracle.BlendWindow())
	assert.Equal(t, 10*time.Second, cfg.Sources.Pyth.Timeout())
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout())
	assert.Equal(t, time.Minute, cfg.Redis.TTL())
}

func TestLoadFeedsConfig(t *testing.T) {
	path := writeFile(t, "feeds.yaml", `
feeds:
  BTC/USD:
    pyth_id: f9c0172ba10dfa4d19088d94f5bf61d3b54d5bd7483a322a982e1373ee8ea31b
    switchboard_account: 74YzQPGUT9VnjrBz8MuyDLKgKpbDqGot5xZJvTtMi6Ng
  ETH/USD:
    pyth_id: ca80ba6dc32e08d06f1aa886011eed1d77c77be9eb761cc10d72b7d0a2fd57a6
`)

	feeds, err := LoadFeedsConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC/USD", "ETH/USD"}, feeds.Symbols())
	assert.Len(t, feeds.PythFeeds(), 2)

	aggregators := feeds.SwitchboardAggregators()
	require.Len(t, aggregators, 1)
	assert.Equal(t, "74YzQPGUT9VnjrBz8MuyDLKgKpbDqGot5xZJvTtMi6Ng", aggregators["BTC/USD"])
}

func TestLoadFeedsConfigRejectsBadEntries(t *testing.T) {
	t.Run("no_upstream", func(t *testing.T) {
		path := writeFile(t, "feeds.yaml", "feeds:\n  BTC/USD: {}\n")
		_, err := LoadFeedsConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "names no upstream")
	})

	t.Run("bare_symbol", func(t *testing.T) {
		path := writeFile(t, "feeds.yaml", "feeds:\n  BTCUSD:\n    pyth_id: abc\n")
		_, err := LoadFeedsConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "BASE/QUOTE")
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := LoadFeedsConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read feeds config")
	})
}
