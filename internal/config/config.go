// Package config loads and validates the service configuration. Settings
// come from an optional YAML file with environment variables layered on
// top, so containerized deployments can run without any file at all.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Sources  SourcesConfig  `yaml:"sources"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig tunes the HTTP listener.
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ReadTimeoutS    int    `yaml:"read_timeout_s"`
	WriteTimeoutS   int    `yaml:"write_timeout_s"`
	IdleTimeoutS    int    `yaml:"idle_timeout_s"`
	RequestTimeoutS int    `yaml:"request_timeout_s"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxConns        int    `yaml:"max_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnLifetimeMin int    `yaml:"conn_lifetime_min"`
}

// RedisConfig holds the optional price-mirror settings.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
	TTLSecs int    `yaml:"ttl_secs"`
}

// OracleConfig tunes the aggregation engine.
type OracleConfig struct {
	Symbols               []string `yaml:"symbols"`
	FeedsFile             string   `yaml:"feeds_file"`
	CacheTTLMS            int      `yaml:"cache_ttl_ms"`
	PollIntervalMS        int      `yaml:"poll_interval_ms"`
	SymbolGapMS           int      `yaml:"symbol_gap_ms"`
	StalenessMaxS         int      `yaml:"staleness_max_s"`
	DeviationMax          float64  `yaml:"deviation_max"`
	ManipulationThreshold float64  `yaml:"manipulation_threshold"`
	PriceMax              float64  `yaml:"price_max"`
	BlendWindowMin        int      `yaml:"blend_window_min"`
	SubscriberBuffer      int      `yaml:"subscriber_buffer"`
}

// SourcesConfig lists the upstream oracle endpoints.
type SourcesConfig struct {
	Pyth        SourceEndpoint `yaml:"pyth"`
	Switchboard SourceEndpoint `yaml:"switchboard"`
}

// SourceEndpoint tunes one upstream adapter.
type SourceEndpoint struct {
	Enabled       bool   `yaml:"enabled"`
	BaseURL       string `yaml:"base_url"`
	TimeoutMS     int    `yaml:"timeout_ms"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	MinGapMS      int    `yaml:"min_gap_ms"`
}

// LogConfig tunes zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the production defaults. Both upstreams are enabled
// against their public endpoints.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			ReadTimeoutS:    10,
			WriteTimeoutS:   15,
			IdleTimeoutS:    60,
			RequestTimeoutS: 10,
		},
		Database: DatabaseConfig{
			MaxConns:        10,
			MaxIdleConns:    5,
			ConnLifetimeMin: 30,
		},
		Redis: RedisConfig{
			TTLSecs: 60,
		},
		Oracle: OracleConfig{
			Symbols:               []string{"BTC/USD", "ETH/USD", "SOL/USD"},
			CacheTTLMS:            250,
			PollIntervalMS:        250,
			SymbolGapMS:           10,
			StalenessMaxS:         30,
			DeviationMax:          0.05,
			ManipulationThreshold: 0.70,
			PriceMax:              10_000_000,
			BlendWindowMin:        60,
			SubscriberBuffer:      1000,
		},
		Sources: SourcesConfig{
			Pyth:        SourceEndpoint{Enabled: true, TimeoutMS: 10_000},
			Switchboard: SourceEndpoint{Enabled: true, TimeoutMS: 10_000},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults, layers environment
// overrides on top and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyEnv layers the supported environment variables over the file values.
func (c *Config) applyEnv() error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("ORACLE_RPC_URL_PRIMARY"); v != "" {
		c.Sources.Pyth.BaseURL = v
	}
	if v := os.Getenv("ORACLE_RPC_URL_SECONDARY"); v != "" {
		c.Sources.Switchboard.BaseURL = v
	}
	if v := os.Getenv("ORACLE_SYMBOLS"); v != "" {
		c.Oracle.Symbols = SplitSymbols(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}

	intVars := []struct {
		name string
		dst  *int
	}{
		{"SERVER_PORT", &c.Server.Port},
		{"CACHE_TTL_MS", &c.Oracle.CacheTTLMS},
		{"POLL_INTERVAL_MS", &c.Oracle.PollIntervalMS},
		{"STALENESS_MAX_S", &c.Oracle.StalenessMaxS},
	}
	for _, v := range intVars {
		raw := os.Getenv(v.name)
		if raw == "" {
			continue
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", v.name, raw, err)
		}
		*v.dst = parsed
	}

	floatVars := []struct {
		name string
		dst  *float64
	}{
		{"MANIPULATION_THRESHOLD", &c.Oracle.ManipulationThreshold},
		{"DEVIATION_MAX", &c.Oracle.DeviationMax},
	}
	for _, v := range floatVars {
		raw := os.Getenv(v.name)
		if raw == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", v.name, raw, err)
		}
		*v.dst = parsed
	}
	return nil
}

// SplitSymbols parses a comma-separated symbol list, trimming blanks and
// normalizing to upper case.
func SplitSymbols(raw string) []string {
	var symbols []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			symbols = append(symbols, strings.ToUpper(s))
		}
	}
	return symbols
}

// Validate ensures the configuration is consistent.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 0 and 65535, got %d", c.Server.Port)
	}
	if len(c.Oracle.Symbols) == 0 {
		return fmt.Errorf("oracle symbols cannot be empty")
	}
	for _, s := range c.Oracle.Symbols {
		if !strings.Contains(s, "/") {
			return fmt.Errorf("symbol %q must be BASE/QUOTE", s)
		}
	}
	if c.Oracle.CacheTTLMS <= 0 {
		return fmt.Errorf("cache_ttl_ms must be positive, got %d", c.Oracle.CacheTTLMS)
	}
	if c.Oracle.PollIntervalMS <= 0 {
		return fmt.Errorf("poll_interval_ms must be positive, got %d", c.Oracle.PollIntervalMS)
	}
	if c.Oracle.StalenessMaxS <= 0 {
		return fmt.Errorf("staleness_max_s must be positive, got %d", c.Oracle.StalenessMaxS)
	}
	if c.Oracle.DeviationMax <= 0 || c.Oracle.DeviationMax >= 1 {
		return fmt.Errorf("deviation_max must be between 0 and 1, got %f", c.Oracle.DeviationMax)
	}
	if c.Oracle.ManipulationThreshold <= 0 || c.Oracle.ManipulationThreshold > 1 {
		return fmt.Errorf("manipulation_threshold must be between 0 and 1, got %f", c.Oracle.ManipulationThreshold)
	}
	if !c.Sources.Pyth.Enabled && !c.Sources.Switchboard.Enabled {
		return fmt.Errorf("at least one oracle source must be enabled")
	}
	return nil
}

// CacheTTL returns the price cache TTL as a time.Duration.
func (c *OracleConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMS) * time.Millisecond
}

// PollInterval returns the monitoring poll interval as a time.Duration.
func (c *OracleConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// SymbolGap returns the intra-tick fetch gap as a time.Duration.
func (c *OracleConfig) SymbolGap() time.Duration {
	return time.Duration(c.SymbolGapMS) * time.Millisecond
}

// StalenessMax returns the quote staleness bound as a time.Duration.
func (c *OracleConfig) StalenessMax() time.Duration {
	return time.Duration(c.StalenessMaxS) * time.Second
}

// BlendWindow returns the conservative-blend lookback as a time.Duration.
func (c *OracleConfig) BlendWindow() time.Duration {
	return time.Duration(c.BlendWindowMin) * time.Minute
}

// Timeout returns the per-request upstream timeout as a time.Duration.
func (s *SourceEndpoint) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// MinGap returns the minimum gap between upstream calls as a time.Duration.
func (s *SourceEndpoint) MinGap() time.Duration {
	return time.Duration(s.MinGapMS) * time.Millisecond
}

// ReadTimeout returns the listener read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutS) * time.Second
}

// WriteTimeout returns the listener write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutS) * time.Second
}

// IdleTimeout returns the keep-alive idle timeout as a time.Duration.
func (s *ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutS) * time.Second
}

// RequestTimeout returns the per-request deadline as a time.Duration.
func (s *ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutS) * time.Second
}

// TTL returns the Redis mirror TTL as a time.Duration.
func (r *RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLSecs) * time.Second
}
