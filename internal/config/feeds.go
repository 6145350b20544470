package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	yamlv2 "gopkg.in/yaml.v2"
)

// FeedsConfig maps symbols to their upstream feed identifiers. When no
// feeds file is configured the adapters fall back to their built-in
// mappings.
type FeedsConfig struct {
	Feeds map[string]Feed `yaml:"feeds"`
}

// Feed names one symbol's identifiers on each upstream. Either identifier
// may be empty when the symbol is not listed there.
type Feed struct {
	PythID             string `yaml:"pyth_id"`
	SwitchboardAccount string `yaml:"switchboard_account"`
}

// LoadFeedsConfig loads the feed registry from a YAML file.
func LoadFeedsConfig(path string) (*FeedsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feeds config: %w", err)
	}

	var cfg FeedsConfig
	if err := yamlv2.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse feeds config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid feeds config: %w", err)
	}
	return &cfg, nil
}

// Validate ensures every feed names at least one upstream.
func (c *FeedsConfig) Validate() error {
	if len(c.Feeds) == 0 {
		return fmt.Errorf("feeds cannot be empty")
	}
	for symbol, feed := range c.Feeds {
		if !strings.Contains(symbol, "/") {
			return fmt.Errorf("feed symbol %q must be BASE/QUOTE", symbol)
		}
		if feed.PythID == "" && feed.SwitchboardAccount == "" {
			return fmt.Errorf("feed %s names no upstream identifier", symbol)
		}
	}
	return nil
}

// Symbols returns the registered symbols in sorted order.
func (c *FeedsConfig) Symbols() []string {
	symbols := make([]string, 0, len(c.Feeds))
	for s := range c.Feeds {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// PythFeeds returns the symbol to Pyth feed-id mapping, skipping symbols
// not listed on Pyth.
func (c *FeedsConfig) PythFeeds() map[string]string {
	out := make(map[string]string, len(c.Feeds))
	for symbol, feed := range c.Feeds {
		if feed.PythID != "" {
			out[symbol] = feed.PythID
		}
	}
	return out
}

// SwitchboardAggregators returns the symbol to aggregator-account mapping,
// skipping symbols not listed on Switchboard.
func (c *FeedsConfig) SwitchboardAggregators() map[string]string {
	out := make(map[string]string, len(c.Feeds))
	for symbol, feed := range c.Feeds {
		if feed.SwitchboardAccount != "" {
			out[symbol] = feed.SwitchboardAccount
		}
	}
	return out
}
