package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/oraclerun/internal/oracle"
)

const (
	// DefaultPythBaseURL is the public Hermes endpoint.
	DefaultPythBaseURL = "https://hermes.pyth.network"

	// DefaultTimeout bounds one upstream attempt.
	DefaultTimeout = 10 * time.Second

	// DefaultUserAgent identifies this service to upstreams.
	DefaultUserAgent = "OracleRun/1.0"
)

// DefaultPythFeeds maps symbols to Pyth price-feed identifiers.
func DefaultPythFeeds() map[string]string {
	return map[string]string{
		"BTC/USD":  "f9c0172ba10dfa4d19088d94f5bf61d3b54d5bd7483a322a982e1373ee8ea31b",
		"ETH/USD":  "ca80ba6dc32e08d06f1aa886011eed1d77c77be9eb761cc10d72b7d0a2fd57a6",
		"SOL/USD":  "7UVimffxr9ow1uXYxsr4LHAcV58mLzhmwaeKvJ1pjLiE",
		"AVAX/USD": "93DA3b71E5B3b93c47266eaBca3992b073Ce6b6B",
		"BNB/USD":  "2f95862b045670cd22bee3114c39763a4a08beeb663b145d283c31d7d1101c4f",
	}
}

// PythConfig tunes the HTTPS adapter. Zero values select the defaults.
type PythConfig struct {
	BaseURL       string
	Timeout       time.Duration
	UserAgent     string
	PriceMax      float64
	MaxConcurrent int
	MinGap        time.Duration
	Feeds         map[string]string // symbol -> feed id
}

// Pyth fetches price updates from a Pyth-style HTTPS endpoint. The upstream
// supports multi-symbol requests, so QuotesFor issues a single call for the
// whole batch.
type Pyth struct {
	cfg          PythConfig
	client       *http.Client
	guard        *Guard
	symbolByFeed map[string]string
}

// NewPyth builds the adapter, filling unset config fields with defaults.
func NewPyth(cfg PythConfig) *Pyth {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultPythBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.PriceMax <= 0 {
		cfg.PriceMax = oracle.DefaultPriceMax
	}
	if cfg.Feeds == nil {
		cfg.Feeds = DefaultPythFeeds()
	}

	symbolByFeed := make(map[string]string, len(cfg.Feeds))
	for symbol, feed := range cfg.Feeds {
		symbolByFeed[canonicalFeedID(feed)] = symbol
	}

	return &Pyth{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		guard:        NewGuard("pyth", cfg.MaxConcurrent, cfg.MinGap),
		symbolByFeed: symbolByFeed,
	}
}

func (p *Pyth) Name() string { return "pyth" }

// QuoteFor fetches a single symbol through the batch path.
func (p *Pyth) QuoteFor(ctx context.Context, symbol string) (oracle.Quote, error) {
	if _, ok := p.cfg.Feeds[symbol]; !ok {
		return oracle.Quote{}, oracle.NewError(oracle.KindUnknownSymbol, symbol, "no pyth feed mapping")
	}

	quotes, err := p.QuotesFor(ctx, []string{symbol})
	if err != nil {
		return oracle.Quote{}, err
	}
	for _, q := range quotes {
		if q.Symbol == symbol {
			return q, nil
		}
	}
	return oracle.Quote{}, oracle.NewError(oracle.KindSourceUnavailable, symbol, "feed missing from response")
}

// QuotesFor fetches all mapped symbols in one request. Unmapped symbols are
// skipped; the call fails only when no symbol could be served.
func (p *Pyth) QuotesFor(ctx context.Context, symbols []string) ([]oracle.Quote, error) {
	ids := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if feed, ok := p.cfg.Feeds[s]; ok {
			ids = append(ids, feed)
		}
	}
	if len(ids) == 0 {
		return nil, oracle.NewError(oracle.KindUnknownSymbol, "", "no pyth feed mapping for %v", symbols)
	}

	result, err := p.guard.Do(ctx, func(ctx context.Context) (interface{}, error) {
		return p.fetch(ctx, ids)
	})
	if err != nil {
		if oracle.KindOf(err) == "" {
			return nil, oracle.WrapError(oracle.KindSourceUnavailable, "", err)
		}
		return nil, err
	}
	return result.([]oracle.Quote), nil
}

type pythResponse struct {
	Parsed []pythFeed `json:"parsed"`
}

type pythFeed struct {
	ID    string    `json:"id"`
	Price pythPrice `json:"price"`
}

type pythPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

func (p *Pyth) fetch(ctx context.Context, ids []string) ([]oracle.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	params := url.Values{}
	for _, id := range ids {
		params.Add("ids[]", id)
	}
	params.Set("parsed", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.cfg.BaseURL+"/v2/updates/price/latest?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build pyth request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, oracle.WrapError(oracle.KindSourceUnavailable, "", fmt.Errorf("pyth request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, oracle.NewError(oracle.KindSourceUnavailable, "", "pyth status %d", resp.StatusCode)
	}

	var decoded pythResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, oracle.WrapError(oracle.KindSourceUnavailable, "", fmt.Errorf("decode pyth response: %w", err))
	}
	if len(decoded.Parsed) == 0 {
		return nil, oracle.NewError(oracle.KindSourceUnavailable, "", "empty parsed set")
	}

	quotes := make([]oracle.Quote, 0, len(decoded.Parsed))
	var lastErr error
	for _, feed := range decoded.Parsed {
		symbol, ok := p.symbolByFeed[canonicalFeedID(feed.ID)]
		if !ok {
			continue
		}

		q, err := p.normalizeFeed(symbol, feed)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("rejecting pyth feed")
			lastErr = err
			continue
		}
		quotes = append(quotes, q)
	}

	if len(quotes) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, oracle.NewError(oracle.KindSourceUnavailable, "", "no usable feeds in response")
	}
	return quotes, nil
}

func (p *Pyth) normalizeFeed(symbol string, feed pythFeed) (oracle.Quote, error) {
	mantissa, err := strconv.ParseInt(feed.Price.Price, 10, 64)
	if err != nil {
		return oracle.Quote{}, oracle.WrapError(oracle.KindInvalidQuote, symbol, fmt.Errorf("parse price: %w", err))
	}
	conf, err := strconv.ParseUint(feed.Price.Conf, 10, 64)
	if err != nil {
		return oracle.Quote{}, oracle.WrapError(oracle.KindInvalidQuote, symbol, fmt.Errorf("parse conf: %w", err))
	}

	ts := feed.Price.PublishTime
	if ts == 0 {
		ts = time.Now().Unix()
	}

	return oracle.Normalize(symbol, p.Name(), float64(mantissa), float64(conf), feed.Price.Expo, ts, p.cfg.PriceMax)
}

// canonicalFeedID tolerates 0x-prefixed and mixed-case identifiers.
func canonicalFeedID(id string) string {
	return strings.TrimPrefix(strings.ToLower(id), "0x")
}
