package source

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/oraclerun/internal/oracle"
)

// DefaultSwitchboardAggregators maps symbols to on-chain aggregator accounts.
func DefaultSwitchboardAggregators() map[string]string {
	return map[string]string{
		"BTC/USD":  "74YzQPGUT9VnjrBz8MuyDLKgKpbDqGot5xZJvTtMi6Ng",
		"ETH/USD":  "HNStfhaLnqwF2ZtJUizaA9uHDAVB976r2AgTUx9LrdEo",
		"SOL/USD":  "GvDMxPzN1sCj7L26YDK2HnMRXEQmQ2aemov8YBtPS7vR",
		"AVAX/USD": "Axk7bZGJn5V6MjJHwRKRCgTcXJj3h9J8p7NQwV1x2HSx",
	}
}

// DefaultSwitchboardRPCURL is the public Solana mainnet RPC endpoint.
const DefaultSwitchboardRPCURL = "https://api.mainnet-beta.solana.com"

// DefaultRoundStalenessMax is how old an aggregator round may be before the
// adapter refuses it.
const DefaultRoundStalenessMax = 30 * time.Second

// confidenceShare is the confidence band this upstream is assumed to carry,
// as a fraction of price; the account layout does not publish one.
const confidenceShare = 0.001

// Aggregator account layout: an 8-byte discriminator, then the latest
// confirmed round result as little-endian (mantissa u128, scale u32,
// round_open_timestamp i64).
const (
	sbDiscriminatorLen = 8
	sbMantissaOffset   = sbDiscriminatorLen
	sbScaleOffset      = sbMantissaOffset + 16
	sbRoundTSOffset    = sbScaleOffset + 4
	sbMinAccountLen    = sbRoundTSOffset + 8
)

// SwitchboardConfig tunes the JSON-RPC adapter. Zero values select defaults.
type SwitchboardConfig struct {
	RPCURL        string
	Timeout       time.Duration
	UserAgent     string
	PriceMax      float64
	StalenessMax  time.Duration
	MaxConcurrent int
	MinGap        time.Duration
	Aggregators   map[string]string // symbol -> account address
}

// Switchboard reads aggregator accounts over JSON-RPC and decodes the binary
// round payload. The upstream serves one account per request, so batches are
// fetched sequentially under the guard.
type Switchboard struct {
	cfg    SwitchboardConfig
	client *http.Client
	guard  *Guard
}

// NewSwitchboard builds the adapter, filling unset config fields with
// defaults.
func NewSwitchboard(cfg SwitchboardConfig) *Switchboard {
	if cfg.RPCURL == "" {
		cfg.RPCURL = DefaultSwitchboardRPCURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.PriceMax <= 0 {
		cfg.PriceMax = oracle.DefaultPriceMax
	}
	if cfg.StalenessMax <= 0 {
		cfg.StalenessMax = DefaultRoundStalenessMax
	}
	if cfg.Aggregators == nil {
		cfg.Aggregators = DefaultSwitchboardAggregators()
	}

	return &Switchboard{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		guard: NewGuard("switchboard", cfg.MaxConcurrent, cfg.MinGap),
	}
}

func (s *Switchboard) Name() string { return "switchboard" }

// QuoteFor reads and decodes one aggregator account.
func (s *Switchboard) QuoteFor(ctx context.Context, symbol string) (oracle.Quote, error) {
	address, ok := s.cfg.Aggregators[symbol]
	if !ok {
		return oracle.Quote{}, oracle.NewError(oracle.KindUnknownSymbol, symbol, "no switchboard aggregator mapping")
	}

	result, err := s.guard.Do(ctx, func(ctx context.Context) (interface{}, error) {
		return s.fetch(ctx, symbol, address)
	})
	if err != nil {
		if oracle.KindOf(err) == "" {
			return oracle.Quote{}, oracle.WrapError(oracle.KindSourceUnavailable, symbol, err)
		}
		return oracle.Quote{}, err
	}
	return result.(oracle.Quote), nil
}

// QuotesFor fetches symbols one account at a time and returns the subset
// that succeeded. It fails only when every symbol failed.
func (s *Switchboard) QuotesFor(ctx context.Context, symbols []string) ([]oracle.Quote, error) {
	quotes := make([]oracle.Quote, 0, len(symbols))
	var lastErr error
	for _, symbol := range symbols {
		q, err := s.QuoteFor(ctx, symbol)
		if err != nil {
			log.Debug().Err(err).Str("symbol", symbol).Msg("switchboard fetch failed")
			lastErr = err
			continue
		}
		quotes = append(quotes, q)
	}
	if len(quotes) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, oracle.NewError(oracle.KindSourceUnavailable, "", "no symbols requested")
	}
	return quotes, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result *rpcResult `json:"result"`
	Error  *rpcError  `json:"error"`
}

type rpcResult struct {
	Value *rpcAccount `json:"value"`
}

type rpcAccount struct {
	Data []string `json:"data"` // [payload, encoding]
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Switchboard) fetch(ctx context.Context, symbol, address string) (oracle.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getAccountInfo",
		Params: []interface{}{
			address,
			map[string]string{"encoding": "base64", "commitment": "finalized"},
		},
	})
	if err != nil {
		return oracle.Quote{}, fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.RPCURL, bytes.NewReader(body))
	if err != nil {
		return oracle.Quote{}, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return oracle.Quote{}, oracle.WrapError(oracle.KindSourceUnavailable, symbol, fmt.Errorf("switchboard request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return oracle.Quote{}, oracle.NewError(oracle.KindSourceUnavailable, symbol, "switchboard status %d", resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return oracle.Quote{}, oracle.WrapError(oracle.KindSourceUnavailable, symbol, fmt.Errorf("decode rpc response: %w", err))
	}
	if decoded.Error != nil {
		return oracle.Quote{}, oracle.NewError(oracle.KindSourceUnavailable, symbol, "rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	if decoded.Result == nil || decoded.Result.Value == nil || len(decoded.Result.Value.Data) == 0 {
		return oracle.Quote{}, oracle.NewError(oracle.KindSourceUnavailable, symbol, "aggregator account not found")
	}

	raw, err := base64.StdEncoding.DecodeString(decoded.Result.Value.Data[0])
	if err != nil {
		return oracle.Quote{}, oracle.WrapError(oracle.KindSourceUnavailable, symbol, fmt.Errorf("decode account payload: %w", err))
	}

	return s.decodeRound(symbol, raw)
}

func (s *Switchboard) decodeRound(symbol string, raw []byte) (oracle.Quote, error) {
	if len(raw) < sbMinAccountLen {
		return oracle.Quote{}, oracle.NewError(oracle.KindSourceUnavailable, symbol, "account payload too short: %d bytes", len(raw))
	}

	lo := binary.LittleEndian.Uint64(raw[sbMantissaOffset:])
	hi := binary.LittleEndian.Uint64(raw[sbMantissaOffset+8:])
	scale := binary.LittleEndian.Uint32(raw[sbScaleOffset:])
	roundTS := int64(binary.LittleEndian.Uint64(raw[sbRoundTSOffset:]))

	if age := time.Since(time.Unix(roundTS, 0)); age > s.cfg.StalenessMax {
		return oracle.Quote{}, oracle.NewError(oracle.KindPriceDataStale, symbol, "round is %s old", age.Truncate(time.Second))
	}

	// 2^64 spills past float64 integer precision; acceptable for a
	// double-precision consensus pipeline.
	mantissa := float64(hi)*math.Pow(2, 64) + float64(lo)

	return oracle.Normalize(symbol, s.Name(), mantissa, mantissa*confidenceShare, -int32(scale), roundTS, s.cfg.PriceMax)
}
