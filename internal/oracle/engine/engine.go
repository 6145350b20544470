// Package engine coordinates the oracle source adapters into a single
// validated price stream per symbol: poll, reconcile, score, validate,
// blend, publish.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/oraclerun/internal/oracle"
	"github.com/sawpanic/oraclerun/internal/oracle/cache"
	"github.com/sawpanic/oraclerun/internal/oracle/manip"
	"github.com/sawpanic/oraclerun/internal/oracle/source"
	"github.com/sawpanic/oraclerun/internal/persistence"
)

// probeSymbol is used for on-demand adapter health probes.
const probeSymbol = "BTC/USD"

// DefaultSymbols are monitored when the configuration names none.
var DefaultSymbols = []string{"BTC/USD", "ETH/USD", "SOL/USD"}

// Config carries the engine tunables. Zero values select the defaults.
type Config struct {
	Symbols               []string
	CacheTTL              time.Duration
	PollInterval          time.Duration
	SymbolGap             time.Duration
	StalenessMax          time.Duration
	DeviationMax          float64
	ManipulationThreshold float64
	PriceMax              float64
	BlendWindow           time.Duration
	SubscriberBuffer      int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Symbols:               DefaultSymbols,
		CacheTTL:              cache.DefaultTTL,
		PollInterval:          250 * time.Millisecond,
		SymbolGap:             10 * time.Millisecond,
		StalenessMax:          oracle.DefaultStalenessMax,
		DeviationMax:          0.05,
		ManipulationThreshold: 0.70,
		PriceMax:              oracle.DefaultPriceMax,
		BlendWindow:           time.Hour,
		SubscriberBuffer:      DefaultSubscriberBuffer,
	}
}

// Sink receives every published price for mirroring to an external store.
// Sink failures are logged and never fail a tick.
type Sink interface {
	Publish(ctx context.Context, price oracle.AggregatedPrice) error
}

// Observer receives tick telemetry. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveTick(symbol, result string, elapsed time.Duration)
	ObserveScore(symbol string, score float64)
	ObserveSource(name string, latency time.Duration, err error)
	ObserveCache(stats cache.Stats)
}

type noopObserver struct{}

func (noopObserver) ObserveTick(string, string, time.Duration)  {}
func (noopObserver) ObserveScore(string, float64)               {}
func (noopObserver) ObserveSource(string, time.Duration, error) {}
func (noopObserver) ObserveCache(cache.Stats)                   {}

// ManipulationEvent is one threshold crossing found during report replay.
type ManipulationEvent struct {
	Timestamp         int64   `json:"timestamp"`
	Price             float64 `json:"price"`
	ManipulationScore float64 `json:"manipulation_score"`
	Confidence        float64 `json:"confidence"`
}

// ManipulationReport summarizes detector output replayed over persisted
// history rows.
type ManipulationReport struct {
	Symbol      string              `json:"symbol"`
	PeriodHours int                 `json:"period_hours"`
	DataPoints  int                 `json:"data_points"`
	Events      []ManipulationEvent `json:"manipulation_events"`
	LatestScore float64             `json:"latest_score"`
}

// Engine drives the aggregation pipeline.
type Engine struct {
	cfg     Config
	sources []source.Source
	history persistence.HistoryRepo
	sink    Sink
	obs     Observer

	recon    *oracle.Reconciler
	detector *manip.Detector
	cache    *cache.PriceCache
	bcast    *Broadcaster
	check    validator

	statsMu sync.Mutex
	stats   map[string]*sourceStats

	// pubMu orders the publish path so the broadcast stream, the cache and
	// the history store all observe the same per-symbol sequence.
	pubMu   sync.Mutex
	lastPub map[string]int64
}

// New assembles an engine. history is required; sink and obs may be nil.
func New(cfg Config, sources []source.Source, history persistence.HistoryRepo, sink Sink, obs Observer) *Engine {
	def := DefaultConfig()
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = def.Symbols
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.SymbolGap <= 0 {
		cfg.SymbolGap = def.SymbolGap
	}
	if cfg.StalenessMax <= 0 {
		cfg.StalenessMax = def.StalenessMax
	}
	if cfg.DeviationMax <= 0 {
		cfg.DeviationMax = def.DeviationMax
	}
	if cfg.ManipulationThreshold <= 0 {
		cfg.ManipulationThreshold = def.ManipulationThreshold
	}
	if cfg.PriceMax <= 0 {
		cfg.PriceMax = def.PriceMax
	}
	if cfg.BlendWindow <= 0 {
		cfg.BlendWindow = def.BlendWindow
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = def.SubscriberBuffer
	}
	if obs == nil {
		obs = noopObserver{}
	}

	recon := oracle.NewReconciler()
	recon.StalenessMax = cfg.StalenessMax

	return &Engine{
		cfg:      cfg,
		sources:  sources,
		history:  history,
		sink:     sink,
		obs:      obs,
		recon:    recon,
		detector: manip.NewDetector(),
		cache:    cache.New(cfg.CacheTTL),
		bcast:    NewBroadcaster(cfg.SubscriberBuffer),
		check: validator{
			deviationMax: cfg.DeviationMax,
			stalenessMax: cfg.StalenessMax,
			priceMax:     cfg.PriceMax,
		},
		stats:   make(map[string]*sourceStats),
		lastPub: make(map[string]int64),
	}
}

// ValidatedPrice returns the current aggregated price for the symbol,
// serving from cache within TTL and otherwise running one full tick.
func (e *Engine) ValidatedPrice(ctx context.Context, symbol string) (*oracle.AggregatedPrice, error) {
	start := time.Now()

	if price, ok := e.cache.Get(symbol); ok {
		e.obs.ObserveCache(e.cache.Stats())
		e.obs.ObserveTick(symbol, "cache_hit", time.Since(start))
		return &price, nil
	}
	e.obs.ObserveCache(e.cache.Stats())

	price, err := e.tick(ctx, symbol)
	if err != nil {
		e.obs.ObserveTick(symbol, tickResult(err), time.Since(start))
		return nil, err
	}
	e.obs.ObserveTick(symbol, "success", time.Since(start))
	return price, nil
}

func tickResult(err error) string {
	if kind := oracle.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}

func (e *Engine) tick(ctx context.Context, symbol string) (*oracle.AggregatedPrice, error) {
	quotes := e.poll(ctx, symbol)

	price, err := e.recon.Reconcile(symbol, quotes, time.Now())
	if err != nil {
		return nil, err
	}

	// The detector sees every reconciled mark, including marks that
	// validation rejects below.
	score := e.detector.Analyze(symbol, price.MarkPrice, price.Timestamp)
	e.obs.ObserveScore(symbol, score)

	if err := e.check.validate(*price, time.Now()); err != nil {
		return nil, err
	}

	if score > e.cfg.ManipulationThreshold {
		price = e.conservative(ctx, price, score)
	}

	// A canceled poll must not publish.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := e.publish(ctx, price, score); err != nil {
		return nil, err
	}
	return price, nil
}

// poll fans out to every source in parallel and collects the quotes that
// arrived. Per-source failures are logged and counted, not returned.
func (e *Engine) poll(ctx context.Context, symbol string) []oracle.Quote {
	type result struct {
		name  string
		quote oracle.Quote
		err   error
	}

	results := make(chan result, len(e.sources))
	for _, src := range e.sources {
		go func(src source.Source) {
			start := time.Now()
			quote, err := src.QuoteFor(ctx, symbol)
			elapsed := time.Since(start)
			e.stat(src.Name()).record(elapsed, err)
			e.obs.ObserveSource(src.Name(), elapsed, err)
			results <- result{name: src.Name(), quote: quote, err: err}
		}(src)
	}

	quotes := make([]oracle.Quote, 0, len(e.sources))
	for range e.sources {
		res := <-results
		if res.err != nil {
			log.Warn().
				Err(res.err).
				Str("symbol", symbol).
				Str("source", res.name).
				Msg("Failed to fetch price from source")
			continue
		}
		quotes = append(quotes, res.quote)
	}
	return quotes
}

// conservative blends the price toward the recent historical mean. Without
// history the original price passes through with a warning.
func (e *Engine) conservative(ctx context.Context, price *oracle.AggregatedPrice, score float64) *oracle.AggregatedPrice {
	log.Warn().
		Str("symbol", price.Symbol).
		Float64("score", score).
		Msg("High manipulation score detected")

	since := time.Now().Add(-e.cfg.BlendWindow)
	mean, err := e.history.AverageMark(ctx, price.Symbol, since)
	if err != nil {
		log.Warn().
			Err(err).
			Str("symbol", price.Symbol).
			Msg("Historical mean unavailable, publishing unblended price")
		return price
	}

	adjusted := *price
	adjusted.MarkPrice = price.MarkPrice*0.8 + mean*0.2
	adjusted.IndexPrice = price.IndexPrice*0.8 + mean*0.2
	adjusted.Confidence = price.Confidence * 1.5

	log.Info().
		Str("symbol", price.Symbol).
		Float64("from", price.MarkPrice).
		Float64("to", adjusted.MarkPrice).
		Msg("Applied conservative pricing")
	return &adjusted
}

// publish persists the price, updates the cache and emits the broadcast
// event. A persist failure fails the tick; nothing else runs after it.
func (e *Engine) publish(ctx context.Context, price *oracle.AggregatedPrice, score float64) error {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()

	// A concurrent caller may already have published a newer aggregation
	// for this symbol; keep the stream monotone and skip this one.
	if last, ok := e.lastPub[price.Symbol]; ok && price.Timestamp < last {
		log.Debug().Str("symbol", price.Symbol).Msg("Skipping out-of-order publish")
		return nil
	}

	if err := e.history.Insert(ctx, persistence.PriceHistoryEntry{
		Symbol:      price.Symbol,
		MarkPrice:   price.MarkPrice,
		IndexPrice:  price.IndexPrice,
		Confidence:  price.Confidence,
		SourceCount: len(price.Sources),
	}); err != nil {
		return fmt.Errorf("failed to persist price for %s: %w", price.Symbol, err)
	}

	e.lastPub[price.Symbol] = price.Timestamp
	e.cache.Put(*price)

	if e.sink != nil {
		if err := e.sink.Publish(ctx, *price); err != nil {
			log.Warn().Err(err).Str("symbol", price.Symbol).Msg("Failed to mirror price")
		}
	}

	e.bcast.Publish(oracle.UpdateFor(price, score))
	return nil
}

func (e *Engine) stat(name string) *sourceStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	s, ok := e.stats[name]
	if !ok {
		s = &sourceStats{}
		e.stats[name] = s
	}
	return s
}

// SourceQuotes polls every source once and returns the fresh per-source
// quotes without aggregating, validating, or publishing.
func (e *Engine) SourceQuotes(ctx context.Context, symbol string) ([]oracle.Quote, error) {
	quotes := e.poll(ctx, symbol)
	if len(quotes) == 0 {
		return nil, oracle.NewError(oracle.KindNoSources, symbol, "no oracle sources returned data")
	}
	return quotes, nil
}

// Subscribe attaches a new broadcast subscriber.
func (e *Engine) Subscribe() *Subscription { return e.bcast.Subscribe() }

// Subscribers reports the current broadcast subscriber count.
func (e *Engine) Subscribers() int { return e.bcast.Subscribers() }

// Signals returns the live sub-score breakdown for a symbol.
func (e *Engine) Signals(symbol string) manip.Signals { return e.detector.Explain(symbol) }

// Symbols returns the monitored symbol set.
func (e *Engine) Symbols() []string { return e.cfg.Symbols }

// StartMonitoring blocks, polling every configured symbol each tick until
// ctx is canceled. Single tick failures are logged and retried on the next
// tick.
func (e *Engine) StartMonitoring(ctx context.Context) {
	log.Info().
		Strs("symbols", e.cfg.Symbols).
		Dur("interval", e.cfg.PollInterval).
		Msg("Starting continuous price monitoring")

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Price monitoring stopped")
			return
		case <-ticker.C:
		}

		for _, symbol := range e.cfg.Symbols {
			price, err := e.ValidatedPrice(ctx, symbol)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Str("symbol", symbol).Msg("Failed to update price")
			} else {
				log.Debug().
					Str("symbol", symbol).
					Float64("mark", price.MarkPrice).
					Msg("Updated price")
			}

			// Small gap between symbols to smooth upstream load.
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.cfg.SymbolGap):
			}
		}
	}
}

// SystemHealth probes every adapter once, folds the outcome into the
// rolling per-source stats, and reports overall system health.
func (e *Engine) SystemHealth(ctx context.Context) SystemHealth {
	health := SystemHealth{
		OracleHealth: make([]SourceHealth, 0, len(e.sources)),
		Timestamp:    time.Now().Unix(),
	}

	healthy := 0
	for _, src := range e.sources {
		start := time.Now()
		_, err := src.QuoteFor(ctx, probeSymbol)
		stats := e.stat(src.Name())
		stats.record(time.Since(start), err)

		ok := err == nil
		if ok {
			healthy++
		}
		health.OracleHealth = append(health.OracleHealth, stats.snapshot(src.Name(), ok))
	}

	if len(e.sources) > 0 {
		health.OverallHealth = float64(healthy) / float64(len(e.sources))
	}
	if healthy > 0 {
		health.UptimePercentage = 100.0
	}

	health.CacheHitRate = e.cache.Stats().HitRate
	health.DatabaseStatus = e.history.Ping(ctx) == nil
	return health
}

// HealthStatus reports cache freshness per monitored symbol.
func (e *Engine) HealthStatus() map[string]SymbolHealth {
	status := make(map[string]SymbolHealth, len(e.cfg.Symbols))
	now := time.Now().Unix()

	for _, symbol := range e.cfg.Symbols {
		price, _, ok := e.cache.Peek(symbol)
		if !ok {
			status[symbol] = SymbolHealth{
				Symbol:    symbol,
				IsHealthy: false,
				Error:     "No cached price data",
			}
			continue
		}

		age := now - price.Timestamp
		status[symbol] = SymbolHealth{
			Symbol:      symbol,
			Price:       price.MarkPrice,
			AgeSeconds:  age,
			SourceCount: len(price.Sources),
			Confidence:  price.Confidence,
			IsHealthy:   age <= int64(e.cfg.StalenessMax/time.Second) && len(price.Sources) >= 1,
			Sources:     price.SourceNames(),
		}
	}
	return status
}

// ManipulationReport replays the detector over persisted rows for the
// period and collects every point where the score crossed the threshold
// with a step of at least +0.10 over the previous point.
func (e *Engine) ManipulationReport(ctx context.Context, symbol string, hours int) (ManipulationReport, error) {
	if hours <= 0 {
		hours = 24
	}
	report := ManipulationReport{
		Symbol:      symbol,
		PeriodHours: hours,
		Events:      []ManipulationEvent{},
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	rows, err := e.history.Window(ctx, symbol, since)
	if err != nil {
		return report, fmt.Errorf("failed to load history for %s: %w", symbol, err)
	}
	if len(rows) == 0 {
		return report, nil
	}

	// Replay chronologically on a private detector so live scoring state
	// stays untouched.
	replay := manip.NewDetector()
	lastScore := 0.0
	for _, row := range rows {
		score := replay.Analyze(symbol, row.MarkPrice, row.CreatedAt.Unix())
		if score > e.cfg.ManipulationThreshold && score > lastScore+0.10 {
			report.Events = append(report.Events, ManipulationEvent{
				Timestamp:         row.CreatedAt.Unix(),
				Price:             row.MarkPrice,
				ManipulationScore: score,
				Confidence:        row.Confidence,
			})
		}
		lastScore = score
	}

	report.DataPoints = len(rows)
	report.LatestScore = lastScore
	return report, nil
}

// Close shuts down the broadcaster. In-flight ticks finish but no further
// updates are delivered.
func (e *Engine) Close() {
	e.bcast.Close()
}
