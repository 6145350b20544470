package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/oraclerun/internal/derivs"
	"github.com/sawpanic/oraclerun/internal/oracle"
	"github.com/sawpanic/oraclerun/internal/oracle/engine"
	"github.com/sawpanic/oraclerun/internal/persistence"
)

const (
	// historyRowCap bounds how many rows a history query returns.
	historyRowCap = 1000

	// fundingWindow is the fixed history window behind funding rates.
	fundingWindow = time.Hour

	defaultPeriodHours = 24
)

// Handlers serves every JSON endpoint over the aggregation engine and the
// history store.
type Handlers struct {
	engine  *engine.Engine
	history persistence.HistoryRepo
	metrics *MetricsRegistry
}

// NewHandlers creates a new handlers instance. metrics may be nil.
func NewHandlers(eng *engine.Engine, history persistence.HistoryRepo, metrics *MetricsRegistry) *Handlers {
	return &Handlers{engine: eng, history: history, metrics: metrics}
}

// writeJSON writes a JSON response with proper error handling.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

// writeError writes the standardized error envelope.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestIDFrom(r.Context()),
		Timestamp: time.Now().Unix(),
	})
}

// priceError maps aggregation failures onto the surface: tagged kinds are
// client-visible 404s, anything else is an internal 500.
func (h *Handlers) priceError(w http.ResponseWriter, r *http.Request, symbol string, err error) {
	if kind := oracle.KindOf(err); kind != "" {
		h.writeError(w, r, http.StatusNotFound, string(kind), err.Error())
		return
	}
	log.Error().Err(err).Str("symbol", symbol).Msg("Price aggregation failed")
	h.writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
}

func symbolFrom(r *http.Request) string {
	return strings.ToUpper(mux.Vars(r)["symbol"])
}

func queryInt(r *http.Request, key string, def int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func queryFloat(r *http.Request, key string, def float64) float64 {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	}
	return def
}

func queryBool(r *http.Request, key string, def bool) bool {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			return v
		}
	}
	return def
}

func (h *Handlers) priceResponse(p *oracle.AggregatedPrice) PriceResponse {
	resp := PriceResponse{
		Symbol:     p.Symbol,
		MarkPrice:  p.MarkPrice,
		IndexPrice: p.IndexPrice,
		Timestamp:  p.Timestamp,
		Confidence: p.Confidence,
		Sources:    p.SourceNames(),
	}
	if score := h.engine.Signals(p.Symbol).Composite; score > 0 {
		resp.ManipulationScore = &score
	}
	return resp
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Unix(),
	})
}

// OracleHealth handles GET /oracle/health with per-symbol freshness.
func (h *Handlers) OracleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.HealthStatus())
}

// Price handles GET /api/v1/price/{symbol}.
func (h *Handlers) Price(w http.ResponseWriter, r *http.Request) {
	symbol := symbolFrom(r)

	price, err := h.engine.ValidatedPrice(r.Context(), symbol)
	if err != nil {
		h.priceError(w, r, symbol, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.priceResponse(price))
}

// Prices handles GET /api/v1/prices?symbols=a,b,c. Symbols that fail
// aggregation are skipped rather than failing the batch.
func (h *Handlers) Prices(w http.ResponseWriter, r *http.Request) {
	var symbols []string
	if raw := strings.TrimSpace(r.URL.Query().Get("symbols")); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, strings.ToUpper(s))
			}
		}
	}
	if len(symbols) == 0 {
		symbols = h.engine.Symbols()
	}

	prices := make(map[string]PriceResponse, len(symbols))
	for _, sym := range symbols {
		price, err := h.engine.ValidatedPrice(r.Context(), sym)
		if err != nil {
			log.Debug().Err(err).Str("symbol", sym).Msg("Skipping symbol in batch quote")
			continue
		}
		prices[sym] = h.priceResponse(price)
	}

	h.writeJSON(w, http.StatusOK, PricesResponse{
		Prices:    prices,
		Timestamp: time.Now().Unix(),
	})
}

// History handles GET /api/v1/history/{symbol}?hours=24.
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	symbol := symbolFrom(r)
	hours := queryInt(r, "hours", defaultPeriodHours)

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	rows, err := h.history.Window(r.Context(), symbol, since)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("History query failed")
		h.writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	// Newest first, capped.
	if len(rows) > historyRowCap {
		rows = rows[len(rows)-historyRowCap:]
	}
	points := make([]HistoryPoint, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		points = append(points, HistoryPoint{
			MarkPrice:   row.MarkPrice,
			IndexPrice:  row.IndexPrice,
			Confidence:  row.Confidence,
			SourceCount: row.SourceCount,
			Timestamp:   row.CreatedAt.Unix(),
		})
	}

	h.writeJSON(w, http.StatusOK, HistoryResponse{
		Symbol:      symbol,
		PeriodHours: hours,
		DataPoints:  len(points),
		History:     points,
	})
}

// Sources handles GET /oracle/sources/{symbol}: raw per-source quotes next
// to the consensus they aggregate into.
func (h *Handlers) Sources(w http.ResponseWriter, r *http.Request) {
	symbol := symbolFrom(r)

	quotes, err := h.engine.SourceQuotes(r.Context(), symbol)
	if err != nil {
		h.priceError(w, r, symbol, err)
		return
	}
	price, err := h.engine.ValidatedPrice(r.Context(), symbol)
	if err != nil {
		h.priceError(w, r, symbol, err)
		return
	}

	sources := make([]SourceQuote, 0, len(quotes))
	for _, q := range quotes {
		sources = append(sources, SourceQuote{
			Source:     q.Source,
			Price:      q.Price,
			Confidence: q.Confidence,
			Timestamp:  q.Timestamp,
		})
	}

	h.writeJSON(w, http.StatusOK, SourcesResponse{
		Symbol:          symbol,
		Sources:         sources,
		AggregatedPrice: price.MarkPrice,
		Timestamp:       time.Now().Unix(),
	})
}

// ManipulationReport handles GET /api/v1/manipulation/{symbol}?hours=24.
func (h *Handlers) ManipulationReport(w http.ResponseWriter, r *http.Request) {
	symbol := symbolFrom(r)
	hours := queryInt(r, "hours", defaultPeriodHours)

	report, err := h.engine.ManipulationReport(r.Context(), symbol, hours)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("Manipulation report failed")
		h.writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// ManipulationScore handles GET /api/v1/manipulation/{symbol}/score with the
// live sub-score breakdown.
func (h *Handlers) ManipulationScore(w http.ResponseWriter, r *http.Request) {
	symbol := symbolFrom(r)
	signals := h.engine.Signals(symbol)

	h.writeJSON(w, http.StatusOK, ScoreResponse{
		Symbol:            symbol,
		ManipulationScore: signals.Composite,
		RiskLevel:         riskLevel(signals.Composite),
		Signals:           signals,
		AnomalyDetected:   signals.Composite > 0.70,
		DataPoints:        signals.Points,
		Timestamp:         time.Now().Unix(),
	})
}

// riskLevel buckets a composite score for dashboards.
func riskLevel(score float64) string {
	switch {
	case score >= 0.7:
		return "HIGH"
	case score >= 0.4:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// Funding handles GET /api/v1/funding/{symbol}. The premium is measured
// against the TWAP of the fixed one-hour history window.
func (h *Handlers) Funding(w http.ResponseWriter, r *http.Request) {
	symbol := symbolFrom(r)

	price, err := h.engine.ValidatedPrice(r.Context(), symbol)
	if err != nil {
		h.priceError(w, r, symbol, err)
		return
	}

	rows, err := h.history.Window(r.Context(), symbol, time.Now().Add(-fundingWindow))
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("Funding history query failed")
		h.writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	marks := make([]float64, 0, len(rows))
	for _, row := range rows {
		marks = append(marks, row.MarkPrice)
	}

	funding, err := derivs.ComputeFunding(symbol, price.MarkPrice, marks, time.Now().Unix())
	if err != nil {
		h.priceError(w, r, symbol, err)
		return
	}
	h.writeJSON(w, http.StatusOK, funding)
}

// Liquidation handles GET /api/v1/liquidation/{symbol} with position
// parameters in the query string.
func (h *Handlers) Liquidation(w http.ResponseWriter, r *http.Request) {
	symbol := symbolFrom(r)

	pos := derivs.Position{
		Size:   queryFloat(r, "position_size", 1.0),
		Entry:  queryFloat(r, "entry_price", 65000.0),
		Margin: queryFloat(r, "margin", 1000.0),
		IsLong: queryBool(r, "is_long", true),
	}

	price, err := h.engine.ValidatedPrice(r.Context(), symbol)
	if err != nil {
		h.priceError(w, r, symbol, err)
		return
	}

	liq, err := derivs.LiquidationPrice(symbol, price.MarkPrice, pos, time.Now().Unix())
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_position", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, liq)
}

// SystemHealth handles GET /api/v1/system/health.
func (h *Handlers) SystemHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.SystemHealth(r.Context()))
}

// NotFound handles unmatched routes. It bypasses the middleware chain, so
// it sets its own content type.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"The requested endpoint does not exist")
}
