package http

import (
	"github.com/sawpanic/oraclerun/internal/oracle/manip"
)

// PriceResponse is the public shape of one validated aggregated price.
type PriceResponse struct {
	Symbol            string   `json:"symbol"`
	MarkPrice         float64  `json:"mark_price"`
	IndexPrice        float64  `json:"index_price"`
	Timestamp         int64    `json:"timestamp"`
	Confidence        float64  `json:"confidence"`
	Sources           []string `json:"sources"`
	ManipulationScore *float64 `json:"manipulation_score,omitempty"`
}

// PricesResponse maps each successfully aggregated symbol to its price.
// Symbols that failed aggregation are simply absent.
type PricesResponse struct {
	Prices    map[string]PriceResponse `json:"prices"`
	Timestamp int64                    `json:"timestamp"`
}

// SourceQuote is one upstream oracle's raw answer for a symbol.
type SourceQuote struct {
	Source     string  `json:"source"`
	Price      float64 `json:"price"`
	Confidence float64 `json:"confidence"`
	Timestamp  int64   `json:"timestamp"`
}

// SourcesResponse lists each upstream quote next to the consensus price.
type SourcesResponse struct {
	Symbol          string        `json:"symbol"`
	Sources         []SourceQuote `json:"sources"`
	AggregatedPrice float64       `json:"aggregated_price"`
	Timestamp       int64         `json:"timestamp"`
}

// HistoryPoint is one persisted aggregation row.
type HistoryPoint struct {
	MarkPrice   float64 `json:"mark_price"`
	IndexPrice  float64 `json:"index_price"`
	Confidence  float64 `json:"confidence"`
	SourceCount int     `json:"source_count"`
	Timestamp   int64   `json:"timestamp"`
}

// HistoryResponse is the newest-first history window for a symbol.
type HistoryResponse struct {
	Symbol      string         `json:"symbol"`
	PeriodHours int            `json:"period_hours"`
	DataPoints  int            `json:"data_points"`
	History     []HistoryPoint `json:"history"`
}

// ScoreResponse is the live manipulation assessment for one symbol.
type ScoreResponse struct {
	Symbol            string        `json:"symbol"`
	ManipulationScore float64       `json:"manipulation_score"`
	RiskLevel         string        `json:"risk_level"`
	Signals           manip.Signals `json:"signals"`
	AnomalyDetected   bool          `json:"anomaly_detected"`
	DataPoints        int           `json:"data_points"`
	Timestamp         int64         `json:"timestamp"`
}

// HealthResponse answers the liveness probe.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
}
