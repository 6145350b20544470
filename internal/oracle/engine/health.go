package engine

import (
	"sync"
	"time"
)

// SourceHealth is one adapter's entry in the system health payload.
type SourceHealth struct {
	Name       string  `json:"name"`
	IsHealthy  bool    `json:"is_healthy"`
	LatencyMS  int64   `json:"latency_ms"`
	LastUpdate int64   `json:"last_update"`
	ErrorRate  float64 `json:"error_rate"`
}

// SystemHealth aggregates adapter, database and cache health.
type SystemHealth struct {
	OverallHealth    float64        `json:"overall_health"`
	UptimePercentage float64        `json:"uptime_percentage"`
	OracleHealth     []SourceHealth `json:"oracle_health"`
	CacheHitRate     float64        `json:"cache_hit_rate"`
	DatabaseStatus   bool           `json:"database_status"`
	Timestamp        int64          `json:"timestamp"`
}

// SymbolHealth describes cache freshness for one symbol.
type SymbolHealth struct {
	Symbol      string   `json:"symbol"`
	Price       float64  `json:"price,omitempty"`
	AgeSeconds  int64    `json:"age_seconds,omitempty"`
	SourceCount int      `json:"source_count,omitempty"`
	Confidence  float64  `json:"confidence,omitempty"`
	IsHealthy   bool     `json:"is_healthy"`
	Sources     []string `json:"sources,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// sourceStats tracks rolling latency and error rate for one adapter.
// Both decay exponentially, weighting history 0.9 against the newest
// observation.
type sourceStats struct {
	mu         sync.Mutex
	samples    int64
	latencyEMA float64
	errorEMA   float64
	lastOK     int64
}

func (s *sourceStats) record(latency time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := float64(latency.Milliseconds())
	fail := 0.0
	if err != nil {
		fail = 1.0
	} else {
		s.lastOK = time.Now().Unix()
	}

	if s.samples == 0 {
		s.latencyEMA = ms
		s.errorEMA = fail
	} else {
		s.latencyEMA = s.latencyEMA*0.9 + ms*0.1
		s.errorEMA = s.errorEMA*0.9 + fail*0.1
	}
	s.samples++
}

func (s *sourceStats) snapshot(name string, healthy bool) SourceHealth {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SourceHealth{
		Name:       name,
		IsHealthy:  healthy,
		LatencyMS:  int64(s.latencyEMA),
		LastUpdate: s.lastOK,
		ErrorRate:  s.errorEMA,
	}
}
