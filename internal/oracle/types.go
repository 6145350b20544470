// Package oracle holds the canonical price types shared by the source
// adapters, the consensus reconciler, and the aggregation engine.
package oracle

// Quote is a single price observation from one upstream source.
// Price and Confidence are in quote-currency units after fixed-point
// normalization; Timestamp is the upstream publish time in epoch seconds,
// falling back to local receive time when the upstream does not report one.
type Quote struct {
	Symbol     string  `json:"symbol"`
	Price      float64 `json:"price"`
	Confidence float64 `json:"confidence"`
	Timestamp  int64   `json:"timestamp"`
	Source     string  `json:"source"`
}

// AggregatedPrice is the reconciled output for one symbol at one tick.
// IndexPrice equals MarkPrice in the default reconciler; Sources is the
// subset of quotes that survived the staleness filter.
type AggregatedPrice struct {
	Symbol     string  `json:"symbol"`
	MarkPrice  float64 `json:"mark_price"`
	IndexPrice float64 `json:"index_price"`
	Confidence float64 `json:"confidence"`
	Sources    []Quote `json:"sources"`
	Timestamp  int64   `json:"timestamp"`
}

// SourceNames returns the contributing source tags in input order.
func (p *AggregatedPrice) SourceNames() []string {
	names := make([]string, len(p.Sources))
	for i, q := range p.Sources {
		names[i] = q.Source
	}
	return names
}

// PriceUpdate is the event published on the broadcast channel after a tick
// passes validation. Sources carries source tags only; individual quotes are
// not persisted beyond the aggregated record.
type PriceUpdate struct {
	Symbol            string   `json:"symbol"`
	MarkPrice         float64  `json:"mark_price"`
	IndexPrice        float64  `json:"index_price"`
	Confidence        float64  `json:"confidence"`
	Timestamp         int64    `json:"timestamp"`
	Sources           []string `json:"sources"`
	ManipulationScore float64  `json:"manipulation_score"`
}

// UpdateFor builds the broadcast event for a validated aggregation.
func UpdateFor(p *AggregatedPrice, manipulationScore float64) PriceUpdate {
	return PriceUpdate{
		Symbol:            p.Symbol,
		MarkPrice:         p.MarkPrice,
		IndexPrice:        p.IndexPrice,
		Confidence:        p.Confidence,
		Timestamp:         p.Timestamp,
		Sources:           p.SourceNames(),
		ManipulationScore: manipulationScore,
	}
}
