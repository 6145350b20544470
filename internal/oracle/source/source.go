// Package source defines the oracle source adapter contract and the
// per-network implementations that fetch and normalize upstream quotes.
package source

import (
	"context"

	"github.com/sawpanic/oraclerun/internal/oracle"
)

// Source is the three-operation contract every upstream adapter satisfies.
// Implementations normalize raw upstream payloads into canonical Quotes,
// bound each attempt in time, and never panic on malformed input.
type Source interface {
	// QuoteFor fetches one symbol. Failures are tagged oracle errors:
	// KindUnknownSymbol for unmapped symbols, KindSourceUnavailable (with a
	// cause) for transport trouble, KindInvalidQuote for values the
	// normalizer rejects.
	QuoteFor(ctx context.Context, symbol string) (oracle.Quote, error)

	// QuotesFor is the batch form. The result may be smaller than the
	// request; it fails only when nothing at all could be fetched.
	QuotesFor(ctx context.Context, symbols []string) ([]oracle.Quote, error)

	// Name is the stable source tag carried on every Quote.
	Name() string
}
