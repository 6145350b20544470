// Package persistence defines the history-store contract for aggregated
// price rows. Implementations live in subpackages; the engine and the
// analytics layer depend only on the interfaces here.
package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrNoHistory reports an empty window where at least one row was required.
var ErrNoHistory = errors.New("no history rows in window")

// PriceHistoryEntry is one persisted aggregation result. Rows are append-only
// and immutable; CreatedAt is assigned by the store.
type PriceHistoryEntry struct {
	Symbol      string    `db:"symbol" json:"symbol"`
	MarkPrice   float64   `db:"mark_price" json:"mark_price"`
	IndexPrice  float64   `db:"index_price" json:"index_price"`
	Confidence  float64   `db:"confidence" json:"confidence"`
	SourceCount int       `db:"source_count" json:"source_count"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// HistoryRepo is the append-only store of aggregation results.
type HistoryRepo interface {
	// Insert appends one row. CreatedAt on the entry is ignored; the store
	// stamps its own.
	Insert(ctx context.Context, entry PriceHistoryEntry) error

	// Window returns rows for the symbol since the cutoff, oldest first.
	Window(ctx context.Context, symbol string, since time.Time) ([]PriceHistoryEntry, error)

	// Recent returns up to limit rows for the symbol, newest first.
	Recent(ctx context.Context, symbol string, limit int) ([]PriceHistoryEntry, error)

	// AverageMark returns the mean mark price over the window, or
	// ErrNoHistory when the window is empty.
	AverageMark(ctx context.Context, symbol string, since time.Time) (float64, error)

	// Ping is a single-row liveness probe.
	Ping(ctx context.Context) error
}
