package persistence

import (
	"context"
	"sync"
	"time"
)

// DefaultMemoryCap bounds the in-memory row buffer.
const DefaultMemoryCap = 10_000

// MemoryRepo is an in-memory HistoryRepo for one-shot CLI runs and local
// development. Rows past the cap are dropped oldest first.
type MemoryRepo struct {
	mu   sync.Mutex
	rows []PriceHistoryEntry
	cap  int
}

// NewMemoryRepo creates an in-memory history store with the default cap.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{cap: DefaultMemoryCap}
}

func (m *MemoryRepo) Insert(_ context.Context, entry PriceHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.CreatedAt = time.Now()
	m.rows = append(m.rows, entry)
	if len(m.rows) > m.cap {
		m.rows = m.rows[len(m.rows)-m.cap:]
	}
	return nil
}

func (m *MemoryRepo) Window(_ context.Context, symbol string, since time.Time) ([]PriceHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []PriceHistoryEntry
	for _, row := range m.rows {
		if row.Symbol == symbol && !row.CreatedAt.Before(since) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *MemoryRepo) Recent(_ context.Context, symbol string, limit int) ([]PriceHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []PriceHistoryEntry
	for i := len(m.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if m.rows[i].Symbol == symbol {
			out = append(out, m.rows[i])
		}
	}
	return out, nil
}

func (m *MemoryRepo) AverageMark(_ context.Context, symbol string, since time.Time) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sum float64
	var n int
	for _, row := range m.rows {
		if row.Symbol == symbol && !row.CreatedAt.Before(since) {
			sum += row.MarkPrice
			n++
		}
	}
	if n == 0 {
		return 0, ErrNoHistory
	}
	return sum / float64(n), nil
}

func (m *MemoryRepo) Ping(context.Context) error { return nil }
