package source

import (
	"context"
	"sync"
	"time"

	"github.com/sawpanic/oraclerun/internal/oracle"
)

// Mock is a scripted in-memory source for tests and local development. It is
// safe for concurrent use.
type Mock struct {
	mu     sync.Mutex
	name   string
	quotes map[string]oracle.Quote
	err    error
	delay  time.Duration
	calls  int
}

// NewMock builds a mock with the given source tag.
func NewMock(name string) *Mock {
	return &Mock{
		name:   name,
		quotes: make(map[string]oracle.Quote),
	}
}

// SetQuote scripts the response for the quote's symbol. A zero timestamp is
// stamped with the current time at fetch.
func (m *Mock) SetQuote(q oracle.Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.Source = m.name
	m.quotes[q.Symbol] = q
}

// SetError makes every fetch fail with err until cleared with nil.
func (m *Mock) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetDelay adds artificial latency to every fetch.
func (m *Mock) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls reports how many fetches were attempted.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Mock) Name() string { return m.name }

func (m *Mock) QuoteFor(ctx context.Context, symbol string) (oracle.Quote, error) {
	m.mu.Lock()
	m.calls++
	err := m.err
	q, ok := m.quotes[symbol]
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return oracle.Quote{}, ctx.Err()
		}
	}
	if err != nil {
		return oracle.Quote{}, err
	}
	if !ok {
		return oracle.Quote{}, oracle.NewError(oracle.KindUnknownSymbol, symbol, "no scripted quote")
	}
	if q.Timestamp == 0 {
		q.Timestamp = time.Now().Unix()
	}
	return q, nil
}

func (m *Mock) QuotesFor(ctx context.Context, symbols []string) ([]oracle.Quote, error) {
	quotes := make([]oracle.Quote, 0, len(symbols))
	var lastErr error
	for _, s := range symbols {
		q, err := m.QuoteFor(ctx, s)
		if err != nil {
			lastErr = err
			continue
		}
		quotes = append(quotes, q)
	}
	if len(quotes) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return quotes, nil
}
