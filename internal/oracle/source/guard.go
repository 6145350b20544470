package source

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxConcurrent bounds in-flight requests per upstream.
	DefaultMaxConcurrent = 2

	// DefaultMinGap spaces consecutive requests to one upstream.
	DefaultMinGap = 500 * time.Millisecond
)

// Guard serializes access to one upstream: a semaphore bounds concurrency, a
// limiter enforces a minimum inter-request gap, and a circuit breaker sheds
// load from an upstream that keeps failing. All adapter requests go through
// Do.
type Guard struct {
	sem     chan struct{}
	spacing *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewGuard builds a guard for the named upstream. Non-positive arguments
// select the defaults.
func NewGuard(name string, maxConcurrent int, minGap time.Duration) *Guard {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if minGap <= 0 {
		minGap = DefaultMinGap
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("upstream", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	return &Guard{
		sem:     make(chan struct{}, maxConcurrent),
		spacing: rate.NewLimiter(rate.Every(minGap), 1),
		breaker: breaker,
	}
}

// Do runs fn under the guard. It honors context cancellation while waiting on
// the semaphore or the spacing limiter; when the breaker is open it fails
// fast without touching the upstream.
func (g *Guard) Do(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-g.sem }()

	if err := g.spacing.Wait(ctx); err != nil {
		return nil, err
	}

	return g.breaker.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
}

// State exposes the breaker state for health reporting.
func (g *Guard) State() gobreaker.State {
	return g.breaker.State()
}

// TrippedOpen reports whether err came from the breaker refusing the call
// rather than from the upstream itself.
func TrippedOpen(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}
