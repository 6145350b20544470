package source

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardBoundsConcurrency(t *testing.T) {
	g := NewGuard("test", 2, time.Millisecond)

	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Do(context.Background(), func(ctx context.Context) (interface{}, error) {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(30 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, int32(2))
	assert.Greater(t, peak, int32(0))
}

func TestGuardSpacesRequests(t *testing.T) {
	gap := 40 * time.Millisecond
	g := NewGuard("test", 1, gap)

	var stamps []time.Time
	for i := 0; i < 3; i++ {
		_, err := g.Do(context.Background(), func(ctx context.Context) (interface{}, error) {
			stamps = append(stamps, time.Now())
			return nil, nil
		})
		require.NoError(t, err)
	}

	require.Len(t, stamps, 3)
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), gap-5*time.Millisecond)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), gap-5*time.Millisecond)
}

func TestGuardBreakerOpensAfterRepeatedFailures(t *testing.T) {
	g := NewGuard("test", 2, time.Millisecond)
	boom := errors.New("upstream down")

	for i := 0; i < 5; i++ {
		_, err := g.Do(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, boom
		})
		require.ErrorIs(t, err, boom)
	}

	var called bool
	_, err := g.Do(context.Background(), func(ctx context.Context) (interface{}, error) {
		called = true
		return nil, nil
	})
	require.Error(t, err)
	assert.True(t, TrippedOpen(err))
	assert.False(t, called, "open breaker must not touch the upstream")
}

func TestGuardHonorsCancellationWhileQueued(t *testing.T) {
	g := NewGuard("test", 1, time.Millisecond)

	release := make(chan struct{})
	go func() {
		_, _ = g.Do(context.Background(), func(ctx context.Context) (interface{}, error) {
			<-release
			return nil, nil
		})
	}()

	// Give the first call time to take the semaphore.
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := g.Do(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}
