// Package redisstore mirrors the latest published price per symbol into
// Redis so sibling services can read it without hitting the oracle API.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sawpanic/oraclerun/internal/oracle"
)

// DefaultTTL keeps mirrored prices around long enough to survive a couple
// of missed polls without serving ancient data.
const DefaultTTL = 5 * time.Second

const keyPrefix = "oracle:last:"

// Mirror writes the most recent aggregated price per symbol to Redis.
type Mirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMirror connects to Redis using a redis:// URL and verifies the
// connection with a ping.
func NewMirror(url string, ttl time.Duration) (*Mirror, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	opts.PoolSize = 10
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewMirrorWithClient(rdb, ttl), nil
}

// NewMirrorWithClient wraps an existing client. Used by tests.
func NewMirrorWithClient(client *redis.Client, ttl time.Duration) *Mirror {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Mirror{client: client, ttl: ttl}
}

// Publish stores the price as JSON under oracle:last:<symbol>.
func (m *Mirror) Publish(ctx context.Context, price oracle.AggregatedPrice) error {
	data, err := json.Marshal(price)
	if err != nil {
		return fmt.Errorf("marshal price: %w", err)
	}

	if err := m.client.Set(ctx, keyPrefix+price.Symbol, data, m.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Last returns the mirrored price for symbol, or found=false when the key
// is absent or expired.
func (m *Mirror) Last(ctx context.Context, symbol string) (oracle.AggregatedPrice, bool, error) {
	var price oracle.AggregatedPrice

	val, err := m.client.Get(ctx, keyPrefix+symbol).Result()
	if err != nil {
		if err == redis.Nil {
			return price, false, nil
		}
		return price, false, fmt.Errorf("redis get: %w", err)
	}

	if err := json.Unmarshal([]byte(val), &price); err != nil {
		return price, false, fmt.Errorf("unmarshal price: %w", err)
	}
	return price, true, nil
}

// Ping reports whether Redis is reachable.
func (m *Mirror) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (m *Mirror) Close() error {
	return m.client.Close()
}
