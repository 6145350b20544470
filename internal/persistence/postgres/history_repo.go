// Package postgres implements the history store on PostgreSQL via sqlx.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sawpanic/oraclerun/internal/persistence"
)

// DefaultQueryTimeout bounds every statement issued by the repo.
const DefaultQueryTimeout = 5 * time.Second

// historyRepo implements persistence.HistoryRepo against the price_feeds
// table.
type historyRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewHistoryRepo creates a PostgreSQL-backed history store. A non-positive
// timeout selects DefaultQueryTimeout.
func NewHistoryRepo(db *sqlx.DB, timeout time.Duration) persistence.HistoryRepo {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &historyRepo{db: db, timeout: timeout}
}

// Connect opens a pooled connection and verifies it with a ping.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func (r *historyRepo) Insert(ctx context.Context, entry persistence.PriceHistoryEntry) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO price_feeds (symbol, mark_price, index_price, confidence, source_count)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query,
		entry.Symbol, entry.MarkPrice, entry.IndexPrice, entry.Confidence, entry.SourceCount)
	if err != nil {
		return fmt.Errorf("failed to insert price row: %w", err)
	}
	return nil
}

func (r *historyRepo) Window(ctx context.Context, symbol string, since time.Time) ([]persistence.PriceHistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT symbol, mark_price, index_price, confidence, source_count, created_at
		FROM price_feeds
		WHERE symbol = $1 AND created_at >= $2
		ORDER BY created_at ASC`

	rows, err := r.db.QueryxContext(ctx, query, symbol, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query price window: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (r *historyRepo) Recent(ctx context.Context, symbol string, limit int) ([]persistence.PriceHistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT symbol, mark_price, index_price, confidence, source_count, created_at
		FROM price_feeds
		WHERE symbol = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent prices: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (r *historyRepo) AverageMark(ctx context.Context, symbol string, since time.Time) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT AVG(mark_price)
		FROM price_feeds
		WHERE symbol = $1 AND created_at >= $2`

	var avg sql.NullFloat64
	if err := r.db.QueryRowxContext(ctx, query, symbol, since).Scan(&avg); err != nil {
		return 0, fmt.Errorf("failed to query average mark: %w", err)
	}
	if !avg.Valid {
		return 0, persistence.ErrNoHistory
	}
	return avg.Float64, nil
}

func (r *historyRepo) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var one int
	if err := r.db.QueryRowxContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("history store probe failed: %w", err)
	}
	return nil
}

func scanEntries(rows *sqlx.Rows) ([]persistence.PriceHistoryEntry, error) {
	var entries []persistence.PriceHistoryEntry
	for rows.Next() {
		var e persistence.PriceHistoryEntry
		if err := rows.StructScan(&e); err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate price rows: %w", err)
	}
	return entries, nil
}
