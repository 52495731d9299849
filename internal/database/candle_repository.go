package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/coinpulse/market-data-service/internal/models"
)

// DatabasePool defines the interface for database pool operations.
// This interface allows for both real pool and mock pool implementations.
type DatabasePool interface {
	// QueryRow executes a query that is expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	// Exec executes a query without returning any rows.
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	// Query executes a query that returns rows.
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// FindQuery describes a candle range scan with cursor pagination.
type FindQuery struct {
	Exchange  string
	Symbol    string
	Timeframe string
	Start     *int64
	End       *int64
	Limit     int
	// Cursor is an exclusive lower bound on timestamp. Pages built by
	// chaining cursors are stable under concurrent writes because only
	// rows with timestamp > cursor can appear in later pages.
	Cursor *int64
}

// MaxFindLimit caps the number of rows a single Find call returns.
const MaxFindLimit = 1000

// CandleRepository handles database operations for OHLCV candles.
type CandleRepository struct {
	pool DatabasePool
}

// NewCandleRepository creates a new candle repository.
func NewCandleRepository(pool DatabasePool) *CandleRepository {
	return &CandleRepository{pool: pool}
}

// Upsert writes a batch of candles in one statement. Rows that collide
// on (exchange, symbol, timeframe, timestamp) have their price fields
// overwritten, so redelivery of the same candle is safe and convergent.
// The batch commits atomically.
func (r *CandleRepository) Upsert(ctx context.Context, candles []models.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ohlcv (id, exchange, symbol, timeframe, timestamp, open, high, low, close, volume) VALUES ")

	args := make([]interface{}, 0, len(candles)*10)
	for i, c := range candles {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 10
		sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10))
		args = append(args, uuid.NewString(), c.Exchange, c.Symbol, c.Timeframe, c.Timestamp,
			c.Open, c.High, c.Low, c.Close, c.Volume)
	}

	sb.WriteString(" ON CONFLICT ON CONSTRAINT uq_ohlcv_key DO UPDATE SET" +
		" open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low," +
		" close = EXCLUDED.close, volume = EXCLUDED.volume")

	if _, err := r.pool.Exec(ctx, sb.String(), args...); err != nil {
		return 0, fmt.Errorf("failed to upsert candles: %w", err)
	}

	return len(candles), nil
}

// Timestamps returns the ordered timestamps stored for a key since the
// given millisecond bound. Only the timestamp column is scanned.
func (r *CandleRepository) Timestamps(ctx context.Context, exchange, symbol, timeframe string, since int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT timestamp FROM ohlcv
		 WHERE exchange = $1 AND symbol = $2 AND timeframe = $3 AND timestamp >= $4
		 ORDER BY timestamp`,
		exchange, symbol, timeframe, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query candle timestamps: %w", err)
	}
	defer rows.Close()

	var timestamps []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("failed to scan timestamp: %w", err)
		}
		timestamps = append(timestamps, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read candle timestamps: %w", err)
	}

	return timestamps, nil
}

// Find performs an ordered range scan. It fetches limit+1 rows to
// detect whether more data exists; when it does, the returned cursor is
// the last returned row's timestamp.
func (r *CandleRepository) Find(ctx context.Context, q FindQuery) ([]models.Candle, *int64, error) {
	limit := q.Limit
	if limit <= 0 || limit > MaxFindLimit {
		limit = MaxFindLimit
	}

	var sb strings.Builder
	sb.WriteString(`SELECT exchange, symbol, timeframe, timestamp, open, high, low, close, volume
		 FROM ohlcv WHERE exchange = $1 AND symbol = $2 AND timeframe = $3`)
	args := []interface{}{q.Exchange, q.Symbol, q.Timeframe}

	if q.Start != nil {
		args = append(args, *q.Start)
		sb.WriteString(fmt.Sprintf(" AND timestamp >= $%d", len(args)))
	}
	if q.End != nil {
		args = append(args, *q.End)
		sb.WriteString(fmt.Sprintf(" AND timestamp <= $%d", len(args)))
	}
	if q.Cursor != nil {
		args = append(args, *q.Cursor)
		sb.WriteString(fmt.Sprintf(" AND timestamp > $%d", len(args)))
	}

	args = append(args, limit+1)
	sb.WriteString(fmt.Sprintf(" ORDER BY timestamp ASC LIMIT $%d", len(args)))

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Exchange, &c.Symbol, &c.Timeframe, &c.Timestamp,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read candles: %w", err)
	}

	var nextCursor *int64
	if len(candles) > limit {
		candles = candles[:limit]
		last := candles[len(candles)-1].Timestamp
		nextCursor = &last
	}

	return candles, nextCursor, nil
}
