package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"dexfeed/internal/domain"
	"dexfeed/internal/storage"
)

// CandleStore implements storage.CandleStore using PostgreSQL.
type CandleStore struct {
	pool *Pool
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(pool *Pool) *CandleStore {
	return &CandleStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// MergeBulk folds candle aggregates into storage in one transaction. The
// upsert widens high/low, adds volume, and moves open and close only when the
// incoming aggregate saw an earlier (resp. later) event, so the result does
// not depend on arrival order.
func (s *CandleStore) MergeBulk(ctx context.Context, candles []*domain.OhlcvBucket) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO ohlcv_candles (
			chain, pair_address, bucket_start, open, high, low, close, volume,
			first_event_ts, last_event_ts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (chain, pair_address, bucket_start) DO UPDATE SET
			high = GREATEST(ohlcv_candles.high, EXCLUDED.high),
			low = LEAST(ohlcv_candles.low, EXCLUDED.low),
			volume = ohlcv_candles.volume + EXCLUDED.volume,
			open = CASE
				WHEN EXCLUDED.first_event_ts <= ohlcv_candles.first_event_ts THEN EXCLUDED.open
				ELSE ohlcv_candles.open
			END,
			close = CASE
				WHEN EXCLUDED.last_event_ts >= ohlcv_candles.last_event_ts THEN EXCLUDED.close
				ELSE ohlcv_candles.close
			END,
			first_event_ts = LEAST(ohlcv_candles.first_event_ts, EXCLUDED.first_event_ts),
			last_event_ts = GREATEST(ohlcv_candles.last_event_ts, EXCLUDED.last_event_ts)
	`

	for _, c := range candles {
		if c == nil || c.PairAddress == "" {
			return storage.ErrInvalidInput
		}
		_, err := tx.Exec(ctx, query,
			c.Chain,
			c.PairAddress,
			c.BucketStart,
			c.Open,
			c.High,
			c.Low,
			c.Close,
			c.Volume,
			c.FirstEventTS,
			c.LastEventTS,
		)
		if err != nil {
			return fmt.Errorf("merge candle: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByPair retrieves all candles for a pair, ordered by bucket_start ASC.
func (s *CandleStore) GetByPair(ctx context.Context, chain domain.Chain, pair string) ([]*domain.OhlcvBucket, error) {
	query := `
		SELECT chain, pair_address, bucket_start, open, high, low, close, volume,
			first_event_ts, last_event_ts
		FROM ohlcv_candles
		WHERE chain = $1 AND pair_address = $2
		ORDER BY bucket_start ASC
	`

	rows, err := s.pool.Query(ctx, query, chain, pair)
	if err != nil {
		return nil, fmt.Errorf("get candles by pair: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// GetByTimeRange retrieves candles for a pair within [start, end] (inclusive).
func (s *CandleStore) GetByTimeRange(ctx context.Context, chain domain.Chain, pair string, start, end int64) ([]*domain.OhlcvBucket, error) {
	query := `
		SELECT chain, pair_address, bucket_start, open, high, low, close, volume,
			first_event_ts, last_event_ts
		FROM ohlcv_candles
		WHERE chain = $1 AND pair_address = $2 AND bucket_start BETWEEN $3 AND $4
		ORDER BY bucket_start ASC
	`

	rows, err := s.pool.Query(ctx, query, chain, pair, start, end)
	if err != nil {
		return nil, fmt.Errorf("get candles by time range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

func scanCandles(rows pgx.Rows) ([]*domain.OhlcvBucket, error) {
	var result []*domain.OhlcvBucket
	for rows.Next() {
		var c domain.OhlcvBucket
		if err := rows.Scan(
			&c.Chain,
			&c.PairAddress,
			&c.BucketStart,
			&c.Open,
			&c.High,
			&c.Low,
			&c.Close,
			&c.Volume,
			&c.FirstEventTS,
			&c.LastEventTS,
		); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candles: %w", err)
	}
	return result, nil
}
