package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"dexfeed/internal/domain"
	"dexfeed/internal/storage"
)

// CandleStore implements storage.CandleStore using ClickHouse as an
// append-only analytics sink. MergeTree does not enforce uniqueness, so
// writes append candle partials as rows and reads re-aggregate: open follows
// the earliest partial, close the latest, high/low/volume fold with
// max/min/sum. The result observes the same merge discipline as the
// transactional backends.
type CandleStore struct {
	conn *Conn
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// MergeBulk appends candle partials in one batch.
func (s *CandleStore) MergeBulk(ctx context.Context, candles []*domain.OhlcvBucket) error {
	if len(candles) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO ohlcv_partials (
			chain, pair_address, bucket_start, open, high, low, close, volume,
			first_event_ts, last_event_ts
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range candles {
		if c == nil || c.PairAddress == "" {
			return storage.ErrInvalidInput
		}
		err = batch.Append(
			string(c.Chain), c.PairAddress, c.BucketStart,
			c.Open, c.High, c.Low, c.Close, c.Volume,
			c.FirstEventTS, c.LastEventTS,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByPair retrieves all candles for a pair, ordered by bucket_start ASC.
func (s *CandleStore) GetByPair(ctx context.Context, chain domain.Chain, pair string) ([]*domain.OhlcvBucket, error) {
	query := candleSelect + `
		WHERE chain = ? AND pair_address = ?
		GROUP BY chain, pair_address, bucket_start
		ORDER BY bucket_start ASC
	`

	rows, err := s.conn.Query(ctx, query, string(chain), pair)
	if err != nil {
		return nil, fmt.Errorf("query candles by pair: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// GetByTimeRange retrieves candles for a pair within [start, end] (inclusive).
func (s *CandleStore) GetByTimeRange(ctx context.Context, chain domain.Chain, pair string, start, end int64) ([]*domain.OhlcvBucket, error) {
	query := candleSelect + `
		WHERE chain = ? AND pair_address = ? AND bucket_start >= ? AND bucket_start <= ?
		GROUP BY chain, pair_address, bucket_start
		ORDER BY bucket_start ASC
	`

	rows, err := s.conn.Query(ctx, query, string(chain), pair, start, end)
	if err != nil {
		return nil, fmt.Errorf("query candles by time range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

const candleSelect = `
	SELECT
		chain, pair_address, bucket_start,
		argMin(open, first_event_ts) AS open,
		max(high) AS high,
		min(low) AS low,
		argMax(close, last_event_ts) AS close,
		sum(volume) AS volume,
		min(first_event_ts) AS first_event_ts,
		max(last_event_ts) AS last_event_ts
	FROM ohlcv_partials
`

func scanCandles(rows driver.Rows) ([]*domain.OhlcvBucket, error) {
	var result []*domain.OhlcvBucket
	for rows.Next() {
		var (
			c     domain.OhlcvBucket
			chain string
		)
		if err := rows.Scan(
			&chain, &c.PairAddress, &c.BucketStart,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
			&c.FirstEventTS, &c.LastEventTS,
		); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Chain = domain.Chain(chain)
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candles: %w", err)
	}
	return result, nil
}
