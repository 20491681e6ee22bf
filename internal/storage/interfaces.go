package storage

import (
	"context"

	"dexfeed/internal/domain"
)

// CandleStore provides access to per-minute OHLCV storage.
//
// MergeBulk is the only write path and carries the merge discipline: open is
// fixed by whichever write created the row, high and low widen monotonically,
// volume adds, and close follows the highest event timestamp seen. Replaying
// the same aggregate twice therefore perturbs only volume; dedupe upstream
// keeps replays out.
type CandleStore interface {
	// MergeBulk folds candle aggregates into storage, one row per
	// (chain, pair_address, bucket_start).
	MergeBulk(ctx context.Context, candles []*domain.OhlcvBucket) error

	// GetByPair retrieves all candles for a pair, ordered by bucket_start ASC.
	GetByPair(ctx context.Context, chain domain.Chain, pairAddress string) ([]*domain.OhlcvBucket, error)

	// GetByTimeRange retrieves candles for a pair within [start, end] (inclusive),
	// ordered by bucket_start ASC.
	GetByTimeRange(ctx context.Context, chain domain.Chain, pairAddress string, start, end int64) ([]*domain.OhlcvBucket, error)
}

// TransactionStore provides access to the deduplicated transaction ledger.
type TransactionStore interface {
	// UpsertBulk records transactions keyed by (chain, tx_hash). A redelivered
	// hash overwrites in place; the ledger never grows a duplicate row.
	UpsertBulk(ctx context.Context, txs []*domain.TransactionRecord) error

	// Exists reports whether a transaction hash has been recorded.
	Exists(ctx context.Context, chain domain.Chain, txHash string) (bool, error)

	// GetLatestByPair retrieves up to limit transactions for a pair, newest first.
	GetLatestByPair(ctx context.Context, chain domain.Chain, pairAddress string, limit int) ([]*domain.TransactionRecord, error)
}

// MarketMakerStore provides access to liquidity-provider positions.
type MarketMakerStore interface {
	// UpsertBulk writes full position rows keyed by (chain, pair_address, address).
	UpsertBulk(ctx context.Context, positions []*domain.MarketMakerPosition) error

	// GetByPair retrieves all positions for a pair, ordered by address ASC.
	GetByPair(ctx context.Context, chain domain.Chain, pairAddress string) ([]*domain.MarketMakerPosition, error)
}

// Store bundles the three ledgers behind one handle.
type Store struct {
	Candles      CandleStore
	Transactions TransactionStore
	MarketMakers MarketMakerStore
}
