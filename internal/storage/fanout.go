package storage

import (
	"context"
	"fmt"

	"dexfeed/internal/domain"
)

// FanoutCandleStore writes candle batches to a primary store and mirrors
// them to a secondary analytics sink. Reads always come from the primary;
// the mirror is write-only from the fanout's point of view.
type FanoutCandleStore struct {
	primary CandleStore
	mirror  CandleStore
}

// Compile-time interface check.
var _ CandleStore = (*FanoutCandleStore)(nil)

// NewFanoutCandleStore wraps primary with a write mirror.
func NewFanoutCandleStore(primary, mirror CandleStore) *FanoutCandleStore {
	return &FanoutCandleStore{primary: primary, mirror: mirror}
}

// MergeBulk folds the batch into the primary first, then the mirror. A
// primary failure skips the mirror so the two sides cannot diverge on
// which batches the primary accepted.
func (s *FanoutCandleStore) MergeBulk(ctx context.Context, candles []*domain.OhlcvBucket) error {
	if err := s.primary.MergeBulk(ctx, candles); err != nil {
		return err
	}
	if err := s.mirror.MergeBulk(ctx, candles); err != nil {
		return fmt.Errorf("mirror: %w", err)
	}
	return nil
}

// GetByPair reads from the primary store.
func (s *FanoutCandleStore) GetByPair(ctx context.Context, chain domain.Chain, pairAddress string) ([]*domain.OhlcvBucket, error) {
	return s.primary.GetByPair(ctx, chain, pairAddress)
}

// GetByTimeRange reads from the primary store.
func (s *FanoutCandleStore) GetByTimeRange(ctx context.Context, chain domain.Chain, pairAddress string, start, end int64) ([]*domain.OhlcvBucket, error) {
	return s.primary.GetByTimeRange(ctx, chain, pairAddress, start, end)
}
