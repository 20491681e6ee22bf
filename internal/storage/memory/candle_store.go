// Package memory provides in-memory store implementations used by tests and
// by single-process runs that do not need durability.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"dexfeed/internal/domain"
	"dexfeed/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[string]*domain.OhlcvBucket
}

var _ storage.CandleStore = (*CandleStore)(nil)

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[string]*domain.OhlcvBucket),
	}
}

func candleKey(chain domain.Chain, pair string, bucketStart int64) string {
	return fmt.Sprintf("%s|%s|%d", chain, pair, bucketStart)
}

// MergeBulk folds candle aggregates into the store. A new key creates the row
// as-is; an existing key merges by event time, so open and close are arrival
// order independent.
func (s *CandleStore) MergeBulk(_ context.Context, candles []*domain.OhlcvBucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range candles {
		if c == nil || c.PairAddress == "" {
			return storage.ErrInvalidInput
		}
		key := candleKey(c.Chain, c.PairAddress, c.BucketStart)
		if existing, ok := s.data[key]; ok {
			existing.MergeBucket(c)
			continue
		}
		cp := *c
		s.data[key] = &cp
	}
	return nil
}

// GetByPair retrieves all candles for a pair, ordered by bucket_start ASC.
func (s *CandleStore) GetByPair(_ context.Context, chain domain.Chain, pair string) ([]*domain.OhlcvBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.OhlcvBucket
	for _, c := range s.data {
		if c.Chain == chain && c.PairAddress == pair {
			cp := *c
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].BucketStart < result[j].BucketStart
	})
	return result, nil
}

// GetByTimeRange retrieves candles for a pair within [start, end] (inclusive).
func (s *CandleStore) GetByTimeRange(ctx context.Context, chain domain.Chain, pair string, start, end int64) ([]*domain.OhlcvBucket, error) {
	all, err := s.GetByPair(ctx, chain, pair)
	if err != nil {
		return nil, err
	}
	var result []*domain.OhlcvBucket
	for _, c := range all {
		if c.BucketStart >= start && c.BucketStart <= end {
			result = append(result, c)
		}
	}
	return result, nil
}
