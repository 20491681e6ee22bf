package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"dexfeed/internal/domain"
	"dexfeed/internal/storage"
)

// MarketMakerStore is an in-memory implementation of storage.MarketMakerStore.
type MarketMakerStore struct {
	mu   sync.RWMutex
	data map[string]*domain.MarketMakerPosition
}

var _ storage.MarketMakerStore = (*MarketMakerStore)(nil)

// NewMarketMakerStore creates a new in-memory market-maker store.
func NewMarketMakerStore() *MarketMakerStore {
	return &MarketMakerStore{
		data: make(map[string]*domain.MarketMakerPosition),
	}
}

func positionKey(chain domain.Chain, pair, address string) string {
	return fmt.Sprintf("%s|%s|%s", chain, pair, address)
}

// UpsertBulk writes full position rows keyed by (chain, pair_address, address).
func (s *MarketMakerStore) UpsertBulk(_ context.Context, positions []*domain.MarketMakerPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range positions {
		if p == nil || p.Address == "" || p.PairAddress == "" {
			return storage.ErrInvalidInput
		}
		cp := *p
		s.data[positionKey(p.Chain, p.PairAddress, p.Address)] = &cp
	}
	return nil
}

// GetByPair retrieves all positions for a pair, ordered by address ASC.
func (s *MarketMakerStore) GetByPair(_ context.Context, chain domain.Chain, pair string) ([]*domain.MarketMakerPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.MarketMakerPosition
	for _, p := range s.data {
		if p.Chain == chain && p.PairAddress == pair {
			cp := *p
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Address < result[j].Address
	})
	return result, nil
}

// NewStore bundles fresh in-memory implementations of all three ledgers.
func NewStore() *storage.Store {
	return &storage.Store{
		Candles:      NewCandleStore(),
		Transactions: NewTransactionStore(),
		MarketMakers: NewMarketMakerStore(),
	}
}
