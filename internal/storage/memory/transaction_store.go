package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"dexfeed/internal/domain"
	"dexfeed/internal/storage"
)

// TransactionStore is an in-memory implementation of storage.TransactionStore.
type TransactionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TransactionRecord
}

var _ storage.TransactionStore = (*TransactionStore)(nil)

// NewTransactionStore creates a new in-memory transaction store.
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{
		data: make(map[string]*domain.TransactionRecord),
	}
}

func txKey(chain domain.Chain, txHash string) string {
	return fmt.Sprintf("%s|%s", chain, txHash)
}

// UpsertBulk records transactions keyed by (chain, tx_hash), overwriting
// redelivered hashes in place.
func (s *TransactionStore) UpsertBulk(_ context.Context, txs []*domain.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range txs {
		if t == nil || t.TxHash == "" {
			return storage.ErrInvalidInput
		}
		cp := *t
		s.data[txKey(t.Chain, t.TxHash)] = &cp
	}
	return nil
}

// Exists reports whether a transaction hash has been recorded.
func (s *TransactionStore) Exists(_ context.Context, chain domain.Chain, txHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[txKey(chain, txHash)]
	return ok, nil
}

// GetLatestByPair retrieves up to limit transactions for a pair, newest first.
func (s *TransactionStore) GetLatestByPair(_ context.Context, chain domain.Chain, pair string, limit int) ([]*domain.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TransactionRecord
	for _, t := range s.data {
		if t.Chain == chain && t.PairAddress == pair {
			cp := *t
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp > result[j].Timestamp
		}
		return result[i].TxHash > result[j].TxHash
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
