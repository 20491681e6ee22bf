// Package aggregate folds normalized events into the three ledgers: candles,
// deduplicated transactions, and market-maker positions.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"dexfeed/internal/domain"
	"dexfeed/internal/observability"
	"dexfeed/internal/storage"
)

// TxRecorder decides whether a swap is being seen for the first time.
// Delivery is at-least-once, so the recorder gates every non-idempotent fold:
// a swap whose hash is already known contributes nothing downstream.
type TxRecorder struct {
	store storage.TransactionStore

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewTxRecorder creates a recorder backed by the transaction ledger.
func NewTxRecorder(store storage.TransactionStore) *TxRecorder {
	return &TxRecorder{
		store: store,
		seen:  make(map[string]struct{}),
	}
}

// FirstSeen reports whether the hash is new, consulting the in-process set
// first and the store for hashes recorded by earlier runs or the backfill.
// Insertion into the set is the gate: concurrent deliveries of one hash race
// to insert, and only the winner goes on to consult the store.
func (r *TxRecorder) FirstSeen(ctx context.Context, chain domain.Chain, txHash string) (bool, error) {
	key := fmt.Sprintf("%s|%s", chain, txHash)

	r.mu.Lock()
	if _, ok := r.seen[key]; ok {
		r.mu.Unlock()
		return false, nil
	}
	r.seen[key] = struct{}{}
	r.mu.Unlock()

	exists, err := r.store.Exists(ctx, chain, txHash)
	if err != nil {
		// Give the hash back so a redelivery can retry the lookup.
		r.mu.Lock()
		delete(r.seen, key)
		r.mu.Unlock()
		return false, fmt.Errorf("check transaction exists: %w", err)
	}
	return !exists, nil
}

// Processor folds swaps into candle partials and transaction rows, staging
// both on the batch writer. Malformed swaps are logged and skipped.
type Processor struct {
	recorder *TxRecorder
	writer   *storage.BatchWriter
	logger   *log.Logger
}

// NewProcessor creates a swap processor.
func NewProcessor(recorder *TxRecorder, writer *storage.BatchWriter, logger *log.Logger) *Processor {
	if logger == nil {
		logger = log.Default()
	}
	return &Processor{
		recorder: recorder,
		writer:   writer,
		logger:   logger,
	}
}

// ProcessSwap derives price and volume from a swap and stages one candle
// partial plus one transaction row. Redelivered hashes are dropped before any
// fold so replays cannot inflate volume.
func (p *Processor) ProcessSwap(ctx context.Context, swap *domain.SwapEvent) error {
	first, err := p.recorder.FirstSeen(ctx, swap.Chain, swap.TxHash)
	if err != nil {
		return err
	}
	if !first {
		observability.RecordDeduplicated()
		return nil
	}

	price, volume, err := swap.PriceVolume()
	if err != nil {
		if errors.Is(err, domain.ErrMalformedEvent) {
			p.logger.Printf("[%s] skipping malformed swap %s: %v", swap.Chain, swap.TxHash, err)
			observability.RecordMalformed(swap.Chain.String(), "swap")
			return nil
		}
		return err
	}

	vol, _ := volume.Float64()
	p.writer.QueueCandle(domain.NewOhlcvBucket(swap.Chain, swap.PairAddress, price, vol, swap.Timestamp))
	p.writer.QueueTransaction(&domain.TransactionRecord{
		Chain:       swap.Chain,
		PairAddress: swap.PairAddress,
		TxHash:      swap.TxHash,
		Sender:      swap.Sender,
		To:          swap.Recipient,
		Amount:      volume,
		Timestamp:   swap.Timestamp,
	})
	observability.RecordEventProcessed(swap.Chain.String(), "swap")
	return nil
}
