package storage

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"dexfeed/internal/domain"
	"dexfeed/internal/observability"
)

// BatchWriter accumulates pending writes between flush cycles and issues one
// bulk operation per entity kind. Writes targeting the same key collapse
// in memory before they ever reach a backend: candle partials merge, and
// transaction and position rows keep the latest version.
//
// Flush is best effort. A failed bulk write is logged and its batch dropped;
// ingestion is never stalled by a slow or unavailable backend.
type BatchWriter struct {
	store  *Store
	logger *log.Logger

	mu        sync.Mutex
	candles   map[string]*domain.OhlcvBucket
	txs       map[string]*domain.TransactionRecord
	positions map[string]*domain.MarketMakerPosition
}

// NewBatchWriter creates a batch writer over the given store.
func NewBatchWriter(store *Store, logger *log.Logger) *BatchWriter {
	if logger == nil {
		logger = log.Default()
	}
	return &BatchWriter{
		store:     store,
		logger:    logger,
		candles:   make(map[string]*domain.OhlcvBucket),
		txs:       make(map[string]*domain.TransactionRecord),
		positions: make(map[string]*domain.MarketMakerPosition),
	}
}

func candleKey(c *domain.OhlcvBucket) string {
	return fmt.Sprintf("%s|%s|%d", c.Chain, c.PairAddress, c.BucketStart)
}

func txKey(t *domain.TransactionRecord) string {
	return fmt.Sprintf("%s|%s", t.Chain, t.TxHash)
}

func positionKey(p *domain.MarketMakerPosition) string {
	return fmt.Sprintf("%s|%s|%s", p.Chain, p.PairAddress, p.Address)
}

// QueueCandle folds a candle partial into the pending batch.
func (w *BatchWriter) QueueCandle(c *domain.OhlcvBucket) {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := candleKey(c)
	if existing, ok := w.candles[key]; ok {
		existing.MergeBucket(c)
		return
	}
	cp := *c
	w.candles[key] = &cp
}

// QueueTransaction stages a transaction row; the latest queued version wins.
func (w *BatchWriter) QueueTransaction(t *domain.TransactionRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := *t
	w.txs[txKey(t)] = &cp
}

// QueuePosition stages a full market-maker position row.
func (w *BatchWriter) QueuePosition(p *domain.MarketMakerPosition) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := *p
	w.positions[positionKey(p)] = &cp
}

// Pending reports the number of staged rows across all entity kinds.
func (w *BatchWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.candles) + len(w.txs) + len(w.positions)
}

// Flush issues one bulk write per entity kind and clears the batch. Each kind
// fails independently; failures are logged and the affected rows dropped.
func (w *BatchWriter) Flush(ctx context.Context) {
	w.mu.Lock()
	candles := make([]*domain.OhlcvBucket, 0, len(w.candles))
	for _, c := range w.candles {
		candles = append(candles, c)
	}
	txs := make([]*domain.TransactionRecord, 0, len(w.txs))
	for _, t := range w.txs {
		txs = append(txs, t)
	}
	positions := make([]*domain.MarketMakerPosition, 0, len(w.positions))
	for _, p := range w.positions {
		positions = append(positions, p)
	}
	w.candles = make(map[string]*domain.OhlcvBucket)
	w.txs = make(map[string]*domain.TransactionRecord)
	w.positions = make(map[string]*domain.MarketMakerPosition)
	w.mu.Unlock()

	start := time.Now()

	if len(candles) > 0 {
		if err := w.store.Candles.MergeBulk(ctx, candles); err != nil {
			w.logger.Printf("candle flush failed, dropping %d rows: %v", len(candles), err)
			observability.RecordFlushError("candles")
		} else {
			observability.RecordRowsFlushed("candles", len(candles))
		}
	}
	if len(txs) > 0 {
		if err := w.store.Transactions.UpsertBulk(ctx, txs); err != nil {
			w.logger.Printf("transaction flush failed, dropping %d rows: %v", len(txs), err)
			observability.RecordFlushError("transactions")
		} else {
			observability.RecordRowsFlushed("transactions", len(txs))
		}
	}
	if len(positions) > 0 {
		if err := w.store.MarketMakers.UpsertBulk(ctx, positions); err != nil {
			w.logger.Printf("position flush failed, dropping %d rows: %v", len(positions), err)
			observability.RecordFlushError("positions")
		} else {
			observability.RecordRowsFlushed("positions", len(positions))
		}
	}

	if len(candles)+len(txs)+len(positions) > 0 {
		observability.RecordFlush(time.Since(start).Seconds())
	}
}
