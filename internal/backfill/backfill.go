// Package backfill replays recent history for a pair when it is first
// tracked, so candles and positions do not start empty at subscription time.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"dexfeed/internal/aggregate"
	"dexfeed/internal/chain"
	"dexfeed/internal/domain"
	"dexfeed/internal/normalize"
	"dexfeed/internal/observability"
	"dexfeed/internal/storage"
)

// DefaultLookback is how far back a first-touch backfill reaches.
const DefaultLookback = 24 * time.Hour

// DefaultMaxConcurrent bounds how many pairs backfill at once.
const DefaultMaxConcurrent = 4

// Runner replays history for pairs. Each pair backfills at most once per
// process lifetime; concurrent requests beyond the bound wait their turn.
type Runner struct {
	processor *aggregate.Processor
	ledger    *aggregate.Ledger
	writer    *storage.BatchWriter
	logger    *log.Logger
	lookback  time.Duration
	sem       *semaphore.Weighted

	mu   sync.Mutex
	done map[string]struct{}
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Processor     *aggregate.Processor
	Ledger        *aggregate.Ledger
	Writer        *storage.BatchWriter
	Logger        *log.Logger
	Lookback      time.Duration
	MaxConcurrent int64
}

// NewRunner creates a backfill runner.
func NewRunner(opts RunnerOptions) *Runner {
	lookback := opts.Lookback
	if lookback == 0 {
		lookback = DefaultLookback
	}
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent == 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		processor: opts.Processor,
		ledger:    opts.Ledger,
		writer:    opts.Writer,
		logger:    logger,
		lookback:  lookback,
		sem:       semaphore.NewWeighted(maxConcurrent),
		done:      make(map[string]struct{}),
	}
}

// Backfill replays the lookback window for one pair. Repeat calls for an
// already-backfilled pair return immediately.
func (r *Runner) Backfill(ctx context.Context, src chain.Source, pairAddress string) error {
	key := fmt.Sprintf("%s|%s", src.Chain(), pairAddress)

	r.mu.Lock()
	if _, ok := r.done[key]; ok {
		r.mu.Unlock()
		return nil
	}
	r.done[key] = struct{}{}
	r.mu.Unlock()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.sem.Release(1)

	start := time.Now()
	err := r.run(ctx, src, pairAddress)
	observability.RecordBackfill(src.Chain().String(), time.Since(start).Seconds(), err)
	if err != nil {
		// Allow a later retry for the pair.
		r.mu.Lock()
		delete(r.done, key)
		r.mu.Unlock()
		return err
	}
	return nil
}

// BackfillAll replays history for several pairs with bounded concurrency.
// A failing pair is logged and isolated; the rest proceed.
func (r *Runner) BackfillAll(ctx context.Context, src chain.Source, pairs []string) {
	var g errgroup.Group
	for _, pair := range pairs {
		pair := pair
		g.Go(func() error {
			if err := r.Backfill(ctx, src, pair); err != nil {
				r.logger.Printf("[%s] backfill %s failed: %v", src.Chain(), pair, err)
			}
			return nil
		})
	}
	g.Wait()
}

// run does the actual replay: swaps first so the transaction ledger gates
// later live redeliveries, then transfers and syncs in log order for the
// position ledger. One flush lands everything.
func (r *Runner) run(ctx context.Context, src chain.Source, pairAddress string) error {
	head, err := src.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("head block: %w", err)
	}

	blockTime := src.BlockTime()
	if blockTime <= 0 {
		blockTime = 1
	}
	from := head - int64(r.lookback.Seconds())/blockTime
	if from < 0 {
		from = 0
	}

	events, err := src.QueryRange(ctx, pairAddress, from, head)
	if err != nil {
		return fmt.Errorf("query range [%d, %d]: %w", from, head, err)
	}

	// Timestamp cache lives for this replay only.
	session := normalize.NewSession(src)

	for _, ev := range events {
		if ev.Kind != chain.KindSwap {
			continue
		}
		swap, err := session.Swap(ctx, ev)
		if err != nil {
			if errors.Is(err, domain.ErrMalformedEvent) {
				r.logger.Printf("[%s] skipping malformed swap in backfill: %v", src.Chain(), err)
				continue
			}
			return err
		}
		if err := r.processor.ProcessSwap(ctx, swap); err != nil {
			return err
		}
	}

	for _, ev := range events {
		switch ev.Kind {
		case chain.KindTransfer:
			transfer, err := session.Transfer(ctx, ev)
			if err != nil {
				if errors.Is(err, domain.ErrMalformedEvent) {
					r.logger.Printf("[%s] skipping malformed transfer in backfill: %v", src.Chain(), err)
					continue
				}
				return err
			}
			if err := r.ledger.ApplyTransfer(ctx, transfer); err != nil {
				return err
			}
		case chain.KindSync:
			sync, err := session.Sync(ctx, ev)
			if err != nil {
				if errors.Is(err, domain.ErrMalformedEvent) {
					r.logger.Printf("[%s] skipping malformed sync in backfill: %v", src.Chain(), err)
					continue
				}
				return err
			}
			if err := r.ledger.ApplySync(ctx, sync, src); err != nil {
				return err
			}
		}
	}

	r.writer.Flush(ctx)
	r.logger.Printf("[%s] backfilled %s: %d events over blocks [%d, %d]",
		src.Chain(), pairAddress, len(events), from, head)
	return nil
}
