// Package pipeline drives live ingestion for one chain: it takes the current
// connection handle, subscribes to every tracked pair, and folds the event
// stream into the ledgers until the handle dies, then waits for the next one.
package pipeline

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"dexfeed/internal/aggregate"
	"dexfeed/internal/chain"
	"dexfeed/internal/connection"
	"dexfeed/internal/domain"
	"dexfeed/internal/normalize"
	"dexfeed/internal/observability"
	"dexfeed/internal/storage"
)

// DefaultFlushInterval is how often staged writes are flushed during a
// live session.
const DefaultFlushInterval = 5 * time.Second

// Runner consumes live events for one chain. Reconnection is the connection
// manager's job; the runner just rides one handle generation at a time and
// starts a fresh session (new subscriptions, new timestamp cache) on each.
type Runner struct {
	manager   *connection.Manager
	processor *aggregate.Processor
	ledger    *aggregate.Ledger
	writer    *storage.BatchWriter
	flush     time.Duration
	logger    *log.Logger

	mu      sync.Mutex
	tracked map[string]struct{}

	newPairs chan string
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Manager       *connection.Manager
	Processor     *aggregate.Processor
	Ledger        *aggregate.Ledger
	Writer        *storage.BatchWriter
	FlushInterval time.Duration
	Logger        *log.Logger
}

// NewRunner creates a live pipeline runner.
func NewRunner(opts RunnerOptions) *Runner {
	flush := opts.FlushInterval
	if flush == 0 {
		flush = DefaultFlushInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		manager:   opts.Manager,
		processor: opts.Processor,
		ledger:    opts.Ledger,
		writer:    opts.Writer,
		flush:     flush,
		logger:    logger,
		tracked:   make(map[string]struct{}),
		newPairs:  make(chan string, 64),
	}
}

// Track adds a pair to the live subscription set. The current session picks
// it up immediately; later sessions subscribe from the full set.
func (r *Runner) Track(pairAddress string) {
	r.mu.Lock()
	if _, ok := r.tracked[pairAddress]; ok {
		r.mu.Unlock()
		return
	}
	r.tracked[pairAddress] = struct{}{}
	n := len(r.tracked)
	r.mu.Unlock()
	observability.RecordPairsTracked(r.manager.Chain().String(), n)

	select {
	case r.newPairs <- pairAddress:
	default:
		// Channel full: the pair is in the set, the next session covers it.
	}
}

// TrackedPairs returns a snapshot of the subscription set.
func (r *Runner) TrackedPairs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	pairs := make([]string, 0, len(r.tracked))
	for p := range r.tracked {
		pairs = append(pairs, p)
	}
	return pairs
}

// Run blocks until ctx is cancelled, riding handle generations as the
// manager produces them.
func (r *Runner) Run(ctx context.Context) error {
	var lastGen uint64

	for {
		src, gen, err := r.manager.WaitReady(ctx)
		if err != nil {
			r.writer.Flush(context.WithoutCancel(ctx))
			return err
		}
		if gen == lastGen {
			// Manager has not noticed the dead handle yet.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		lastGen = gen

		if err := r.runSession(ctx, src); err != nil {
			return err
		}
		r.logger.Printf("[%s] live session ended, waiting for reconnect", r.manager.Chain())
	}
}

// runSession consumes one handle until it dies or ctx is cancelled.
// Returns nil on connection loss so Run loops into the next generation.
func (r *Runner) runSession(ctx context.Context, src chain.Source) error {
	events := make(chan chain.RawEvent, 256)
	lost := make(chan struct{})
	var lostOnce sync.Once

	forward := func(ch <-chan chain.RawEvent) {
		for ev := range ch {
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
		// Closed subscription channel means the transport failed.
		lostOnce.Do(func() { close(lost) })
	}

	// Pairs tracked before the session starts are covered by the snapshot
	// below; any copy still queued on newPairs must not subscribe twice.
	subscribed := make(map[string]struct{})
	subscribe := func(pair string) {
		if _, ok := subscribed[pair]; ok {
			return
		}
		ch, err := src.Subscribe(ctx, pair)
		if err != nil {
			r.logger.Printf("[%s] subscribe %s failed: %v", src.Chain(), pair, err)
			// Force the handle down so the manager redials instead of the
			// session idling on a half-subscribed connection.
			src.Close()
			lostOnce.Do(func() { close(lost) })
			return
		}
		subscribed[pair] = struct{}{}
		go forward(ch)
	}

	for _, pair := range r.TrackedPairs() {
		subscribe(pair)
	}

	session := normalize.NewSession(src)
	ticker := time.NewTicker(r.flush)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.writer.Flush(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-lost:
			r.writer.Flush(ctx)
			return nil
		case <-src.Done():
			r.writer.Flush(ctx)
			return nil
		case pair := <-r.newPairs:
			subscribe(pair)
		case <-ticker.C:
			r.writer.Flush(ctx)
		case ev := <-events:
			r.dispatch(ctx, session, src, ev)
		}
	}
}

// dispatch folds one raw event. Per-event failures are logged and skipped so
// one bad log line cannot stall the stream.
func (r *Runner) dispatch(ctx context.Context, session *normalize.Session, src chain.Source, ev chain.RawEvent) {
	switch ev.Kind {
	case chain.KindSwap:
		swap, err := session.Swap(ctx, ev)
		if err != nil {
			r.logEventErr(src, "swap", err)
			return
		}
		if err := r.processor.ProcessSwap(ctx, swap); err != nil {
			r.logEventErr(src, "swap", err)
		}
	case chain.KindTransfer:
		transfer, err := session.Transfer(ctx, ev)
		if err != nil {
			r.logEventErr(src, "transfer", err)
			return
		}
		if err := r.ledger.ApplyTransfer(ctx, transfer); err != nil {
			r.logEventErr(src, "transfer", err)
		}
	case chain.KindSync:
		sync, err := session.Sync(ctx, ev)
		if err != nil {
			r.logEventErr(src, "sync", err)
			return
		}
		if err := r.ledger.ApplySync(ctx, sync, src); err != nil {
			r.logEventErr(src, "sync", err)
		}
	}
}

func (r *Runner) logEventErr(src chain.Source, kind string, err error) {
	if errors.Is(err, domain.ErrMalformedEvent) {
		r.logger.Printf("[%s] skipping malformed %s: %v", src.Chain(), kind, err)
		observability.RecordMalformed(src.Chain().String(), kind)
		return
	}
	r.logger.Printf("[%s] %s processing error: %v", src.Chain(), kind, err)
	observability.RecordProcessingError(src.Chain().String(), kind)
}
