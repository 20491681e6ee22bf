// Package pairs maps quote tokens to their AMM pair addresses and remembers
// which pairs the process is tracking.
package pairs

import (
	"context"
	"fmt"
	"log"
	"sync"

	"dexfeed/internal/chain"
	"dexfeed/internal/domain"
)

// TrackFunc is invoked once when a pair is resolved for the first time.
// Implementations typically subscribe the live runner and kick a backfill.
type TrackFunc func(ctx context.Context, src chain.Source, pairAddress string)

// Resolver caches token-to-pair lookups per chain. The factory contract is
// consulted once per token; every later request hits the cache.
type Resolver struct {
	onTrack TrackFunc
	logger  *log.Logger

	mu    sync.Mutex
	cache map[string]string
}

// NewResolver creates a pair resolver. onTrack may be nil.
func NewResolver(onTrack TrackFunc, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{
		onTrack: onTrack,
		logger:  logger,
		cache:   make(map[string]string),
	}
}

// Resolve returns the pair address trading the token against the chain's
// quote asset. The first successful resolution marks the pair tracked and
// fires the track hook. Returns chain.ErrNoPair when the factory has no pair.
func (r *Resolver) Resolve(ctx context.Context, src chain.Source, tokenAddress string) (string, error) {
	key := fmt.Sprintf("%s|%s", src.Chain(), tokenAddress)

	r.mu.Lock()
	if pair, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return pair, nil
	}
	r.mu.Unlock()

	pair, err := src.PairAddress(ctx, tokenAddress)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	if cached, ok := r.cache[key]; ok {
		// Lost the race to a concurrent resolver; the winner fired the hook.
		r.mu.Unlock()
		return cached, nil
	}
	r.cache[key] = pair
	r.mu.Unlock()

	r.logger.Printf("[%s] tracking pair %s for token %s", src.Chain(), pair, tokenAddress)
	if r.onTrack != nil {
		r.onTrack(ctx, src, pair)
	}
	return pair, nil
}

// Resolved reports whether the token already has a cached pair.
func (r *Resolver) Resolved(chainID domain.Chain, tokenAddress string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cache[fmt.Sprintf("%s|%s", chainID, tokenAddress)]
	return ok
}
