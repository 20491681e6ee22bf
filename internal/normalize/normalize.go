// Package normalize turns raw chain logs into canonical domain events.
// A Session caches block timestamps for its lifetime, so every event in the
// same block costs a single timestamp lookup. Sessions are scoped to one
// backfill run or one live connection; a reconnect starts a fresh Session.
package normalize

import (
	"context"
	"fmt"
	"sync"

	"dexfeed/internal/chain"
	"dexfeed/internal/chain/evm"
	"dexfeed/internal/domain"
	"dexfeed/internal/observability"
)

// TimestampSource resolves a block number to its unix timestamp.
type TimestampSource interface {
	BlockTimestamp(ctx context.Context, blockNumber int64) (int64, error)
}

// Session decodes raw events for one chain with a private timestamp cache.
type Session struct {
	ts TimestampSource

	mu    sync.Mutex
	cache map[int64]int64
}

// NewSession creates a decoding session with an empty timestamp cache.
func NewSession(ts TimestampSource) *Session {
	return &Session{
		ts:    ts,
		cache: make(map[int64]int64),
	}
}

// Swap decodes a raw swap log and stamps it with its block time.
func (s *Session) Swap(ctx context.Context, ev chain.RawEvent) (*domain.SwapEvent, error) {
	out, err := decodeSwap(ev)
	if err != nil {
		return nil, err
	}
	if out.Timestamp == 0 {
		ts, err := s.blockTimestamp(ctx, ev.BlockNumber)
		if err != nil {
			return nil, err
		}
		out.Timestamp = ts
	}
	return out, nil
}

// Transfer decodes a raw LP-token transfer log.
func (s *Session) Transfer(ctx context.Context, ev chain.RawEvent) (*domain.TransferEvent, error) {
	return decodeTransfer(ev)
}

// Sync decodes a raw reserve sync log.
func (s *Session) Sync(ctx context.Context, ev chain.RawEvent) (*domain.SyncEvent, error) {
	return decodeSync(ev)
}

// blockTimestamp resolves through the cache, hitting the source once per
// distinct block.
func (s *Session) blockTimestamp(ctx context.Context, blockNumber int64) (int64, error) {
	s.mu.Lock()
	if ts, ok := s.cache[blockNumber]; ok {
		s.mu.Unlock()
		observability.RecordTimestampLookup("hit")
		return ts, nil
	}
	s.mu.Unlock()

	observability.RecordTimestampLookup("miss")
	ts, err := s.ts.BlockTimestamp(ctx, blockNumber)
	if err != nil {
		return 0, fmt.Errorf("block %d timestamp: %w", blockNumber, err)
	}

	s.mu.Lock()
	s.cache[blockNumber] = ts
	s.mu.Unlock()
	return ts, nil
}

func decodeSwap(ev chain.RawEvent) (*domain.SwapEvent, error) {
	switch ev.Chain.Family() {
	case domain.FamilyEVM:
		return evm.DecodeSwap(ev)
	default:
		return nil, fmt.Errorf("%w: no swap decoder for chain %s", domain.ErrMalformedEvent, ev.Chain)
	}
}

func decodeTransfer(ev chain.RawEvent) (*domain.TransferEvent, error) {
	switch ev.Chain.Family() {
	case domain.FamilyEVM:
		return evm.DecodeTransfer(ev)
	default:
		return nil, fmt.Errorf("%w: no transfer decoder for chain %s", domain.ErrMalformedEvent, ev.Chain)
	}
}

func decodeSync(ev chain.RawEvent) (*domain.SyncEvent, error) {
	switch ev.Chain.Family() {
	case domain.FamilyEVM:
		return evm.DecodeSync(ev)
	default:
		return nil, fmt.Errorf("%w: no sync decoder for chain %s", domain.ErrMalformedEvent, ev.Chain)
	}
}
