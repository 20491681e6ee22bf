// Package chain defines the polymorphic event-source abstraction the pipeline
// consumes: live delivery plus historical range queries, with concrete
// variants per chain family.
package chain

import (
	"context"

	"github.com/shopspring/decimal"

	"dexfeed/internal/domain"
)

// EventKind classifies a raw pair event before normalization.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindSwap
	KindTransfer
	KindSync
)

func (k EventKind) String() string {
	switch k {
	case KindSwap:
		return "swap"
	case KindTransfer:
		return "transfer"
	case KindSync:
		return "sync"
	default:
		return "unknown"
	}
}

// RawEvent is a chain event as delivered by a source: classified by kind but
// otherwise undecoded. The normalizer turns it into a canonical domain event.
type RawEvent struct {
	Chain       domain.Chain
	PairAddress string
	Kind        EventKind
	// Topics are the indexed fields, topic 0 being the event signature.
	Topics []string
	// Data holds the unindexed fields as packed 32-byte words.
	Data []byte
	TxHash      string
	BlockNumber int64
	// Timestamp is pre-resolved by ledger-family sources; zero for EVM
	// sources, where the normalizer resolves it via BlockTimestamp.
	Timestamp int64
}

// Source provides pair events for one chain. Implementations exist per chain
// family (EVM contract logs, ledger-specific feeds).
type Source interface {
	// Chain returns the chain this source serves.
	Chain() domain.Chain

	// Subscribe delivers live events for the pair until the context is
	// cancelled or the transport fails, which closes the channel.
	Subscribe(ctx context.Context, pairAddress string) (<-chan RawEvent, error)

	// QueryRange returns historical events for the pair within
	// [fromBlock, toBlock], ordered by block.
	QueryRange(ctx context.Context, pairAddress string, fromBlock, toBlock int64) ([]RawEvent, error)

	// BlockNumber returns the current head block number.
	BlockNumber(ctx context.Context) (int64, error)

	// BlockTimestamp returns the unix timestamp of a block.
	BlockTimestamp(ctx context.Context, blockNumber int64) (int64, error)

	// TotalSupply returns the pair's LP-token total supply in whole units.
	TotalSupply(ctx context.Context, pairAddress string) (decimal.Decimal, error)

	// PairAddress resolves a token address to its pair address against the
	// chain's canonical quote asset. Returns storage-level not-found
	// semantics via ErrNoPair.
	PairAddress(ctx context.Context, tokenAddress string) (string, error)

	// BlockTime returns the chain's approximate seconds per block, used to
	// size backfill look-back windows.
	BlockTime() int64

	// Done is closed when the source's transport has failed; the connection
	// manager uses it to schedule a replacement handle.
	Done() <-chan struct{}

	// Close releases the underlying transport.
	Close() error
}

// SupplyLookup is the slice of Source the market-maker ledger needs.
type SupplyLookup interface {
	TotalSupply(ctx context.Context, pairAddress string) (decimal.Decimal, error)
}
