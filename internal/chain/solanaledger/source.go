// Package solanaledger is the ledger-family chain.Source variant. The feed
// carries no AMM pair contracts, so pair resolution is the identity mapping
// and event delivery is empty until a DEX program feed is wired in; the
// package exists so the pipeline stays polymorphic over chain families and
// the API can validate ledger addresses.
package solanaledger

import (
	"context"
	"time"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"dexfeed/internal/chain"
	"dexfeed/internal/domain"
)

// Source implements chain.Source for the Solana ledger.
type Source struct {
	done chan struct{}
}

// Compile-time interface check.
var _ chain.Source = (*Source)(nil)

// NewSource creates a ledger source.
func NewSource() *Source {
	return &Source{done: make(chan struct{})}
}

// Chain returns the chain this source serves.
func (s *Source) Chain() domain.Chain { return domain.ChainSolana }

// BlockTime returns the ledger's approximate slot time in seconds.
func (s *Source) BlockTime() int64 { return 1 }

// Subscribe returns an open, empty event stream: no pair programs are
// monitored yet. The channel closes when the source closes.
func (s *Source) Subscribe(ctx context.Context, pairAddress string) (<-chan chain.RawEvent, error) {
	events := make(chan chain.RawEvent)
	go func() {
		defer close(events)
		select {
		case <-ctx.Done():
		case <-s.done:
		}
	}()
	return events, nil
}

// QueryRange returns no historical events; the ledger feed has no log store.
func (s *Source) QueryRange(ctx context.Context, pairAddress string, fromBlock, toBlock int64) ([]chain.RawEvent, error) {
	return nil, nil
}

// BlockNumber returns the wall clock as a slot approximation.
func (s *Source) BlockNumber(ctx context.Context) (int64, error) {
	return time.Now().Unix(), nil
}

// BlockTimestamp maps a slot approximation back to a timestamp.
func (s *Source) BlockTimestamp(ctx context.Context, blockNumber int64) (int64, error) {
	return blockNumber, nil
}

// TotalSupply is zero: no LP-token mint is tracked, so the ledger allocates
// no fees for this chain.
func (s *Source) TotalSupply(ctx context.Context, pairAddress string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

// PairAddress is the identity mapping: tokens stand in for their pools.
// Mint keys come from keypairs, so only on-curve addresses resolve;
// program-derived addresses have no pair here.
func (s *Source) PairAddress(ctx context.Context, tokenAddress string) (string, error) {
	if !IsOnCurve(tokenAddress) {
		return "", chain.ErrNoPair
	}
	return tokenAddress, nil
}

// Done is closed when the source closes.
func (s *Source) Done() <-chan struct{} { return s.done }

// Close shuts the source down.
func (s *Source) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return nil
}

// IsAddress reports whether s is a well-formed base58 ed25519 public key.
// Off-curve keys (program-derived addresses) are accepted; only length and
// encoding are enforced.
func IsAddress(addr string) bool {
	b, err := base58.Decode(addr)
	if err != nil {
		return false
	}
	return len(b) == 32
}

// IsOnCurve reports whether the address decodes to a point on the ed25519
// curve, distinguishing wallet keys from program-derived addresses.
func IsOnCurve(addr string) bool {
	b, err := base58.Decode(addr)
	if err != nil || len(b) != 32 {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(b)
	return err == nil
}
