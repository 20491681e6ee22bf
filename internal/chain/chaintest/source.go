// Package chaintest provides an in-memory chain.Source for tests.
package chaintest

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"dexfeed/internal/chain"
	"dexfeed/internal/domain"
)

// Source is a scriptable in-memory chain.Source.
type Source struct {
	ChainID domain.Chain

	mu      sync.Mutex
	subs    map[string][]chan chain.RawEvent
	history map[string][]chain.RawEvent

	Head       int64
	Timestamps map[int64]int64
	Supply     decimal.Decimal
	Pairs      map[string]string

	// Error overrides.
	QueryErr     error
	SubscribeErr error
	SupplyErr    error

	// Call counters.
	TimestampCalls int
	QueryCalls     int
	SubscribeCalls int

	done      chan struct{}
	closeOnce sync.Once
}

// Compile-time interface check.
var _ chain.Source = (*Source)(nil)

// NewSource creates a fake source for the chain.
func NewSource(chainID domain.Chain) *Source {
	return &Source{
		ChainID:    chainID,
		subs:       make(map[string][]chan chain.RawEvent),
		history:    make(map[string][]chain.RawEvent),
		Timestamps: make(map[int64]int64),
		Pairs:      make(map[string]string),
		Head:       1000,
		done:       make(chan struct{}),
	}
}

func (s *Source) Chain() domain.Chain { return s.ChainID }

func (s *Source) BlockTime() int64 { return 13 }

// AddHistory scripts historical events for QueryRange.
func (s *Source) AddHistory(pair string, events ...chain.RawEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[pair] = append(s.history[pair], events...)
}

// Emit delivers a live event to all subscribers of the pair.
func (s *Source) Emit(pair string, ev chain.RawEvent) {
	s.mu.Lock()
	channels := append([]chan chain.RawEvent(nil), s.subs[pair]...)
	s.mu.Unlock()

	for _, ch := range channels {
		ch <- ev
	}
}

// Fail simulates a transport failure: Done fires and all subscription
// channels close.
func (s *Source) Fail() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		defer s.mu.Unlock()
		for pair, channels := range s.subs {
			for _, ch := range channels {
				close(ch)
			}
			delete(s.subs, pair)
		}
	})
}

func (s *Source) Subscribe(ctx context.Context, pair string) (<-chan chain.RawEvent, error) {
	s.mu.Lock()
	s.SubscribeCalls++
	s.mu.Unlock()
	if s.SubscribeErr != nil {
		return nil, s.SubscribeErr
	}
	ch := make(chan chain.RawEvent, 100)
	s.mu.Lock()
	s.subs[pair] = append(s.subs[pair], ch)
	s.mu.Unlock()
	return ch, nil
}

func (s *Source) QueryRange(ctx context.Context, pair string, fromBlock, toBlock int64) ([]chain.RawEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueryCalls++
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}

	var out []chain.RawEvent
	for _, ev := range s.history[pair] {
		if ev.BlockNumber >= fromBlock && ev.BlockNumber <= toBlock {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *Source) BlockNumber(ctx context.Context) (int64, error) {
	return s.Head, nil
}

func (s *Source) BlockTimestamp(ctx context.Context, blockNumber int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TimestampCalls++
	if ts, ok := s.Timestamps[blockNumber]; ok {
		return ts, nil
	}
	// Deterministic fallback keeps fixtures terse.
	return blockNumber, nil
}

func (s *Source) TotalSupply(ctx context.Context, pair string) (decimal.Decimal, error) {
	if s.SupplyErr != nil {
		return decimal.Zero, s.SupplyErr
	}
	return s.Supply, nil
}

func (s *Source) PairAddress(ctx context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pair, ok := s.Pairs[token]; ok {
		return pair, nil
	}
	return "", chain.ErrNoPair
}

func (s *Source) Done() <-chan struct{} { return s.done }

func (s *Source) Close() error {
	s.Fail()
	return nil
}
