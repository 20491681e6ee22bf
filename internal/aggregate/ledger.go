package aggregate

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"dexfeed/internal/chain"
	"dexfeed/internal/domain"
	"dexfeed/internal/storage"
)

// Ledger tracks liquidity-provider positions per pair and allocates trading
// fees on reserve changes. State is authoritative in memory, loaded from the
// store once per pair; every change stages full rows on the batch writer, so
// a flush is always a whole-position overwrite.
//
// All read-modify-write per pair happens under that pair's lock. Different
// pairs proceed concurrently.
type Ledger struct {
	store  storage.MarketMakerStore
	writer *storage.BatchWriter

	mu    sync.Mutex
	pairs map[string]*pairState
}

type pairState struct {
	mu        sync.Mutex
	loaded    bool
	positions map[string]*domain.MarketMakerPosition

	// prevReserve0 is the reserve seen by the previous sync; the first sync
	// only seeds it and allocates nothing.
	prevReserve0 decimal.Decimal
	seeded       bool
}

// NewLedger creates a market-maker ledger over the given store.
func NewLedger(store storage.MarketMakerStore, writer *storage.BatchWriter) *Ledger {
	return &Ledger{
		store:  store,
		writer: writer,
		pairs:  make(map[string]*pairState),
	}
}

func (l *Ledger) pair(chainID domain.Chain, pairAddress string) *pairState {
	key := fmt.Sprintf("%s|%s", chainID, pairAddress)

	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.pairs[key]
	if !ok {
		st = &pairState{positions: make(map[string]*domain.MarketMakerPosition)}
		l.pairs[key] = st
	}
	return st
}

// load pulls persisted positions into memory. Caller holds st.mu.
func (l *Ledger) load(ctx context.Context, st *pairState, chainID domain.Chain, pairAddress string) error {
	if st.loaded {
		return nil
	}
	persisted, err := l.store.GetByPair(ctx, chainID, pairAddress)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	for _, p := range persisted {
		st.positions[p.Address] = p
	}
	st.loaded = true
	return nil
}

// ApplyTransfer registers LP-token movements. A mint overwrites the
// recipient's liquidity with the minted amount; burns and wallet-to-wallet
// transfers are ignored.
func (l *Ledger) ApplyTransfer(ctx context.Context, ev *domain.TransferEvent) error {
	if !ev.IsMint() {
		return nil
	}

	st := l.pair(ev.Chain, ev.PairAddress)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := l.load(ctx, st, ev.Chain, ev.PairAddress); err != nil {
		return err
	}

	pos, ok := st.positions[ev.To]
	if !ok {
		pos = &domain.MarketMakerPosition{
			Chain:       ev.Chain,
			PairAddress: ev.PairAddress,
			Address:     ev.To,
			Liquidity:   decimal.Zero,
			Fees:        decimal.Zero,
			ProfitLoss:  decimal.Zero,
		}
		st.positions[ev.To] = pos
	}
	pos.Liquidity = ev.Value
	l.writer.QueuePosition(pos)
	return nil
}

// ApplySync allocates fees for the reserve change since the previous sync.
// Trade volume is the absolute reserve0 delta; fees are volume times the pool
// fee rate, split across providers by their share of total supply.
func (l *Ledger) ApplySync(ctx context.Context, ev *domain.SyncEvent, supply chain.SupplyLookup) error {
	st := l.pair(ev.Chain, ev.PairAddress)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := l.load(ctx, st, ev.Chain, ev.PairAddress); err != nil {
		return err
	}

	if !st.seeded {
		st.prevReserve0 = ev.Reserve0
		st.seeded = true
		return nil
	}

	tradeVolume := ev.Reserve0.Sub(st.prevReserve0).Abs()

	if tradeVolume.IsZero() || len(st.positions) == 0 {
		st.prevReserve0 = ev.Reserve0
		return nil
	}

	// Fetch supply before consuming the delta: a failed lookup leaves the
	// previous reserve in place so a redelivered sync still allocates.
	totalSupply, err := supply.TotalSupply(ctx, ev.PairAddress)
	if err != nil {
		return fmt.Errorf("total supply for %s: %w", ev.PairAddress, err)
	}
	st.prevReserve0 = ev.Reserve0

	fees := tradeVolume.Mul(domain.FeeRate)

	positions := make([]*domain.MarketMakerPosition, 0, len(st.positions))
	for _, p := range st.positions {
		positions = append(positions, p)
	}
	domain.AllocateFees(positions, fees, totalSupply)

	for _, p := range positions {
		l.writer.QueuePosition(p)
	}
	return nil
}
