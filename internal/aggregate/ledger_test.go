package aggregate

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"dexfeed/internal/chain/chaintest"
	"dexfeed/internal/domain"
	"dexfeed/internal/storage"
	"dexfeed/internal/storage/memory"
)

var errRPCDown = errors.New("rpc unavailable")

func mint(to string, value int64) *domain.TransferEvent {
	return &domain.TransferEvent{
		Chain:       domain.ChainEthereum,
		PairAddress: "0xpair",
		From:        domain.ZeroAddress,
		To:          to,
		Value:       decimal.NewFromInt(value),
	}
}

func sync0(reserve0 int64) *domain.SyncEvent {
	return &domain.SyncEvent{
		Chain:       domain.ChainEthereum,
		PairAddress: "0xpair",
		Reserve0:    decimal.NewFromInt(reserve0),
		Reserve1:    decimal.NewFromInt(1000),
	}
}

func TestLedgerProportionalFees(t *testing.T) {
	store := memory.NewStore()
	writer := storage.NewBatchWriter(store, nil)
	ledger := NewLedger(store.MarketMakers, writer)
	ctx := context.Background()

	src := chaintest.NewSource(domain.ChainEthereum)
	src.Supply = decimal.NewFromInt(50)

	// Two providers at 30 and 20 of a 50 supply.
	if err := ledger.ApplyTransfer(ctx, mint("0xlpA", 30)); err != nil {
		t.Fatalf("ApplyTransfer failed: %v", err)
	}
	if err := ledger.ApplyTransfer(ctx, mint("0xlpB", 20)); err != nil {
		t.Fatalf("ApplyTransfer failed: %v", err)
	}

	// First sync seeds reserves, no fees.
	if err := ledger.ApplySync(ctx, sync0(1000), src); err != nil {
		t.Fatalf("ApplySync failed: %v", err)
	}
	// Reserve moves by 50: fees = 50 * 0.003 = 0.15, split 30/50 and 20/50.
	if err := ledger.ApplySync(ctx, sync0(1050), src); err != nil {
		t.Fatalf("ApplySync failed: %v", err)
	}
	writer.Flush(ctx)

	positions, err := store.MarketMakers.GetByPair(ctx, domain.ChainEthereum, "0xpair")
	if err != nil {
		t.Fatalf("GetByPair failed: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("Expected 2 positions, got %d", len(positions))
	}

	byAddr := map[string]decimal.Decimal{}
	for _, p := range positions {
		byAddr[p.Address] = p.Fees
	}
	if !byAddr["0xlpA"].Equal(decimal.RequireFromString("0.09")) {
		t.Errorf("lpA fees = %s, want 0.09", byAddr["0xlpA"])
	}
	if !byAddr["0xlpB"].Equal(decimal.RequireFromString("0.06")) {
		t.Errorf("lpB fees = %s, want 0.06", byAddr["0xlpB"])
	}
}

func TestLedgerFirstSyncAllocatesNothing(t *testing.T) {
	store := memory.NewStore()
	writer := storage.NewBatchWriter(store, nil)
	ledger := NewLedger(store.MarketMakers, writer)
	ctx := context.Background()

	src := chaintest.NewSource(domain.ChainEthereum)
	src.Supply = decimal.NewFromInt(100)

	if err := ledger.ApplyTransfer(ctx, mint("0xlpA", 30)); err != nil {
		t.Fatalf("ApplyTransfer failed: %v", err)
	}
	if err := ledger.ApplySync(ctx, sync0(1000), src); err != nil {
		t.Fatalf("ApplySync failed: %v", err)
	}
	writer.Flush(ctx)

	positions, _ := store.MarketMakers.GetByPair(ctx, domain.ChainEthereum, "0xpair")
	for _, p := range positions {
		if !p.Fees.IsZero() {
			t.Errorf("%s fees = %s after first sync, want 0", p.Address, p.Fees)
		}
	}
}

func TestLedgerFeesAccumulate(t *testing.T) {
	store := memory.NewStore()
	writer := storage.NewBatchWriter(store, nil)
	ledger := NewLedger(store.MarketMakers, writer)
	ctx := context.Background()

	src := chaintest.NewSource(domain.ChainEthereum)
	src.Supply = decimal.NewFromInt(100)

	if err := ledger.ApplyTransfer(ctx, mint("0xlpA", 100)); err != nil {
		t.Fatalf("ApplyTransfer failed: %v", err)
	}
	if err := ledger.ApplySync(ctx, sync0(1000), src); err != nil {
		t.Fatalf("ApplySync failed: %v", err)
	}
	// Two trades: deltas of 50 up then 50 back down both earn fees.
	if err := ledger.ApplySync(ctx, sync0(1050), src); err != nil {
		t.Fatalf("ApplySync failed: %v", err)
	}
	if err := ledger.ApplySync(ctx, sync0(1000), src); err != nil {
		t.Fatalf("ApplySync failed: %v", err)
	}
	writer.Flush(ctx)

	positions, _ := store.MarketMakers.GetByPair(ctx, domain.ChainEthereum, "0xpair")
	if len(positions) != 1 {
		t.Fatalf("Expected 1 position, got %d", len(positions))
	}
	if !positions[0].Fees.Equal(decimal.RequireFromString("0.3")) {
		t.Errorf("Fees = %s, want 0.3 across two trades", positions[0].Fees)
	}
	if !positions[0].ProfitLoss.Equal(positions[0].Fees) {
		t.Errorf("ProfitLoss = %s, want equal to fees", positions[0].ProfitLoss)
	}
}

func TestLedgerSupplyFailureLeavesDeltaIntact(t *testing.T) {
	store := memory.NewStore()
	writer := storage.NewBatchWriter(store, nil)
	ledger := NewLedger(store.MarketMakers, writer)
	ctx := context.Background()

	src := chaintest.NewSource(domain.ChainEthereum)
	src.Supply = decimal.NewFromInt(100)

	if err := ledger.ApplyTransfer(ctx, mint("0xlpA", 100)); err != nil {
		t.Fatalf("ApplyTransfer failed: %v", err)
	}
	if err := ledger.ApplySync(ctx, sync0(1000), src); err != nil {
		t.Fatalf("ApplySync failed: %v", err)
	}

	// The supply lookup fails mid-sync: the reserve delta must stay pending
	// so the redelivered sync still earns its fees.
	src.SupplyErr = errRPCDown
	if err := ledger.ApplySync(ctx, sync0(1050), src); err == nil {
		t.Fatal("expected error from failing supply lookup")
	}

	src.SupplyErr = nil
	if err := ledger.ApplySync(ctx, sync0(1050), src); err != nil {
		t.Fatalf("ApplySync retry failed: %v", err)
	}
	writer.Flush(ctx)

	positions, _ := store.MarketMakers.GetByPair(ctx, domain.ChainEthereum, "0xpair")
	if len(positions) != 1 {
		t.Fatalf("Expected 1 position, got %d", len(positions))
	}
	if !positions[0].Fees.Equal(decimal.RequireFromString("0.15")) {
		t.Errorf("Fees = %s, want 0.15 (delta of 50 recovered on retry)", positions[0].Fees)
	}
}

func TestLedgerMintOverwritesLiquidity(t *testing.T) {
	store := memory.NewStore()
	writer := storage.NewBatchWriter(store, nil)
	ledger := NewLedger(store.MarketMakers, writer)
	ctx := context.Background()

	if err := ledger.ApplyTransfer(ctx, mint("0xlpA", 30)); err != nil {
		t.Fatalf("ApplyTransfer failed: %v", err)
	}
	if err := ledger.ApplyTransfer(ctx, mint("0xlpA", 70)); err != nil {
		t.Fatalf("ApplyTransfer failed: %v", err)
	}
	writer.Flush(ctx)

	positions, _ := store.MarketMakers.GetByPair(ctx, domain.ChainEthereum, "0xpair")
	if len(positions) != 1 {
		t.Fatalf("Expected 1 position, got %d", len(positions))
	}
	if !positions[0].Liquidity.Equal(decimal.NewFromInt(70)) {
		t.Errorf("Liquidity = %s, want 70 (latest mint wins)", positions[0].Liquidity)
	}
}

func TestLedgerIgnoresNonMintTransfers(t *testing.T) {
	store := memory.NewStore()
	writer := storage.NewBatchWriter(store, nil)
	ledger := NewLedger(store.MarketMakers, writer)
	ctx := context.Background()

	ev := mint("0xlpA", 30)
	ev.From = "0xlpB"
	if err := ledger.ApplyTransfer(ctx, ev); err != nil {
		t.Fatalf("ApplyTransfer failed: %v", err)
	}
	writer.Flush(ctx)

	positions, _ := store.MarketMakers.GetByPair(ctx, domain.ChainEthereum, "0xpair")
	if len(positions) != 0 {
		t.Errorf("Wallet transfer created %d positions", len(positions))
	}
}

func TestLedgerLoadsPersistedPositions(t *testing.T) {
	store := memory.NewStore()
	writer := storage.NewBatchWriter(store, nil)
	ctx := context.Background()

	// Positions left by an earlier run.
	seed := []*domain.MarketMakerPosition{
		{Chain: domain.ChainEthereum, PairAddress: "0xpair", Address: "0xlpA",
			Liquidity: decimal.NewFromInt(30), Fees: decimal.Zero, ProfitLoss: decimal.Zero},
	}
	if err := store.MarketMakers.UpsertBulk(ctx, seed); err != nil {
		t.Fatalf("UpsertBulk failed: %v", err)
	}

	src := chaintest.NewSource(domain.ChainEthereum)
	src.Supply = decimal.NewFromInt(100)

	ledger := NewLedger(store.MarketMakers, writer)
	if err := ledger.ApplySync(ctx, sync0(1000), src); err != nil {
		t.Fatalf("ApplySync failed: %v", err)
	}
	if err := ledger.ApplySync(ctx, sync0(1050), src); err != nil {
		t.Fatalf("ApplySync failed: %v", err)
	}
	writer.Flush(ctx)

	positions, _ := store.MarketMakers.GetByPair(ctx, domain.ChainEthereum, "0xpair")
	if len(positions) != 1 {
		t.Fatalf("Expected 1 position, got %d", len(positions))
	}
	if !positions[0].Fees.Equal(decimal.RequireFromString("0.045")) {
		t.Errorf("Fees = %s, want 0.045 (30/100 of 0.15)", positions[0].Fees)
	}
}
