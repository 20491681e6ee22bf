package domain

import (
	"math/rand"
	"testing"
)

func TestBucketStart(t *testing.T) {
	tests := []struct {
		ts   int64
		want int64
	}{
		{0, 0},
		{59, 0},
		{60, 60},
		{119, 60},
		{120, 120},
		{121, 120},
		{3601, 3600},
	}

	for _, tt := range tests {
		if got := BucketStart(tt.ts); got != tt.want {
			t.Errorf("BucketStart(%d) = %d, want %d", tt.ts, got, tt.want)
		}
	}
}

type trade struct {
	price  float64
	volume float64
	ts     int64
}

func foldTrades(trades []trade) *OhlcvBucket {
	b := NewOhlcvBucket(ChainEthereum, "0xpair", trades[0].price, trades[0].volume, trades[0].ts)
	for _, tr := range trades[1:] {
		b.Merge(tr.price, tr.volume, tr.ts)
	}
	return b
}

func TestOhlcvMergeCommutative(t *testing.T) {
	trades := []trade{
		{price: 2.0, volume: 50, ts: 61},
		{price: 5.0, volume: 10, ts: 75},
		{price: 1.5, volume: 20, ts: 90},
		{price: 3.0, volume: 5, ts: 119},
	}

	ref := foldTrades(trades)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		perm := make([]trade, len(trades))
		copy(perm, trades)
		rng.Shuffle(len(perm), func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })

		got := foldTrades(perm)

		if got.High != ref.High || got.Low != ref.Low || got.Volume != ref.Volume {
			t.Fatalf("permutation %d: got H/L/V %v/%v/%v, want %v/%v/%v",
				i, got.High, got.Low, got.Volume, ref.High, ref.Low, ref.Volume)
		}
		// Open and close follow event time regardless of merge order.
		if got.Open != 2.0 {
			t.Fatalf("permutation %d: open = %v, want 2.0", i, got.Open)
		}
		if got.Close != 3.0 {
			t.Fatalf("permutation %d: close = %v, want 3.0", i, got.Close)
		}
	}
}

func TestOhlcvOpenFollowsEventTime(t *testing.T) {
	// The same two trades folded in both arrival orders must agree on open.
	early := trade{price: 2.0, volume: 50, ts: 61}
	late := trade{price: 5.0, volume: 10, ts: 75}

	inOrder := foldTrades([]trade{early, late})
	reversed := foldTrades([]trade{late, early})

	if inOrder.Open != 2.0 || reversed.Open != 2.0 {
		t.Errorf("open = %v / %v, want 2.0 in both orders", inOrder.Open, reversed.Open)
	}
	if inOrder.Close != 5.0 || reversed.Close != 5.0 {
		t.Errorf("close = %v / %v, want 5.0 in both orders", inOrder.Close, reversed.Close)
	}
}

func TestOhlcvMergeBucketOpenFollowsEventTime(t *testing.T) {
	early := NewOhlcvBucket(ChainEthereum, "0xpair", 2.0, 50, 61)
	late := NewOhlcvBucket(ChainEthereum, "0xpair", 5.0, 10, 75)

	a := *early
	a.MergeBucket(late)
	b := *late
	b.MergeBucket(early)

	if a.Open != 2.0 || b.Open != 2.0 {
		t.Errorf("open = %v / %v, want 2.0 in both merge orders", a.Open, b.Open)
	}
	if a.Close != 5.0 || b.Close != 5.0 {
		t.Errorf("close = %v / %v, want 5.0 in both merge orders", a.Close, b.Close)
	}
	if a.FirstEventTS != 61 || a.LastEventTS != 75 {
		t.Errorf("event span = [%d, %d], want [61, 75]", a.FirstEventTS, a.LastEventTS)
	}
}

func TestOhlcvCloseFollowsEventTime(t *testing.T) {
	// Late-arriving event with an older timestamp must not steal close.
	b := NewOhlcvBucket(ChainEthereum, "0xpair", 10.0, 1, 100)
	b.Merge(20.0, 1, 110)
	b.Merge(5.0, 1, 105) // older than last merged

	if b.Close != 20.0 {
		t.Errorf("close = %v, want 20.0 (event at ts=110)", b.Close)
	}
	if b.Open != 10.0 {
		t.Errorf("open = %v, want 10.0 (first trade)", b.Open)
	}
	if b.High != 20.0 || b.Low != 5.0 {
		t.Errorf("high/low = %v/%v, want 20/5", b.High, b.Low)
	}
}

func TestOhlcvRemergeIdempotentExceptVolume(t *testing.T) {
	b := NewOhlcvBucket(ChainEthereum, "0xpair", 2.0, 50, 61)
	b.Merge(2.0, 50, 61) // identical event re-merged

	if b.Open != 2.0 || b.High != 2.0 || b.Low != 2.0 || b.Close != 2.0 {
		t.Errorf("OHLC changed on re-merge: %+v", b)
	}
	// Volume is additive; dedup by tx hash must happen before re-aggregation.
	if b.Volume != 100 {
		t.Errorf("volume = %v, want 100 (raw merge double-counts)", b.Volume)
	}
}
