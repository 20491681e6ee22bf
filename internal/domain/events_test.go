package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestSwapEventPriceVolume(t *testing.T) {
	tests := []struct {
		name       string
		a0In, a1In string
		a0Out      string
		a1Out      string
		wantPrice  float64
		wantVolume string
		wantErr    bool
	}{
		{
			name: "token0 in, token1 out",
			a0In: "100", a1In: "0", a0Out: "0", a1Out: "50",
			wantPrice: 2.0, wantVolume: "50",
		},
		{
			name: "token1 in, token0 out",
			a0In: "0", a1In: "30", a0Out: "10", a1Out: "0",
			wantPrice: 3.0, wantVolume: "30",
		},
		{
			name: "both inputs zero",
			a0In: "0", a1In: "0", a0Out: "5", a1Out: "0",
			wantErr: true,
		},
		{
			name: "both inputs non-zero",
			a0In: "1", a1In: "1", a0Out: "1", a1Out: "1",
			wantErr: true,
		},
		{
			name: "zero output leg for token0 input",
			a0In: "100", a1In: "0", a0Out: "0", a1Out: "0",
			wantErr: true,
		},
		{
			name: "zero output leg for token1 input",
			a0In: "0", a1In: "100", a0Out: "0", a1Out: "0",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &SwapEvent{
				Chain:       ChainEthereum,
				PairAddress: "0xpair",
				Amount0In:   dec(tt.a0In),
				Amount1In:   dec(tt.a1In),
				Amount0Out:  dec(tt.a0Out),
				Amount1Out:  dec(tt.a1Out),
				TxHash:      "0xabc",
			}

			price, volume, err := ev.PriceVolume()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.Is(err, ErrMalformedEvent) {
					t.Errorf("expected ErrMalformedEvent, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("PriceVolume failed: %v", err)
			}
			if price != tt.wantPrice {
				t.Errorf("price = %v, want %v", price, tt.wantPrice)
			}
			if !volume.Equal(dec(tt.wantVolume)) {
				t.Errorf("volume = %s, want %s", volume, tt.wantVolume)
			}
		})
	}
}

func TestTransferEventIsMint(t *testing.T) {
	mint := &TransferEvent{From: ZeroAddress, To: "0xlp", Value: dec("100")}
	if !mint.IsMint() {
		t.Error("transfer from zero address should be a mint")
	}

	regular := &TransferEvent{From: "0xalice", To: "0xbob", Value: dec("100")}
	if regular.IsMint() {
		t.Error("transfer between holders should not be a mint")
	}
}
