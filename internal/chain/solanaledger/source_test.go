package solanaledger

import (
	"context"
	"errors"
	"testing"

	"dexfeed/internal/chain"
)

// Wrapped SOL mint, a canonical on-curve address.
const wsolMint = "So11111111111111111111111111111111111111112"

func TestIsAddress(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{wsolMint, true},
		{"", false},
		{"not-base58-0OIl", false},
		{"abc", false}, // too short
	}

	for _, tt := range tests {
		if got := IsAddress(tt.addr); got != tt.want {
			t.Errorf("IsAddress(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestPairAddressIdentity(t *testing.T) {
	s := NewSource()
	defer s.Close()

	pair, err := s.PairAddress(context.Background(), wsolMint)
	if err != nil {
		t.Fatalf("PairAddress failed: %v", err)
	}
	if pair != wsolMint {
		t.Errorf("pair = %s, want identity mapping", pair)
	}

	if _, err := s.PairAddress(context.Background(), "bogus"); !errors.Is(err, chain.ErrNoPair) {
		t.Errorf("expected ErrNoPair for invalid address, got %v", err)
	}
}

func TestPairAddressRejectsOffCurve(t *testing.T) {
	s := NewSource()
	defer s.Close()

	// 32 bytes of 0xff: well-formed base58 but not a curve point, the shape
	// of a program-derived address.
	const offCurve = "JEKNVnkbo3jma5nREBBJCDoXFVeKkD56V3xKrvRmWxFG"
	if !IsAddress(offCurve) {
		t.Fatal("off-curve fixture should still be a well-formed address")
	}
	if IsOnCurve(offCurve) {
		t.Fatal("off-curve fixture unexpectedly decodes to a curve point")
	}

	if _, err := s.PairAddress(context.Background(), offCurve); !errors.Is(err, chain.ErrNoPair) {
		t.Errorf("expected ErrNoPair for off-curve address, got %v", err)
	}

	// The ed25519 base point is on-curve and must resolve.
	const onCurve = "6x5SYnLroiN7WYq8NQYU9KHcH4YjpBbwpUfVu3EB7ieH"
	if _, err := s.PairAddress(context.Background(), onCurve); err != nil {
		t.Errorf("on-curve address failed to resolve: %v", err)
	}
}

func TestSubscribeClosesOnClose(t *testing.T) {
	s := NewSource()

	events, err := s.Subscribe(context.Background(), wsolMint)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	s.Close()

	if _, ok := <-events; ok {
		t.Error("expected closed event channel after Close")
	}
}
