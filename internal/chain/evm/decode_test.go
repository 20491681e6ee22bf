package evm

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"dexfeed/internal/chain"
	"dexfeed/internal/domain"
)

const (
	testSender = "0x000000000000000000000000a1e0f25b0cdea617bd3c9d0bd10e576b44f8b873"
	testTo     = "0x000000000000000000000000b2f1e36c1dfeb728ce4d0ae21f187c55b44f9984"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestDecodeSwap(t *testing.T) {
	// 100 token0 in, 50 token1 out.
	data := hexutil.MustDecode("0x" +
		"0000000000000000000000000000000000000000000000056bc75e2d63100000" + // 100e18
		"0000000000000000000000000000000000000000000000000000000000000000" +
		"0000000000000000000000000000000000000000000000000000000000000000" +
		"000000000000000000000000000000000000000000000002b5e3af16b1880000") // 50e18

	ev := chain.RawEvent{
		Chain:       domain.ChainEthereum,
		PairAddress: "0xPair",
		Kind:        chain.KindSwap,
		Topics:      []string{TopicSwap, testSender, testTo},
		Data:        data,
		TxHash:      "0xdeadbeef",
		BlockNumber: 123,
	}

	swap, err := DecodeSwap(ev)
	if err != nil {
		t.Fatalf("DecodeSwap failed: %v", err)
	}

	if !swap.Amount0In.Equal(dec("100")) {
		t.Errorf("amount0In = %s, want 100", swap.Amount0In)
	}
	if !swap.Amount1Out.Equal(dec("50")) {
		t.Errorf("amount1Out = %s, want 50", swap.Amount1Out)
	}
	if swap.TxHash != "0xdeadbeef" {
		t.Errorf("txHash = %s", swap.TxHash)
	}

	price, volume, err := swap.PriceVolume()
	if err != nil {
		t.Fatalf("PriceVolume failed: %v", err)
	}
	if price != 2.0 {
		t.Errorf("price = %v, want 2.0", price)
	}
	if !volume.Equal(dec("50")) {
		t.Errorf("volume = %s, want 50", volume)
	}
}

func TestDecodeSwapBadShape(t *testing.T) {
	ev := chain.RawEvent{
		Chain:  domain.ChainEthereum,
		Kind:   chain.KindSwap,
		Topics: []string{TopicSwap, testSender}, // missing "to" topic
	}

	if _, err := DecodeSwap(ev); !errors.Is(err, domain.ErrMalformedEvent) {
		t.Errorf("expected ErrMalformedEvent, got %v", err)
	}

	ev.Topics = []string{TopicSwap, testSender, testTo}
	ev.Data = []byte{0x01, 0x02} // not 4 words

	if _, err := DecodeSwap(ev); !errors.Is(err, domain.ErrMalformedEvent) {
		t.Errorf("expected ErrMalformedEvent for short data, got %v", err)
	}
}

func TestDecodeTransferMint(t *testing.T) {
	zeroTopic := "0x0000000000000000000000000000000000000000000000000000000000000000"
	data := hexutil.MustDecode("0x0000000000000000000000000000000000000000000000008ac7230489e80000") // 10e18

	ev := chain.RawEvent{
		Chain:       domain.ChainBSC,
		PairAddress: "0xPair",
		Kind:        chain.KindTransfer,
		Topics:      []string{TopicTransfer, zeroTopic, testTo},
		Data:        data,
	}

	transfer, err := DecodeTransfer(ev)
	if err != nil {
		t.Fatalf("DecodeTransfer failed: %v", err)
	}
	if !transfer.IsMint() {
		t.Errorf("transfer from zero topic should be a mint, from=%s", transfer.From)
	}
	if !transfer.Value.Equal(dec("10")) {
		t.Errorf("value = %s, want 10", transfer.Value)
	}
}

func TestDecodeSync(t *testing.T) {
	data := hexutil.MustDecode("0x" +
		"0000000000000000000000000000000000000000000000056bc75e2d63100000" + // 100e18
		"00000000000000000000000000000000000000000000000ad78ebc5ac6200000") // 200e18

	ev := chain.RawEvent{
		Chain:       domain.ChainEthereum,
		PairAddress: "0xPair",
		Kind:        chain.KindSync,
		Data:        data,
	}

	sync, err := DecodeSync(ev)
	if err != nil {
		t.Fatalf("DecodeSync failed: %v", err)
	}
	if !sync.Reserve0.Equal(dec("100")) {
		t.Errorf("reserve0 = %s, want 100", sync.Reserve0)
	}
	if !sync.Reserve1.Equal(dec("200")) {
		t.Errorf("reserve1 = %s, want 200", sync.Reserve1)
	}
}

func TestClassifyTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  chain.EventKind
	}{
		{TopicSwap, chain.KindSwap},
		{TopicTransfer, chain.KindTransfer},
		{TopicSync, chain.KindSync},
		{strings.ToUpper(TopicSync), chain.KindSync}, // classification is case-insensitive
		{"0x0000000000000000000000000000000000000000000000000000000000000000", chain.KindUnknown},
	}

	for _, tt := range tests {
		if got := classifyTopic(tt.topic); got != tt.want {
			t.Errorf("classifyTopic(%s) = %v, want %v", tt.topic, got, tt.want)
		}
	}
}
