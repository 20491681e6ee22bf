package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"dexfeed/internal/chain"
	"dexfeed/internal/domain"
)

// Uniswap V2 pair event signatures (topic 0).
const (
	// Swap(address indexed sender, uint amount0In, uint amount1In, uint amount0Out, uint amount1Out, address indexed to)
	TopicSwap = "0xd78ad95fa46c994b6551d0da85fc275fe613ce37657fb8d5e3d130840159d822"
	// Transfer(address indexed from, address indexed to, uint value)
	TopicTransfer = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
	// Sync(uint112 reserve0, uint112 reserve1)
	TopicSync = "0x1c411e9a96e071241c2f21f7726b17ae89e3cab4c78be50e062b03a9fffbbad1"
)

// Function selectors for read-only pair/factory calls.
var (
	// getPair(address,address)
	selectorGetPair = hexutil.MustDecode("0xe6a43905")
	// totalSupply()
	selectorTotalSupply = hexutil.MustDecode("0x18160ddd")
)

// FactoryAddresses maps chains to their UniswapV2-style factory contract.
var FactoryAddresses = map[domain.Chain]string{
	domain.ChainEthereum: "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f",
	domain.ChainBSC:      "0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73",
	domain.ChainFantom:   "0x152eE697f2E276fA89E96742e9bB9aB1F2E61bE3",
	domain.ChainArbitrum: "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f",
	domain.ChainOptimism: "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f",
	domain.ChainBase:     "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f",
}

// QuoteAssets maps chains to the wrapped native token pairs are quoted in.
var QuoteAssets = map[domain.Chain]string{
	domain.ChainEthereum: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
	domain.ChainBSC:      "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c",
	domain.ChainFantom:   "0x21be370D5312f44cB42ce377BC9b8a0cEF1A4C83",
	domain.ChainArbitrum: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1",
	domain.ChainOptimism: "0x4200000000000000000000000000000000000006",
	domain.ChainBase:     "0x4200000000000000000000000000000000000006",
}

// BlockTimes holds approximate seconds per block, used to convert the
// wall-clock look-back window into a block window.
var BlockTimes = map[domain.Chain]int64{
	domain.ChainEthereum: 13,
	domain.ChainBSC:      3,
	domain.ChainFantom:   2,
	domain.ChainArbitrum: 1,
	domain.ChainOptimism: 2,
	domain.ChainBase:     2,
}

// weiScale converts wei-denominated words into whole token units.
const weiScale = -18

// IsAddress reports whether s is a well-formed hex address.
func IsAddress(s string) bool {
	return common.IsHexAddress(s)
}

// topicAddress extracts a left-padded address from an indexed topic.
func topicAddress(topic string) (string, error) {
	b, err := hexutil.Decode(topic)
	if err != nil {
		return "", fmt.Errorf("decode topic %q: %w", topic, err)
	}
	if len(b) != common.HashLength {
		return "", fmt.Errorf("topic %q: want %d bytes, got %d", topic, common.HashLength, len(b))
	}
	return common.BytesToAddress(b[common.HashLength-common.AddressLength:]).Hex(), nil
}

// dataWords splits packed log data into 32-byte words and validates count.
func dataWords(data []byte, want int) ([][]byte, error) {
	if len(data) != want*common.HashLength {
		return nil, fmt.Errorf("log data: want %d words (%d bytes), got %d bytes",
			want, want*common.HashLength, len(data))
	}
	words := make([][]byte, want)
	for i := 0; i < want; i++ {
		words[i] = data[i*common.HashLength : (i+1)*common.HashLength]
	}
	return words, nil
}

// wordAmount converts one 32-byte word into a whole-unit decimal amount.
func wordAmount(word []byte) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetBytes(word), weiScale)
}

// classifyTopic maps an event signature to its kind.
func classifyTopic(topic0 string) chain.EventKind {
	switch strings.ToLower(topic0) {
	case TopicSwap:
		return chain.KindSwap
	case TopicTransfer:
		return chain.KindTransfer
	case TopicSync:
		return chain.KindSync
	default:
		return chain.KindUnknown
	}
}

// encodeGetPair builds calldata for factory getPair(tokenA, tokenB).
func encodeGetPair(tokenA, tokenB string) []byte {
	data := make([]byte, 0, 4+2*common.HashLength)
	data = append(data, selectorGetPair...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(tokenA).Bytes(), common.HashLength)...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(tokenB).Bytes(), common.HashLength)...)
	return data
}

// decodeAddressReturn decodes a single address return word.
func decodeAddressReturn(out []byte) (string, error) {
	if len(out) != common.HashLength {
		return "", fmt.Errorf("address return: want %d bytes, got %d", common.HashLength, len(out))
	}
	return common.BytesToAddress(out[common.HashLength-common.AddressLength:]).Hex(), nil
}

// decodeUintReturn decodes a single uint256 return word into whole units.
func decodeUintReturn(out []byte) (decimal.Decimal, error) {
	if len(out) != common.HashLength {
		return decimal.Zero, fmt.Errorf("uint return: want %d bytes, got %d", common.HashLength, len(out))
	}
	return wordAmount(out), nil
}
