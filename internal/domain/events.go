package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrMalformedEvent indicates a raw event whose amount fields violate the
// one-sided swap contract (both input sides zero, or both non-zero).
// The offending event is logged and skipped; processing continues.
var ErrMalformedEvent = errors.New("malformed event")

// SwapEvent is a normalized trade emitted by an AMM pair.
// Amounts are denominated in whole token units (wei scaled by 1e-18 for EVM).
type SwapEvent struct {
	Chain       Chain
	PairAddress string
	Sender      string
	Recipient   string
	Amount0In   decimal.Decimal
	Amount1In   decimal.Decimal
	Amount0Out  decimal.Decimal
	Amount1Out  decimal.Decimal
	TxHash      string
	Timestamp   int64 // block timestamp, unix seconds
}

// PriceVolume derives the trade price and volume from the two-sided amounts.
// Whichever input side is non-zero determines price against the opposite
// output side. Volume is the opposite output, falling back to the input side
// when the output leg is zero.
func (e *SwapEvent) PriceVolume() (price float64, volume decimal.Decimal, err error) {
	zeroIn0 := e.Amount0In.IsZero()
	zeroIn1 := e.Amount1In.IsZero()

	switch {
	case zeroIn0 && zeroIn1:
		return 0, decimal.Zero, fmt.Errorf("%w: both input amounts zero (tx=%s)", ErrMalformedEvent, e.TxHash)
	case !zeroIn0 && !zeroIn1:
		return 0, decimal.Zero, fmt.Errorf("%w: both input amounts non-zero (tx=%s)", ErrMalformedEvent, e.TxHash)
	case !zeroIn0:
		if e.Amount1Out.IsZero() {
			return 0, decimal.Zero, fmt.Errorf("%w: zero output for token0 input (tx=%s)", ErrMalformedEvent, e.TxHash)
		}
		price = e.Amount0In.Div(e.Amount1Out).InexactFloat64()
		volume = e.Amount1Out
	default:
		if e.Amount0Out.IsZero() {
			return 0, decimal.Zero, fmt.Errorf("%w: zero output for token1 input (tx=%s)", ErrMalformedEvent, e.TxHash)
		}
		price = e.Amount1In.Div(e.Amount0Out).InexactFloat64()
		volume = e.Amount1In
	}

	return price, volume, nil
}

// TransferEvent is a normalized LP-token transfer.
type TransferEvent struct {
	Chain       Chain
	PairAddress string
	From        string
	To          string
	Value       decimal.Decimal
}

// IsMint reports whether the transfer is a liquidity mint.
// The ledger only consumes mints; burns are out of scope.
func (e *TransferEvent) IsMint() bool {
	return e.From == ZeroAddress
}

// SyncEvent is the AMM's reserve snapshot emitted after a trade.
type SyncEvent struct {
	Chain       Chain
	PairAddress string
	Reserve0    decimal.Decimal
	Reserve1    decimal.Decimal
}
