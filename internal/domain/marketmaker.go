package domain

import "github.com/shopspring/decimal"

// FeeRate is the pool trading fee taken on each sync-observed trade (0.3%).
var FeeRate = decimal.NewFromFloat(0.003)

// MarketMakerPosition tracks a liquidity provider within one pair,
// keyed by (chain, pairAddress, address).
//
// Liquidity holds the latest minted amount, not a cumulative total across
// mints, and never decreases on burn. Both are documented scope limitations
// of the ledger.
type MarketMakerPosition struct {
	Chain       Chain
	PairAddress string
	Address     string
	Liquidity   decimal.Decimal
	Fees        decimal.Decimal
	ProfitLoss  decimal.Decimal
}

// AllocateFees distributes a fee amount across positions proportionally to
// each position's share of totalSupply, mutating fees in place. ProfitLoss
// mirrors cumulative fees.
func AllocateFees(positions []*MarketMakerPosition, fees, totalSupply decimal.Decimal) {
	if totalSupply.IsZero() {
		return
	}
	for _, p := range positions {
		share := p.Liquidity.Div(totalSupply)
		p.Fees = p.Fees.Add(fees.Mul(share))
		p.ProfitLoss = p.Fees
	}
}
