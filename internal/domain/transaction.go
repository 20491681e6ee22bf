package domain

import "github.com/shopspring/decimal"

// TransactionRecord is a deduplicated swap ledger entry keyed by TxHash.
// Re-delivery of the same hash overwrites identical fields in place.
type TransactionRecord struct {
	Chain       Chain
	PairAddress string
	TxHash      string
	Sender      string
	To          string
	Amount      decimal.Decimal
	Timestamp   int64
}
