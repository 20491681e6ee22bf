package domain

// Chain identifies a supported network.
type Chain string

// Supported chains.
const (
	ChainEthereum Chain = "ethereum"
	ChainBSC      Chain = "bsc"
	ChainFantom   Chain = "fantom"
	ChainArbitrum Chain = "arbitrum"
	ChainOptimism Chain = "optimism"
	ChainBase     Chain = "base"
	ChainSolana   Chain = "solana"
)

// Family groups chains by data-source protocol.
type Family int

const (
	FamilyEVM Family = iota
	FamilyLedger
)

// ZeroAddress is the EVM zero address. A Transfer from this address is a
// liquidity mint.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// EVMChains lists the chains served by the EVM source, in a stable order.
var EVMChains = []Chain{
	ChainEthereum, ChainBSC, ChainFantom, ChainArbitrum, ChainOptimism, ChainBase,
}

// Family returns the source family for the chain.
func (c Chain) Family() Family {
	if c == ChainSolana {
		return FamilyLedger
	}
	return FamilyEVM
}

// Valid reports whether c is a supported chain.
func (c Chain) Valid() bool {
	switch c {
	case ChainEthereum, ChainBSC, ChainFantom, ChainArbitrum, ChainOptimism, ChainBase, ChainSolana:
		return true
	}
	return false
}

func (c Chain) String() string { return string(c) }
