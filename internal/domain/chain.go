package domain

import "time"

// ChainID identifies one of the supported blockchain networks.
type ChainID string

const (
	ChainEthereum  ChainID = "ethereum"
	ChainPolygon   ChainID = "polygon"
	ChainArbitrum  ChainID = "arbitrum"
	ChainBSC       ChainID = "bsc"
	ChainAvalanche ChainID = "avalanche"
	ChainBase      ChainID = "base"
)

// ChainMeta carries the static per-chain parameters the engine needs:
// the native gas token, a block-time hint for scan cadence, the depth at
// which a receipt is treated as final, and whether the chain prices gas
// with EIP-1559 base/priority fees.
type ChainMeta struct {
	NetworkID     uint64
	GasSymbol     string
	BlockTime     time.Duration
	FinalityDepth uint64
	EIP1559       bool
}

var chainMeta = map[ChainID]ChainMeta{
	ChainEthereum:  {NetworkID: 1, GasSymbol: "ETH", BlockTime: 12 * time.Second, FinalityDepth: 12, EIP1559: true},
	ChainPolygon:   {NetworkID: 137, GasSymbol: "MATIC", BlockTime: 2 * time.Second, FinalityDepth: 64, EIP1559: true},
	ChainArbitrum:  {NetworkID: 42161, GasSymbol: "ETH", BlockTime: 250 * time.Millisecond, FinalityDepth: 20, EIP1559: true},
	ChainBSC:       {NetworkID: 56, GasSymbol: "BNB", BlockTime: 3 * time.Second, FinalityDepth: 15, EIP1559: false},
	ChainAvalanche: {NetworkID: 43114, GasSymbol: "AVAX", BlockTime: 2 * time.Second, FinalityDepth: 10, EIP1559: true},
	ChainBase:      {NetworkID: 8453, GasSymbol: "ETH", BlockTime: 2 * time.Second, FinalityDepth: 20, EIP1559: true},
}

// AllChains returns the closed set of supported chains in a fixed order.
func AllChains() []ChainID {
	return []ChainID{ChainEthereum, ChainPolygon, ChainArbitrum, ChainBSC, ChainAvalanche, ChainBase}
}

// Valid reports whether c is one of the supported chains.
func (c ChainID) Valid() bool {
	_, ok := chainMeta[c]
	return ok
}

// Meta returns the static metadata for the chain. Meta panics on an
// unknown chain; callers validate ChainIDs at the configuration boundary.
func (c ChainID) Meta() ChainMeta {
	m, ok := chainMeta[c]
	if !ok {
		panic("domain: unknown chain " + string(c))
	}
	return m
}

func (c ChainID) String() string { return string(c) }
