package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Token is a configured ERC-20 token on a specific chain.
type Token struct {
	Address  common.Address `json:"address" yaml:"address"`
	Symbol   string         `json:"symbol" yaml:"symbol"`
	Decimals uint8          `json:"decimals" yaml:"decimals"`
}

// TokenPair is an unordered pair of tokens pinned at configuration time.
// Base/Quote fix the quoting direction (prices are quote-per-base) but the
// pair's identity is order-independent: Key() is the same for both
// orderings.
type TokenPair struct {
	Base  Token `json:"base" yaml:"base"`
	Quote Token `json:"quote" yaml:"quote"`
}

// ID returns the display identifier, e.g. "WETH/USDT".
func (p TokenPair) ID() string {
	return p.Base.Symbol + "/" + p.Quote.Symbol
}

// Key returns the order-independent identity used in maps and hashes.
func (p TokenPair) Key() string {
	a, b := p.Base.Symbol, p.Quote.Symbol
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "-" + b
}

// PricingModel classifies a venue's pool math.
type PricingModel string

const (
	ModelConstantProductV2 PricingModel = "constant_product_v2"
	ModelConcentratedV3    PricingModel = "concentrated_v3"
	ModelStableCurve       PricingModel = "stable_curve"
	ModelWeightedPool      PricingModel = "weighted_pool"
)

// VenueName is the opaque venue tag, e.g. "uniswap_v3" or "quickswap".
type VenueName string

// VenueRef identifies a DEX on a chain together with its pricing model
// and router contract.
type VenueRef struct {
	Chain  ChainID        `json:"chain" yaml:"chain"`
	Name   VenueName      `json:"name" yaml:"name"`
	Model  PricingModel   `json:"model" yaml:"model"`
	Router common.Address `json:"router" yaml:"router"`
}

func (v VenueRef) String() string {
	return string(v.Chain) + ":" + string(v.Name)
}
