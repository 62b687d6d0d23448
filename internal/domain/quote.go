package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a sampled price for a pair at one venue. Effective buy/sell
// prices are post-fee for the reference notional; Depth is the notional
// available inside the configured slippage ceiling.
type Quote struct {
	Venue VenueRef  `json:"venue"`
	Pair  TokenPair `json:"pair"`

	// Seq is the logical timestamp assigned by the scanner; strictly
	// increasing per (chain, pair).
	Seq   uint64 `json:"seq"`
	Block uint64 `json:"block"`

	Mid    decimal.Decimal `json:"mid"`
	Buy    decimal.Decimal `json:"buy"`
	Sell   decimal.Decimal `json:"sell"`
	Depth  decimal.Decimal `json:"depth"`
	FeeBps int             `json:"fee_bps"`

	// Approximate marks quotes where the pricing iteration did not
	// converge (stable pools) or a single-tick fallback was used (v3).
	Approximate bool `json:"approximate,omitempty"`
	// ThinNextTick marks v3 quotes where depth at the next tick is below
	// the reference notional; confidence scoring penalizes these.
	ThinNextTick bool `json:"thin_next_tick,omitempty"`

	At time.Time `json:"at"`
}

// Stale reports whether the quote is older than maxAge at now.
func (q Quote) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(q.At) > maxAge
}
