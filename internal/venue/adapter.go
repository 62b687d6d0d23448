// Package venue implements the uniform DEX adapter contract: quoting a
// pair at a reference notional, building swap call data, and estimating
// price impact. Adapters are pure functions of on-chain pool state plus
// the pair; the only state they keep is a small per-pool quote cache
// keyed by (pool, block).
package venue

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/arbnexus/arbnexus/internal/domain"
)

// Swap side, from the adapter caller's perspective.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

// PoolState is a snapshot of one pool's pricing inputs at a block.
// Which fields are populated depends on the venue's pricing model.
type PoolState struct {
	Block  uint64
	FeeBps int

	// Constant product / stable / weighted: token balances in pair units.
	ReserveBase  decimal.Decimal
	ReserveQuote decimal.Decimal

	// Concentrated v3: virtual reserves derived from active-tick
	// liquidity, plus the notional available before the next initialized
	// tick is crossed.
	NextTickDepth decimal.Decimal

	// Stable: amplification coefficient.
	Amp int64

	// Weighted: normalized weights, summing to 1.
	WeightBase  float64
	WeightQuote float64
}

// StateReader fetches pool state from the chain. Implementations batch
// the pool's read methods at a single block.
type StateReader interface {
	ReadState(ctx context.Context, venue domain.VenueRef, pair domain.TokenPair, block uint64) (PoolState, error)
}

// Adapter is the uniform venue contract.
type Adapter interface {
	Venue() domain.VenueRef

	// QuotePair returns effective post-fee buy/sell prices for the
	// reference notional and the depth available inside the slippage
	// ceiling.
	QuotePair(ctx context.Context, pair domain.TokenPair, notional decimal.Decimal, block uint64) (domain.Quote, error)

	// BuildSwap emits the low-level call executing the swap.
	BuildSwap(pair domain.TokenPair, side Side, amountIn, minAmountOut decimal.Decimal, recipient common.Address) (domain.Call, error)

	// PriceImpact estimates the relative price move induced by amountIn.
	PriceImpact(ctx context.Context, pair domain.TokenPair, amountIn decimal.Decimal, block uint64) (float64, error)
}

// New constructs the adapter for the venue's pricing model.
func New(ref domain.VenueRef, reader StateReader, cache *QuoteCache, slippageCeiling float64) (Adapter, error) {
	base := baseAdapter{ref: ref, reader: reader, cache: cache, ceiling: slippageCeiling}
	switch ref.Model {
	case domain.ModelConstantProductV2:
		return &constantProductAdapter{base}, nil
	case domain.ModelConcentratedV3:
		return &concentratedAdapter{base}, nil
	case domain.ModelStableCurve:
		return &stableAdapter{base}, nil
	case domain.ModelWeightedPool:
		return &weightedAdapter{base}, nil
	}
	return nil, fmt.Errorf("venue %s: unknown pricing model %q", ref, ref.Model)
}

type baseAdapter struct {
	ref     domain.VenueRef
	reader  StateReader
	cache   *QuoteCache
	ceiling float64
}

func (a *baseAdapter) Venue() domain.VenueRef { return a.ref }

// state reads pool state through the one-block cache.
func (a *baseAdapter) state(ctx context.Context, pair domain.TokenPair, block uint64) (PoolState, error) {
	key := cacheKey(a.ref, pair, block)
	if st, ok := a.cache.Get(key); ok {
		return st, nil
	}
	st, err := a.reader.ReadState(ctx, a.ref, pair, block)
	if err != nil {
		return PoolState{}, err
	}
	a.cache.Put(key, st, a.ref.Chain.Meta().BlockTime)
	return st, nil
}

// quoteFrom assembles the Quote record shared by all models.
func (a *baseAdapter) quoteFrom(pair domain.TokenPair, st PoolState, block uint64,
	buy, sell, mid, depth decimal.Decimal, approximate, thin bool) domain.Quote {
	return domain.Quote{
		Venue:        a.ref,
		Pair:         pair,
		Block:        block,
		Mid:          mid,
		Buy:          buy,
		Sell:         sell,
		Depth:        depth,
		FeeBps:       st.FeeBps,
		Approximate:  approximate,
		ThinNextTick: thin,
		At:           time.Now(),
	}
}

func feeFraction(bps int) decimal.Decimal {
	return decimal.NewFromInt(int64(bps)).Div(decimal.NewFromInt(10_000))
}
