package venue

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/arbnexus/arbnexus/internal/domain"
)

// concentratedAdapter prices v3-style pools from the active tick's
// liquidity. The reader exposes the active range as virtual reserves, so
// inside one tick the pool behaves like a constant product pool; quotes
// where the next initialized tick holds less depth than the notional are
// flagged so confidence scoring can penalize them.
type concentratedAdapter struct {
	baseAdapter
}

func (a *concentratedAdapter) QuotePair(ctx context.Context, pair domain.TokenPair, notional decimal.Decimal, block uint64) (domain.Quote, error) {
	st, err := a.state(ctx, pair, block)
	if err != nil {
		return domain.Quote{}, err
	}
	if st.ReserveBase.IsZero() || st.ReserveQuote.IsZero() {
		return domain.Quote{}, domain.Errf(domain.KindInsufficientLiquidity,
			"%s: no active liquidity for %s", a.ref, pair.ID())
	}

	fee := feeFraction(st.FeeBps)
	mid := st.ReserveQuote.Div(st.ReserveBase)

	baseIn := notional.Div(mid)
	sell := v2Out(st.ReserveBase, st.ReserveQuote, baseIn, fee).Div(baseIn)

	outBase := v2Out(st.ReserveQuote, st.ReserveBase, notional, fee)
	if outBase.IsZero() {
		return domain.Quote{}, domain.Errf(domain.KindInsufficientLiquidity,
			"%s: zero output for %s", a.ref, pair.ID())
	}
	buy := notional.Div(outBase)

	// Depth is bounded both by the slippage ceiling and by the range
	// boundary; a thin next tick caps the usable notional.
	depth := v2DepthAtCeiling(st.ReserveBase, a.ceiling).Mul(mid)
	thin := st.NextTickDepth.Cmp(notional) < 0
	if thin && st.NextTickDepth.Cmp(depth) < 0 {
		depth = st.NextTickDepth
	}

	return a.quoteFrom(pair, st, block, buy, sell, mid, depth, thin, thin), nil
}

func (a *concentratedAdapter) PriceImpact(ctx context.Context, pair domain.TokenPair, amountIn decimal.Decimal, block uint64) (float64, error) {
	st, err := a.state(ctx, pair, block)
	if err != nil {
		return 0, err
	}
	impact := v2Impact(st.ReserveBase, st.ReserveQuote, amountIn, feeFraction(st.FeeBps))
	if st.NextTickDepth.Sign() > 0 && amountIn.Cmp(st.NextTickDepth) > 0 {
		// Crossing the tick boundary: the single-tick estimate is a lower
		// bound, so lean conservative.
		impact *= 2
		if impact > 1 {
			impact = 1
		}
	}
	return impact, nil
}

func (a *concentratedAdapter) BuildSwap(pair domain.TokenPair, side Side, amountIn, minAmountOut decimal.Decimal, recipient common.Address) (domain.Call, error) {
	return buildExactInputSingle(a.ref, pair, side, amountIn, minAmountOut, recipient)
}
