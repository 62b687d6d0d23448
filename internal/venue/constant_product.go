package venue

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/arbnexus/arbnexus/internal/domain"
)

var one = decimal.NewFromInt(1)

// constantProductAdapter prices x·y=k pools (Uniswap v2 and clones).
type constantProductAdapter struct {
	baseAdapter
}

// v2Out computes the output amount for a constant product pool:
// y' = y·x / (x + in·(1−fee)), out = y − y'.
func v2Out(reserveIn, reserveOut, amountIn, fee decimal.Decimal) decimal.Decimal {
	eff := amountIn.Mul(one.Sub(fee))
	newOut := reserveOut.Mul(reserveIn).Div(reserveIn.Add(eff))
	return reserveOut.Sub(newOut)
}

// v2Impact follows impact = 1 − (y'·x)/(y·(x+in)).
func v2Impact(x, y, amountIn, fee decimal.Decimal) float64 {
	if x.IsZero() || y.IsZero() {
		return 1
	}
	yp := y.Mul(x).Div(x.Add(amountIn.Mul(one.Sub(fee))))
	im := one.Sub(yp.Mul(x).Div(y.Mul(x.Add(amountIn))))
	return im.InexactFloat64()
}

// v2DepthAtCeiling returns the base-token amount sellable before impact
// exceeds the ceiling s: dx = x·s/(1−s).
func v2DepthAtCeiling(reserveBase decimal.Decimal, ceiling float64) decimal.Decimal {
	s := decimal.NewFromFloat(ceiling)
	return reserveBase.Mul(s).Div(one.Sub(s))
}

func (a *constantProductAdapter) QuotePair(ctx context.Context, pair domain.TokenPair, notional decimal.Decimal, block uint64) (domain.Quote, error) {
	st, err := a.state(ctx, pair, block)
	if err != nil {
		return domain.Quote{}, err
	}
	if st.ReserveBase.IsZero() || st.ReserveQuote.IsZero() {
		return domain.Quote{}, domain.Errf(domain.KindInsufficientLiquidity,
			"%s: empty reserves for %s", a.ref, pair.ID())
	}

	fee := feeFraction(st.FeeBps)
	mid := st.ReserveQuote.Div(st.ReserveBase)

	// Sell side: dispose of base worth the notional.
	baseIn := notional.Div(mid)
	outQuote := v2Out(st.ReserveBase, st.ReserveQuote, baseIn, fee)
	sell := outQuote.Div(baseIn)

	// Buy side: spend the notional in quote token.
	outBase := v2Out(st.ReserveQuote, st.ReserveBase, notional, fee)
	if outBase.IsZero() {
		return domain.Quote{}, domain.Errf(domain.KindInsufficientLiquidity,
			"%s: zero output for %s", a.ref, pair.ID())
	}
	buy := notional.Div(outBase)

	depth := v2DepthAtCeiling(st.ReserveBase, a.ceiling).Mul(mid)
	return a.quoteFrom(pair, st, block, buy, sell, mid, depth, false, false), nil
}

func (a *constantProductAdapter) PriceImpact(ctx context.Context, pair domain.TokenPair, amountIn decimal.Decimal, block uint64) (float64, error) {
	st, err := a.state(ctx, pair, block)
	if err != nil {
		return 0, err
	}
	return v2Impact(st.ReserveBase, st.ReserveQuote, amountIn, feeFraction(st.FeeBps)), nil
}

func (a *constantProductAdapter) BuildSwap(pair domain.TokenPair, side Side, amountIn, minAmountOut decimal.Decimal, recipient common.Address) (domain.Call, error) {
	return buildRouterSwap(a.ref, pair, side, amountIn, minAmountOut, recipient)
}
