package venue

import (
	"context"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/arbnexus/arbnexus/internal/domain"
)

// weightedAdapter prices Balancer-style weighted pools:
// out = Bo·(1 − (Bi/(Bi + in·(1−fee)))^(Wi/Wo)).
// The exponentiation runs in float64; the result is converted back to a
// decimal before any profit accounting sees it.
type weightedAdapter struct {
	baseAdapter
}

func weightedOut(balanceIn, balanceOut decimal.Decimal, wIn, wOut float64, amountIn, fee decimal.Decimal) decimal.Decimal {
	eff := amountIn.Mul(one.Sub(fee))
	bi := balanceIn.InexactFloat64()
	ratio := bi / (bi + eff.InexactFloat64())
	frac := 1 - math.Pow(ratio, wIn/wOut)
	return balanceOut.Mul(decimal.NewFromFloat(frac))
}

func (a *weightedAdapter) QuotePair(ctx context.Context, pair domain.TokenPair, notional decimal.Decimal, block uint64) (domain.Quote, error) {
	st, err := a.state(ctx, pair, block)
	if err != nil {
		return domain.Quote{}, err
	}
	if st.ReserveBase.IsZero() || st.ReserveQuote.IsZero() {
		return domain.Quote{}, domain.Errf(domain.KindInsufficientLiquidity,
			"%s: empty balances for %s", a.ref, pair.ID())
	}
	wb, wq := st.WeightBase, st.WeightQuote
	if wb <= 0 || wq <= 0 {
		wb, wq = 0.5, 0.5
	}
	fee := feeFraction(st.FeeBps)

	// Spot price of base in quote: (Bq/Wq)/(Bb/Wb).
	mid := st.ReserveQuote.Div(decimal.NewFromFloat(wq)).
		Div(st.ReserveBase.Div(decimal.NewFromFloat(wb)))

	baseIn := notional.Div(mid)
	outQuote := weightedOut(st.ReserveBase, st.ReserveQuote, wb, wq, baseIn, fee)
	if outQuote.IsZero() {
		return domain.Quote{}, domain.Errf(domain.KindInsufficientLiquidity,
			"%s: zero sell output for %s", a.ref, pair.ID())
	}
	sell := outQuote.Div(baseIn)

	outBase := weightedOut(st.ReserveQuote, st.ReserveBase, wq, wb, notional, fee)
	if outBase.IsZero() {
		return domain.Quote{}, domain.Errf(domain.KindInsufficientLiquidity,
			"%s: zero buy output for %s", a.ref, pair.ID())
	}
	buy := notional.Div(outBase)

	depth := v2DepthAtCeiling(st.ReserveBase, a.ceiling).Mul(mid)
	return a.quoteFrom(pair, st, block, buy, sell, mid, depth, false, false), nil
}

func (a *weightedAdapter) PriceImpact(ctx context.Context, pair domain.TokenPair, amountIn decimal.Decimal, block uint64) (float64, error) {
	st, err := a.state(ctx, pair, block)
	if err != nil {
		return 0, err
	}
	wb, wq := st.WeightBase, st.WeightQuote
	if wb <= 0 || wq <= 0 {
		wb, wq = 0.5, 0.5
	}
	if amountIn.IsZero() || st.ReserveBase.IsZero() {
		return 0, nil
	}
	spot := st.ReserveQuote.Div(decimal.NewFromFloat(wq)).
		Div(st.ReserveBase.Div(decimal.NewFromFloat(wb)))
	out := weightedOut(st.ReserveBase, st.ReserveQuote, wb, wq, amountIn, decimal.Zero)
	eff := out.Div(amountIn)
	impact := one.Sub(eff.Div(spot)).InexactFloat64()
	if impact < 0 {
		impact = 0
	}
	return impact, nil
}

func (a *weightedAdapter) BuildSwap(pair domain.TokenPair, side Side, amountIn, minAmountOut decimal.Decimal, recipient common.Address) (domain.Call, error) {
	return buildRouterSwap(a.ref, pair, side, amountIn, minAmountOut, recipient)
}
