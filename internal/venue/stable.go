package venue

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/arbnexus/arbnexus/internal/domain"
)

// stableNewtonCap bounds the invariant iterations; non-convergence marks
// the quote approximate rather than failing the tick.
const stableNewtonCap = 32

// stableAdapter prices StableSwap-style two-coin pools with the
// Newton-iterated invariant.
type stableAdapter struct {
	baseAdapter
}

func toFixed(d decimal.Decimal) *big.Int {
	return d.Shift(18).BigInt()
}

func fromFixed(v *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v, -18)
}

// stableD computes the StableSwap invariant D for a two-coin pool by
// Newton iteration. Returns D and whether the iteration converged
// within the cap.
func stableD(x, y *big.Int, amp int64) (*big.Int, bool) {
	n := big.NewInt(2)
	s := new(big.Int).Add(x, y)
	if s.Sign() == 0 {
		return big.NewInt(0), true
	}
	ann := big.NewInt(amp * 4) // A·n^n
	d := new(big.Int).Set(s)
	for i := 0; i < stableNewtonCap; i++ {
		// dP = D^3 / (4·x·y)
		dp := new(big.Int).Set(d)
		dp.Mul(dp, d).Div(dp, new(big.Int).Mul(x, n))
		dp.Mul(dp, d).Div(dp, new(big.Int).Mul(y, n))

		prev := new(big.Int).Set(d)
		// D = (Ann·S + 2·dP)·D / ((Ann−1)·D + 3·dP)
		num := new(big.Int).Mul(ann, s)
		num.Add(num, new(big.Int).Mul(dp, n))
		num.Mul(num, d)
		den := new(big.Int).Mul(new(big.Int).Sub(ann, big.NewInt(1)), d)
		den.Add(den, new(big.Int).Mul(new(big.Int).Add(n, big.NewInt(1)), dp))
		d.Div(num, den)

		diff := new(big.Int).Sub(d, prev)
		if diff.CmpAbs(big.NewInt(1)) <= 0 {
			return d, true
		}
	}
	return d, false
}

// stableY solves for the output-side balance given the new input-side
// balance and the invariant.
func stableY(xNew, d *big.Int, amp int64) (*big.Int, bool) {
	ann := big.NewInt(amp * 4)
	// c = D^3 / (4·xNew·Ann)
	c := new(big.Int).Mul(d, d)
	c.Div(c, new(big.Int).Mul(xNew, big.NewInt(2)))
	c.Mul(c, d)
	c.Div(c, new(big.Int).Mul(ann, big.NewInt(2)))
	// b = xNew + D/Ann
	b := new(big.Int).Add(xNew, new(big.Int).Div(d, ann))

	y := new(big.Int).Set(d)
	for i := 0; i < stableNewtonCap; i++ {
		prev := new(big.Int).Set(y)
		// y = (y² + c) / (2y + b − D)
		num := new(big.Int).Mul(y, y)
		num.Add(num, c)
		den := new(big.Int).Mul(y, big.NewInt(2))
		den.Add(den, b)
		den.Sub(den, d)
		if den.Sign() <= 0 {
			return y, false
		}
		y.Div(num, den)
		diff := new(big.Int).Sub(y, prev)
		if diff.CmpAbs(big.NewInt(1)) <= 0 {
			return y, true
		}
	}
	return y, false
}

// stableOut computes the post-fee output for amountIn of the input-side
// token. ok is false when either Newton iteration hit the cap.
func stableOut(reserveIn, reserveOut, amountIn decimal.Decimal, amp int64, fee decimal.Decimal) (decimal.Decimal, bool) {
	x := toFixed(reserveIn)
	y := toFixed(reserveOut)
	d, okD := stableD(x, y, amp)
	xNew := new(big.Int).Add(x, toFixed(amountIn))
	yNew, okY := stableY(xNew, d, amp)
	dy := new(big.Int).Sub(y, yNew)
	if dy.Sign() < 0 {
		dy.SetInt64(0)
	}
	out := fromFixed(dy).Mul(one.Sub(fee))
	return out, okD && okY
}

func (a *stableAdapter) QuotePair(ctx context.Context, pair domain.TokenPair, notional decimal.Decimal, block uint64) (domain.Quote, error) {
	st, err := a.state(ctx, pair, block)
	if err != nil {
		return domain.Quote{}, err
	}
	if st.ReserveBase.IsZero() || st.ReserveQuote.IsZero() {
		return domain.Quote{}, domain.Errf(domain.KindInsufficientLiquidity,
			"%s: empty balances for %s", a.ref, pair.ID())
	}
	fee := feeFraction(st.FeeBps)
	amp := st.Amp
	if amp <= 0 {
		amp = 100
	}

	// Mid from a small probe so the curve's flat region is reflected.
	probe := st.ReserveBase.Div(decimal.NewFromInt(100_000))
	probeOut, _ := stableOut(st.ReserveBase, st.ReserveQuote, probe, amp, decimal.Zero)
	if probeOut.IsZero() {
		return domain.Quote{}, domain.Errf(domain.KindInsufficientLiquidity,
			"%s: degenerate curve for %s", a.ref, pair.ID())
	}
	mid := probeOut.Div(probe)

	baseIn := notional.Div(mid)
	outQuote, okSell := stableOut(st.ReserveBase, st.ReserveQuote, baseIn, amp, fee)
	if outQuote.IsZero() {
		return domain.Quote{}, domain.Errf(domain.KindInsufficientLiquidity,
			"%s: zero sell output for %s", a.ref, pair.ID())
	}
	sell := outQuote.Div(baseIn)

	outBase, okBuy := stableOut(st.ReserveQuote, st.ReserveBase, notional, amp, fee)
	if outBase.IsZero() {
		return domain.Quote{}, domain.Errf(domain.KindInsufficientLiquidity,
			"%s: zero buy output for %s", a.ref, pair.ID())
	}
	buy := notional.Div(outBase)

	// The amplified region tolerates far more size than constant product;
	// scale the ceiling depth by the amplification factor, capped at the
	// smaller reserve.
	depth := v2DepthAtCeiling(st.ReserveBase, a.ceiling).
		Mul(decimal.NewFromInt(amp).Div(decimal.NewFromInt(10))).Mul(mid)
	if cap := decimal.Min(st.ReserveBase.Mul(mid), st.ReserveQuote); depth.Cmp(cap) > 0 {
		depth = cap
	}

	approx := !(okSell && okBuy)
	return a.quoteFrom(pair, st, block, buy, sell, mid, depth, approx, false), nil
}

func (a *stableAdapter) PriceImpact(ctx context.Context, pair domain.TokenPair, amountIn decimal.Decimal, block uint64) (float64, error) {
	st, err := a.state(ctx, pair, block)
	if err != nil {
		return 0, err
	}
	amp := st.Amp
	if amp <= 0 {
		amp = 100
	}
	probe := st.ReserveBase.Div(decimal.NewFromInt(100_000))
	probeOut, _ := stableOut(st.ReserveBase, st.ReserveQuote, probe, amp, decimal.Zero)
	fullOut, _ := stableOut(st.ReserveBase, st.ReserveQuote, amountIn, amp, decimal.Zero)
	if probeOut.IsZero() || amountIn.IsZero() {
		return 0, nil
	}
	spot := probeOut.Div(probe)
	eff := fullOut.Div(amountIn)
	impact := one.Sub(eff.Div(spot)).InexactFloat64()
	if impact < 0 {
		impact = 0
	}
	return impact, nil
}

func (a *stableAdapter) BuildSwap(pair domain.TokenPair, side Side, amountIn, minAmountOut decimal.Decimal, recipient common.Address) (domain.Call, error) {
	return buildStableExchange(a.ref, pair, side, amountIn, minAmountOut)
}
