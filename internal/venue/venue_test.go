package venue

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbnexus/arbnexus/internal/domain"
)

type stubReader struct {
	st  PoolState
	err error
}

func (s stubReader) ReadState(context.Context, domain.VenueRef, domain.TokenPair, uint64) (PoolState, error) {
	return s.st, s.err
}

func testPair() domain.TokenPair {
	return domain.TokenPair{
		Base: domain.Token{
			Address:  common.HexToAddress("0x0000000000000000000000000000000000000001"),
			Symbol:   "WETH",
			Decimals: 18,
		},
		Quote: domain.Token{
			Address:  common.HexToAddress("0x0000000000000000000000000000000000000002"),
			Symbol:   "USDT",
			Decimals: 6,
		},
	}
}

func testRef(model domain.PricingModel) domain.VenueRef {
	return domain.VenueRef{
		Chain:  domain.ChainEthereum,
		Name:   "testswap",
		Model:  model,
		Router: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
	}
}

func newTestAdapter(t *testing.T, model domain.PricingModel, st PoolState) Adapter {
	t.Helper()
	a, err := New(testRef(model), stubReader{st: st}, NewQuoteCache(), 0.01)
	require.NoError(t, err)
	return a
}

func TestV2Out_KnownValue(t *testing.T) {
	// x=1000, y=2,000,000, in=10, fee=0.3%:
	// eff=9.97, y'=2e6*1000/1009.97, out=y-y'.
	out := v2Out(
		decimal.NewFromInt(1000),
		decimal.NewFromInt(2_000_000),
		decimal.NewFromInt(10),
		decimal.NewFromFloat(0.003),
	)
	assert.InDelta(t, 19743.16, out.InexactFloat64(), 0.5)
}

func TestConstantProduct_QuoteSpreadsAroundMid(t *testing.T) {
	a := newTestAdapter(t, domain.ModelConstantProductV2, PoolState{
		Block:        100,
		FeeBps:       30,
		ReserveBase:  decimal.NewFromInt(1000),
		ReserveQuote: decimal.NewFromInt(2_000_000),
	})
	q, err := a.QuotePair(context.Background(), testPair(), decimal.NewFromInt(10_000), 100)
	require.NoError(t, err)

	mid := q.Mid.InexactFloat64()
	assert.InDelta(t, 2000, mid, 0.01)
	assert.Greater(t, q.Buy.InexactFloat64(), mid, "effective buy must cost more than mid")
	assert.Less(t, q.Sell.InexactFloat64(), mid, "effective sell must realize less than mid")
	assert.True(t, q.Depth.IsPositive())
	assert.False(t, q.Approximate)
	assert.False(t, q.ThinNextTick)
}

func TestConstantProduct_EmptyReserves(t *testing.T) {
	a := newTestAdapter(t, domain.ModelConstantProductV2, PoolState{Block: 100})
	_, err := a.QuotePair(context.Background(), testPair(), decimal.NewFromInt(10_000), 100)
	require.Error(t, err)
	assert.Equal(t, domain.KindInsufficientLiquidity, domain.KindOf(err))
}

func TestConcentrated_ThinTickFlags(t *testing.T) {
	st := PoolState{
		Block:         100,
		FeeBps:        30,
		ReserveBase:   decimal.NewFromInt(500),
		ReserveQuote:  decimal.NewFromInt(1_000_000),
		NextTickDepth: decimal.NewFromInt(1_000), // far below the notional
	}
	a := newTestAdapter(t, domain.ModelConcentratedV3, st)
	q, err := a.QuotePair(context.Background(), testPair(), decimal.NewFromInt(10_000), 100)
	require.NoError(t, err)

	assert.True(t, q.Approximate)
	assert.True(t, q.ThinNextTick)
	assert.True(t, q.Depth.Equal(st.NextTickDepth), "depth capped at the tick boundary")
}

func TestConcentrated_DeepTickClean(t *testing.T) {
	a := newTestAdapter(t, domain.ModelConcentratedV3, PoolState{
		Block:         100,
		FeeBps:        30,
		ReserveBase:   decimal.NewFromInt(500),
		ReserveQuote:  decimal.NewFromInt(1_000_000),
		NextTickDepth: decimal.NewFromInt(500_000),
	})
	q, err := a.QuotePair(context.Background(), testPair(), decimal.NewFromInt(10_000), 100)
	require.NoError(t, err)
	assert.False(t, q.Approximate)
	assert.False(t, q.ThinNextTick)
}

func TestStable_FlatNearBalance(t *testing.T) {
	a := newTestAdapter(t, domain.ModelStableCurve, PoolState{
		Block:        100,
		FeeBps:       4,
		Amp:          100,
		ReserveBase:  decimal.NewFromInt(1_000_000),
		ReserveQuote: decimal.NewFromInt(1_000_000),
	})
	q, err := a.QuotePair(context.Background(), testPair(), decimal.NewFromInt(50_000), 100)
	require.NoError(t, err)

	// A balanced amplified pool trades a 5% drain within a handful of bps
	// of parity.
	assert.InDelta(t, 1.0, q.Mid.InexactFloat64(), 0.001)
	assert.InDelta(t, 1.0, q.Sell.InexactFloat64(), 0.005)
	assert.InDelta(t, 1.0, q.Buy.InexactFloat64(), 0.005)
	assert.False(t, q.Approximate, "Newton must converge on a balanced pool")
}

func TestStable_TighterThanConstantProduct(t *testing.T) {
	reserve := decimal.NewFromInt(1_000_000)
	in := decimal.NewFromInt(50_000)

	stable, ok := stableOut(reserve, reserve, in, 100, decimal.Zero)
	require.True(t, ok)
	cp := v2Out(reserve, reserve, in, decimal.Zero)

	assert.True(t, stable.Cmp(cp) > 0,
		"amplified curve must beat constant product on a balanced pool: %s vs %s", stable, cp)
}

func TestStable_LowAmpDepthStaysPositive(t *testing.T) {
	a := newTestAdapter(t, domain.ModelStableCurve, PoolState{
		Block:        100,
		FeeBps:       4,
		Amp:          5,
		ReserveBase:  decimal.NewFromInt(1_000_000),
		ReserveQuote: decimal.NewFromInt(1_000_000),
	})
	q, err := a.QuotePair(context.Background(), testPair(), decimal.NewFromInt(50_000), 100)
	require.NoError(t, err)
	assert.True(t, q.Depth.IsPositive(), "weakly amplified pools still quote usable depth")
}

func TestWeighted_EqualWeightsMatchConstantProduct(t *testing.T) {
	bi := decimal.NewFromInt(1000)
	bo := decimal.NewFromInt(2_000_000)
	in := decimal.NewFromInt(10)
	fee := decimal.NewFromFloat(0.003)

	w := weightedOut(bi, bo, 0.5, 0.5, in, fee)
	v2 := v2Out(bi, bo, in, fee)
	assert.InDelta(t, v2.InexactFloat64(), w.InexactFloat64(), v2.InexactFloat64()*0.001)
}

func TestPriceImpact_GrowsWithSize(t *testing.T) {
	a := newTestAdapter(t, domain.ModelConstantProductV2, PoolState{
		Block:        100,
		FeeBps:       30,
		ReserveBase:  decimal.NewFromInt(1000),
		ReserveQuote: decimal.NewFromInt(2_000_000),
	})
	small, err := a.PriceImpact(context.Background(), testPair(), decimal.NewFromInt(1), 100)
	require.NoError(t, err)
	large, err := a.PriceImpact(context.Background(), testPair(), decimal.NewFromInt(100), 100)
	require.NoError(t, err)
	assert.Greater(t, large, small)
}

func TestBuildRouterSwap_CallShape(t *testing.T) {
	a := newTestAdapter(t, domain.ModelConstantProductV2, PoolState{})
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	call, err := a.BuildSwap(testPair(), SideSell,
		decimal.NewFromInt(5), decimal.NewFromInt(9_900), recipient)
	require.NoError(t, err)

	assert.Equal(t, testRef(domain.ModelConstantProductV2).Router, call.To)
	wantSel := crypto.Keccak256([]byte("swapExactTokensForTokens(uint256,uint256,address[],address,uint256)"))[:4]
	require.GreaterOrEqual(t, len(call.Data), 4)
	assert.Equal(t, wantSel, call.Data[:4])
}

func TestBuildExactInputSingle_CallShape(t *testing.T) {
	a := newTestAdapter(t, domain.ModelConcentratedV3, PoolState{})
	call, err := a.BuildSwap(testPair(), SideBuy,
		decimal.NewFromInt(10_000), decimal.NewFromInt(4), common.Address{})
	require.NoError(t, err)

	wantSel := crypto.Keccak256([]byte("exactInputSingle((address,address,uint24,address,uint256,uint256,uint256,uint160))"))[:4]
	require.GreaterOrEqual(t, len(call.Data), 4)
	assert.Equal(t, wantSel, call.Data[:4])
}

func TestBuildStableExchange_CoinIndices(t *testing.T) {
	a := newTestAdapter(t, domain.ModelStableCurve, PoolState{})

	// SideSell spends base, coin 0 → 1; SideBuy spends quote, coin 1 → 0.
	sell, err := a.BuildSwap(testPair(), SideSell,
		decimal.NewFromInt(100), decimal.NewFromInt(99), common.Address{})
	require.NoError(t, err)
	buy, err := a.BuildSwap(testPair(), SideBuy,
		decimal.NewFromInt(100), decimal.NewFromInt(99), common.Address{})
	require.NoError(t, err)

	// Args start after the 4-byte selector; i and j are the first two words.
	sellI := sell.Data[4+31]
	sellJ := sell.Data[4+63]
	buyI := buy.Data[4+31]
	buyJ := buy.Data[4+63]
	assert.Equal(t, byte(0), sellI)
	assert.Equal(t, byte(1), sellJ)
	assert.Equal(t, byte(1), buyI)
	assert.Equal(t, byte(0), buyJ)
}

func TestSwapLegs_SideSemantics(t *testing.T) {
	pair := testPair()

	in, out, rawIn, _ := swapLegs(pair, SideSell, decimal.NewFromInt(2), decimal.Zero)
	assert.Equal(t, "WETH", in.Symbol)
	assert.Equal(t, "USDT", out.Symbol)
	assert.Equal(t, "2000000000000000000", rawIn.String(), "18-decimal base scaling")

	in, out, rawIn, _ = swapLegs(pair, SideBuy, decimal.NewFromInt(2), decimal.Zero)
	assert.Equal(t, "USDT", in.Symbol)
	assert.Equal(t, "WETH", out.Symbol)
	assert.Equal(t, "2000000", rawIn.String(), "6-decimal quote scaling")
}

func TestQuoteCache_Expiry(t *testing.T) {
	c := NewQuoteCache()
	ref := testRef(domain.ModelConstantProductV2)
	key := cacheKey(ref, testPair(), 100)

	st := PoolState{Block: 100, FeeBps: 30}
	c.Put(key, st, time.Minute)
	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, st, got)

	c.Put(key, st, -time.Second)
	_, ok = c.Get(key)
	assert.False(t, ok)

	_, ok = c.Get(cacheKey(ref, testPair(), 101))
	assert.False(t, ok, "block bump must miss")
}

func TestOrderByToken0(t *testing.T) {
	pair := testPair() // base address < quote address
	r0 := decimal.NewFromInt(1).Shift(18).BigInt()
	r1 := decimal.NewFromInt(2).Shift(6).BigInt()

	base, quote := orderByToken0(pair, r0, r1)
	assert.Equal(t, r0, base)
	assert.Equal(t, r1, quote)

	flipped := domain.TokenPair{Base: pair.Quote, Quote: pair.Base}
	base, quote = orderByToken0(flipped, r0, r1)
	assert.Equal(t, r1, base)
	assert.Equal(t, r0, quote)
}

func TestUnpackUint256Array(t *testing.T) {
	// offset=32, len=2, values 5e17 and 5e17.
	ret := make([]byte, 0, 128)
	pad := func(v int64) []byte {
		b := make([]byte, 32)
		big := decimal.NewFromInt(v).BigInt()
		copy(b[32-len(big.Bytes()):], big.Bytes())
		return b
	}
	ret = append(ret, pad(32)...)
	ret = append(ret, pad(2)...)
	ret = append(ret, pad(500)...)
	ret = append(ret, pad(500)...)

	vals, ok := unpackUint256Array(ret)
	require.True(t, ok)
	require.Len(t, vals, 2)
	assert.Equal(t, int64(500), vals[0].Int64())
	assert.Equal(t, int64(500), vals[1].Int64())
}
