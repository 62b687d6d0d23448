package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func testPair() TokenPair {
	return TokenPair{
		Base:  Token{Symbol: "WETH", Decimals: 18},
		Quote: Token{Symbol: "USDT", Decimals: 6},
	}
}

func TestOpportunityID_Deterministic(t *testing.T) {
	pair := testPair()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := OpportunityID(ChainPolygon, pair, "quickswap", "sushiswap", at)
	// Same second, different sub-second offset: same bucket, same id.
	b := OpportunityID(ChainPolygon, pair, "quickswap", "sushiswap", at.Add(900*time.Millisecond))
	assert.Equal(t, a, b)

	// Next second bucket differs.
	c := OpportunityID(ChainPolygon, pair, "quickswap", "sushiswap", at.Add(time.Second))
	assert.NotEqual(t, a, c)

	// Reversed venues differ.
	r := OpportunityID(ChainPolygon, pair, "sushiswap", "quickswap", at)
	assert.NotEqual(t, a, r)
}

func TestTokenPair_KeyOrderIndependent(t *testing.T) {
	p := testPair()
	flipped := TokenPair{Base: p.Quote, Quote: p.Base}
	assert.Equal(t, p.Key(), flipped.Key())
	assert.NotEqual(t, p.ID(), flipped.ID())
}

func TestProfitIdentity(t *testing.T) {
	o := &Opportunity{
		GrossProfit:     d("70.65"),
		GasCost:         d("12.80"),
		SlippageReserve: d("3.35"),
		FlashFee:        d("0"),
	}
	o.ComputeNet()
	assert.True(t, o.NetProfit.Equal(d("54.50")))
	assert.True(t, o.ProfitIdentityHolds())

	o.NetProfit = o.NetProfit.Add(d("0.01"))
	assert.False(t, o.ProfitIdentityHolds())
}

func TestSpreadBps(t *testing.T) {
	got := SpreadBps(d("0.8924"), d("0.8941"))
	// (0.8941-0.8924)/0.8924*10000 ≈ 19.05 bps
	assert.InDelta(t, 19.05, got.InexactFloat64(), 0.01)
	assert.True(t, SpreadBps(decimal.Zero, d("1")).IsZero())
}

func TestRanking_TotalAndStable(t *testing.T) {
	mk := func(id, net string, conf float64, gas string) *Opportunity {
		return &Opportunity{ID: id, Pair: testPair(), NetProfit: d(net), Confidence: conf, GasCost: d(gas)}
	}
	opps := []*Opportunity{
		mk("c", "10", 80, "2"),
		mk("a", "20", 50, "3"),
		mk("b", "10", 80, "1"),
		mk("d", "10", 90, "5"),
	}
	SortOpportunities(opps)
	ids := []string{opps[0].ID, opps[1].ID, opps[2].ID, opps[3].ID}
	// net desc, then confidence desc, then gas asc
	require.Equal(t, []string{"a", "d", "b", "c"}, ids)

	// Sorting twice yields an identical order.
	again := append([]*Opportunity(nil), opps...)
	SortOpportunities(again)
	for i := range opps {
		assert.Equal(t, opps[i].ID, again[i].ID)
	}
}

func TestExecutionStateMachine(t *testing.T) {
	legal := [][2]ExecStatus{
		{ExecNew, ExecPlanned},
		{ExecPlanned, ExecSimulated},
		{ExecSimulated, ExecSubmitted},
		{ExecSubmitted, ExecPending},
		{ExecPending, ExecConfirmed},
		{ExecPending, ExecReverted},
		{ExecPending, ExecFailed},
		{ExecSubmitted, ExecFailed},
		{ExecConfirmed, ExecPending}, // reorg
		{ExecNew, ExecCancelled},
		{ExecPlanned, ExecCancelled},
		{ExecSimulated, ExecCancelled},
	}
	for _, e := range legal {
		assert.True(t, CanTransition(e[0], e[1]), "%s -> %s should be legal", e[0], e[1])
	}

	illegal := [][2]ExecStatus{
		{ExecNew, ExecSubmitted},
		{ExecSubmitted, ExecCancelled},
		{ExecPending, ExecCancelled},
		{ExecConfirmed, ExecFailed},
		{ExecReverted, ExecPending},
		{ExecFailed, ExecConfirmed},
		{ExecCancelled, ExecPlanned},
	}
	for _, e := range illegal {
		assert.False(t, CanTransition(e[0], e[1]), "%s -> %s should be illegal", e[0], e[1])
	}

	assert.True(t, ExecConfirmed.Terminal())
	assert.True(t, ExecCancelled.Terminal())
	assert.False(t, ExecPending.Terminal())
}

func TestErrorKinds(t *testing.T) {
	err := Errf(KindRetryableTransport, "rpc timeout after %d attempts", 3)
	assert.Equal(t, KindRetryableTransport, KindOf(err))
	assert.True(t, Retryable(err))

	wrapped := WrapKind(KindBudget, err)
	assert.Equal(t, KindBudget, KindOf(wrapped))
	assert.False(t, Retryable(wrapped))

	assert.Nil(t, WrapKind(KindFatal, nil))
	assert.Equal(t, KindUnknown, KindOf(nil))
}
