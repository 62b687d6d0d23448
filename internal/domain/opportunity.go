package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// RiskClass buckets opportunities for admission control.
type RiskClass string

const (
	RiskLow    RiskClass = "low"
	RiskMedium RiskClass = "medium"
	RiskHigh   RiskClass = "high"
)

// Side is one leg of an opportunity: the venue and its effective price.
type Side struct {
	Venue VenueRef        `json:"venue"`
	Price decimal.Decimal `json:"price"`
}

// Opportunity is a candidate cross-venue trade. All monetary fields are
// USD decimals; Confidence is a heuristic score and never feeds the
// profit identity.
type Opportunity struct {
	ID    string    `json:"id"`
	Chain ChainID   `json:"chain"`
	Pair  TokenPair `json:"pair"`

	Buy  Side `json:"buy"`
	Sell Side `json:"sell"`

	SpreadBps        decimal.Decimal `json:"spread_bps"`
	Notional         decimal.Decimal `json:"notional"`
	GrossProfit      decimal.Decimal `json:"gross_profit"`
	GasCost          decimal.Decimal `json:"gas_cost"`
	SlippageReserve  decimal.Decimal `json:"slippage_reserve"`
	FlashFee         decimal.Decimal `json:"flash_fee"`
	NetProfit        decimal.Decimal `json:"net_profit"`

	Confidence    float64   `json:"confidence"`
	Risk          RiskClass `json:"risk"`
	FlashEligible bool      `json:"flash_eligible"`

	// Trend holds the last N sell-side prices, oldest first.
	Trend      []decimal.Decimal `json:"trend,omitempty"`
	Volatility float64           `json:"volatility"`
	Impact     float64           `json:"impact"`

	FreshAt time.Time `json:"fresh_at"`

	// Rejection is set when admission control declined the candidate; the
	// opportunity stays visible to observers with the reason attached.
	Rejection string `json:"rejection,omitempty"`
}

// OpportunityID derives the stable content-hash id. The timestamp is
// bucketed to one second so successive scans of the same edge upsert the
// same id.
func OpportunityID(chain ChainID, pair TokenPair, buy, sell VenueName, at time.Time) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%d",
		chain, pair.Key(), buy, sell, at.Unix())))
	return hex.EncodeToString(h[:12])
}

// ComputeNet recomputes the net profit identity:
// net = gross − gas − slippage reserve − flash fee.
func (o *Opportunity) ComputeNet() {
	o.NetProfit = o.GrossProfit.Sub(o.GasCost).Sub(o.SlippageReserve).Sub(o.FlashFee)
}

// ProfitIdentityHolds verifies the stored net profit against its inputs.
func (o *Opportunity) ProfitIdentityHolds() bool {
	want := o.GrossProfit.Sub(o.GasCost).Sub(o.SlippageReserve).Sub(o.FlashFee)
	return o.NetProfit.Equal(want)
}

// SpreadBps computes (sell − buy) / buy × 10_000.
func SpreadBps(buy, sell decimal.Decimal) decimal.Decimal {
	if buy.IsZero() {
		return decimal.Zero
	}
	return sell.Sub(buy).Div(buy).Mul(decimal.NewFromInt(10_000))
}

// RankLess is the total ranking order: net profit descending, then
// confidence descending, then gas cost ascending, then pair id, then id.
// The trailing id comparison makes the order total so repeated sorts of
// identical inputs are byte-stable.
func RankLess(a, b *Opportunity) bool {
	if c := a.NetProfit.Cmp(b.NetProfit); c != 0 {
		return c > 0
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if c := a.GasCost.Cmp(b.GasCost); c != 0 {
		return c < 0
	}
	if ai, bi := a.Pair.ID(), b.Pair.ID(); ai != bi {
		return ai < bi
	}
	return a.ID < b.ID
}

// SortOpportunities sorts in place by RankLess.
func SortOpportunities(opps []*Opportunity) {
	sort.Slice(opps, func(i, j int) bool { return RankLess(opps[i], opps[j]) })
}
