package scanner

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/arbnexus/arbnexus/internal/config"
	"github.com/arbnexus/arbnexus/internal/domain"
)

// Volatility normalization: scores hit zero at 5% relative stddev.
const volCeiling = 0.05

// ConfidenceInputs are the raw components of the confidence score. All
// of them live in float space; nothing here feeds the profit identity.
type ConfidenceInputs struct {
	// DepthHeadroom is min(buyDepth, sellDepth) / notional.
	DepthHeadroom float64
	// Volatility is the relative stddev of the trend window.
	Volatility float64
	// VenuePenalty accumulates model-class and quote-quality penalties
	// for both legs, in [0, 1].
	VenuePenalty float64
	// Staleness is the age of the older quote divided by the chain TTL.
	Staleness float64
}

// Confidence combines the weighted components and clamps to [0, 100].
func Confidence(in ConfidenceInputs, w config.ConfidenceWeights) float64 {
	sum := w.Depth + w.Volatility + w.Venue + w.Freshness
	if sum <= 0 {
		return 0
	}

	// Depth: parity with the notional scores zero, 5x headroom scores full.
	depth := clamp01((in.DepthHeadroom - 1) / 4)
	vol := clamp01(1 - in.Volatility/volCeiling)
	ven := clamp01(1 - in.VenuePenalty)
	fresh := clamp01(1 - in.Staleness)

	score := 100 * (w.Depth*depth + w.Volatility*vol + w.Venue*ven + w.Freshness*fresh) / sum
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// venuePenalty grades a quote by its pricing model and quality flags.
func venuePenalty(q domain.Quote) float64 {
	var p float64
	switch q.Venue.Model {
	case domain.ModelConstantProductV2:
		// Closed-form math, no penalty.
	case domain.ModelConcentratedV3:
		p += 0.10
	case domain.ModelStableCurve:
		p += 0.05
	case domain.ModelWeightedPool:
		p += 0.10
	}
	if q.Approximate {
		p += 0.25
	}
	if q.ThinNextTick {
		p += 0.20
	}
	return p
}

// TrendVolatility is the relative standard deviation of the samples.
// Fewer than two samples report zero.
func TrendVolatility(trend []decimal.Decimal) float64 {
	if len(trend) < 2 {
		return 0
	}
	var sum, mean float64
	vals := make([]float64, len(trend))
	for i, p := range trend {
		vals[i] = p.InexactFloat64()
		sum += vals[i]
	}
	mean = sum / float64(len(vals))
	if mean == 0 {
		return 0
	}
	var ss float64
	for _, v := range vals {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss/float64(len(vals))) / mean
}

// ClassifyRisk buckets a candidate by fixed thresholds over confidence,
// volatility and market impact.
func ClassifyRisk(confidence, volatility, impact float64) domain.RiskClass {
	if confidence < 50 || volatility > volCeiling || impact > 0.02 {
		return domain.RiskHigh
	}
	if confidence >= 80 && volatility < 0.02 && impact < 0.005 {
		return domain.RiskLow
	}
	return domain.RiskMedium
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
