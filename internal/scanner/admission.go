package scanner

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/arbnexus/arbnexus/internal/config"
	"github.com/arbnexus/arbnexus/internal/domain"
)

// Rejection reasons attached to candidates that admission declined.
// Rejected candidates still surface to observers with the tag.
const (
	RejectGasCeiling    = "gas-ceiling"
	RejectPositionSize  = "position-size"
	RejectPairCooldown  = "pair-cooldown"
	RejectMinConfidence = "min-confidence"
	RejectRiskClass     = "risk-class"
	RejectRateLimit     = "rate-limit"
	RejectDisarmed      = "auto-execute-disarmed"
)

// Admission applies the pre-execution rules: gas ceiling, position
// size, per-pair cooldown, confidence floor, risk allow-list and the
// global execution rate limit. The position ceiling is read through
// the live config handle so updates apply without a restart.
type Admission struct {
	live          *config.Handle
	minConfidence float64
	cooldown      time.Duration
	allowRisk     map[domain.RiskClass]bool

	limiter *rate.Limiter

	mu          sync.Mutex
	lastAttempt map[string]time.Time
}

// NewAdmission builds the rule set from configuration.
func NewAdmission(live *config.Handle, sc config.ScannerConfig) *Admission {
	allow := make(map[domain.RiskClass]bool, len(sc.RiskAllowAuto))
	for _, r := range sc.RiskAllowAuto {
		allow[r] = true
	}
	per := sc.ExecutionsPerMinute
	if per <= 0 {
		per = 10
	}
	return &Admission{
		live:          live,
		minConfidence: sc.MinConfidenceAuto,
		cooldown:      sc.PairCooldown,
		allowRisk:     allow,
		limiter:       rate.NewLimiter(rate.Every(time.Minute/time.Duration(per)), per),
		lastAttempt:   make(map[string]time.Time),
	}
}

// Check returns the rejection reason for a candidate, or "" when it is
// admitted for execution. The rate limit token is only consumed once
// every other rule passed, so rejected candidates do not starve
// admittable ones.
func (a *Admission) Check(opp *domain.Opportunity, gasGwei, gasCeilingGwei float64, armed bool, now time.Time) string {
	if gasCeilingGwei > 0 && gasGwei > gasCeilingGwei {
		return RejectGasCeiling
	}
	if max := a.live.Load().MaxPositionUSD; max > 0 && opp.Notional.InexactFloat64() > max {
		return RejectPositionSize
	}
	if a.onCooldown(opp.Chain, opp.Pair, now) {
		return RejectPairCooldown
	}
	if !armed {
		return RejectDisarmed
	}
	if opp.Confidence < a.minConfidence {
		return RejectMinConfidence
	}
	if !a.allowRisk[opp.Risk] {
		return RejectRiskClass
	}
	if !a.limiter.Allow() {
		return RejectRateLimit
	}
	return ""
}

// NoteAttempt records an execution attempt (any outcome) starting the
// pair cooldown.
func (a *Admission) NoteAttempt(chain domain.ChainID, pair domain.TokenPair, now time.Time) {
	a.mu.Lock()
	a.lastAttempt[attemptKey(chain, pair)] = now
	a.mu.Unlock()
}

func (a *Admission) onCooldown(chain domain.ChainID, pair domain.TokenPair, now time.Time) bool {
	if a.cooldown <= 0 {
		return false
	}
	a.mu.Lock()
	last, ok := a.lastAttempt[attemptKey(chain, pair)]
	a.mu.Unlock()
	return ok && now.Sub(last) < a.cooldown
}

func attemptKey(chain domain.ChainID, pair domain.TokenPair) string {
	return fmt.Sprintf("%s|%s", chain, pair.Key())
}
