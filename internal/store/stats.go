package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbnexus/arbnexus/internal/domain"
)

type settledTrade struct {
	Profit  decimal.Decimal `db:"realized_profit"`
	EndedAt time.Time       `db:"ended_at"`
}

// ComputeStats rebuilds the aggregate snapshot from the settled trade
// history, caches it and returns it. Callers hit the cache first; this
// is the miss path.
func (s *Store) ComputeStats(ctx context.Context) (domain.StatsSnapshot, error) {
	if snap, ok, err := s.cache.Stats(ctx); err == nil && ok {
		return snap, nil
	}

	qctx, cancel := s.ctx(ctx)
	defer cancel()

	var trades []settledTrade
	err := s.db.SelectContext(qctx, &trades, `
		SELECT realized_profit, ended_at FROM executions
		WHERE realized_profit IS NOT NULL AND ended_at IS NOT NULL
		  AND status IN ('confirmed', 'reverted')
		ORDER BY ended_at`)
	if err != nil {
		return domain.StatsSnapshot{}, fmt.Errorf("query settled trades: %w", err)
	}

	var active decimal.Decimal
	err = s.db.GetContext(qctx, &active, `
		SELECT COALESCE(SUM((plan->>'amount_in')::NUMERIC), 0) FROM executions
		WHERE status IN ('submitted', 'pending')`)
	if err != nil {
		return domain.StatsSnapshot{}, fmt.Errorf("query active capital: %w", err)
	}

	snap := summarizeTrades(trades, time.Now().UTC())
	snap.ActiveCapital = active
	if err := s.cache.SetStats(ctx, snap); err != nil {
		return snap, nil // cache write failure is not a read failure
	}
	return snap, nil
}

// summarizeTrades folds the settlement history into one snapshot.
// Sharpe is mean over stddev of per-trade profits, drawdown is the
// deepest peak-to-trough dip of the cumulative curve.
func summarizeTrades(trades []settledTrade, now time.Time) domain.StatsSnapshot {
	snap := domain.StatsSnapshot{At: now}
	if len(trades) == 0 {
		return snap
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var (
		total, today, cum, peak, drawdown decimal.Decimal
		wins                              int
		mean, m2                          float64
	)
	for i, t := range trades {
		total = total.Add(t.Profit)
		if !t.EndedAt.Before(midnight) {
			today = today.Add(t.Profit)
		}
		if t.Profit.IsPositive() {
			wins++
		}

		cum = cum.Add(t.Profit)
		if cum.GreaterThan(peak) {
			peak = cum
		}
		if dip := peak.Sub(cum); dip.GreaterThan(drawdown) {
			drawdown = dip
		}

		// Welford, single pass.
		p, _ := t.Profit.Float64()
		delta := p - mean
		mean += delta / float64(i+1)
		m2 += delta * (p - mean)
	}

	n := len(trades)
	snap.TotalProfit = total
	snap.ProfitToday = today
	snap.TotalTrades = int64(n)
	snap.WinningTrades = int64(wins)
	snap.WinRate = float64(wins) / float64(n)
	snap.AvgProfit = total.DivRound(decimal.NewFromInt(int64(n)), 8)
	snap.MaxDrawdown = drawdown
	if n > 1 {
		stddev := math.Sqrt(m2 / float64(n-1))
		if stddev > 0 {
			snap.Sharpe = mean / stddev
		}
	}
	return snap
}
