package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Retention windows. Executions are the audit trail and are never
// swept. Raw series are rolled up before the raw rows are dropped so
// the long-horizon views survive.
const (
	retainOpportunities = 7 * 24 * time.Hour
	retainStatsRaw      = 90 * 24 * time.Hour
	retainGasRaw        = 30 * 24 * time.Hour
	retainChainRaw      = 7 * 24 * time.Hour
	retainAlerts        = 30 * 24 * time.Hour
)

// retentionCutoff returns the oldest timestamp a raw row may carry.
func retentionCutoff(now time.Time, window time.Duration) time.Time {
	return now.Add(-window)
}

// RunRetention sweeps on the configured cadence until ctx ends.
func (s *Store) RunRetention(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 10 * time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx, time.Now().UTC()); err != nil {
				log.Warn().Err(err).Msg("retention sweep failed")
			}
		}
	}
}

// Sweep rolls up and trims every series once.
func (s *Store) Sweep(ctx context.Context, now time.Time) error {
	qctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	steps := []struct {
		name string
		sql  string
		args []any
	}{
		{"rollup gas", `
			INSERT INTO gas_5m (chain, bucket, price_gwei, samples)
			SELECT chain, date_trunc('hour', at) + make_interval(mins => 5 * (extract(minute FROM at)::int / 5)),
			       avg(price_gwei), count(*)
			FROM gas_samples WHERE at < $1
			GROUP BY 1, 2
			ON CONFLICT (chain, bucket) DO NOTHING`,
			[]any{retentionCutoff(now, retainGasRaw)}},
		{"trim gas", `DELETE FROM gas_samples WHERE at < $1`,
			[]any{retentionCutoff(now, retainGasRaw)}},

		{"rollup chain metrics", `
			INSERT INTO chain_metrics_5m (chain, bucket, latency_ms, samples)
			SELECT chain, date_trunc('hour', at) + make_interval(mins => 5 * (extract(minute FROM at)::int / 5)),
			       avg(latency_ms), count(*)
			FROM chain_metrics WHERE at < $1
			GROUP BY 1, 2
			ON CONFLICT (chain, bucket) DO NOTHING`,
			[]any{retentionCutoff(now, retainChainRaw)}},
		{"trim chain metrics", `DELETE FROM chain_metrics WHERE at < $1`,
			[]any{retentionCutoff(now, retainChainRaw)}},

		{"rollup stats", `
			INSERT INTO stats_hourly
			SELECT DISTINCT ON (date_trunc('hour', at))
			       date_trunc('hour', at), total_profit, profit_today, total_trades,
			       winning_trades, win_rate, avg_profit, sharpe, max_drawdown, active_capital
			FROM stats_snapshots WHERE at < $1
			ORDER BY date_trunc('hour', at), at DESC
			ON CONFLICT (bucket) DO NOTHING`,
			[]any{retentionCutoff(now, retainStatsRaw)}},
		{"trim stats", `DELETE FROM stats_snapshots WHERE at < $1`,
			[]any{retentionCutoff(now, retainStatsRaw)}},

		{"trim opportunities", `DELETE FROM opportunities WHERE revision_at < $1`,
			[]any{retentionCutoff(now, retainOpportunities)}},
		{"trim alerts", `DELETE FROM alerts WHERE created_at < $1`,
			[]any{retentionCutoff(now, retainAlerts)}},
	}

	for _, step := range steps {
		if _, err := s.db.ExecContext(qctx, step.sql, step.args...); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}
