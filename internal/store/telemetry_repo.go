package store

import (
	"context"
	"fmt"
	"time"

	"github.com/arbnexus/arbnexus/internal/domain"
)

// SaveGasSample journals one gas observation.
func (s *Store) SaveGasSample(ctx context.Context, g domain.GasSample) error {
	qctx, cancel := s.ctx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(qctx, `
		INSERT INTO gas_samples (chain, at, price_gwei, base_fee_gwei, tip_gwei, block)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (chain, at) DO NOTHING`,
		string(g.Chain), g.At, g.PriceGwei, g.BaseFeeGwei, g.TipGwei, g.Block)
	if err != nil {
		return fmt.Errorf("insert gas sample: %w", err)
	}
	return nil
}

// SaveChainMetric journals one health probe.
func (s *Store) SaveChainMetric(ctx context.Context, m domain.ChainMetric) error {
	qctx, cancel := s.ctx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(qctx, `
		INSERT INTO chain_metrics (chain, at, health, syncing, peer_count, block, latency_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (chain, at) DO NOTHING`,
		string(m.Chain), m.At, m.Health, m.Syncing, m.PeerCount, m.Block, m.LatencyMS)
	if err != nil {
		return fmt.Errorf("insert chain metric: %w", err)
	}
	return nil
}

// SaveAlert journals one alert.
func (s *Store) SaveAlert(ctx context.Context, a domain.Alert) error {
	qctx, cancel := s.ctx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(qctx, `
		INSERT INTO alerts (severity, category, chain, message, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		string(a.Severity), a.Category, string(a.Chain), a.Message, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// Alerts returns recent alerts, newest first.
func (s *Store) Alerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	qctx, cancel := s.ctx(ctx)
	defer cancel()
	rows, err := s.db.QueryxContext(qctx, `
		SELECT id, severity, category, chain, message, created_at
		FROM alerts ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var severity, chainName string
		if err := rows.Scan(&a.ID, &severity, &a.Category, &chainName, &a.Message, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Severity = domain.AlertSeverity(severity)
		a.Chain = domain.ChainID(chainName)
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveStatsSnapshot journals one aggregate snapshot.
func (s *Store) SaveStatsSnapshot(ctx context.Context, snap domain.StatsSnapshot) error {
	qctx, cancel := s.ctx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(qctx, `
		INSERT INTO stats_snapshots
			(at, total_profit, profit_today, total_trades, winning_trades,
			 win_rate, avg_profit, sharpe, max_drawdown, active_capital)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (at) DO NOTHING`,
		snap.At, snap.TotalProfit, snap.ProfitToday, snap.TotalTrades, snap.WinningTrades,
		snap.WinRate, snap.AvgProfit, snap.Sharpe, snap.MaxDrawdown, snap.ActiveCapital)
	if err != nil {
		return fmt.Errorf("insert stats snapshot: %w", err)
	}
	return nil
}

// StatsHistory returns raw snapshots between from and to, oldest first.
func (s *Store) StatsHistory(ctx context.Context, from, to time.Time) ([]domain.StatsSnapshot, error) {
	qctx, cancel := s.ctx(ctx)
	defer cancel()
	rows, err := s.db.QueryxContext(qctx, `
		SELECT at, total_profit, profit_today, total_trades, winning_trades,
		       win_rate, avg_profit, sharpe, max_drawdown, active_capital
		FROM stats_snapshots
		WHERE at >= $1 AND at <= $2
		ORDER BY at`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query stats history: %w", err)
	}
	defer rows.Close()

	var out []domain.StatsSnapshot
	for rows.Next() {
		var snap domain.StatsSnapshot
		if err := rows.Scan(&snap.At, &snap.TotalProfit, &snap.ProfitToday,
			&snap.TotalTrades, &snap.WinningTrades, &snap.WinRate,
			&snap.AvgProfit, &snap.Sharpe, &snap.MaxDrawdown, &snap.ActiveCapital); err != nil {
			return nil, fmt.Errorf("scan stats snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// GasHistory returns raw gas samples for a chain since the cutoff.
func (s *Store) GasHistory(ctx context.Context, chain domain.ChainID, since time.Time) ([]domain.GasSample, error) {
	qctx, cancel := s.ctx(ctx)
	defer cancel()
	rows, err := s.db.QueryxContext(qctx, `
		SELECT chain, at, price_gwei, base_fee_gwei, tip_gwei, block
		FROM gas_samples
		WHERE chain = $1 AND at >= $2
		ORDER BY at`, string(chain), since)
	if err != nil {
		return nil, fmt.Errorf("query gas history: %w", err)
	}
	defer rows.Close()

	var out []domain.GasSample
	for rows.Next() {
		var g domain.GasSample
		var chainName string
		if err := rows.Scan(&chainName, &g.At, &g.PriceGwei, &g.BaseFeeGwei, &g.TipGwei, &g.Block); err != nil {
			return nil, fmt.Errorf("scan gas sample: %w", err)
		}
		g.Chain = domain.ChainID(chainName)
		out = append(out, g)
	}
	return out, rows.Err()
}
