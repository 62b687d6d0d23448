package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// GasSample is one smoothed gas price observation journaled per scan
// tick. On legacy chains only PriceGwei is set.
type GasSample struct {
	Chain       ChainID   `json:"chain"`
	PriceGwei   float64   `json:"price_gwei"`
	BaseFeeGwei float64   `json:"base_fee_gwei,omitempty"`
	TipGwei     float64   `json:"tip_gwei,omitempty"`
	Block       uint64    `json:"block"`
	At          time.Time `json:"at"`
}

// ChainMetric is one health probe observation for a chain.
type ChainMetric struct {
	Chain     ChainID   `json:"chain"`
	Health    string    `json:"health"`
	Syncing   bool      `json:"syncing"`
	PeerCount uint64    `json:"peer_count"`
	Block     uint64    `json:"block"`
	LatencyMS float64   `json:"latency_ms"`
	At        time.Time `json:"at"`
}

// StatsSnapshot is one aggregate portfolio picture computed from the
// executions series.
type StatsSnapshot struct {
	TotalProfit   decimal.Decimal `json:"total_profit"`
	ProfitToday   decimal.Decimal `json:"profit_today"`
	TotalTrades   int64           `json:"total_trades"`
	WinningTrades int64           `json:"winning_trades"`
	WinRate       float64         `json:"win_rate"`
	AvgProfit     decimal.Decimal `json:"avg_profit"`
	Sharpe        float64         `json:"sharpe"`
	MaxDrawdown   decimal.Decimal `json:"max_drawdown"`
	ActiveCapital decimal.Decimal `json:"active_capital"`
	At            time.Time       `json:"at"`
}
