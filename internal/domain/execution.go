package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ExecStatus is a state of the execution state machine.
type ExecStatus string

const (
	ExecNew       ExecStatus = "new"
	ExecPlanned   ExecStatus = "planned"
	ExecSimulated ExecStatus = "simulated"
	ExecSubmitted ExecStatus = "submitted"
	ExecPending   ExecStatus = "pending"
	ExecConfirmed ExecStatus = "confirmed"
	ExecReverted  ExecStatus = "reverted"
	ExecFailed    ExecStatus = "failed"
	ExecCancelled ExecStatus = "cancelled"
)

// legalNext encodes the state machine:
//
//	New → Planned → Simulated → Submitted → Pending → (Confirmed | Reverted | Failed)
//
// Any pre-Submitted state may take the Cancelled edge. Submitted may fail
// directly when no node ever acknowledges. A reorg regresses Confirmed
// back to Pending.
var legalNext = map[ExecStatus][]ExecStatus{
	ExecNew:       {ExecPlanned, ExecCancelled},
	ExecPlanned:   {ExecSimulated, ExecCancelled},
	ExecSimulated: {ExecSubmitted, ExecCancelled},
	ExecSubmitted: {ExecPending, ExecFailed},
	ExecPending:   {ExecConfirmed, ExecReverted, ExecFailed},
	ExecConfirmed: {ExecPending}, // chain reorg only
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to ExecStatus) bool {
	for _, n := range legalNext[from] {
		if n == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends the state machine. Confirmed
// is terminal in the normal case but may regress on a reorg until the
// finality window has fully elapsed.
func (s ExecStatus) Terminal() bool {
	switch s {
	case ExecConfirmed, ExecReverted, ExecFailed, ExecCancelled:
		return true
	}
	return false
}

// Call is one venue-agnostic contract call of a plan. The engine never
// constructs EVM bytecode itself; adapters produce Data.
type Call struct {
	To    common.Address `json:"to"`
	Data  []byte         `json:"data"`
	Value *big.Int       `json:"value,omitempty"`
}

// Plan is the ordered call bundle produced by the flash-loan planner.
type Plan struct {
	Provider  string          `json:"provider,omitempty"` // empty when not flash-funded
	FlashFee  decimal.Decimal `json:"flash_fee"`
	AmountIn  decimal.Decimal `json:"amount_in"`
	Borrow    Token           `json:"borrow"`
	Calls     []Call          `json:"calls"`
	GasLimit  uint64          `json:"gas_limit"`
	MinMargin decimal.Decimal `json:"min_margin"`
}

// Execution is one attempted trade. It is created by the execution
// engine, walks the state machine once and is immutable afterwards.
type Execution struct {
	ID            string     `json:"id"`
	OpportunityID string     `json:"opportunity_id"`
	Chain         ChainID    `json:"chain"`
	PairID        string     `json:"pair_id"`
	Plan          Plan       `json:"plan"`
	Nonce         uint64     `json:"nonce"`
	TxHashes      []common.Hash `json:"tx_hashes,omitempty"`
	Status        ExecStatus `json:"status"`

	ExpectedProfit decimal.Decimal  `json:"expected_profit"`
	RealizedProfit *decimal.Decimal `json:"realized_profit,omitempty"`
	GasPaid        decimal.Decimal  `json:"gas_paid"`
	RevertReason   string           `json:"revert_reason,omitempty"`
	Reason         string           `json:"reason,omitempty"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// LastTxHash returns the most recent broadcast hash, or the zero hash.
func (e *Execution) LastTxHash() common.Hash {
	if len(e.TxHashes) == 0 {
		return common.Hash{}
	}
	return e.TxHashes[len(e.TxHashes)-1]
}

// AlertSeverity grades alerts emitted by the engine.
type AlertSeverity string

const (
	AlertInfo     AlertSeverity = "info"
	AlertWarning  AlertSeverity = "warning"
	AlertError    AlertSeverity = "error"
	AlertCritical AlertSeverity = "critical"
)

// Alert is a system event surfaced to observers and journaled to the
// alerts series.
type Alert struct {
	ID        int64         `json:"id,omitempty"`
	Severity  AlertSeverity `json:"severity"`
	Category  string        `json:"category"`
	Chain     ChainID       `json:"chain,omitempty"`
	Message   string        `json:"message"`
	CreatedAt time.Time     `json:"created_at"`
}
