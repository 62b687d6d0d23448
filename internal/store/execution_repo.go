package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/arbnexus/arbnexus/internal/domain"
)

// ErrStatusRegression is returned when a journaled transition would
// move an execution backwards through its state machine.
var ErrStatusRegression = errors.New("store: execution status regression")

// StatusRegresses reports whether persisting next over current would be
// an illegal backwards move. Re-journaling the same status is allowed
// (field updates on the same state), as is any legal machine edge.
func StatusRegresses(current, next domain.ExecStatus) bool {
	if current == next {
		return false
	}
	return !domain.CanTransition(current, next)
}

// SaveExecution upserts the execution's current state, rejecting status
// regressions. The stats cache is invalidated on every transition.
func (s *Store) SaveExecution(ctx context.Context, e domain.Execution) error {
	qctx, cancel := s.ctx(ctx)
	defer cancel()

	var current string
	err := s.db.GetContext(qctx, &current, `SELECT status FROM executions WHERE id = $1`, e.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First journal entry for this id.
	case err != nil:
		return fmt.Errorf("read execution status: %w", err)
	default:
		if StatusRegresses(domain.ExecStatus(current), e.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrStatusRegression, current, e.Status)
		}
	}

	hashes, err := json.Marshal(e.TxHashes)
	if err != nil {
		return fmt.Errorf("encode tx hashes: %w", err)
	}
	plan, err := json.Marshal(e.Plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}

	var realized *decimal.Decimal
	if e.RealizedProfit != nil {
		realized = e.RealizedProfit
	}
	_, err = s.db.ExecContext(qctx, `
		INSERT INTO executions
			(id, opportunity_id, chain, pair, status, nonce, expected_profit,
			 realized_profit, gas_paid, revert_reason, reason, tx_hashes, plan,
			 started_at, ended_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			nonce = EXCLUDED.nonce,
			realized_profit = EXCLUDED.realized_profit,
			gas_paid = EXCLUDED.gas_paid,
			revert_reason = EXCLUDED.revert_reason,
			reason = EXCLUDED.reason,
			tx_hashes = EXCLUDED.tx_hashes,
			plan = EXCLUDED.plan,
			ended_at = EXCLUDED.ended_at`,
		e.ID, e.OpportunityID, string(e.Chain), e.PairID, string(e.Status), e.Nonce,
		e.ExpectedProfit, realized, e.GasPaid, e.RevertReason, e.Reason,
		hashes, plan, e.StartedAt, e.EndedAt)
	if err != nil {
		return fmt.Errorf("upsert execution: %w", err)
	}

	s.cache.InvalidateStats(ctx)
	return nil
}

type executionRow struct {
	ID             string               `db:"id"`
	OpportunityID  string               `db:"opportunity_id"`
	Chain          string               `db:"chain"`
	Pair           string               `db:"pair"`
	Status         string               `db:"status"`
	Nonce          uint64               `db:"nonce"`
	ExpectedProfit decimal.Decimal      `db:"expected_profit"`
	RealizedProfit decimal.NullDecimal  `db:"realized_profit"`
	GasPaid        decimal.Decimal      `db:"gas_paid"`
	RevertReason   string               `db:"revert_reason"`
	Reason         string               `db:"reason"`
	TxHashes       []byte               `db:"tx_hashes"`
	Plan           []byte               `db:"plan"`
	StartedAt      sql.NullTime         `db:"started_at"`
	EndedAt        sql.NullTime         `db:"ended_at"`
}

func (r executionRow) toDomain() (domain.Execution, error) {
	e := domain.Execution{
		ID:             r.ID,
		OpportunityID:  r.OpportunityID,
		Chain:          domain.ChainID(r.Chain),
		PairID:         r.Pair,
		Status:         domain.ExecStatus(r.Status),
		Nonce:          r.Nonce,
		ExpectedProfit: r.ExpectedProfit,
		GasPaid:        r.GasPaid,
		RevertReason:   r.RevertReason,
		Reason:         r.Reason,
	}
	if r.RealizedProfit.Valid {
		v := r.RealizedProfit.Decimal
		e.RealizedProfit = &v
	}
	if r.StartedAt.Valid {
		e.StartedAt = r.StartedAt.Time
	}
	if r.EndedAt.Valid {
		t := r.EndedAt.Time
		e.EndedAt = &t
	}
	if err := json.Unmarshal(r.TxHashes, &e.TxHashes); err != nil {
		return e, fmt.Errorf("decode tx hashes: %w", err)
	}
	if err := json.Unmarshal(r.Plan, &e.Plan); err != nil {
		return e, fmt.Errorf("decode plan: %w", err)
	}
	return e, nil
}

// LoadOpenExecutions returns every execution still in a non-terminal
// state, for restart replay.
func (s *Store) LoadOpenExecutions(ctx context.Context) ([]domain.Execution, error) {
	qctx, cancel := s.ctx(ctx)
	defer cancel()
	var rows []executionRow
	err := s.db.SelectContext(qctx, &rows, `
		SELECT * FROM executions
		WHERE status IN ('new', 'planned', 'simulated', 'submitted', 'pending')
		ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("query open executions: %w", err)
	}
	out := make([]domain.Execution, 0, len(rows))
	for _, r := range rows {
		e, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Executions lists the most recent executions, newest first.
func (s *Store) Executions(ctx context.Context, limit int) ([]domain.Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	qctx, cancel := s.ctx(ctx)
	defer cancel()
	var rows []executionRow
	err := s.db.SelectContext(qctx, &rows, `
		SELECT * FROM executions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	out := make([]domain.Execution, 0, len(rows))
	for _, r := range rows {
		e, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
