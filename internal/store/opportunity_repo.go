package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arbnexus/arbnexus/internal/domain"
)

// SaveOpportunity journals one revision. Successive scans of the same
// edge land as new rows under the same id.
func (s *Store) SaveOpportunity(ctx context.Context, o domain.Opportunity) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode opportunity: %w", err)
	}
	qctx, cancel := s.ctx(ctx)
	defer cancel()
	_, err = s.db.ExecContext(qctx, `
		INSERT INTO opportunities (id, revision_at, chain, pair, net_profit, rejection, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id, revision_at) DO NOTHING`,
		o.ID, o.FreshAt, string(o.Chain), o.Pair.ID(), o.NetProfit, o.Rejection, payload)
	if err != nil {
		return fmt.Errorf("insert opportunity revision: %w", err)
	}
	return nil
}

// OpportunityHistory returns the revisions recorded since the cutoff,
// newest first, capped at limit.
func (s *Store) OpportunityHistory(ctx context.Context, since time.Time, limit int) ([]domain.Opportunity, error) {
	if limit <= 0 {
		limit = 100
	}
	qctx, cancel := s.ctx(ctx)
	defer cancel()
	rows, err := s.db.QueryxContext(qctx, `
		SELECT payload FROM opportunities
		WHERE revision_at >= $1
		ORDER BY revision_at DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query opportunity history: %w", err)
	}
	defer rows.Close()

	var out []domain.Opportunity
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan opportunity: %w", err)
		}
		var o domain.Opportunity
		if err := json.Unmarshal(payload, &o); err != nil {
			return nil, fmt.Errorf("decode opportunity: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
