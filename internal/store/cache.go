package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/arbnexus/arbnexus/internal/domain"
)

// Cache keys and TTLs. Live entries self-expire so a stalled writer
// never leaves stale data behind; the stats entry is invalidated
// explicitly on every execution transition.
const (
	cacheKeyStats   = "live:stats"
	cacheOppPrefix  = "live:opp:"
	cacheGasPrefix  = "live:gas:"
	cacheChainPrfx  = "live:chain:"
	cacheStatsTTL   = 30 * time.Second
	cacheGasTTL     = 60 * time.Second
	cacheMetricTTL  = 60 * time.Second
	defaultLiveTTL  = 30 * time.Second
)

// LiveCache fronts the hot read path. Everything in it is rebuildable
// from Postgres or the next scan tick; a cold cache is a slow start,
// never a correctness problem.
type LiveCache struct {
	rdb *redis.Client
}

func NewLiveCache(rdb *redis.Client) *LiveCache {
	return &LiveCache{rdb: rdb}
}

func (c *LiveCache) Close() error { return c.rdb.Close() }

// SetOpportunity stores the live revision under its id. TTL comes from
// the chain's freshness window so retired edges vanish on their own.
func (c *LiveCache) SetOpportunity(ctx context.Context, o domain.Opportunity, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultLiveTTL
	}
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode opportunity: %w", err)
	}
	return c.rdb.Set(ctx, cacheOppPrefix+o.ID, payload, ttl).Err()
}

// DropOpportunity removes a retired edge ahead of its TTL.
func (c *LiveCache) DropOpportunity(ctx context.Context, id string) error {
	return c.rdb.Del(ctx, cacheOppPrefix+id).Err()
}

// Opportunity reads one live entry; ok is false on miss or expiry.
func (c *LiveCache) Opportunity(ctx context.Context, id string) (domain.Opportunity, bool, error) {
	var o domain.Opportunity
	raw, err := c.rdb.Get(ctx, cacheOppPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return o, false, nil
	}
	if err != nil {
		return o, false, fmt.Errorf("read cached opportunity: %w", err)
	}
	if err := json.Unmarshal(raw, &o); err != nil {
		return o, false, fmt.Errorf("decode cached opportunity: %w", err)
	}
	return o, true, nil
}

// SetGas stores the latest gas reading per chain.
func (c *LiveCache) SetGas(ctx context.Context, g domain.GasSample) error {
	payload, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode gas sample: %w", err)
	}
	return c.rdb.Set(ctx, cacheGasPrefix+string(g.Chain), payload, cacheGasTTL).Err()
}

// Gas reads the latest gas reading; ok is false on miss or expiry.
func (c *LiveCache) Gas(ctx context.Context, chain domain.ChainID) (domain.GasSample, bool, error) {
	var g domain.GasSample
	raw, err := c.rdb.Get(ctx, cacheGasPrefix+string(chain)).Bytes()
	if errors.Is(err, redis.Nil) {
		return g, false, nil
	}
	if err != nil {
		return g, false, fmt.Errorf("read cached gas: %w", err)
	}
	if err := json.Unmarshal(raw, &g); err != nil {
		return g, false, fmt.Errorf("decode cached gas: %w", err)
	}
	return g, true, nil
}

// SetChainMetric stores the latest health probe per chain.
func (c *LiveCache) SetChainMetric(ctx context.Context, m domain.ChainMetric) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode chain metric: %w", err)
	}
	return c.rdb.Set(ctx, cacheChainPrfx+string(m.Chain), payload, cacheMetricTTL).Err()
}

// ChainMetric reads the latest health probe; ok is false on miss.
func (c *LiveCache) ChainMetric(ctx context.Context, chain domain.ChainID) (domain.ChainMetric, bool, error) {
	var m domain.ChainMetric
	raw, err := c.rdb.Get(ctx, cacheChainPrfx+string(chain)).Bytes()
	if errors.Is(err, redis.Nil) {
		return m, false, nil
	}
	if err != nil {
		return m, false, fmt.Errorf("read cached chain metric: %w", err)
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, false, fmt.Errorf("decode cached chain metric: %w", err)
	}
	return m, true, nil
}

// SetStats stores the current aggregate snapshot.
func (c *LiveCache) SetStats(ctx context.Context, snap domain.StatsSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	return c.rdb.Set(ctx, cacheKeyStats, payload, cacheStatsTTL).Err()
}

// Stats reads the cached snapshot; ok is false on miss or after an
// invalidation.
func (c *LiveCache) Stats(ctx context.Context) (domain.StatsSnapshot, bool, error) {
	var snap domain.StatsSnapshot
	raw, err := c.rdb.Get(ctx, cacheKeyStats).Bytes()
	if errors.Is(err, redis.Nil) {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, fmt.Errorf("read cached stats: %w", err)
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, false, fmt.Errorf("decode cached stats: %w", err)
	}
	return snap, true, nil
}

// InvalidateStats drops the snapshot so the next read recomputes from
// SQL. Called on every execution transition; failures are swallowed
// because the entry also self-expires.
func (c *LiveCache) InvalidateStats(ctx context.Context) {
	_ = c.rdb.Del(ctx, cacheKeyStats).Err()
}
