package app

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/arbnexus/arbnexus/internal/api"
	"github.com/arbnexus/arbnexus/internal/config"
	"github.com/arbnexus/arbnexus/internal/domain"
	"github.com/arbnexus/arbnexus/internal/store"
)

// journal fans worker writes out to the durable store and, for the
// live series, the cache. It backs the scanner, engine and monitor
// journal interfaces so workers stay unaware of the split.
type journal struct {
	store *store.Store
	hub   *api.Hub
}

func (j *journal) SaveOpportunity(ctx context.Context, o domain.Opportunity) error {
	return j.store.SaveOpportunity(ctx, o)
}

func (j *journal) SaveGasSample(ctx context.Context, g domain.GasSample) error {
	if err := j.store.Cache().SetGas(ctx, g); err != nil {
		log.Debug().Err(err).Str("chain", string(g.Chain)).Msg("gas cache write failed")
	}
	return j.store.SaveGasSample(ctx, g)
}

func (j *journal) SaveChainMetric(ctx context.Context, m domain.ChainMetric) error {
	if err := j.store.Cache().SetChainMetric(ctx, m); err != nil {
		log.Debug().Err(err).Str("chain", string(m.Chain)).Msg("chain metric cache write failed")
	}
	return j.store.SaveChainMetric(ctx, m)
}

func (j *journal) SaveAlert(ctx context.Context, a domain.Alert) error {
	j.hub.PublishAlert(a)
	return j.store.SaveAlert(ctx, a)
}

func (j *journal) SaveExecution(ctx context.Context, e domain.Execution) error {
	return j.store.SaveExecution(ctx, e)
}

func (j *journal) SaveNonce(ctx context.Context, chain domain.ChainID, next uint64) error {
	return j.store.SaveNonce(ctx, chain, next)
}

// publisher mirrors live-book changes to the stream and the cache.
type publisher struct {
	hub   *api.Hub
	cache *store.LiveCache
	ttl   time.Duration
}

func (p *publisher) PublishOpportunity(o domain.Opportunity) {
	p.hub.PublishOpportunity(o)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.cache.SetOpportunity(ctx, o, p.ttl); err != nil {
		log.Debug().Err(err).Str("id", o.ID).Msg("opportunity cache write failed")
	}
}

func (p *publisher) RetireOpportunity(id string) {
	p.hub.RetireOpportunity(id)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.cache.DropOpportunity(ctx, id); err != nil {
		log.Debug().Err(err).Str("id", id).Msg("opportunity cache drop failed")
	}
}

// flags memoizes the store-backed bot switches so the scanners' hot
// path does not hit the store on every candidate.
type flags struct {
	store *store.Store

	mu        sync.Mutex
	armed     bool
	running   bool
	refreshed time.Time
}

const flagsRefreshEvery = 2 * time.Second

func (f *flags) refresh() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if time.Since(f.refreshed) < flagsRefreshEvery {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	armed, err := f.store.Armed(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("armed flag read failed")
		return
	}
	running, err := f.store.BotRunning(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("running flag read failed")
		return
	}
	f.armed, f.running = armed, running
	f.refreshed = time.Now()
}

func (f *flags) Armed() bool {
	f.refresh()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.armed
}

func (f *flags) Running() bool {
	f.refresh()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// chainPairs resolves the configured pairs to one chain's token
// addresses. Pairs without an address on the chain are skipped.
func chainPairs(chain domain.ChainID, pairs []config.PairConfig) []domain.TokenPair {
	var out []domain.TokenPair
	for _, p := range pairs {
		base, ok := resolveToken(chain, p.Base)
		if !ok {
			continue
		}
		quote, ok := resolveToken(chain, p.Quote)
		if !ok {
			continue
		}
		out = append(out, domain.TokenPair{Base: base, Quote: quote})
	}
	return out
}

func resolveToken(chain domain.ChainID, tc config.TokenConfig) (domain.Token, bool) {
	raw, ok := tc.Addresses[string(chain)]
	if !ok || raw == "" {
		return domain.Token{}, false
	}
	return domain.Token{
		Address:  common.HexToAddress(raw),
		Symbol:   tc.Symbol,
		Decimals: tc.Decimals,
	}, true
}
