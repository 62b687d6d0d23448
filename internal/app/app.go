// Package app is the composition root: it wires configuration, the
// store, chain clients, venue adapters, the scanner and execution
// workers and the observer API into one runnable process.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/arbnexus/arbnexus/internal/api"
	"github.com/arbnexus/arbnexus/internal/chain"
	"github.com/arbnexus/arbnexus/internal/config"
	"github.com/arbnexus/arbnexus/internal/domain"
	"github.com/arbnexus/arbnexus/internal/exec"
	"github.com/arbnexus/arbnexus/internal/flashloan"
	"github.com/arbnexus/arbnexus/internal/scanner"
	"github.com/arbnexus/arbnexus/internal/store"
	"github.com/arbnexus/arbnexus/internal/venue"
)

// Startup failures the CLI maps to distinct exit codes.
var (
	ErrStoreUnreachable   = errors.New("store unreachable")
	ErrNoHealthyEndpoints = errors.New("no healthy rpc endpoints on any configured chain")
)

// candidateBuffer sizes the scanner → engine channel. Overflow drops
// candidates (the next tick re-emits them), never blocks a scan loop.
const candidateBuffer = 64

// statsSnapshotEvery is the snapshotter cadence.
const statsSnapshotEvery = 60 * time.Second

// chainRig bundles one chain's wired workers.
type chainRig struct {
	id      domain.ChainID
	client  *chain.Client
	book    *scanner.LiveBook
	scanner *scanner.ChainScanner
	monitor *chain.Monitor

	// halted latches when the monitor declares the chain down for good;
	// a halted rig's scan loop stays down until restart.
	halted atomic.Bool

	mu       sync.Mutex
	scanStop context.CancelFunc
}

// App owns the process lifecycle.
type App struct {
	live *config.Handle

	store  *store.Store
	hub    *api.Hub
	flags  *flags
	rigs   []*chainRig
	engine *exec.Engine
	server *api.Server
}

// New wires the full process. Store connectivity and chain endpoint
// health are verified here so startup failures surface before any
// worker runs.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnreachable, err)
	}

	a := &App{
		live:  config.NewHandle(cfg),
		store: st,
		hub:   api.NewHub(),
		flags: &flags{store: st},
	}
	jrnl := &journal{store: st, hub: a.hub}

	signer, err := buildSigner(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	admission := scanner.NewAdmission(a.live, cfg.Scanner)
	candidates := make(chan domain.Opportunity, candidateBuffer)
	runtimes := make(map[domain.ChainID]*exec.ChainRuntime)

	healthy := 0
	for _, id := range cfg.ChainIDs() {
		cc := cfg.Chains[string(id)]
		client := chain.NewClient(id, cc)

		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, probeErr := client.BlockNumber(probeCtx)
		cancel()
		if probeErr != nil {
			log.Warn().Err(probeErr).Str("chain", string(id)).Msg("chain unreachable at startup")
		} else {
			healthy++
		}

		rig, rt, err := a.buildChain(ctx, id, cc, client, signer, admission, jrnl, candidates)
		if err != nil {
			st.Close()
			return nil, err
		}
		a.rigs = append(a.rigs, rig)
		if rt != nil {
			runtimes[id] = rt
		}
	}
	if healthy == 0 {
		st.Close()
		return nil, ErrNoHealthyEndpoints
	}

	a.engine = exec.New(cfg.Exec, a.live, signer == nil, runtimes, exec.Deps{
		Journal:    jrnl,
		Notifier:   a.hub,
		Attempts:   admission,
		Book:       a.bookSet(),
		Candidates: candidates,
	})

	// A chain the monitor declares dead stops scanning and executing.
	for _, rig := range a.rigs {
		rig.monitor.OnFatal = a.haltChain
	}

	books := make(map[domain.ChainID]api.Book, len(a.rigs))
	for _, rig := range a.rigs {
		books[rig.id] = rig.book
	}
	a.server = api.NewServer(cfg.API, api.Deps{
		Books:   books,
		Archive: st,
		Control: st,
		Live:    st.Cache(),
		Config:  a,
		Hub:     a.hub,
		Chains:  cfg.ChainIDs(),
	})
	return a, nil
}

// buildSigner loads the signing key when present. A nil signer forces
// the engine into dry-run regardless of configuration.
func buildSigner(cfg config.Config) (*exec.Signer, error) {
	if cfg.SignerKey == "" {
		if !cfg.DryRun {
			log.Warn().Msg("no signer key configured, forcing dry-run")
		}
		return nil, nil
	}
	signer, err := exec.NewSigner(cfg.SignerKey)
	if err != nil {
		return nil, fmt.Errorf("load signer key: %w", err)
	}
	return signer, nil
}

func (a *App) buildChain(ctx context.Context, id domain.ChainID, cc config.ChainConfig,
	client *chain.Client, signer *exec.Signer, admission *scanner.Admission,
	jrnl *journal, candidates chan domain.Opportunity) (*chainRig, *exec.ChainRuntime, error) {

	root := a.live.Load()
	reader := venue.NewRPCReader(client)
	cache := venue.NewQuoteCache()
	adapters := make([]venue.Adapter, 0, len(cc.Venues))
	byName := make(map[domain.VenueName]venue.Adapter, len(cc.Venues))
	for _, vc := range cc.Venues {
		ref := domain.VenueRef{
			Chain:  id,
			Name:   vc.Name,
			Model:  vc.Model,
			Router: common.HexToAddress(vc.Router),
		}
		ad, err := venue.New(ref, reader, cache, root.Scanner.SlippageCeiling)
		if err != nil {
			return nil, nil, fmt.Errorf("chain %s: %w", id, err)
		}
		adapters = append(adapters, ad)
		byName[vc.Name] = ad
	}

	ttls := map[domain.ChainID]time.Duration{id: cc.FreshnessTTL}
	book := scanner.NewLiveBook(root.Scanner.TrendWindow, ttls)

	sc := scanner.New(id, cc, a.live, scanner.Deps{
		Client:     client,
		Adapters:   adapters,
		Pairs:      chainPairs(id, root.Pairs),
		Book:       book,
		Admission:  admission,
		Journal:    jrnl,
		Publisher:  &publisher{hub: a.hub, cache: a.store.Cache(), ttl: cc.FreshnessTTL},
		Armed:      a.flags.Armed,
		Candidates: candidates,
	})

	monitor := chain.NewMonitor(client, jrnl, a.hub, root.Exec.ChainDownFatal)

	rig := &chainRig{id: id, client: client, book: book, scanner: sc, monitor: monitor}

	// Execution runtime only where a signer and an executor contract
	// exist; scan-only chains still feed the live view.
	if signer == nil {
		return rig, nil, nil
	}
	executor := common.HexToAddress(cc.ExecutorContract)
	beneficiary := executor
	if cc.ExecutorContract == "" {
		beneficiary = signer.Address()
	}

	start, err := a.startingNonce(ctx, id, client, signer.Address())
	if err != nil {
		return nil, nil, err
	}

	planner := flashloan.NewPlanner(id, client, byName, executor, signer.Address(), a.live)

	rt := &exec.ChainRuntime{
		ID:          id,
		Meta:        id.Meta(),
		Backend:     client,
		Planner:     planner,
		Signer:      signer,
		Nonces:      exec.NewNonceAllocator(start),
		NativeUSD:   cc.NativeUSD,
		Beneficiary: beneficiary,
	}
	return rig, rt, nil
}

// startingNonce resumes the gap-free sequence: the larger of the
// node's pending nonce and the persisted counter wins.
func (a *App) startingNonce(ctx context.Context, id domain.ChainID, client *chain.Client, addr common.Address) (uint64, error) {
	nonceCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pending, err := client.PendingNonce(nonceCtx, addr)
	if err != nil {
		log.Warn().Err(err).Str("chain", string(id)).Msg("pending nonce unavailable, using persisted counter")
	}
	persisted, ok, perr := a.store.LoadNonce(nonceCtx, id)
	if perr != nil {
		return 0, perr
	}
	if ok && persisted > pending {
		return persisted, nil
	}
	return pending, nil
}

// bookSet retires a promoted opportunity from whichever chain book
// holds it.
type bookSet struct{ rigs []*chainRig }

func (b *bookSet) Retire(id string) {
	for _, rig := range b.rigs {
		rig.book.Retire(id)
	}
}

func (a *App) bookSet() *bookSet { return &bookSet{rigs: a.rigs} }

// Current returns a copy of the runtime configuration, safe for the
// caller to mutate.
func (a *App) Current() config.Config {
	cfg := a.live.Load()
	chains := make(map[string]config.ChainConfig, len(cfg.Chains))
	for name, cc := range cfg.Chains {
		chains[name] = cc
	}
	cfg.Chains = chains
	return cfg
}

// Apply swaps the updated configuration into the live handle and bumps
// the persisted revision. Workers read thresholds, ceilings and the
// dry-run switch through the handle, so mutable keys take effect on the
// next tick; structural changes (chains, venues, pairs) need a restart.
func (a *App) Apply(cfg config.Config) error {
	cfg.SignerKey = a.live.Load().SignerKey
	a.live.Store(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rev, err := a.store.BumpConfigRevision(ctx)
	if err != nil {
		return err
	}
	log.Info().Uint64("revision", rev).Msg("configuration applied")
	return nil
}

// Run starts every worker role and blocks until ctx ends, then shuts
// down in reverse dependency order.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	// Replay journaled in-flight executions before consuming new work.
	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	open, err := a.store.LoadOpenExecutions(openCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("replay executions: %w", err)
	}
	if len(open) > 0 {
		log.Info().Int("count", len(open)).Msg("replaying open executions")
		a.engine.Replay(ctx, open)
	}

	var wg sync.WaitGroup
	run := func(name string, f func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(ctx)
			log.Debug().Str("worker", name).Msg("worker stopped")
		}()
	}

	run("engine", a.engine.Run)
	for _, rig := range a.rigs {
		rig := rig
		run("monitor:"+string(rig.id), rig.monitor.Run)
	}
	run("scan-supervisor", a.superviseScanners)
	run("stats-snapshotter", a.snapshotStats)
	run("retention", func(ctx context.Context) {
		a.store.RunRetention(ctx, a.live.Load().Store.SweepEvery)
	})

	errc := make(chan error, 1)
	run("api", func(ctx context.Context) {
		errc <- a.server.Run(ctx)
	})

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			log.Error().Err(err).Msg("observer api failed")
			wg.Wait()
			return err
		}
	}
	wg.Wait()
	return nil
}

// superviseScanners starts and stops the per-chain scan loops as the
// running flag flips. Stop cancels the loops; start relaunches them.
func (a *App) superviseScanners(ctx context.Context) {
	var (
		scanCancel context.CancelFunc
		scanWG     sync.WaitGroup
		active     bool
	)
	stop := func() {
		if !active {
			return
		}
		scanCancel()
		scanWG.Wait()
		active = false
		log.Info().Msg("scanning stopped")
	}
	start := func() {
		if active {
			return
		}
		var scanCtx context.Context
		scanCtx, scanCancel = context.WithCancel(ctx)
		for _, rig := range a.rigs {
			rig := rig
			if rig.halted.Load() {
				continue
			}
			rigCtx, rigCancel := context.WithCancel(scanCtx)
			rig.mu.Lock()
			rig.scanStop = rigCancel
			rig.mu.Unlock()
			scanWG.Add(1)
			go func() {
				defer scanWG.Done()
				rig.scanner.Run(rigCtx)
			}()
		}
		active = true
		log.Info().Msg("scanning started")
	}

	ticker := time.NewTicker(flagsRefreshEvery)
	defer ticker.Stop()
	for {
		if a.flags.Running() {
			start()
		} else {
			stop()
		}
		select {
		case <-ctx.Done():
			stop()
			return
		case <-ticker.C:
		}
	}
}

// haltChain is the monitor's fatal callback: the chain's scan loop
// stops and the engine drops its future candidates. In-flight receipt
// tracking keeps running; the halt holds until restart.
func (a *App) haltChain(id domain.ChainID) {
	for _, rig := range a.rigs {
		if rig.id != id {
			continue
		}
		if rig.halted.Swap(true) {
			return
		}
		rig.mu.Lock()
		stop := rig.scanStop
		rig.mu.Unlock()
		if stop != nil {
			stop()
		}
	}
	a.engine.Halt(id)
	log.Error().Str("chain", string(id)).Msg("chain halted after sustained downtime")
}

// snapshotStats journals an aggregate snapshot every minute.
func (a *App) snapshotStats(ctx context.Context) {
	ticker := time.NewTicker(statsSnapshotEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			snap, err := a.store.ComputeStats(snapCtx)
			if err == nil {
				err = a.store.SaveStatsSnapshot(snapCtx, snap)
			}
			cancel()
			if err != nil {
				log.Warn().Err(err).Msg("stats snapshot failed")
			}
		}
	}
}

func (a *App) close() {
	for _, rig := range a.rigs {
		rig.client.Close()
	}
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("store close failed")
	}
}
