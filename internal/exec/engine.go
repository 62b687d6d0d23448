package exec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/arbnexus/arbnexus/internal/chain"
	"github.com/arbnexus/arbnexus/internal/config"
	"github.com/arbnexus/arbnexus/internal/domain"
)

// ChainBackend is the chain surface the engine needs.
type ChainBackend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	GasPrice(ctx context.Context) (chain.GasEstimate, error)
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	Call(ctx context.Context, msg chain.CallMsg, block uint64) ([]byte, error)
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
}

// Planner produces validated plans for a candidate.
type Planner interface {
	Plan(ctx context.Context, opp domain.Opportunity, block uint64) (domain.Plan, error)
	Direct(ctx context.Context, opp domain.Opportunity, block uint64) (domain.Plan, error)
}

// Journal is the slice of the store the engine writes to. Every state
// transition is journaled; the store rejects regressions.
type Journal interface {
	SaveExecution(ctx context.Context, e domain.Execution) error
	SaveNonce(ctx context.Context, chain domain.ChainID, next uint64) error
	SaveAlert(ctx context.Context, a domain.Alert) error
}

// Notifier pushes transitions to stream observers.
type Notifier interface {
	PublishExecution(e domain.Execution)
}

// AttemptRecorder starts the per-pair cooldown on every attempt.
type AttemptRecorder interface {
	NoteAttempt(chain domain.ChainID, pair domain.TokenPair, now time.Time)
}

// Retirer removes a promoted opportunity from the live view.
type Retirer interface {
	Retire(id string)
}

// ChainRuntime bundles one chain's execution collaborators.
type ChainRuntime struct {
	ID        domain.ChainID
	Meta      domain.ChainMeta
	Backend   ChainBackend
	Planner   Planner
	Signer    *Signer
	Nonces    *NonceAllocator
	NativeUSD float64
	// Beneficiary is the address whose token balance deltas settle the
	// realized profit: the executor contract for flash plans, the signer
	// for direct ones.
	Beneficiary common.Address
}

// Deps are the engine's cross-chain collaborators.
type Deps struct {
	Journal    Journal
	Notifier   Notifier
	Attempts   AttemptRecorder
	Book       Retirer
	Candidates <-chan domain.Opportunity
}

// Engine consumes admitted candidates and walks each through the
// execution state machine. At most one execution is in flight per
// (chain, pair); a global cap bounds concurrency across chains.
type Engine struct {
	cfg config.ExecConfig

	// live carries the dry-run switch; forceDry pins it on when no
	// signing key is present, regardless of later config updates.
	live     *config.Handle
	forceDry bool

	chains map[domain.ChainID]*ChainRuntime
	deps   Deps

	sem chan struct{}

	// trackPoll overrides the receipt poll interval when positive.
	trackPoll time.Duration

	mu       sync.Mutex
	inflight map[string]bool
	halted   map[domain.ChainID]bool
}

// New builds the engine.
func New(cfg config.ExecConfig, live *config.Handle, forceDry bool, chains map[domain.ChainID]*ChainRuntime, deps Deps) *Engine {
	return &Engine{
		cfg:      cfg,
		live:     live,
		forceDry: forceDry,
		chains:   chains,
		deps:     deps,
		sem:      make(chan struct{}, cfg.GlobalCap),
		inflight: make(map[string]bool),
		halted:   make(map[domain.ChainID]bool),
	}
}

// dryRunning reports whether broadcasting is disabled right now.
func (e *Engine) dryRunning() bool {
	return e.forceDry || e.live.Load().DryRun
}

// Halt drops all future candidates for a chain. In-flight executions
// keep tracking; nothing new starts.
func (e *Engine) Halt(id domain.ChainID) {
	e.mu.Lock()
	e.halted[id] = true
	e.mu.Unlock()
	log.Warn().Str("chain", string(id)).Msg("execution halted for chain")
}

// Run consumes candidates until the context ends.
func (e *Engine) Run(ctx context.Context) {
	log.Info().Int("global_cap", e.cfg.GlobalCap).Bool("dry_run", e.dryRunning()).Msg("execution engine started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("execution engine stopped")
			return
		case opp := <-e.deps.Candidates:
			if !e.acquire(opp) {
				continue
			}
			go e.execute(ctx, opp)
		}
	}
}

func inflightKey(c domain.ChainID, pair domain.TokenPair) string {
	return fmt.Sprintf("%s|%s", c, pair.Key())
}

// acquire claims the per-pair slot and a global token, without blocking
// the candidate loop.
func (e *Engine) acquire(opp domain.Opportunity) bool {
	key := inflightKey(opp.Chain, opp.Pair)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted[opp.Chain] {
		return false
	}
	if e.inflight[key] {
		return false
	}
	select {
	case e.sem <- struct{}{}:
	default:
		return false
	}
	e.inflight[key] = true
	inflightExecutions.Inc()
	return true
}

func (e *Engine) release(opp domain.Opportunity) {
	e.mu.Lock()
	delete(e.inflight, inflightKey(opp.Chain, opp.Pair))
	e.mu.Unlock()
	<-e.sem
	inflightExecutions.Dec()
}

func (e *Engine) execute(ctx context.Context, opp domain.Opportunity) {
	defer e.release(opp)

	rt, ok := e.chains[opp.Chain]
	if !ok {
		log.Error().Str("chain", string(opp.Chain)).Msg("candidate for unconfigured chain")
		return
	}
	e.deps.Attempts.NoteAttempt(opp.Chain, opp.Pair, time.Now())
	e.deps.Book.Retire(opp.ID)

	ex := domain.Execution{
		ID:             uuid.NewString(),
		OpportunityID:  opp.ID,
		Chain:          opp.Chain,
		PairID:         opp.Pair.ID(),
		Status:         domain.ExecNew,
		ExpectedProfit: opp.NetProfit,
		StartedAt:      time.Now(),
	}
	e.journalState(&ex)

	dctx, cancel := context.WithTimeout(ctx, e.cfg.ExecutionDeadline)
	defer cancel()

	block, err := rt.Backend.BlockNumber(dctx)
	if err != nil {
		e.cancel(&ex, "block height unavailable: "+err.Error())
		return
	}

	var plan domain.Plan
	if opp.FlashEligible {
		plan, err = rt.Planner.Plan(dctx, opp, block)
	} else {
		plan, err = rt.Planner.Direct(dctx, opp, block)
	}
	if err != nil {
		e.cancel(&ex, "plan rejected: "+err.Error())
		return
	}
	ex.Plan = plan
	e.transition(&ex, domain.ExecPlanned)

	// Simulation ran inside the planner.
	e.transition(&ex, domain.ExecSimulated)

	// Dry-run walks the full plan-and-simulate path and stops short of
	// broadcast, consuming no nonce.
	if e.dryRunning() {
		e.cancel(&ex, "dry-run")
		return
	}

	nonces := rt.Nonces.ReserveN(len(plan.Calls))
	ex.Nonce = nonces[0]
	e.persistNonce(rt)

	gas, err := rt.Backend.GasPrice(dctx)
	if err != nil {
		e.releaseNonces(rt, nonces)
		e.cancel(&ex, "gas price unavailable: "+err.Error())
		return
	}

	raws, ok := e.broadcast(dctx, rt, &ex, nonces, gas)
	if !ok {
		return
	}
	e.track(dctx, rt, &ex, gas, raws)
}

// broadcast signs and sends every plan call on consecutive nonces.
// Submitted is entered before the first send; a send failure before any
// acknowledgment fails the execution and frees the unused nonces. The
// raw signed payloads come back for rebroadcast after a reorg.
func (e *Engine) broadcast(ctx context.Context, rt *ChainRuntime, ex *domain.Execution, nonces []uint64, gas chain.GasEstimate) ([][]byte, bool) {
	e.transition(ex, domain.ExecSubmitted)

	raws := make([][]byte, 0, len(ex.Plan.Calls))
	for i, call := range ex.Plan.Calls {
		raw, hash, err := rt.Signer.SignCall(rt.Meta, call, nonces[i], ex.Plan.GasLimit, gas)
		if err != nil {
			e.releaseNonces(rt, nonces[i:])
			e.fail(ex, "sign failed: "+err.Error())
			return nil, false
		}
		sent, err := rt.Backend.SendRawTransaction(ctx, raw)
		if err != nil {
			e.releaseNonces(rt, nonces[i:])
			e.fail(ex, "broadcast failed: "+err.Error())
			return nil, false
		}
		if sent == (common.Hash{}) {
			sent = hash
		}
		ex.TxHashes = append(ex.TxHashes, sent)
		raws = append(raws, raw)
	}

	e.transition(ex, domain.ExecPending)
	e.persistNonce(rt)
	return raws, true
}

// Replay re-attaches persisted non-terminal executions after a restart:
// broadcast ones resume confirmation tracking, anything pre-Submitted is
// cancelled without network side effects.
func (e *Engine) Replay(ctx context.Context, open []domain.Execution) {
	for _, ex := range open {
		ex := ex
		switch ex.Status {
		case domain.ExecSubmitted, domain.ExecPending:
			rt, ok := e.chains[ex.Chain]
			if !ok {
				e.fail(&ex, "chain no longer configured")
				continue
			}
			if ex.Status == domain.ExecSubmitted {
				e.transition(&ex, domain.ExecPending)
			}
			log.Info().Str("execution", ex.ID).Str("chain", string(ex.Chain)).Msg("re-attached execution tracking")
			go func() {
				gas, err := rt.Backend.GasPrice(ctx)
				if err != nil {
					gas = chain.GasEstimate{}
				}
				// Raw payloads do not survive a restart; a reorg after
				// re-attach falls back to deadline replacement.
				e.track(ctx, rt, &ex, gas, nil)
			}()
		case domain.ExecNew, domain.ExecPlanned, domain.ExecSimulated:
			e.cancel(&ex, "process-restart")
		}
	}
}

// transition applies one legal state-machine edge and journals it.
func (e *Engine) transition(ex *domain.Execution, to domain.ExecStatus) {
	if !domain.CanTransition(ex.Status, to) {
		log.Error().
			Str("execution", ex.ID).
			Str("from", string(ex.Status)).
			Str("to", string(to)).
			Msg("illegal execution transition dropped")
		return
	}
	ex.Status = to
	if to.Terminal() {
		now := time.Now()
		ex.EndedAt = &now
		executionsByState.WithLabelValues(string(ex.Chain), string(to)).Inc()
	}
	e.journalState(ex)
}

func (e *Engine) cancel(ex *domain.Execution, reason string) {
	ex.Reason = reason
	e.transition(ex, domain.ExecCancelled)
}

func (e *Engine) fail(ex *domain.Execution, reason string) {
	ex.Reason = reason
	e.transition(ex, domain.ExecFailed)
}

func (e *Engine) journalState(ex *domain.Execution) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.deps.Journal.SaveExecution(ctx, *ex); err != nil {
		log.Error().Err(err).Str("execution", ex.ID).Msg("execution journal failed")
	}
	e.deps.Notifier.PublishExecution(*ex)
}

func (e *Engine) persistNonce(rt *ChainRuntime) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.deps.Journal.SaveNonce(ctx, rt.ID, rt.Nonces.Next()); err != nil {
		log.Warn().Err(err).Str("chain", string(rt.ID)).Msg("nonce persist failed")
	}
}

func (e *Engine) releaseNonces(rt *ChainRuntime, nonces []uint64) {
	for i := len(nonces) - 1; i >= 0; i-- {
		rt.Nonces.Release(nonces[i])
	}
	e.persistNonce(rt)
}

func (e *Engine) alert(sev domain.AlertSeverity, chainID domain.ChainID, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a := domain.Alert{
		Severity:  sev,
		Category:  "execution",
		Chain:     chainID,
		Message:   msg,
		CreatedAt: time.Now(),
	}
	if err := e.deps.Journal.SaveAlert(ctx, a); err != nil {
		log.Warn().Err(err).Msg("alert journal failed")
	}
}
