package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/arbnexus/arbnexus/internal/chain"
	"github.com/arbnexus/arbnexus/internal/config"
	"github.com/arbnexus/arbnexus/internal/domain"
	"github.com/arbnexus/arbnexus/internal/flashloan"
	"github.com/arbnexus/arbnexus/internal/venue"
)

// failureWindow is the tick window over which the RPC failure rate is
// evaluated before pausing a chain's loop.
const failureWindow = 20

// Journal is the slice of the store the scanner writes to.
type Journal interface {
	SaveOpportunity(ctx context.Context, o domain.Opportunity) error
	SaveGasSample(ctx context.Context, s domain.GasSample) error
	SaveAlert(ctx context.Context, a domain.Alert) error
}

// Publisher pushes live-view changes to stream observers.
type Publisher interface {
	PublishOpportunity(o domain.Opportunity)
	RetireOpportunity(id string)
}

// ChainReader is the client surface the scan loop needs.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	GasPrice(ctx context.Context) (chain.GasEstimate, error)
}

// Deps are the collaborators of one chain scanner.
type Deps struct {
	Client     ChainReader
	Adapters   []venue.Adapter
	Pairs      []domain.TokenPair
	Book       *LiveBook
	Admission  *Admission
	Journal    Journal
	Publisher  Publisher
	Armed      func() bool
	Candidates chan<- domain.Opportunity
}

// ChainScanner runs the sampling loop for one chain. All pairs of the
// chain share the loop; venue quoting fans out inside a tick bounded by
// the chain's concurrency budget.
type ChainScanner struct {
	chain domain.ChainID
	cfg   config.ChainConfig
	scfg  config.ScannerConfig

	// live carries the mutable thresholds (min profit, slippage, flash
	// toggle, gas ceiling); they are re-read every tick.
	live     *config.Handle
	flashFee decimal.Decimal

	deps Deps

	// Failure window ring; only the loop goroutine touches it.
	outcomes []bool
}

// New builds a scanner for one configured chain.
func New(id domain.ChainID, cfg config.ChainConfig, live *config.Handle, deps Deps) *ChainScanner {
	return &ChainScanner{
		chain:    id,
		cfg:      cfg,
		scfg:     live.Load().Scanner,
		live:     live,
		flashFee: flashloan.FeeFraction(id),
		deps:     deps,
	}
}

// Run drives the sampling loop until the context ends.
func (s *ChainScanner) Run(ctx context.Context) {
	log.Info().
		Str("chain", string(s.chain)).
		Dur("interval", s.cfg.ScanInterval).
		Int("pairs", len(s.deps.Pairs)).
		Int("venues", len(s.deps.Adapters)).
		Msg("scanner started")

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("chain", string(s.chain)).Msg("scanner stopped")
			return
		case <-ticker.C:
			ok := s.tick(ctx)
			s.recordOutcome(ok)
			if s.failureRateExceeded() {
				s.pause(ctx)
			}
		}
	}
}

func (s *ChainScanner) recordOutcome(ok bool) {
	s.outcomes = append(s.outcomes, ok)
	if len(s.outcomes) > failureWindow {
		s.outcomes = s.outcomes[len(s.outcomes)-failureWindow:]
	}
}

func (s *ChainScanner) failureRateExceeded() bool {
	if s.scfg.FailureRateThreshold <= 0 || len(s.outcomes) < failureWindow/2 {
		return false
	}
	var failed int
	for _, ok := range s.outcomes {
		if !ok {
			failed++
		}
	}
	return float64(failed)/float64(len(s.outcomes)) > s.scfg.FailureRateThreshold
}

// pause backs the loop off after sustained RPC failures, emitting an
// alert and resetting the window.
func (s *ChainScanner) pause(ctx context.Context) {
	scanPauses.WithLabelValues(string(s.chain)).Inc()
	log.Warn().
		Str("chain", string(s.chain)).
		Dur("backoff", s.scfg.PauseBackoff).
		Msg("failure rate exceeded, pausing chain scan loop")
	s.alert(ctx, domain.AlertWarning, "scanner",
		"scan loop paused after elevated RPC failure rate")
	s.outcomes = nil

	select {
	case <-ctx.Done():
	case <-time.After(s.scfg.PauseBackoff):
	}
}

// tick runs one sampling round. It reports false only on chain-level
// failures (block height or gas unavailable); individual venue timeouts
// do not fail the tick.
func (s *ChainScanner) tick(ctx context.Context) bool {
	start := time.Now()
	tctx, cancel := context.WithTimeout(ctx, s.cfg.ScanInterval)
	defer cancel()

	block, err := s.deps.Client.BlockNumber(tctx)
	if err != nil {
		scanTicks.WithLabelValues(string(s.chain), "failed").Inc()
		log.Warn().Err(err).Str("chain", string(s.chain)).Msg("block height unavailable")
		return false
	}
	gas, err := s.deps.Client.GasPrice(tctx)
	if err != nil {
		scanTicks.WithLabelValues(string(s.chain), "failed").Inc()
		log.Warn().Err(err).Str("chain", string(s.chain)).Msg("gas price unavailable")
		return false
	}
	s.journalGas(tctx, gas)

	// A gas price above the chain ceiling suspends emission for the
	// whole tick; the sample is still journaled and stale entries still
	// retire.
	if ceiling := s.gasCeiling(); ceiling > 0 && gas.Gwei() > ceiling {
		log.Warn().
			Str("chain", string(s.chain)).
			Float64("gwei", gas.Gwei()).
			Float64("ceiling", ceiling).
			Msg("gas above ceiling, tick suspended")
		s.retireStale()
		scanTicks.WithLabelValues(string(s.chain), "skipped").Inc()
		return true
	}

	for _, pair := range s.deps.Pairs {
		quotes := s.quotePair(tctx, pair, block)
		// Partial results are fine as long as two venues answered.
		if len(quotes) < 2 {
			continue
		}
		s.emitCandidates(pair, quotes, gas)
	}

	s.retireStale()

	scanTicks.WithLabelValues(string(s.chain), "ok").Inc()
	scanTickSeconds.WithLabelValues(string(s.chain)).Observe(time.Since(start).Seconds())
	return true
}

func (s *ChainScanner) retireStale() {
	for _, retired := range s.deps.Book.RetireStale(time.Now()) {
		s.deps.Publisher.RetireOpportunity(retired.ID)
	}
}

// gasCeiling reads the chain's live gas ceiling, falling back to the
// startup value when the chain entry is gone from the record.
func (s *ChainScanner) gasCeiling() float64 {
	if cc, ok := s.live.Load().Chains[string(s.chain)]; ok {
		return cc.MaxGasPriceGwei
	}
	return s.cfg.MaxGasPriceGwei
}

// quotePair fans quote requests out to every adapter, bounded by the
// chain concurrency budget, and collects whatever returned in time.
func (s *ChainScanner) quotePair(ctx context.Context, pair domain.TokenPair, block uint64) []domain.Quote {
	notional := decimal.NewFromFloat(s.scfg.ReferenceNotionalUSD)
	sem := make(chan struct{}, s.cfg.Concurrency)

	var (
		mu     sync.Mutex
		quotes []domain.Quote
		wg     sync.WaitGroup
	)
	for _, a := range s.deps.Adapters {
		wg.Add(1)
		go func(a venue.Adapter) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			q, err := a.QuotePair(ctx, pair, notional, block)
			if err != nil {
				log.Debug().Err(err).
					Str("venue", a.Venue().String()).
					Str("pair", pair.ID()).
					Msg("quote failed")
				return
			}
			mu.Lock()
			quotes = append(quotes, q)
			mu.Unlock()
		}(a)
	}
	wg.Wait()
	return quotes
}

// emitCandidates derives every profitable ordered venue pair from the
// tick's quotes and runs them through scoring and admission.
func (s *ChainScanner) emitCandidates(pair domain.TokenPair, quotes []domain.Quote, gas chain.GasEstimate) {
	now := time.Now()
	gasCost := s.gasCostUSD(gas)
	refNotional := decimal.NewFromFloat(s.scfg.ReferenceNotionalUSD)

	live := s.live.Load()
	minProfit := decimal.NewFromFloat(live.MinProfitUSD)
	slippage := decimal.NewFromFloat(live.SlippageTolerance)
	useFlash := live.UseFlashLoans && s.cfg.FlashLoanProvider != ""

	for i := range quotes {
		for j := range quotes {
			if i == j {
				continue
			}
			qb, qs := quotes[i], quotes[j]
			if qs.Sell.Cmp(qb.Buy) <= 0 {
				continue
			}

			notional := decimal.Min(refNotional, qb.Depth, qs.Depth)
			if !notional.IsPositive() {
				continue
			}
			gross := qs.Sell.Sub(qb.Buy).Div(qb.Buy).Mul(notional)
			slip := gross.Mul(slippage)
			flashFee := decimal.Zero
			if useFlash {
				flashFee = notional.Mul(s.flashFee)
			}

			opp := domain.Opportunity{
				ID:    domain.OpportunityID(s.chain, pair, qb.Venue.Name, qs.Venue.Name, now),
				Chain: s.chain,
				Pair:  pair,
				Buy:   domain.Side{Venue: qb.Venue, Price: qb.Buy},
				Sell:  domain.Side{Venue: qs.Venue, Price: qs.Sell},

				SpreadBps:       domain.SpreadBps(qb.Buy, qs.Sell),
				Notional:        notional,
				GrossProfit:     gross,
				GasCost:         gasCost,
				SlippageReserve: slip,
				FlashFee:        flashFee,
				FlashEligible:   useFlash,
				FreshAt:         now,
			}
			opp.ComputeNet()
			if opp.NetProfit.Cmp(minProfit) < 0 {
				continue
			}

			s.score(&opp, qb, qs, now)
			opp.Rejection = s.deps.Admission.Check(&opp, gas.Gwei(), s.gasCeiling(), s.deps.Armed(), now)

			if !s.deps.Book.Upsert(opp) {
				// Stale revision for an id another tick already refreshed.
				continue
			}
			opportunitiesEmitted.WithLabelValues(string(s.chain)).Inc()
			s.journalOpportunity(opp)
			s.deps.Publisher.PublishOpportunity(opp)

			if opp.Rejection == "" {
				select {
				case s.deps.Candidates <- opp:
				default:
					candidatesDropped.WithLabelValues(string(s.chain)).Inc()
					log.Warn().Str("id", opp.ID).Msg("executor queue full, candidate dropped")
				}
			}
		}
	}
}

// score fills the heuristic fields: trend, volatility, impact estimate,
// confidence and risk class.
func (s *ChainScanner) score(opp *domain.Opportunity, qb, qs domain.Quote, now time.Time) {
	trend := s.deps.Book.AppendTrend(opp.ID, qs.Sell)
	opp.Trend = trend
	opp.Volatility = TrendVolatility(trend)

	minDepth := decimal.Min(qb.Depth, qs.Depth)
	headroom := 0.0
	if opp.Notional.IsPositive() {
		headroom = minDepth.Div(opp.Notional).InexactFloat64()
	}
	// Depth at the slippage ceiling linearizes to an impact estimate
	// without another round of RPC reads.
	if minDepth.IsPositive() {
		opp.Impact = s.scfg.SlippageCeiling * opp.Notional.Div(minDepth).InexactFloat64()
	}

	older := qb.At
	if qs.At.Before(older) {
		older = qs.At
	}
	staleness := 0.0
	if s.cfg.FreshnessTTL > 0 {
		staleness = now.Sub(older).Seconds() / s.cfg.FreshnessTTL.Seconds()
	}

	opp.Confidence = Confidence(ConfidenceInputs{
		DepthHeadroom: headroom,
		Volatility:    opp.Volatility,
		VenuePenalty:  venuePenalty(qb) + venuePenalty(qs),
		Staleness:     staleness,
	}, s.scfg.Confidence)
	opp.Risk = ClassifyRisk(opp.Confidence, opp.Volatility, opp.Impact)
}

func (s *ChainScanner) gasCostUSD(gas chain.GasEstimate) decimal.Decimal {
	native := gas.Gwei() * float64(s.cfg.GasBudgetUnits) * 1e-9
	return decimal.NewFromFloat(native * s.cfg.NativeUSD)
}

func (s *ChainScanner) journalGas(ctx context.Context, gas chain.GasEstimate) {
	sample := domain.GasSample{
		Chain:     s.chain,
		PriceGwei: gas.Gwei(),
		Block:     gas.Block,
		At:        time.Now(),
	}
	if gas.BaseFeeWei != nil {
		sample.BaseFeeGwei = chain.GasEstimate{PriceWei: gas.BaseFeeWei}.Gwei()
	}
	if gas.TipWei != nil {
		sample.TipGwei = chain.GasEstimate{PriceWei: gas.TipWei}.Gwei()
	}
	if err := s.deps.Journal.SaveGasSample(ctx, sample); err != nil {
		log.Warn().Err(err).Str("chain", string(s.chain)).Msg("gas sample journal failed")
	}
}

func (s *ChainScanner) journalOpportunity(opp domain.Opportunity) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Journal.SaveOpportunity(ctx, opp); err != nil {
		log.Warn().Err(err).Str("id", opp.ID).Msg("opportunity journal failed")
	}
}

func (s *ChainScanner) alert(ctx context.Context, sev domain.AlertSeverity, category, msg string) {
	a := domain.Alert{
		Severity:  sev,
		Category:  category,
		Chain:     s.chain,
		Message:   msg,
		CreatedAt: time.Now(),
	}
	if err := s.deps.Journal.SaveAlert(ctx, a); err != nil {
		log.Warn().Err(err).Msg("alert journal failed")
	}
}
