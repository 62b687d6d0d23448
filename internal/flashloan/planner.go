package flashloan

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/arbnexus/arbnexus/internal/chain"
	"github.com/arbnexus/arbnexus/internal/config"
	"github.com/arbnexus/arbnexus/internal/domain"
	"github.com/arbnexus/arbnexus/internal/venue"
)

// gasHeadroom scales the simulated gas into the submitted limit.
const gasHeadroomNum, gasHeadroomDen = 12, 10

const aavePoolABIJSON = `[
  {"name":"flashLoanSimple","type":"function","stateMutability":"nonpayable",
   "inputs":[
     {"name":"receiverAddress","type":"address"},
     {"name":"asset","type":"address"},
     {"name":"amount","type":"uint256"},
     {"name":"params","type":"bytes"},
     {"name":"referralCode","type":"uint16"}],
   "outputs":[]}
]`

const erc20ABIJSON = `[
  {"name":"balanceOf","type":"function","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`

const balancerVaultABIJSON = `[
  {"name":"flashLoan","type":"function","stateMutability":"nonpayable",
   "inputs":[
     {"name":"recipient","type":"address"},
     {"name":"tokens","type":"address[]"},
     {"name":"amounts","type":"uint256[]"},
     {"name":"userData","type":"bytes"}],
   "outputs":[]}
]`

var (
	aavePoolABI      = mustABI(aavePoolABIJSON)
	balancerVaultABI = mustABI(balancerVaultABIJSON)
	erc20ABI         = mustABI(erc20ABIJSON)

	// callBundle encodes the receiver's swap sequence as (address[], bytes[]).
	callBundleArgs = abi.Arguments{
		{Type: mustType("address[]")},
		{Type: mustType("bytes[]")},
	}
)

func mustABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic("flashloan: bad abi: " + err.Error())
	}
	return parsed
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic("flashloan: bad type: " + err.Error())
	}
	return typ
}

// Simulator is the chain surface the planner needs.
type Simulator interface {
	Call(ctx context.Context, msg chain.CallMsg, block uint64) ([]byte, error)
	EstimateGas(ctx context.Context, msg chain.CallMsg) (uint64, error)
}

// Planner assembles borrow-swap-repay plans and validates them against
// the current block before anything is signed.
type Planner struct {
	chain    domain.ChainID
	sim      Simulator
	adapters map[domain.VenueName]venue.Adapter

	// executor is the deployed receiver contract; it runs the swap
	// sequence inside the provider callback and repays the loan.
	executor common.Address
	sender   common.Address

	// live supplies the slippage tolerance and profit floor, re-read on
	// every plan so config updates apply to the next candidate.
	live *config.Handle
}

// NewPlanner builds a planner for one chain.
func NewPlanner(id domain.ChainID, sim Simulator, adapters map[domain.VenueName]venue.Adapter,
	executor, sender common.Address, live *config.Handle) *Planner {
	return &Planner{
		chain:    id,
		sim:      sim,
		adapters: adapters,
		executor: executor,
		sender:   sender,
		live:     live,
	}
}

// thresholds reads the current slippage tolerance and minimum margin.
func (p *Planner) thresholds() (slippage, minMargin decimal.Decimal) {
	cfg := p.live.Load()
	return decimal.NewFromFloat(cfg.SlippageTolerance), decimal.NewFromFloat(cfg.MinProfitUSD)
}

// Plan assembles the flash-funded plan for an opportunity:
// borrow the quote token, buy base at the buy venue, sell it back at the
// sell venue for at least amount + premium + margin, repay in the
// provider callback. The plan is simulated before it is returned.
func (p *Planner) Plan(ctx context.Context, opp domain.Opportunity, block uint64) (domain.Plan, error) {
	providers := Providers(opp.Chain)
	if len(providers) == 0 {
		return domain.Plan{}, domain.Errf(domain.KindBudget,
			"%s: no flash-loan provider available", opp.Chain)
	}

	var lastErr error
	for _, prov := range providers {
		plan, err := p.planWith(ctx, opp, prov, block)
		if err == nil {
			return plan, nil
		}
		lastErr = err
		log.Debug().Err(err).
			Str("provider", prov.Name).
			Str("opportunity", opp.ID).
			Msg("provider plan rejected, trying next")
	}
	return domain.Plan{}, lastErr
}

func (p *Planner) planWith(ctx context.Context, opp domain.Opportunity, prov Provider, block uint64) (domain.Plan, error) {
	amountIn := opp.Notional
	fee := amountIn.Mul(prov.Fee)
	repay := amountIn.Add(fee)
	_, minMargin := p.thresholds()

	if err := p.checkLiquidity(ctx, prov, opp.Pair.Quote, amountIn, block); err != nil {
		return domain.Plan{}, err
	}

	calls, err := p.swapCalls(opp, amountIn, repay.Add(minMargin))
	if err != nil {
		return domain.Plan{}, err
	}

	outer, err := p.providerCall(prov, opp.Pair.Quote, amountIn, calls)
	if err != nil {
		return domain.Plan{}, err
	}

	plan := domain.Plan{
		Provider:  prov.Name,
		FlashFee:  fee,
		AmountIn:  amountIn,
		Borrow:    opp.Pair.Quote,
		Calls:     []domain.Call{outer},
		MinMargin: minMargin,
	}
	gas, err := p.simulate(ctx, plan, block)
	if err != nil {
		return domain.Plan{}, err
	}
	plan.GasLimit = gas * gasHeadroomNum / gasHeadroomDen
	return plan, nil
}

// Direct assembles a wallet-funded plan: the same two swaps without a
// borrow wrapper, executed straight from the signer.
func (p *Planner) Direct(ctx context.Context, opp domain.Opportunity, block uint64) (domain.Plan, error) {
	_, minMargin := p.thresholds()
	calls, err := p.swapCalls(opp, opp.Notional, opp.Notional.Add(minMargin))
	if err != nil {
		return domain.Plan{}, err
	}
	plan := domain.Plan{
		AmountIn:  opp.Notional,
		Borrow:    opp.Pair.Quote,
		Calls:     calls,
		MinMargin: minMargin,
	}
	gas, err := p.simulate(ctx, plan, block)
	if err != nil {
		return domain.Plan{}, err
	}
	plan.GasLimit = gas * gasHeadroomNum / gasHeadroomDen
	return plan, nil
}

// swapCalls builds the buy and sell legs. minFinalOut is the quote
// amount the sell leg must return for the plan to close.
func (p *Planner) swapCalls(opp domain.Opportunity, amountIn, minFinalOut decimal.Decimal) ([]domain.Call, error) {
	buyAdapter, ok := p.adapters[opp.Buy.Venue.Name]
	if !ok {
		return nil, fmt.Errorf("%s: no adapter for buy venue %s", opp.Chain, opp.Buy.Venue.Name)
	}
	sellAdapter, ok := p.adapters[opp.Sell.Venue.Name]
	if !ok {
		return nil, fmt.Errorf("%s: no adapter for sell venue %s", opp.Chain, opp.Sell.Venue.Name)
	}

	// Expected base from the buy leg, haircut by the slippage tolerance.
	slippage, _ := p.thresholds()
	baseOut := amountIn.Div(opp.Buy.Price).Mul(decimal.NewFromInt(1).Sub(slippage))

	buyCall, err := buyAdapter.BuildSwap(opp.Pair, venue.SideBuy, amountIn, baseOut, p.executor)
	if err != nil {
		return nil, fmt.Errorf("build buy leg: %w", err)
	}
	sellCall, err := sellAdapter.BuildSwap(opp.Pair, venue.SideSell, baseOut, minFinalOut, p.executor)
	if err != nil {
		return nil, fmt.Errorf("build sell leg: %w", err)
	}
	return []domain.Call{buyCall, sellCall}, nil
}

// checkLiquidity reads the provider pool's borrow-token balance at the
// pinned block and rejects pools that cannot fund the loan before any
// simulation work. A failed or short read skips the check; simulation
// still gates the plan.
func (p *Planner) checkLiquidity(ctx context.Context, prov Provider, borrow domain.Token, amount decimal.Decimal, block uint64) error {
	data, err := erc20ABI.Pack("balanceOf", prov.Pool)
	if err != nil {
		return nil
	}
	to := borrow.Address
	out, err := p.sim.Call(ctx, chain.CallMsg{To: &to, Data: hexutil.Bytes(data)}, block)
	if err != nil || len(out) < 32 {
		return nil
	}
	balance := new(big.Int).SetBytes(out[:32])
	need := amount.Shift(int32(borrow.Decimals)).BigInt()
	if balance.Cmp(need) < 0 {
		return domain.Errf(domain.KindInsufficientLiquidity,
			"%s: pool holds %s raw %s, loan needs %s", prov.Name, balance, borrow.Symbol, need)
	}
	return nil
}

// providerCall wraps the swap bundle into the provider's entry point.
func (p *Planner) providerCall(prov Provider, borrow domain.Token, amount decimal.Decimal, calls []domain.Call) (domain.Call, error) {
	params, err := encodeCallBundle(calls)
	if err != nil {
		return domain.Call{}, err
	}
	raw := amount.Shift(int32(borrow.Decimals)).BigInt()

	var data []byte
	switch prov.Name {
	case "balancer":
		data, err = balancerVaultABI.Pack("flashLoan",
			p.executor, []common.Address{borrow.Address}, []*big.Int{raw}, params)
	default:
		data, err = aavePoolABI.Pack("flashLoanSimple",
			p.executor, borrow.Address, raw, params, uint16(0))
	}
	if err != nil {
		return domain.Call{}, fmt.Errorf("pack %s entry: %w", prov.Name, err)
	}
	return domain.Call{To: prov.Pool, Data: data}, nil
}

func encodeCallBundle(calls []domain.Call) ([]byte, error) {
	targets := make([]common.Address, len(calls))
	payloads := make([][]byte, len(calls))
	for i, c := range calls {
		targets[i] = c.To
		payloads[i] = c.Data
	}
	packed, err := callBundleArgs.Pack(targets, payloads)
	if err != nil {
		return nil, fmt.Errorf("encode call bundle: %w", err)
	}
	return packed, nil
}

// simulate replays the plan's outer call against the block. A revert or
// transport failure rejects the plan; success returns the gas estimate.
func (p *Planner) simulate(ctx context.Context, plan domain.Plan, block uint64) (uint64, error) {
	for _, call := range plan.Calls {
		to := call.To
		msg := chain.CallMsg{From: &p.sender, To: &to, Data: hexutil.Bytes(call.Data)}
		if call.Value != nil {
			msg.Value = (*hexutil.Big)(call.Value)
		}
		if _, err := p.sim.Call(ctx, msg, block); err != nil {
			return 0, domain.WrapKind(domain.KindSimulationRevert,
				fmt.Errorf("plan simulation failed: %w", err))
		}
	}

	var total uint64
	for _, call := range plan.Calls {
		to := call.To
		msg := chain.CallMsg{From: &p.sender, To: &to, Data: hexutil.Bytes(call.Data)}
		gas, err := p.sim.EstimateGas(ctx, msg)
		if err != nil {
			return 0, domain.WrapKind(domain.KindSimulationRevert,
				fmt.Errorf("gas estimate failed: %w", err))
		}
		total += gas
	}
	return total, nil
}
