package exec

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbnexus/arbnexus/internal/chain"
	"github.com/arbnexus/arbnexus/internal/config"
	"github.com/arbnexus/arbnexus/internal/domain"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testToken() domain.Token {
	return domain.Token{Address: common.HexToAddress("0x02"), Symbol: "USDC", Decimals: 6}
}

func testOpp(flash bool) domain.Opportunity {
	return domain.Opportunity{
		ID:    "opp-1",
		Chain: domain.ChainPolygon,
		Pair: domain.TokenPair{
			Base:  domain.Token{Address: common.HexToAddress("0x01"), Symbol: "WETH", Decimals: 18},
			Quote: testToken(),
		},
		Notional:      decimal.NewFromInt(10_000),
		NetProfit:     decimal.NewFromInt(50),
		FlashEligible: flash,
	}
}

type memJournal struct {
	mu     sync.Mutex
	execs  []domain.Execution
	nonces map[domain.ChainID]uint64
	alerts []domain.Alert
}

func newMemJournal() *memJournal {
	return &memJournal{nonces: make(map[domain.ChainID]uint64)}
}

func (m *memJournal) SaveExecution(_ context.Context, e domain.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execs = append(m.execs, e)
	return nil
}

func (m *memJournal) SaveNonce(_ context.Context, c domain.ChainID, next uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonces[c] = next
	return nil
}

func (m *memJournal) SaveAlert(_ context.Context, a domain.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *memJournal) statuses() []domain.ExecStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ExecStatus, len(m.execs))
	for i, e := range m.execs {
		out[i] = e.Status
	}
	return out
}

func (m *memJournal) last() domain.Execution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.execs[len(m.execs)-1]
}

func (m *memJournal) lastStatus() domain.ExecStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.execs) == 0 {
		return ""
	}
	return m.execs[len(m.execs)-1].Status
}

type memNotifier struct{}

func (memNotifier) PublishExecution(domain.Execution) {}

type memAttempts struct {
	mu    sync.Mutex
	noted int
}

func (m *memAttempts) NoteAttempt(domain.ChainID, domain.TokenPair, time.Time) {
	m.mu.Lock()
	m.noted++
	m.mu.Unlock()
}

type memBook struct {
	mu      sync.Mutex
	retired []string
}

func (m *memBook) Retire(id string) {
	m.mu.Lock()
	m.retired = append(m.retired, id)
	m.mu.Unlock()
}

type stubBackend struct {
	mu      sync.Mutex
	head    uint64
	gas     chain.GasEstimate
	receipt *types.Receipt
	sendErr error
	callErr error
	sent    int
}

func (s *stubBackend) BlockNumber(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head, nil
}

func (s *stubBackend) GasPrice(context.Context) (chain.GasEstimate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gas, nil
}

func (s *stubBackend) SendRawTransaction(context.Context, []byte) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return common.Hash{}, s.sendErr
	}
	s.sent++
	return common.Hash{}, nil
}

func (s *stubBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receipt, nil
}

func (s *stubBackend) setReceipt(r *types.Receipt) {
	s.mu.Lock()
	s.receipt = r
	s.mu.Unlock()
}

func (s *stubBackend) setHead(h uint64) {
	s.mu.Lock()
	s.head = h
	s.mu.Unlock()
}

func (s *stubBackend) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

func (s *stubBackend) Call(context.Context, chain.CallMsg, uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callErr != nil {
		return nil, s.callErr
	}
	return []byte{}, nil
}

func (s *stubBackend) PendingNonce(context.Context, common.Address) (uint64, error) {
	return 0, nil
}

type stubPlanner struct {
	plan domain.Plan
	err  error
}

func (s stubPlanner) Plan(context.Context, domain.Opportunity, uint64) (domain.Plan, error) {
	return s.plan, s.err
}

func (s stubPlanner) Direct(context.Context, domain.Opportunity, uint64) (domain.Plan, error) {
	return s.plan, s.err
}

func testPlan() domain.Plan {
	return domain.Plan{
		Provider: "balancer",
		AmountIn: decimal.NewFromInt(10_000),
		Borrow:   testToken(),
		Calls:    []domain.Call{{To: common.HexToAddress("0xaa"), Data: []byte{1, 2, 3}}},
		GasLimit: 300_000,
	}
}

func testEngine(t *testing.T, dryRun bool, backend *stubBackend, planner Planner, cfg config.ExecConfig) (*Engine, *memJournal, *ChainRuntime) {
	t.Helper()
	signer, err := NewSigner(testKey)
	require.NoError(t, err)

	rt := &ChainRuntime{
		ID:          domain.ChainPolygon,
		Meta:        domain.ChainPolygon.Meta(),
		Backend:     backend,
		Planner:     planner,
		Signer:      signer,
		Nonces:      NewNonceAllocator(7),
		NativeUSD:   1,
		Beneficiary: common.HexToAddress("0xec"),
	}
	root := config.Default()
	root.DryRun = dryRun
	j := newMemJournal()
	e := New(cfg, config.NewHandle(root), false, map[domain.ChainID]*ChainRuntime{domain.ChainPolygon: rt}, Deps{
		Journal:  j,
		Notifier: memNotifier{},
		Attempts: &memAttempts{},
		Book:     &memBook{},
	})
	e.trackPoll = time.Millisecond
	return e, j, rt
}

func TestNonceAllocator_GapFree(t *testing.T) {
	a := NewNonceAllocator(10)
	assert.Equal(t, uint64(10), a.Reserve())
	assert.Equal(t, uint64(11), a.Reserve())
	assert.Equal(t, uint64(12), a.Reserve())

	// Aborting the top nonce rolls the counter back.
	a.Release(12)
	assert.Equal(t, uint64(12), a.Reserve())

	// Aborting a middle nonce hands it out again before a new one.
	a.Release(11)
	assert.Equal(t, uint64(11), a.Reserve())
	assert.Equal(t, uint64(13), a.Reserve())
	assert.Equal(t, uint64(14), a.Next())
}

func TestNonceAllocator_ReserveN(t *testing.T) {
	a := NewNonceAllocator(0)
	got := a.ReserveN(3)
	assert.Equal(t, []uint64{0, 1, 2}, got)
}

type countingPlanner struct {
	plan  domain.Plan
	calls int
}

func (c *countingPlanner) Plan(context.Context, domain.Opportunity, uint64) (domain.Plan, error) {
	c.calls++
	return c.plan, nil
}

func (c *countingPlanner) Direct(context.Context, domain.Opportunity, uint64) (domain.Plan, error) {
	c.calls++
	return c.plan, nil
}

func TestEngine_DryRunPlansWithoutBroadcast(t *testing.T) {
	backend := &stubBackend{head: 1000, gas: chain.GasEstimate{PriceWei: big.NewInt(30e9)}}
	planner := &countingPlanner{plan: testPlan()}
	e, j, rt := testEngine(t, true, backend, planner, config.Default().Exec)

	opp := testOpp(true)
	require.True(t, e.acquire(opp))
	e.execute(context.Background(), opp)

	assert.Equal(t, []domain.ExecStatus{
		domain.ExecNew, domain.ExecPlanned, domain.ExecSimulated, domain.ExecCancelled,
	}, j.statuses())
	assert.Equal(t, "dry-run", j.last().Reason)
	assert.Equal(t, 1, planner.calls, "dry-run still plans and simulates")
	assert.Zero(t, backend.sent, "dry-run never broadcasts")
	assert.Equal(t, uint64(7), rt.Nonces.Next(), "dry-run consumes no nonce")
}

func TestEngine_LiveDryRunToggle(t *testing.T) {
	beneficiary := common.HexToAddress("0xec")
	backend := &stubBackend{
		head:    1000,
		gas:     chain.GasEstimate{PriceWei: big.NewInt(30e9)},
		receipt: successReceipt(beneficiary, testToken()),
	}
	e, j, _ := testEngine(t, true, backend, stubPlanner{plan: testPlan()}, config.Default().Exec)

	opp := testOpp(true)
	require.True(t, e.acquire(opp))
	e.execute(context.Background(), opp)
	require.Equal(t, domain.ExecCancelled, j.lastStatus())

	cfg := e.live.Load()
	cfg.DryRun = false
	e.live.Store(cfg)

	require.True(t, e.acquire(opp))
	e.execute(context.Background(), opp)
	assert.Equal(t, domain.ExecConfirmed, j.lastStatus(), "cleared dry-run broadcasts without a restart")
	assert.Positive(t, backend.sentCount())
}

func TestEngine_HaltedChainDropsCandidates(t *testing.T) {
	backend := &stubBackend{head: 1000, gas: chain.GasEstimate{PriceWei: big.NewInt(30e9)}}
	e, _, _ := testEngine(t, true, backend, stubPlanner{plan: testPlan()}, config.Default().Exec)

	opp := testOpp(true)
	require.True(t, e.acquire(opp))
	e.release(opp)

	e.Halt(domain.ChainPolygon)
	assert.False(t, e.acquire(opp), "halted chains accept no new executions")
}

func TestEngine_PlanRejectionCancels(t *testing.T) {
	backend := &stubBackend{head: 1000, gas: chain.GasEstimate{PriceWei: big.NewInt(30e9)}}
	planner := stubPlanner{err: domain.Errf(domain.KindSimulationRevert, "final balance below repayment")}
	e, j, rt := testEngine(t, false, backend, planner, config.Default().Exec)

	opp := testOpp(true)
	require.True(t, e.acquire(opp))
	e.execute(context.Background(), opp)

	assert.Equal(t, []domain.ExecStatus{domain.ExecNew, domain.ExecCancelled}, j.statuses())
	assert.Contains(t, j.last().Reason, "plan rejected")
	assert.Equal(t, uint64(7), rt.Nonces.Next(), "no nonce consumed by a rejected plan")
}

func successReceipt(beneficiary common.Address, token domain.Token) *types.Receipt {
	// Inflow of 10,050 quote units at 6 decimals.
	in := common.LeftPadBytes(big.NewInt(10_050_000_000).Bytes(), 32)
	return &types.Receipt{
		Status:            types.ReceiptStatusSuccessful,
		BlockNumber:       big.NewInt(500),
		GasUsed:           250_000,
		EffectiveGasPrice: big.NewInt(40e9),
		Logs: []*types.Log{
			{
				Address: token.Address,
				Topics: []common.Hash{
					transferTopic,
					addressTopic(common.HexToAddress("0xaa")),
					addressTopic(beneficiary),
				},
				Data: in,
			},
		},
	}
}

func addressTopic(a common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(a.Bytes(), 32))
}

func TestEngine_ConfirmedSettlement(t *testing.T) {
	beneficiary := common.HexToAddress("0xec")
	backend := &stubBackend{
		head:    1000,
		gas:     chain.GasEstimate{PriceWei: big.NewInt(30e9)},
		receipt: successReceipt(beneficiary, testToken()),
	}
	cfg := config.Default().Exec
	e, j, rt := testEngine(t, false, backend, stubPlanner{plan: testPlan()}, cfg)
	_ = rt

	opp := testOpp(true)
	require.True(t, e.acquire(opp))
	e.execute(context.Background(), opp)

	statuses := j.statuses()
	assert.Equal(t, []domain.ExecStatus{
		domain.ExecNew, domain.ExecPlanned, domain.ExecSimulated,
		domain.ExecSubmitted, domain.ExecPending, domain.ExecConfirmed,
	}, statuses)

	final := j.last()
	require.NotNil(t, final.RealizedProfit)
	// Inflow 10,050 at the beneficiary minus 0.01 native of gas at $1.
	gasPaid := decimal.NewFromFloat(0.01)
	assert.True(t, final.GasPaid.Equal(gasPaid), "gas paid %s", final.GasPaid)
	want := decimal.NewFromInt(10_050).Sub(gasPaid)
	assert.True(t, final.RealizedProfit.Equal(want), "realized %s", final.RealizedProfit)
}

func TestEngine_ReorgRegressesConfirmed(t *testing.T) {
	beneficiary := common.HexToAddress("0xec")
	receipt := successReceipt(beneficiary, testToken())
	// Ten confirmations: confirmed but far from polygon finality.
	backend := &stubBackend{
		head:    510,
		gas:     chain.GasEstimate{PriceWei: big.NewInt(30e9)},
		receipt: receipt,
	}
	e, j, _ := testEngine(t, false, backend, stubPlanner{plan: testPlan()}, config.Default().Exec)

	opp := testOpp(true)
	require.True(t, e.acquire(opp))
	done := make(chan struct{})
	go func() {
		e.execute(context.Background(), opp)
		close(done)
	}()

	require.Eventually(t, func() bool { return j.lastStatus() == domain.ExecConfirmed },
		time.Second, time.Millisecond, "first confirmation")
	sentBefore := backend.sentCount()

	// The mined block falls out of the canonical chain.
	backend.setReceipt(nil)
	require.Eventually(t, func() bool { return j.lastStatus() == domain.ExecPending },
		time.Second, time.Millisecond, "reorg regresses to pending")

	regressed := j.last()
	assert.Nil(t, regressed.RealizedProfit, "settlement unwound on reorg")
	assert.True(t, regressed.GasPaid.IsZero())
	assert.Nil(t, regressed.EndedAt)
	assert.Greater(t, backend.sentCount(), sentBefore, "original payload rebroadcast")

	// Mined again, now beyond finality depth.
	backend.setReceipt(receipt)
	backend.setHead(600)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tracking did not finalize")
	}

	assert.Equal(t, []domain.ExecStatus{
		domain.ExecNew, domain.ExecPlanned, domain.ExecSimulated,
		domain.ExecSubmitted, domain.ExecPending, domain.ExecConfirmed,
		domain.ExecPending, domain.ExecConfirmed,
	}, j.statuses())
	final := j.last()
	require.NotNil(t, final.RealizedProfit)
	assert.False(t, final.GasPaid.IsZero())
}

func TestEngine_RevertedSettlement(t *testing.T) {
	receipt := &types.Receipt{
		Status:            types.ReceiptStatusFailed,
		BlockNumber:       big.NewInt(500),
		GasUsed:           250_000,
		EffectiveGasPrice: big.NewInt(40e9),
	}
	backend := &stubBackend{
		head:    1000,
		gas:     chain.GasEstimate{PriceWei: big.NewInt(30e9)},
		receipt: receipt,
		callErr: errors.New("execution reverted: INSUFFICIENT_OUTPUT_AMOUNT"),
	}
	e, j, _ := testEngine(t, false, backend, stubPlanner{plan: testPlan()}, config.Default().Exec)

	opp := testOpp(true)
	require.True(t, e.acquire(opp))
	e.execute(context.Background(), opp)

	final := j.last()
	assert.Equal(t, domain.ExecReverted, final.Status)
	assert.Contains(t, final.RevertReason, "INSUFFICIENT_OUTPUT_AMOUNT")
	require.NotNil(t, final.RealizedProfit)
	assert.True(t, final.RealizedProfit.Equal(final.GasPaid.Neg()),
		"reverted trades realize the negated gas spend")
}

func TestEngine_InflightAndGlobalCap(t *testing.T) {
	backend := &stubBackend{head: 1000, gas: chain.GasEstimate{PriceWei: big.NewInt(30e9)}}
	cfg := config.Default().Exec
	cfg.GlobalCap = 1
	e, _, _ := testEngine(t, true, backend, stubPlanner{plan: testPlan()}, cfg)

	opp := testOpp(true)
	require.True(t, e.acquire(opp))
	assert.False(t, e.acquire(opp), "one in-flight execution per (chain, pair)")

	other := opp
	other.Pair.Base.Symbol = "WBTC"
	assert.False(t, e.acquire(other), "global cap binds across pairs")

	e.release(opp)
	assert.True(t, e.acquire(other))
}

func TestEngine_ReplayCancelsPreSubmitted(t *testing.T) {
	backend := &stubBackend{head: 1000, gas: chain.GasEstimate{PriceWei: big.NewInt(30e9)}}
	e, j, _ := testEngine(t, false, backend, stubPlanner{plan: testPlan()}, config.Default().Exec)

	open := []domain.Execution{
		{ID: "a", Chain: domain.ChainPolygon, Status: domain.ExecNew},
		{ID: "b", Chain: domain.ChainPolygon, Status: domain.ExecPlanned},
		{ID: "c", Chain: domain.ChainPolygon, Status: domain.ExecSimulated},
	}
	e.Replay(context.Background(), open)

	require.Len(t, j.execs, 3)
	for _, ex := range j.execs {
		assert.Equal(t, domain.ExecCancelled, ex.Status)
		assert.Equal(t, "process-restart", ex.Reason)
	}
}

func TestTransferDelta(t *testing.T) {
	token := testToken()
	me := common.HexToAddress("0xec")
	other := common.HexToAddress("0xaa")

	amt := func(v int64) []byte {
		return common.LeftPadBytes(big.NewInt(v).Bytes(), 32)
	}
	logs := []*types.Log{
		// Outflow: borrow repaid.
		{Address: token.Address, Topics: []common.Hash{transferTopic, addressTopic(me), addressTopic(other)}, Data: amt(10_000_000_000)},
		// Inflow: sell proceeds.
		{Address: token.Address, Topics: []common.Hash{transferTopic, addressTopic(other), addressTopic(me)}, Data: amt(10_050_000_000)},
		// Different token, ignored.
		{Address: common.HexToAddress("0x99"), Topics: []common.Hash{transferTopic, addressTopic(other), addressTopic(me)}, Data: amt(777)},
	}
	delta := transferDelta(logs, token, me)
	assert.True(t, delta.Equal(decimal.NewFromInt(50)), "delta %s", delta)
}

func TestGasPaidUSD(t *testing.T) {
	receipt := &types.Receipt{GasUsed: 250_000, EffectiveGasPrice: big.NewInt(40e9)}
	// 250k × 40 gwei = 0.01 native.
	got := gasPaidUSD(receipt, 2000)
	assert.True(t, got.Equal(decimal.NewFromInt(20)), "got %s", got)
}

func TestBumpGas(t *testing.T) {
	gas := chain.GasEstimate{PriceWei: big.NewInt(100e9)}
	bumped := bumpGas(gas, 0.15, 2)
	// 100 × 1.15² ≈ 132.25 gwei.
	f, _ := new(big.Float).SetInt(bumped.PriceWei).Float64()
	assert.InDelta(t, 132.25e9, f, 1e6)
}
