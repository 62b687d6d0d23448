package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbnexus/arbnexus/internal/config"
	"github.com/arbnexus/arbnexus/internal/domain"
)

type stubBook struct {
	opps []*domain.Opportunity
}

func (b *stubBook) Snapshot() []*domain.Opportunity { return b.opps }

type stubArchive struct {
	stats   domain.StatsSnapshot
	history []domain.StatsSnapshot
	alerts  []domain.Alert
	execs   []domain.Execution
}

func (a *stubArchive) ComputeStats(context.Context) (domain.StatsSnapshot, error) {
	return a.stats, nil
}

func (a *stubArchive) StatsHistory(context.Context, time.Time, time.Time) ([]domain.StatsSnapshot, error) {
	return a.history, nil
}

func (a *stubArchive) GasHistory(context.Context, domain.ChainID, time.Time) ([]domain.GasSample, error) {
	return nil, nil
}

func (a *stubArchive) Alerts(context.Context, int) ([]domain.Alert, error) { return a.alerts, nil }

func (a *stubArchive) Executions(context.Context, int) ([]domain.Execution, error) {
	return a.execs, nil
}

type stubControls struct {
	running bool
	armed   bool
}

func (c *stubControls) SetBotRunning(_ context.Context, running bool) error {
	c.running = running
	return nil
}

func (c *stubControls) BotRunning(context.Context) (bool, error) { return c.running, nil }

func (c *stubControls) SetArmed(_ context.Context, armed bool) error {
	c.armed = armed
	return nil
}

func (c *stubControls) Armed(context.Context) (bool, error) { return c.armed, nil }

type stubLive struct {
	gas     map[domain.ChainID]domain.GasSample
	metrics map[domain.ChainID]domain.ChainMetric
}

func (l *stubLive) Gas(_ context.Context, chain domain.ChainID) (domain.GasSample, bool, error) {
	g, ok := l.gas[chain]
	return g, ok, nil
}

func (l *stubLive) ChainMetric(_ context.Context, chain domain.ChainID) (domain.ChainMetric, bool, error) {
	m, ok := l.metrics[chain]
	return m, ok, nil
}

type stubConfig struct {
	cfg     config.Config
	applied bool
}

func (c *stubConfig) Current() config.Config { return c.cfg }

func (c *stubConfig) Apply(cfg config.Config) error {
	c.cfg = cfg
	c.applied = true
	return nil
}

func opp(id string, chain domain.ChainID, net int64, risk domain.RiskClass) *domain.Opportunity {
	return &domain.Opportunity{
		ID:        id,
		Chain:     chain,
		NetProfit: decimal.NewFromInt(net),
		Risk:      risk,
		FreshAt:   time.Now(),
	}
}

func testServer(t *testing.T) (*Server, *stubControls, *stubConfig) {
	t.Helper()
	cfg := config.Default()
	cc := config.DefaultChain(domain.ChainPolygon)
	cc.Endpoints = []config.Endpoint{{URL: "http://localhost:8545"}}
	cfg.Chains["polygon"] = cc
	controls := &stubControls{running: true}
	confSrc := &stubConfig{cfg: cfg}
	books := map[domain.ChainID]Book{
		domain.ChainPolygon: &stubBook{opps: []*domain.Opportunity{
			opp("low", domain.ChainPolygon, 5, domain.RiskHigh),
			opp("high", domain.ChainPolygon, 120, domain.RiskLow),
		}},
	}
	srv := NewServer(cfg.API, Deps{
		Books:   books,
		Archive: &stubArchive{stats: domain.StatsSnapshot{TotalTrades: 7, WinRate: 0.7}},
		Control: controls,
		Live: &stubLive{
			gas:     map[domain.ChainID]domain.GasSample{domain.ChainPolygon: {Chain: domain.ChainPolygon, PriceGwei: 55}},
			metrics: map[domain.ChainID]domain.ChainMetric{domain.ChainPolygon: {Chain: domain.ChainPolygon, Health: "healthy"}},
		},
		Config: confSrc,
		Hub:    NewHub(),
		Chains: []domain.ChainID{domain.ChainPolygon},
	})
	return srv, controls, confSrc
}

func TestOpportunities_RankedAndFiltered(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/opportunities", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []domain.Opportunity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "high", got[0].ID, "ranking puts the larger net profit first")

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/opportunities?min_profit=50", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "high", got[0].ID)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/opportunities?risk=high", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "low", got[0].ID)
}

func TestOpportunities_UnknownChainRejected(t *testing.T) {
	srv, _, _ := testServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/opportunities?chain=solana", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats_IncludesEngineSection(t *testing.T) {
	srv, _, _ := testServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "total_trades")
	assert.Contains(t, body, "engine")
}

func TestChains_ReportsHealthAndGas(t *testing.T) {
	srv, _, confSrc := testServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chains", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []chainStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Health)
	assert.Equal(t, "healthy", rows[0].Health.Health)
	require.NotNil(t, rows[0].Gas)
	assert.Equal(t, 55.0, rows[0].Gas.PriceGwei)
	assert.False(t, rows[0].GasCeilingExceeded)

	// Lower the ceiling under the live reading; the flag flips.
	cc := confSrc.cfg.Chains["polygon"]
	cc.MaxGasPriceGwei = 40
	confSrc.cfg.Chains["polygon"] = cc

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chains", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	assert.True(t, rows[0].GasCeilingExceeded, "gas above the chain ceiling flags the row")
}

func TestControl_Idempotent(t *testing.T) {
	srv, controls, _ := testServer(t)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/bot/stop", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.False(t, controls.running)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/bot/arm", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, controls.armed)
}

func TestConfig_RoundTripNeverExposesSigner(t *testing.T) {
	srv, _, confSrc := testServer(t)
	confSrc.cfg.SignerKey = "deadbeef"

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/config", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "deadbeef")
	assert.NotContains(t, strings.ToLower(rec.Body.String()), "signer")

	update := `{"min_profit_usd": 25, "max_position_size": 10000, "slippage_tolerance": 0.004,
		"use_flash_loans": false, "dry_run_mode": true}`
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/config", strings.NewReader(update)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, confSrc.applied)
	assert.Equal(t, 25.0, confSrc.cfg.MinProfitUSD)
	assert.Equal(t, "deadbeef", confSrc.cfg.SignerKey, "signer key survives untouched")
}

func TestConfig_RejectsUnknownFieldsAndInvalidValues(t *testing.T) {
	srv, _, confSrc := testServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/config",
		strings.NewReader(`{"signer_key": "nope"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, confSrc.applied)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/config",
		strings.NewReader(`{"min_profit_usd": 10, "max_position_size": -5,
			"slippage_tolerance": 0.01, "use_flash_loans": true, "dry_run_mode": true}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, confSrc.applied)
}

func TestStream_ResumeBySequence(t *testing.T) {
	hub := NewHub()
	hub.PublishOpportunity(domain.Opportunity{ID: "a"})
	hub.RetireOpportunity("a")
	hub.PublishAlert(domain.Alert{Severity: domain.AlertWarning, Message: "x"})

	ts := httptest.NewServer(http.HandlerFunc(hub.ServeStream))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "?after=1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second Frame
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))

	assert.Equal(t, uint64(2), first.Seq)
	assert.Equal(t, frameOpportunityRetire, first.Type)
	assert.Equal(t, uint64(3), second.Seq)
	assert.Equal(t, frameAlert, second.Type)
}

func TestStream_SequenceMonotone(t *testing.T) {
	hub := NewHub()
	for i := 0; i < 10; i++ {
		hub.PublishOpportunity(domain.Opportunity{ID: "x"})
	}
	frames := hub.resumeFrom(0)
	require.Len(t, frames, 10)
	for i := 1; i < len(frames); i++ {
		assert.Equal(t, frames[i-1].Seq+1, frames[i].Seq)
	}
}

func TestStream_BacklogBounded(t *testing.T) {
	hub := NewHub()
	for i := 0; i < backlogSize+50; i++ {
		hub.RetireOpportunity("x")
	}
	frames := hub.resumeFrom(0)
	assert.Len(t, frames, backlogSize)
	assert.Equal(t, uint64(51), frames[0].Seq, "oldest frames fall off")
}
