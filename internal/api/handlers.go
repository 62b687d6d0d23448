package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/arbnexus/arbnexus/internal/domain"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /opportunities?chain=&min_profit=&risk=
// Merges the per-chain live books into one ranked snapshot. Rejected
// candidates stay visible with their rejection reason attached.
func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var chainFilter domain.ChainID
	if raw := q.Get("chain"); raw != "" {
		chainFilter = domain.ChainID(raw)
		if !chainFilter.Valid() {
			writeError(w, http.StatusBadRequest, "unknown chain")
			return
		}
	}
	var minProfit decimal.Decimal
	if raw := q.Get("min_profit"); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid min_profit")
			return
		}
		minProfit = d
	}
	riskFilter := q.Get("risk")

	merged := make([]*domain.Opportunity, 0, 64)
	for chain, book := range s.deps.Books {
		if chainFilter != "" && chain != chainFilter {
			continue
		}
		for _, opp := range book.Snapshot() {
			if !minProfit.IsZero() && opp.NetProfit.LessThan(minProfit) {
				continue
			}
			if riskFilter != "" && string(opp.Risk) != riskFilter {
				continue
			}
			merged = append(merged, opp)
		}
	}
	domain.SortOpportunities(merged)
	writeJSON(w, http.StatusOK, merged)
}

// GET /executions?limit=
func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	execs, err := s.deps.Archive.Executions(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("executions query failed")
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if execs == nil {
		execs = []domain.Execution{}
	}
	writeJSON(w, http.StatusOK, execs)
}

// statsResponse wraps the portfolio snapshot with an engine-counter
// section pulled from the gathered metric families.
type statsResponse struct {
	domain.StatsSnapshot
	Engine map[string]float64 `json:"engine"`
}

// GET /stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Archive.ComputeStats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("stats computation failed")
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		StatsSnapshot: snap,
		Engine:        engineCounters(),
	})
}

// engineCounters folds selected metric families into name → total.
func engineCounters() map[string]float64 {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		log.Warn().Err(err).Msg("metrics gather failed")
		return nil
	}
	wanted := map[string]string{
		"arbnexus_scanner_ticks_total":         "scan_ticks",
		"arbnexus_scanner_opportunities_total": "opportunities_emitted",
		"arbnexus_exec_executions_total":       "executions_settled",
		"arbnexus_exec_inflight":               "executions_inflight",
		"arbnexus_stream_clients":              "stream_clients",
	}
	out := map[string]float64{}
	for _, fam := range families {
		short, ok := wanted[fam.GetName()]
		if !ok {
			continue
		}
		var total float64
		for _, m := range fam.GetMetric() {
			switch fam.GetType() {
			case dto.MetricType_COUNTER:
				total += m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				total += m.GetGauge().GetValue()
			}
		}
		out[short] = total
	}
	return out
}

// GET /stats/history?series={profit|trades|gas}&window=24h&chain=
func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	series := q.Get("series")
	if series == "" {
		series = "profit"
	}
	window := 24 * time.Hour
	if raw := q.Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window")
			return
		}
		window = d
	}
	since := time.Now().UTC().Add(-window)

	switch series {
	case "profit", "trades":
		rows, err := s.deps.Archive.StatsHistory(r.Context(), since, time.Now().UTC())
		if err != nil {
			log.Error().Err(err).Msg("stats history query failed")
			writeError(w, http.StatusInternalServerError, "store unavailable")
			return
		}
		type point struct {
			At    time.Time       `json:"at"`
			Value json.RawMessage `json:"value"`
		}
		points := make([]point, 0, len(rows))
		for _, row := range rows {
			var raw []byte
			if series == "profit" {
				raw, _ = json.Marshal(row.TotalProfit)
			} else {
				raw, _ = json.Marshal(row.TotalTrades)
			}
			points = append(points, point{At: row.At, Value: raw})
		}
		writeJSON(w, http.StatusOK, map[string]any{"series": series, "window": window.String(), "points": points})
	case "gas":
		out := map[string][]domain.GasSample{}
		for _, chain := range s.chainsFor(q.Get("chain")) {
			samples, err := s.deps.Archive.GasHistory(r.Context(), chain, since)
			if err != nil {
				log.Error().Err(err).Str("chain", string(chain)).Msg("gas history query failed")
				writeError(w, http.StatusInternalServerError, "store unavailable")
				return
			}
			out[string(chain)] = samples
		}
		writeJSON(w, http.StatusOK, map[string]any{"series": series, "window": window.String(), "points": out})
	default:
		writeError(w, http.StatusBadRequest, "series must be profit, trades or gas")
	}
}

func (s *Server) chainsFor(filter string) []domain.ChainID {
	if filter == "" {
		return s.deps.Chains
	}
	id := domain.ChainID(filter)
	for _, c := range s.deps.Chains {
		if c == id {
			return []domain.ChainID{id}
		}
	}
	return nil
}

// chainStatus is one row of GET /chains.
type chainStatus struct {
	Chain              domain.ChainID      `json:"chain"`
	Health             *domain.ChainMetric `json:"health,omitempty"`
	Gas                *domain.GasSample   `json:"gas,omitempty"`
	GasCeilingExceeded bool                `json:"gasCeilingExceeded"`
}

// GET /chains — latest health probe and gas reading per configured
// chain, from the live cache. A chain with no fresh probe reports
// health unknown, which observers should treat as degraded. A gas
// reading above the chain's configured ceiling flags the row: emission
// on that chain is suspended until gas falls back.
func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Config.Current()
	out := make([]chainStatus, 0, len(s.deps.Chains))
	for _, chain := range s.deps.Chains {
		row := chainStatus{Chain: chain}
		if m, ok, err := s.deps.Live.ChainMetric(r.Context(), chain); err == nil && ok {
			row.Health = &m
		}
		if g, ok, err := s.deps.Live.Gas(r.Context(), chain); err == nil && ok {
			row.Gas = &g
			if cc, ok := cfg.Chains[string(chain)]; ok &&
				cc.MaxGasPriceGwei > 0 && g.PriceGwei > cc.MaxGasPriceGwei {
				row.GasCeilingExceeded = true
			}
		}
		out = append(out, row)
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /alerts?limit=
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	alerts, err := s.deps.Archive.Alerts(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("alerts query failed")
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// handleControl serves the four idempotent bot flags. Repeating an
// action that is already in effect is a 200 no-op.
func (s *Server) handleControl(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		switch action {
		case "start":
			err = s.deps.Control.SetBotRunning(r.Context(), true)
		case "stop":
			err = s.deps.Control.SetBotRunning(r.Context(), false)
		case "arm":
			err = s.deps.Control.SetArmed(r.Context(), true)
		case "disarm":
			err = s.deps.Control.SetArmed(r.Context(), false)
		}
		if err != nil {
			log.Error().Err(err).Str("action", action).Msg("control write failed")
			writeError(w, http.StatusInternalServerError, "store unavailable")
			return
		}
		log.Info().Str("action", action).Msg("bot control")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "action": action})
	}
}

// configDoc is the externally mutable slice of the configuration. The
// signer key is out-of-band only and never crosses this surface.
type configDoc struct {
	MinProfitUSD      float64            `json:"min_profit_usd"`
	MaxPositionUSD    float64            `json:"max_position_size"`
	SlippageTolerance float64            `json:"slippage_tolerance"`
	UseFlashLoans     bool               `json:"use_flash_loans"`
	DryRun            bool               `json:"dry_run_mode"`
	MaxGasPriceGwei   map[string]float64 `json:"max_gas_price_gwei"`
}

// GET /config
func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Config.Current()
	doc := configDoc{
		MinProfitUSD:      cfg.MinProfitUSD,
		MaxPositionUSD:    cfg.MaxPositionUSD,
		SlippageTolerance: cfg.SlippageTolerance,
		UseFlashLoans:     cfg.UseFlashLoans,
		DryRun:            cfg.DryRun,
		MaxGasPriceGwei:   map[string]float64{},
	}
	for name, cc := range cfg.Chains {
		doc.MaxGasPriceGwei[name] = cc.MaxGasPriceGwei
	}
	writeJSON(w, http.StatusOK, doc)
}

// PUT /config — applies the mutable keys onto the current record and
// re-validates before swapping it in.
func (s *Server) handleConfigPut(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Config.Current()
	doc := configDoc{
		MinProfitUSD:      cfg.MinProfitUSD,
		MaxPositionUSD:    cfg.MaxPositionUSD,
		SlippageTolerance: cfg.SlippageTolerance,
		UseFlashLoans:     cfg.UseFlashLoans,
		DryRun:            cfg.DryRun,
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config document: "+err.Error())
		return
	}

	cfg.MinProfitUSD = doc.MinProfitUSD
	cfg.MaxPositionUSD = doc.MaxPositionUSD
	cfg.SlippageTolerance = doc.SlippageTolerance
	cfg.UseFlashLoans = doc.UseFlashLoans
	cfg.DryRun = doc.DryRun
	for name, gwei := range doc.MaxGasPriceGwei {
		cc, ok := cfg.Chains[name]
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown chain "+name)
			return
		}
		cc.MaxGasPriceGwei = gwei
		cfg.Chains[name] = cc
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, strings.TrimSpace(err.Error()))
		return
	}
	if err := s.deps.Config.Apply(cfg); err != nil {
		log.Error().Err(err).Msg("config apply failed")
		writeError(w, http.StatusInternalServerError, "config apply failed")
		return
	}
	log.Info().Msg("configuration updated")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
