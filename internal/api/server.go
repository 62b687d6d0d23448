package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/arbnexus/arbnexus/internal/config"
	"github.com/arbnexus/arbnexus/internal/domain"
)

// Book is one chain's live opportunity view.
type Book interface {
	Snapshot() []*domain.Opportunity
}

// Archive is the slice of the store the read endpoints serve from.
type Archive interface {
	ComputeStats(ctx context.Context) (domain.StatsSnapshot, error)
	StatsHistory(ctx context.Context, from, to time.Time) ([]domain.StatsSnapshot, error)
	GasHistory(ctx context.Context, chain domain.ChainID, since time.Time) ([]domain.GasSample, error)
	Alerts(ctx context.Context, limit int) ([]domain.Alert, error)
	Executions(ctx context.Context, limit int) ([]domain.Execution, error)
}

// Controls is the slice of the store backing the bot flags. All four
// control endpoints are idempotent writes to it.
type Controls interface {
	SetBotRunning(ctx context.Context, running bool) error
	BotRunning(ctx context.Context) (bool, error)
	SetArmed(ctx context.Context, armed bool) error
	Armed(ctx context.Context) (bool, error)
}

// LiveView is the cache slice serving current gas and chain health.
type LiveView interface {
	Gas(ctx context.Context, chain domain.ChainID) (domain.GasSample, bool, error)
	ChainMetric(ctx context.Context, chain domain.ChainID) (domain.ChainMetric, bool, error)
}

// ConfigSource owns the mutable runtime configuration.
type ConfigSource interface {
	Current() config.Config
	Apply(cfg config.Config) error
}

// Deps are the server's collaborators.
type Deps struct {
	Books   map[domain.ChainID]Book
	Archive Archive
	Control Controls
	Live    LiveView
	Config  ConfigSource
	Hub     *Hub
	Chains  []domain.ChainID
}

// Server is the observer HTTP surface.
type Server struct {
	cfg  config.APIConfig
	deps Deps
	srv  *http.Server
}

func NewServer(cfg config.APIConfig, deps Deps) *Server {
	s := &Server{cfg: cfg, deps: deps}
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/opportunities", s.handleOpportunities).Methods(http.MethodGet)
	r.HandleFunc("/executions", s.handleExecutions).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/stats/history", s.handleStatsHistory).Methods(http.MethodGet)
	r.HandleFunc("/chains", s.handleChains).Methods(http.MethodGet)
	r.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	r.HandleFunc("/bot/start", s.handleControl("start")).Methods(http.MethodPost)
	r.HandleFunc("/bot/stop", s.handleControl("stop")).Methods(http.MethodPost)
	r.HandleFunc("/bot/arm", s.handleControl("arm")).Methods(http.MethodPost)
	r.HandleFunc("/bot/disarm", s.handleControl("disarm")).Methods(http.MethodPost)
	r.HandleFunc("/config", s.handleConfigGet).Methods(http.MethodGet)
	r.HandleFunc("/config", s.handleConfigPut).Methods(http.MethodPut)
	r.HandleFunc("/stream", deps.Hub.ServeStream).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.Use(s.observe)

	s.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run serves until ctx ends, then drains with a short grace window.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("observer api listening")
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("observer api: %w", err)
		}
		return nil
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// observe logs and counts every request. The stream endpoint hijacks
// the connection, so it bypasses the recorder.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/stream" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		requestsTotal.WithLabelValues(route, fmt.Sprintf("%d", rec.status)).Inc()
		requestSeconds.WithLabelValues(route).Observe(time.Since(start).Seconds())
		log.Debug().
			Str("method", r.Method).
			Str("path", route).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("api request")
	})
}
