package chain

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arbnexus/arbnexus/internal/domain"
)

// defaultProbeEvery is the health probe cadence.
const defaultProbeEvery = 30 * time.Second

// MetricSink receives probe results and alerts.
type MetricSink interface {
	SaveChainMetric(ctx context.Context, m domain.ChainMetric) error
	SaveAlert(ctx context.Context, a domain.Alert) error
}

// AlertPublisher pushes alerts to stream observers.
type AlertPublisher interface {
	PublishAlert(a domain.Alert)
}

// Monitor probes one chain's node health on a fixed cadence. A chain
// whose endpoints are all down longer than the fatal window gets a
// critical alert and the OnFatal callback; the other chains keep
// running.
type Monitor struct {
	client    *Client
	sink      MetricSink
	publisher AlertPublisher
	every     time.Duration
	downFatal time.Duration

	// OnFatal, when set, is invoked once when the down window elapses.
	OnFatal func(chain domain.ChainID)

	downSince  time.Time
	fatalFired bool
	lastHealth HealthState
}

func NewMonitor(client *Client, sink MetricSink, publisher AlertPublisher, downFatal time.Duration) *Monitor {
	return &Monitor{
		client:     client,
		sink:       sink,
		publisher:  publisher,
		every:      defaultProbeEvery,
		downFatal:  downFatal,
		lastHealth: Healthy,
	}
}

// Run probes until ctx ends.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := time.Now()
	metric := domain.ChainMetric{
		Chain: m.client.Chain,
		At:    start.UTC(),
	}

	block, err := m.client.BlockNumber(probeCtx)
	if err == nil {
		metric.Block = block
		metric.LatencyMS = float64(time.Since(start).Microseconds()) / 1000

		if syncing, err := m.client.Syncing(probeCtx); err == nil {
			metric.Syncing = syncing
		}
		if peers, err := m.client.PeerCount(probeCtx); err == nil {
			metric.PeerCount = peers
		}
	}

	health := m.client.Pool().Health()
	metric.Health = string(health)
	m.observeHealth(ctx, health)

	saveCtx, saveCancel := context.WithTimeout(ctx, 5*time.Second)
	defer saveCancel()
	if err := m.sink.SaveChainMetric(saveCtx, metric); err != nil {
		log.Warn().Err(err).Str("chain", string(m.client.Chain)).Msg("chain metric journal failed")
	}
}

// observeHealth tracks transitions and the down window. Health flaps
// emit warnings; a down window past the fatal threshold fires once.
func (m *Monitor) observeHealth(ctx context.Context, health HealthState) {
	if health != m.lastHealth {
		severity := domain.AlertInfo
		if health != Healthy {
			severity = domain.AlertWarning
		}
		m.alert(ctx, domain.Alert{
			Severity:  severity,
			Category:  "chain-health",
			Chain:     m.client.Chain,
			Message:   "endpoint health " + string(m.lastHealth) + " -> " + string(health),
			CreatedAt: time.Now().UTC(),
		})
		m.lastHealth = health
	}

	if health != Down {
		m.downSince = time.Time{}
		m.fatalFired = false
		return
	}
	if m.downSince.IsZero() {
		m.downSince = time.Now()
		return
	}
	if m.fatalFired || m.downFatal <= 0 || time.Since(m.downSince) < m.downFatal {
		return
	}
	m.fatalFired = true
	m.alert(ctx, domain.Alert{
		Severity:  domain.AlertCritical,
		Category:  "chain-halt",
		Chain:     m.client.Chain,
		Message:   "all endpoints down past the fatal window, halting chain",
		CreatedAt: time.Now().UTC(),
	})
	if m.OnFatal != nil {
		m.OnFatal(m.client.Chain)
	}
}

func (m *Monitor) alert(ctx context.Context, a domain.Alert) {
	log.Warn().
		Str("chain", string(a.Chain)).
		Str("severity", string(a.Severity)).
		Str("category", a.Category).
		Msg(a.Message)
	saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.sink.SaveAlert(saveCtx, a); err != nil {
		log.Warn().Err(err).Msg("alert journal failed")
	}
	if m.publisher != nil {
		m.publisher.PublishAlert(a)
	}
}
