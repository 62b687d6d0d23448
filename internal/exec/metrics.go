package exec

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	executionsByState = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbnexus",
		Subsystem: "exec",
		Name:      "executions_total",
		Help:      "Executions reaching a terminal state, by chain and state.",
	}, []string{"chain", "state"})

	inflightExecutions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbnexus",
		Subsystem: "exec",
		Name:      "inflight",
		Help:      "Executions currently in flight across all chains.",
	})

	replacementsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbnexus",
		Subsystem: "exec",
		Name:      "replacements_total",
		Help:      "Cancel-replacement transactions issued, by chain.",
	}, []string{"chain"})
)
