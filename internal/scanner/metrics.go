package scanner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scanTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbnexus",
		Subsystem: "scanner",
		Name:      "ticks_total",
		Help:      "Completed scan ticks per chain.",
	}, []string{"chain", "outcome"})

	scanTickSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "arbnexus",
		Subsystem: "scanner",
		Name:      "tick_seconds",
		Help:      "Scan tick wall time per chain.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"chain"})

	opportunitiesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbnexus",
		Subsystem: "scanner",
		Name:      "opportunities_total",
		Help:      "Opportunities emitted to the live book per chain.",
	}, []string{"chain"})

	candidatesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbnexus",
		Subsystem: "scanner",
		Name:      "candidates_dropped_total",
		Help:      "Admitted candidates dropped because the executor queue was full.",
	}, []string{"chain"})

	scanPauses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbnexus",
		Subsystem: "scanner",
		Name:      "pauses_total",
		Help:      "Back-off pauses taken after elevated RPC failure rates.",
	}, []string{"chain"})
)
