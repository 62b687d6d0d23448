package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbnexus_api_requests_total",
		Help: "Observer API requests by route and status code.",
	}, []string{"route", "code"})

	requestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arbnexus_api_request_seconds",
		Help:    "Observer API request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	streamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbnexus_stream_clients",
		Help: "Connected websocket observers.",
	})

	streamFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbnexus_stream_frames_total",
		Help: "Stream frames published by type.",
	}, []string{"type"})
)
