package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RelayRequestsTotal counts widget-facing requests by endpoint and outcome.
	RelayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adarelay_relay_requests_total",
			Help: "Relay API requests handled",
		},
		[]string{"endpoint", "status"},
	)

	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adarelay_upstream_requests_total",
			Help: "Requests sent to the messaging platform",
		},
		[]string{"op", "status"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adarelay_upstream_request_duration_seconds",
			Help:    "Messaging platform request latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"op"},
	)

	SetupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adarelay_setups_total",
			Help: "Tenant setup submissions",
		},
		[]string{"status"},
	)

	// SuggestionsTotal counts server-side poll loops by terminal state.
	SuggestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adarelay_suggestions_total",
			Help: "Suggestion poll loops by terminal state",
		},
		[]string{"state"},
	)
)
