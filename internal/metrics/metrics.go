package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scheduler metrics
var (
	// TicksTotal counts ticks by outcome (broadcast, skipped)
	TicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlcast_ticks_total",
			Help: "Total scheduler ticks by status",
		},
		[]string{"status"},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawlcast_tick_duration_seconds",
			Help:    "Duration of a full fetch and broadcast tick in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// DeliveriesTotal counts per-connection sends by status (ok, failed)
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlcast_deliveries_total",
			Help: "Total payload deliveries to connections by status",
		},
		[]string{"status"},
	)
)

// Connection metrics
var (
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawlcast_connected_clients",
			Help: "Number of connections currently registered",
		},
	)

	ConnectionsRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawlcast_connections_rejected_total",
			Help: "WebSocket upgrades rejected by the connection rate limiter",
		},
	)
)

// Source metrics
var (
	// SourceBreakerState tracks the data source circuit breaker (0=closed, 1=half-open, 2=open)
	SourceBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crawlcast_source_breaker_state",
			Help: "Current data source circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"source"},
	)
)
