// Package observability provides OpenTelemetry tracing setup and the
// Prometheus collectors for the messaging pipeline.
//
// This file declares the domain collectors. They are registered with the
// default Prometheus registry at init and exposed on /metrics alongside the
// HTTP metrics from the middleware package.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	presenceOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dm_presence_online",
			Help: "Number of users with a live realtime connection.",
		},
	)
	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_deliveries_total",
			Help: "Live delivery attempts by outcome (delivered, queued, push_failed).",
		},
		[]string{"outcome"},
	)
	ingestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_ingest_total",
			Help: "Message ingests by result.",
		},
		[]string{"result"},
	)
	wsConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_ws_connections_total",
			Help: "Realtime connection lifecycle events.",
		},
		[]string{"event"},
	)
	eventPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dm_event_publish_errors_total",
			Help: "Total number of event bus publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		presenceOnline,
		deliveriesTotal,
		ingestTotal,
		wsConnectionsTotal,
		eventPublishErrorsTotal,
	)
}

// SetPresenceOnline records the current number of online users.
func SetPresenceOnline(n int) {
	presenceOnline.Set(float64(n))
}

// ObserveDelivery counts one delivery attempt.
func ObserveDelivery(outcome string) {
	deliveriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveIngest counts one ingest; result is ok, replayed, invalid or failed.
func ObserveIngest(result string) {
	ingestTotal.WithLabelValues(result).Inc()
}

// ObserveWSConnection counts a realtime connection event
// (opened, closed, superseded, rejected).
func ObserveWSConnection(event string) {
	wsConnectionsTotal.WithLabelValues(event).Inc()
}

// ObserveEventPublishError counts a failed event bus publish.
func ObserveEventPublishError() {
	eventPublishErrorsTotal.Inc()
}
