// Package metrics exposes Prometheus instrumentation for the event loop,
// providers, safety filter, and store maintenance.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the central registry handle.
type Metrics struct {
	// EventsIngested counts platform events by type.
	EventsIngested *prometheus.CounterVec

	// EventsDropped counts events rejected by queue overflow.
	EventsDropped prometheus.Counter

	// ResponsesSent counts outbound replies by path
	// (identity|fast|provider|fallback|proactive).
	ResponsesSent *prometheus.CounterVec

	// ProviderRequests counts provider attempts.
	// Labels: provider, status (success|transient|permanent|rate_limited)
	ProviderRequests *prometheus.CounterVec

	// ProviderLatency measures provider call latency in seconds.
	ProviderLatency *prometheus.HistogramVec

	// ViolationsDetected counts safety hits by type and severity.
	ViolationsDetected *prometheus.CounterVec

	// AdaptationsApplied counts adaptation events by signal.
	AdaptationsApplied *prometheus.CounterVec

	// CacheLookups counts cache gets by result (hit|miss).
	CacheLookups *prometheus.CounterVec

	// WelcomeDMs counts welcome DM outcomes (sent|dms_disabled|failed).
	WelcomeDMs *prometheus.CounterVec

	// QueueDepth gauges the ingest queue backlog.
	QueueDepth prometheus.Gauge
}

// New registers all collectors on a fresh registry and returns both.
func New() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		EventsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "astra_events_ingested_total",
			Help: "Platform events consumed, by event type.",
		}, []string{"type"}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "astra_events_dropped_total",
			Help: "Events dropped due to ingest queue overflow.",
		}),
		ResponsesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "astra_responses_sent_total",
			Help: "Replies emitted, by response path.",
		}, []string{"path"}),
		ProviderRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "astra_provider_requests_total",
			Help: "Provider attempts, by provider and outcome.",
		}, []string{"provider", "status"}),
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "astra_provider_latency_seconds",
			Help:    "Provider call latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),
		ViolationsDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "astra_violations_detected_total",
			Help: "Safety violations, by type and severity.",
		}, []string{"type", "severity"}),
		AdaptationsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "astra_adaptations_applied_total",
			Help: "Adaptation events applied, by signal.",
		}, []string{"signal"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "astra_cache_lookups_total",
			Help: "Response cache lookups, by result.",
		}, []string{"result"}),
		WelcomeDMs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "astra_welcome_dms_total",
			Help: "Welcome DM outcomes.",
		}, []string{"outcome"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "astra_ingest_queue_depth",
			Help: "Current ingest queue backlog.",
		}),
	}
	return m, reg
}

// Handler serves the registry over HTTP for scraping.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
