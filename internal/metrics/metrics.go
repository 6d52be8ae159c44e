package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the access-control service.
type Metrics struct {
	Mutations        *prometheus.CounterVec
	MutationFailures *prometheus.CounterVec
	GlobalAccess     prometheus.Gauge
	Subscribers      prometheus.Gauge
	SubscriberPanics prometheus.Counter
	AuditPruned      prometheus.Counter
	EventsPublished  *prometheus.CounterVec
	EndpointLatency  *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. Pass
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Mutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "accessctl_mutations_total",
			Help: "Committed access-control mutations, labeled by audit action",
		}, []string{"action"}),
		MutationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "accessctl_mutation_failures_total",
			Help: "Failed access-control mutations, labeled by audit action and reason",
		}, []string{"action", "reason"}),
		GlobalAccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "accessctl_global_access_enabled",
			Help: "1 when global access is enabled, 0 when disabled",
		}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "accessctl_subscribers",
			Help: "Current number of in-process change subscribers",
		}),
		SubscriberPanics: f.NewCounter(prometheus.CounterOpts{
			Name: "accessctl_subscriber_panics_total",
			Help: "Subscriber callbacks that panicked and were recovered",
		}),
		AuditPruned: f.NewCounter(prometheus.CounterOpts{
			Name: "accessctl_audit_pruned_total",
			Help: "Audit entries removed by age-based retention",
		}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "accessctl_events_published_total",
			Help: "Change events forwarded to external sinks, labeled by sink and outcome",
		}, []string{"sink", "outcome"}),
		EndpointLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "accessctl_endpoint_latency_seconds",
			Help:    "Latency of HTTP endpoints in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
}

func (m *Metrics) IncrementMutation(action string) {
	m.Mutations.WithLabelValues(action).Inc()
}

func (m *Metrics) IncrementMutationFailure(action, reason string) {
	m.MutationFailures.WithLabelValues(action, reason).Inc()
}

func (m *Metrics) SetGlobalAccess(enabled bool) {
	if enabled {
		m.GlobalAccess.Set(1)
		return
	}
	m.GlobalAccess.Set(0)
}

// ObserveEndpointLatency records the latency for a given route
func (m *Metrics) ObserveEndpointLatency(route, method, status string, durationSeconds float64) {
	m.EndpointLatency.WithLabelValues(route, method, status).Observe(durationSeconds)
}
