package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	SummaryRequests  *prometheus.CounterVec
	SummaryLatency   *prometheus.HistogramVec
	Reconciliations  *prometheus.CounterVec
	StaleFetches     prometheus.Counter
	StoreWrites      *prometheus.CounterVec
	Alerts           *prometheus.CounterVec
	OpenSessions     prometheus.Gauge
	Errors           *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
// The namespace of the first call wins.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Voice provider API requests by endpoint and status.",
			}, []string{"provider", "endpoint", "status"}),
			ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Latency distribution for voice provider API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"provider", "endpoint"}),
			SummaryRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "summary_requests_total",
				Help:      "Summary generation requests by outcome.",
			}, []string{"status"}),
			SummaryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "summary_request_duration_seconds",
				Help:      "Latency distribution for summary generation.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
			}, []string{"status"}),
			Reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciliations_total",
				Help:      "Call detail fetches by trigger and outcome.",
			}, []string{"trigger", "outcome"}),
			StaleFetches: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stale_fetches_dropped_total",
				Help:      "Detail fetch results dropped because a newer fetch already applied.",
			}),
			StoreWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_writes_total",
				Help:      "Call store writes by operation and status.",
			}, []string{"op", "status"}),
			Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "User-visible alerts raised by the reconciliation driver.",
			}, []string{"kind"}),
			OpenSessions: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "open_sessions",
				Help:      "Call sessions currently open in the console.",
			}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.ProviderRequests,
			metricsInstance.ProviderLatency,
			metricsInstance.SummaryRequests,
			metricsInstance.SummaryLatency,
			metricsInstance.Reconciliations,
			metricsInstance.StaleFetches,
			metricsInstance.StoreWrites,
			metricsInstance.Alerts,
			metricsInstance.OpenSessions,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
