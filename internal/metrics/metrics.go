// Package metrics exposes Prometheus collectors for the shield engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts shield activity. One instance per process, shared by all
// request handlers.
type Metrics struct {
	registry *prometheus.Registry

	requests      prometheus.Counter
	attempts      prometheus.Counter
	retries       *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	responseBytes prometheus.Histogram
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		requests: factory.NewCounter(prometheus.CounterOpts{
			Name: "llmshield_requests_total",
			Help: "Client requests accepted by the proxy",
		}),

		attempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "llmshield_upstream_attempts_total",
			Help: "Individual upstream attempts, including retries",
		}),

		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llmshield_retries_total",
			Help: "Discarded attempts that were retried, by failure kind",
		}, []string{"kind"}),

		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llmshield_outcomes_total",
			Help: "Terminal request outcomes, by result",
		}, []string{"result"}),

		responseBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "llmshield_response_bytes",
			Help:    "Size of clean buffered responses released to clients",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),
	}
}

func (m *Metrics) RequestReceived() { m.requests.Inc() }

func (m *Metrics) AttemptStarted() { m.attempts.Inc() }

func (m *Metrics) RetryScheduled(kind string) { m.retries.WithLabelValues(kind).Inc() }

func (m *Metrics) RequestResolved(result string) { m.outcomes.WithLabelValues(result).Inc() }

func (m *Metrics) ResponseReleased(bytes int) { m.responseBytes.Observe(float64(bytes)) }

// Handler serves the /metrics endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
