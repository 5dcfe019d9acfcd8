// Package metrics exposes Prometheus collectors for the detect pipeline.
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry         *prometheus.Registry
	requests         *prometheus.CounterVec
	inferenceSeconds prometheus.Histogram
	detections       prometheus.Histogram
	artifactsPruned  prometheus.Counter
	feedClients      prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "detect_requests_total",
			Help: "Detect requests by outcome (ok or error kind).",
		}, []string{"outcome"}),
		inferenceSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "detect_inference_seconds",
			Help:    "Time spent in model inference, including the wait for a free model.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		detections: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "detect_objects_per_request",
			Help:    "Number of detections reported per successful request.",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),
		artifactsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "detect_artifacts_pruned_total",
			Help: "Artifacts removed by retention.",
		}),
		feedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "detect_feed_clients",
			Help: "Connected live feed viewers.",
		}),
	}

	m.registry.MustRegister(
		m.requests,
		m.inferenceSeconds,
		m.detections,
		m.artifactsPruned,
		m.feedClients,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest counts one finished request; outcome is "ok" or an error kind.
func (m *Metrics) ObserveRequest(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

// ObserveInference records the duration of one inference call.
func (m *Metrics) ObserveInference(d time.Duration) {
	if m == nil {
		return
	}
	m.inferenceSeconds.Observe(d.Seconds())
}

// ObserveDetections records how many objects one request reported.
func (m *Metrics) ObserveDetections(n int) {
	if m == nil {
		return
	}
	m.detections.Observe(float64(n))
}

// AddPruned counts artifacts removed by retention.
func (m *Metrics) AddPruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.artifactsPruned.Add(float64(n))
}

// SetFeedClients records the number of connected feed viewers.
func (m *Metrics) SetFeedClients(n int) {
	if m == nil {
		return
	}
	m.feedClients.Set(float64(n))
}
