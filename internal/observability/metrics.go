// Package observability exposes Prometheus metrics and the watchman health
// report.
package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"metax/internal/cache"
	"metax/internal/core"
)

const namespace = "metax"

// Metrics records operation outcomes in a Prometheus registry. It
// implements core.MetricsRecorder.
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	published  prometheus.Counter
	syncs      *prometheus.CounterVec
	syncTime   prometheus.Histogram
	rems       *prometheus.CounterVec
	requests   *prometheus.CounterVec
}

var _ core.MetricsRecorder = (*Metrics)(nil)

// NewMetrics builds a recorder with its own registry, including the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Service operations by result.",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of service operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datasets_published_total",
			Help:      "Datasets published.",
		}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "v2",
			Name:      "syncs_total",
			Help:      "Dataset syncs to V2 by action and result.",
		}, []string{"action", "status"}),
		syncTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "v2",
			Name:      "sync_duration_seconds",
			Help:      "Duration of dataset syncs to V2.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		rems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rems",
			Name:      "publishes_total",
			Help:      "Dataset publishes to REMS by result.",
		}, []string{"status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "method", "code"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operations, m.durations, m.published, m.syncs, m.syncTime, m.rems, m.requests,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// Observe records a service operation outcome.
func (m *Metrics) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	st := status(success)
	m.operations.WithLabelValues(operation, st).Inc()
	m.durations.WithLabelValues(operation).Observe(duration.Seconds())

	switch {
	case operation == "dataset.publish" && success:
		m.published.Inc()
	case strings.HasPrefix(operation, "v2_sync_"):
		m.syncs.WithLabelValues(strings.TrimPrefix(operation, "v2_sync_"), st).Inc()
		m.syncTime.Observe(duration.Seconds())
	case operation == "rems_publish":
		m.rems.WithLabelValues(st).Inc()
	}
}

// ObserveRequest counts a served HTTP request.
func (m *Metrics) ObserveRequest(route, method string, code int) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
}

// RegisterCache exports the usage counters of c.
func (m *Metrics) RegisterCache(c *cache.Cache) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "cache", Name: "entries",
			Help: "Datasets in the representation cache.",
		}, func() float64 { return float64(c.Stats().Size) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Representation cache hits.",
		}, func() float64 { return float64(c.Stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Representation cache misses.",
		}, func() float64 { return float64(c.Stats().Misses) }),
	)
}
