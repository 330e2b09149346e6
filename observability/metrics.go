// Package observability hosts the prometheus instrumentation shared by the
// RPC surface and the daemon.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics instruments the JSON-RPC surface and the stream lifecycle.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	streams  *prometheus.CounterVec
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *Metrics
)

// RPCMetrics returns the lazily-initialised metrics registry used to record
// JSON-RPC activity and stream lifecycle transitions.
func RPCMetrics() *Metrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &Metrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paystream",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "paystream",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			streams: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paystream",
				Subsystem: "ledger",
				Name:      "stream_transitions_total",
				Help:      "Stream lifecycle transitions segmented by event type.",
			}, []string{"event"}),
		}
		prometheus.MustRegister(rpcRegistry.requests, rpcRegistry.latency, rpcRegistry.streams)
	})
	return rpcRegistry
}

// Observe records one handled RPC request.
func (m *Metrics) Observe(method, outcome string, seconds float64) {
	if m == nil || method == "" {
		return
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(seconds)
}

// CountStreamEvent records one stream lifecycle transition.
func (m *Metrics) CountStreamEvent(eventType string) {
	if m == nil || eventType == "" {
		return
	}
	m.streams.WithLabelValues(eventType).Inc()
}

// MetricsHandler exposes the default prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// ServeMetrics serves the prometheus endpoint on addr and blocks.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}
