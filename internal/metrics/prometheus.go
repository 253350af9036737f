// Package metrics exports advising server metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "huskytrack"

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64

	// Optional gauges sampled at scrape time.
	ActiveSessions  func() int
	LiveConnections func() int
}

// DefaultConfig returns default exporter configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	}
}

// Exporter records chat and gateway metrics. It implements
// chat.TurnRecorder and gateway.Recorder.
type Exporter struct {
	registry *prometheus.Registry

	turnLatency     *prometheus.HistogramVec
	turns           *prometheus.CounterVec
	evictions       prometheus.Counter
	gatewayRequests *prometheus.CounterVec
	gatewayLatency  prometheus.Histogram
}

// NewExporter creates and registers the metric set.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.turnLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "turn_latency_seconds",
			Help:      "Time from sending a student message to storing the reply",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"outcome"},
	)
	e.turns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Total number of completed chat turns",
		},
		[]string{"outcome"},
	)
	e.evictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "session_evictions_total",
			Help:      "Sessions dropped after sitting idle",
		},
	)
	e.gatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Inference gateway requests by result",
		},
		[]string{"result"},
	)
	e.gatewayLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "upstream_latency_seconds",
			Help:      "Latency of the upstream chat function",
			Buckets:   cfg.LatencyBuckets,
		},
	)

	registry.MustRegister(e.turnLatency, e.turns, e.evictions, e.gatewayRequests, e.gatewayLatency)

	if cfg.ActiveSessions != nil {
		f := cfg.ActiveSessions
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "chat",
				Name:      "active_sessions",
				Help:      "Number of loaded chat sessions",
			},
			func() float64 { return float64(f()) },
		))
	}
	if cfg.LiveConnections != nil {
		f := cfg.LiveConnections
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "live",
				Name:      "connections",
				Help:      "Number of open live WebSocket connections",
			},
			func() float64 { return float64(f()) },
		))
	}

	return e
}

// RecordTurn records one completed chat turn.
func (e *Exporter) RecordTurn(outcome string, d time.Duration) {
	e.turns.WithLabelValues(outcome).Inc()
	e.turnLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordEviction counts one idle session eviction.
func (e *Exporter) RecordEviction() {
	e.evictions.Inc()
}

// RecordGateway records one gateway request. d is zero when the upstream
// was never called.
func (e *Exporter) RecordGateway(result string, d time.Duration) {
	e.gatewayRequests.WithLabelValues(result).Inc()
	if d > 0 {
		e.gatewayLatency.Observe(d.Seconds())
	}
}

// Handler returns the /metrics HTTP handler.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}
