// Package metrics exports AI routing metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hrygo/shepherd/ai/core/llm"
	"github.com/hrygo/shepherd/ai/routing"
)

const (
	namespace = "shepherd"
	subsystem = "ai"
)

// PrometheusExporter records routing events. It implements routing.Recorder.
type PrometheusExporter struct {
	registry *prometheus.Registry

	selections     *prometheus.CounterVec
	attempts       *prometheus.CounterVec
	attemptLatency *prometheus.HistogramVec
	fallbacks      *prometheus.CounterVec
	terminal       *prometheus.CounterVec
	compactMode    prometheus.Gauge
	llmTokensUsed  *prometheus.CounterVec
}

var _ routing.Recorder = (*PrometheusExporter)(nil)

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64

	// RuntimeCollectors adds the Go runtime and process collectors.
	RuntimeCollectors bool
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 15, 30, 45, 60},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.selections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "model_selections_total",
			Help:      "Primary model selections by route type",
		},
		[]string{"model", "route_type"},
	)

	e.attempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "attempts_total",
			Help:      "Backend attempts by model, attempt kind and outcome",
		},
		[]string{"model", "attempt", "status"},
	)

	e.attemptLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "attempt_latency_seconds",
			Help:      "Backend attempt latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"model", "attempt"},
	)

	e.fallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fallbacks_total",
			Help:      "Fallback attempts by primary failure reason",
		},
		[]string{"reason"},
	)

	e.terminal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "terminal_failures_total",
			Help:      "Requests where both primary and fallback failed",
		},
		[]string{"route_type"},
	)

	e.compactMode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "compact_mode",
			Help:      "1 when compact mode is enabled",
		},
	)

	e.llmTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "llm_tokens_total",
			Help:      "Total LLM tokens consumed",
		},
		[]string{"model", "token_type"},
	)

	registry.MustRegister(
		e.selections,
		e.attempts,
		e.attemptLatency,
		e.fallbacks,
		e.terminal,
		e.compactMode,
		e.llmTokensUsed,
	)
	if cfg.RuntimeCollectors {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return e
}

// RecordSelection records the primary model chosen for a request.
func (e *PrometheusExporter) RecordSelection(model, routeType string) {
	e.selections.WithLabelValues(model, routeType).Inc()
}

// RecordAttempt records one backend attempt and its latency.
func (e *PrometheusExporter) RecordAttempt(model, attempt, status string, latency time.Duration) {
	e.attempts.WithLabelValues(model, attempt, status).Inc()
	e.attemptLatency.WithLabelValues(model, attempt).Observe(latency.Seconds())
}

// RecordFallback records a fallback triggered by reason.
func (e *PrometheusExporter) RecordFallback(reason string) {
	e.fallbacks.WithLabelValues(reason).Inc()
}

// RecordTerminalFailure records a request that exhausted its fallback.
func (e *PrometheusExporter) RecordTerminalFailure(routeType string) {
	e.terminal.WithLabelValues(routeType).Inc()
}

// RecordCompactMode records the current compact mode state.
func (e *PrometheusExporter) RecordCompactMode(enabled bool) {
	if enabled {
		e.compactMode.Set(1)
		return
	}
	e.compactMode.Set(0)
}

// RecordUsage records token usage reported by the backend.
func (e *PrometheusExporter) RecordUsage(model string, usage llm.Usage) {
	if usage.PromptTokens > 0 {
		e.llmTokensUsed.WithLabelValues(model, "prompt").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		e.llmTokensUsed.WithLabelValues(model, "completion").Add(float64(usage.CompletionTokens))
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// ServeHTTP implements http.Handler for the metrics endpoint.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.Handler().ServeHTTP(w, r)
}

// Registry returns the Prometheus registry.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}
