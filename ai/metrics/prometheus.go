// Package metrics exports turn-loop observations in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hrygo/ledgerdesk/ai/conversation"
)

// Exporter implements the conversation.Recorder interface and publishes
// the downstream cache stats when a source is configured.
type Exporter struct {
	registry *prometheus.Registry

	turns       *prometheus.CounterVec
	turnRounds  prometheus.Histogram
	turnLatency prometheus.Histogram

	toolCalls  *prometheus.CounterVec
	toolErrors *prometheus.CounterVec

	authRefreshes prometheus.Counter
	silentRetries prometheus.Counter
}

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for the turn latency histogram (in seconds)
	LatencyBuckets []float64

	// CacheStats reports cumulative downstream cache hits and misses.
	// When set, the exporter publishes them as counters.
	CacheStats func() (hits, misses int64)
}

func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.turns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgerdesk",
			Subsystem: "ai",
			Name:      "turns_total",
			Help:      "Total number of conversation turns",
		},
		[]string{"outcome"},
	)

	e.turnRounds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ledgerdesk",
			Subsystem: "ai",
			Name:      "turn_rounds",
			Help:      "Model decision rounds per turn",
			Buckets:   []float64{1, 2, 3, 4, 5},
		},
	)

	e.turnLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ledgerdesk",
			Subsystem: "ai",
			Name:      "turn_latency_seconds",
			Help:      "Turn latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
	)

	e.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgerdesk",
			Subsystem: "ai",
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls",
		},
		[]string{"tool_name", "status"},
	)

	e.toolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgerdesk",
			Subsystem: "ai",
			Name:      "tool_errors_total",
			Help:      "Total number of tool errors",
		},
		[]string{"tool_name", "category"},
	)

	e.authRefreshes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ledgerdesk",
			Subsystem: "ai",
			Name:      "auth_refreshes_total",
			Help:      "Total number of accounting token refreshes",
		},
	)

	e.silentRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ledgerdesk",
			Subsystem: "ai",
			Name:      "silent_retries_total",
			Help:      "Total number of silent write retries",
		},
	)

	registry.MustRegister(
		e.turns,
		e.turnRounds,
		e.turnLatency,
		e.toolCalls,
		e.toolErrors,
		e.authRefreshes,
		e.silentRetries,
	)

	if cfg.CacheStats != nil {
		stats := cfg.CacheStats
		registry.MustRegister(
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "ledgerdesk",
				Subsystem: "ai",
				Name:      "cache_hits_total",
				Help:      "Total number of downstream cache hits",
			}, func() float64 {
				hits, _ := stats()
				return float64(hits)
			}),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "ledgerdesk",
				Subsystem: "ai",
				Name:      "cache_misses_total",
				Help:      "Total number of downstream cache misses",
			}, func() float64 {
				_, misses := stats()
				return float64(misses)
			}),
		)
	}

	return e
}

// ObserveTurn records one completed turn.
func (e *Exporter) ObserveTurn(rounds int, capped bool, duration time.Duration) {
	outcome := "success"
	if capped {
		outcome = "capped"
	}
	e.turns.WithLabelValues(outcome).Inc()
	e.turnRounds.Observe(float64(rounds))
	e.turnLatency.Observe(duration.Seconds())
}

// ObserveToolCall records a dispatched tool call and its outcome.
func (e *Exporter) ObserveToolCall(name string, err error) {
	if err == nil {
		e.toolCalls.WithLabelValues(name, "success").Inc()
		return
	}
	e.toolCalls.WithLabelValues(name, "error").Inc()
	e.toolErrors.WithLabelValues(name, conversation.Classify(err).Category.String()).Inc()
}

// ObserveTurnCounters folds the per-turn collaborator counters into the
// process totals.
func (e *Exporter) ObserveTurnCounters(authRefreshes, silentRetries int64) {
	if authRefreshes > 0 {
		e.authRefreshes.Add(float64(authRefreshes))
	}
	if silentRetries > 0 {
		e.silentRetries.Add(float64(silentRetries))
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}
