// Package metrics provides Prometheus instrumentation and a JSON stats
// endpoint for the Hookrelay intake server.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values for sink and channel counters.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// Metrics collects Prometheus counters and histograms for the relay.
type Metrics struct {
	registry *prometheus.Registry

	dispatchesTotal *prometheus.CounterVec
	sinkAppends     *prometheus.CounterVec
	channelSends    *prometheus.CounterVec
	dispatchLatency prometheus.Histogram
	rotationsTotal  prometheus.Counter
	rateLimited     prometheus.Counter

	mu            sync.Mutex
	startTime     time.Time
	acceptedCount int64
	rejectedCount int64
	errorCount    int64
	sinkCounts    map[string]int64 // "sink|result"
	channelCounts map[string]int64 // "channel|result"
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	dispatchesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hookrelay",
		Name:      "dispatches_total",
		Help:      "Total number of inbound dispatches by route and result.",
	}, []string{"route", "result"})

	sinkAppends := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hookrelay",
		Name:      "sink_appends_total",
		Help:      "Total sink append attempts by sink and outcome.",
	}, []string{"sink", "result"})

	channelSends := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hookrelay",
		Name:      "channel_sends_total",
		Help:      "Total channel send attempts by channel and outcome.",
	}, []string{"channel", "result"})

	dispatchLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hookrelay",
		Name:      "dispatch_duration_seconds",
		Help:      "End-to-end dispatch latency in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	rotationsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hookrelay",
		Name:      "file_rotations_total",
		Help:      "Total size-based rotations of the file sink.",
	})

	rateLimited := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hookrelay",
		Name:      "rate_limited_total",
		Help:      "Total intake requests rejected by the rate limiter.",
	})

	reg.MustRegister(dispatchesTotal, sinkAppends, channelSends,
		dispatchLatency, rotationsTotal, rateLimited)

	return &Metrics{
		registry:        reg,
		dispatchesTotal: dispatchesTotal,
		sinkAppends:     sinkAppends,
		channelSends:    channelSends,
		dispatchLatency: dispatchLatency,
		rotationsTotal:  rotationsTotal,
		rateLimited:     rateLimited,
		startTime:       time.Now(),
		sinkCounts:      make(map[string]int64),
		channelCounts:   make(map[string]int64),
	}
}

// RecordAccepted records a dispatch that passed validation and ran to
// completion.
func (m *Metrics) RecordAccepted(route string, duration time.Duration) {
	m.dispatchesTotal.WithLabelValues(route, "accepted").Inc()
	m.dispatchLatency.Observe(duration.Seconds())

	m.mu.Lock()
	m.acceptedCount++
	m.mu.Unlock()
}

// RecordRejected records a dispatch rejected at validation.
func (m *Metrics) RecordRejected(route string) {
	m.dispatchesTotal.WithLabelValues(route, "rejected").Inc()

	m.mu.Lock()
	m.rejectedCount++
	m.mu.Unlock()
}

// RecordError records a dispatch that failed with an orchestration error.
func (m *Metrics) RecordError(route string) {
	m.dispatchesTotal.WithLabelValues(route, "error").Inc()

	m.mu.Lock()
	m.errorCount++
	m.mu.Unlock()
}

// RecordSinkOutcome records one sink append attempt.
func (m *Metrics) RecordSinkOutcome(sinkName, result string) {
	m.sinkAppends.WithLabelValues(sinkName, result).Inc()

	m.mu.Lock()
	m.sinkCounts[sinkName+"|"+result]++
	m.mu.Unlock()
}

// RecordChannelOutcome records one channel send attempt.
func (m *Metrics) RecordChannelOutcome(channelName, result string) {
	m.channelSends.WithLabelValues(channelName, result).Inc()

	m.mu.Lock()
	m.channelCounts[channelName+"|"+result]++
	m.mu.Unlock()
}

// RecordRotation records one size-based file sink rotation.
func (m *Metrics) RecordRotation() {
	m.rotationsTotal.Inc()
}

// RecordRateLimited records one request rejected by the rate limiter.
func (m *Metrics) RecordRateLimited() {
	m.rateLimited.Inc()
}

// PrometheusHandler returns an HTTP handler that serves /metrics in
// Prometheus text format.
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StatsHandler returns an HTTP handler that serves a JSON stats summary.
func (m *Metrics) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		m.mu.Lock()
		stats := statsResponse{
			UptimeSeconds: time.Since(m.startTime).Seconds(),
			Dispatches: dispatchStats{
				Total:    m.acceptedCount + m.rejectedCount + m.errorCount,
				Accepted: m.acceptedCount,
				Rejected: m.rejectedCount,
				Errors:   m.errorCount,
			},
			Sinks:    copyCounts(m.sinkCounts),
			Channels: copyCounts(m.channelCounts),
		}
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	}
}

type statsResponse struct {
	UptimeSeconds float64          `json:"uptime_seconds"`
	Dispatches    dispatchStats    `json:"dispatches"`
	Sinks         map[string]int64 `json:"sinks"`
	Channels      map[string]int64 `json:"channels"`
}

type dispatchStats struct {
	Total    int64 `json:"total"`
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
	Errors   int64 `json:"errors"`
}

func copyCounts(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
