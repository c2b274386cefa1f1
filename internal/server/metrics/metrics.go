// Package metrics holds the Prometheus collectors exported by the server.
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medvault"

type Metrics struct {
	registry *prometheus.Registry

	cacheLookups    *prometheus.CounterVec
	accessDecisions *prometheus.CounterVec
	auditFailures   prometheus.Counter
	ingestEvents    *prometheus.CounterVec
	ingestLag       prometheus.Gauge
	ingestBlock     prometheus.Gauge
	ingestRetries   prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New registers every collector, plus the Go and process collectors, on a
// private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Record cache lookups by kind and result (hit, miss, error).",
		}, []string{"kind", "result"}),
		accessDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "access",
			Name:      "decisions_total",
			Help:      "Access decisions by outcome.",
		}, []string{"outcome"}),
		auditFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "write_failures_total",
			Help:      "Audit entries that could not be persisted.",
		}),
		ingestEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Ledger events processed by type and result (applied, stale, malformed).",
		}, []string{"type", "result"}),
		ingestLag: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_lag_seconds",
			Help:      "Delay between a ledger event's block time and its application to the mirror.",
		}),
		ingestBlock: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "last_block",
			Help:      "Block number of the last applied ledger event.",
		}),
		ingestRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "retries_total",
			Help:      "Ledger connection attempts that failed and were retried.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) CacheLookup(kind, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) AccessDecision(outcome string) {
	if m == nil {
		return
	}
	m.accessDecisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AuditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

func (m *Metrics) IngestEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.ingestEvents.WithLabelValues(eventType, result).Inc()
}

// IngestApplied records the position and lag of the last applied event.
func (m *Metrics) IngestApplied(block uint64, lag time.Duration) {
	if m == nil {
		return
	}
	m.ingestBlock.Set(float64(block))
	if lag < 0 {
		lag = 0
	}
	m.ingestLag.Set(lag.Seconds())
}

func (m *Metrics) IngestRetry() {
	if m == nil {
		return
	}
	m.ingestRetries.Inc()
}

func (m *Metrics) HTTPRequest(route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
