// Package metrics exposes Prometheus collectors for the planner.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appLog "calplanner/internal/log"
	"calplanner/internal/recurrence"
)

const namespace = "calplanner"

// Metrics owns a private registry so several servers (or tests) can coexist
// in one process. All methods are safe on a nil receiver.
type Metrics struct {
	reg *prometheus.Registry

	expansions      prometheus.Counter
	occurrences     prometheus.Counter
	truncations     prometheus.Counter
	conflictChecks  prometheus.Counter
	conflictsFound  prometheus.Counter
	templates       prometheus.Gauge
	snapshots       *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		reg: reg,
		expansions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expansions_total",
			Help:      "Templates expanded into occurrences.",
		}),
		occurrences: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "occurrences_total",
			Help:      "Occurrences produced by expansion.",
		}),
		truncations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expansion_truncations_total",
			Help:      "Expansions stopped at the occurrence cap.",
		}),
		conflictChecks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_checks_total",
			Help:      "Conflict checks performed.",
		}),
		conflictsFound: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_found_total",
			Help:      "Conflict checks that found a clash.",
		}),
		templates: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "templates",
			Help:      "Stored event templates after the last load.",
		}),
		snapshots: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Scheduled ICS snapshots by result.",
		}, []string{"result"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	appLog.Debug("metrics registered")
	return m
}

// Registry exposes the underlying registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// WatchCache publishes the cache's counters.
func (m *Metrics) WatchCache(c *recurrence.Cache) {
	if m == nil || c == nil {
		return
	}
	f := promauto.With(m.reg)
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Expansion cache hits.",
	}, func() float64 { return float64(c.Stats().Hits) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Expansion cache misses.",
	}, func() float64 { return float64(c.Stats().Misses) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Live entries in the expansion cache.",
	}, func() float64 { return float64(c.Stats().ActiveEntries) })
}

// ObserveExpansion records one ExpandAll call over templates.
func (m *Metrics) ObserveExpansion(templates int, res recurrence.ExpandAllResult) {
	if m == nil {
		return
	}
	m.expansions.Add(float64(templates))
	m.occurrences.Add(float64(len(res.Occurrences)))
	m.truncations.Add(float64(len(res.TruncatedIDs)))
}

// ObserveConflictCheck records one conflict check.
func (m *Metrics) ObserveConflictCheck(found bool) {
	if m == nil {
		return
	}
	m.conflictChecks.Inc()
	if found {
		m.conflictsFound.Inc()
	}
}

// SetTemplates records the stored template count.
func (m *Metrics) SetTemplates(n int) {
	if m == nil {
		return
	}
	m.templates.Set(float64(n))
}

// ObserveSnapshot records a snapshot run.
func (m *Metrics) ObserveSnapshot(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.snapshots.WithLabelValues(result).Inc()
}

// ObserveRequest records a finished HTTP request.
func (m *Metrics) ObserveRequest(route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
