// Package metrics exposes Prometheus instruments for the scan loop.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flight-deal-scanner/internal/domain"
	"flight-deal-scanner/internal/fetcher"
)

const namespace = "flightscan"

// Metrics holds every collector registered by the scanner.
type Metrics struct {
	registry *prometheus.Registry

	// Scan cycle metrics
	CyclesTotal        *prometheus.CounterVec
	CycleDuration      prometheus.Histogram
	RoutesAttempted    prometheus.Counter
	RoutesFailed       prometheus.Counter
	RoutesSkipped      prometheus.Counter
	AnomaliesDetected  prometheus.Counter
	CandidatesTotal    *prometheus.CounterVec
	LastCycleTimestamp prometheus.Gauge

	// Provider metrics
	ProviderCalls   *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec

	// Budget and threshold state
	BudgetRemaining  prometheus.Gauge
	BudgetUsed       prometheus.Gauge
	SegmentThreshold *prometheus.GaugeVec
}

// New registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "cycles_total",
			Help:      "Scan cycles by outcome",
		}, []string{"outcome"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one scan cycle",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		RoutesAttempted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "routes_attempted_total",
			Help:      "Route passes dispatched",
		}),
		RoutesFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "routes_failed_total",
			Help:      "Route passes that ended in error or panic",
		}),
		RoutesSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "routes_skipped_budget_total",
			Help:      "Due routes skipped for lack of budget",
		}),
		AnomaliesDetected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "anomalies_total",
			Help:      "Fares flagged as anomalous",
		}),
		CandidatesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "candidates_total",
			Help:      "Validated candidates by segment and recommendation",
		}, []string{"segment", "recommendation"}),
		LastCycleTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time the last cycle finished",
		}),
		ProviderCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Fetch invocations by provider and source",
		}, []string{"provider", "source"}),
		ProviderLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "latency_seconds",
			Help:      "Fetch latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		BudgetRemaining: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "budget",
			Name:      "remaining_calls",
			Help:      "Provider calls left today",
		}),
		BudgetUsed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "budget",
			Name:      "used_calls",
			Help:      "Provider calls reserved today",
		}),
		SegmentThreshold: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "threshold",
			Name:      "discount_pct",
			Help:      "Current adaptive discount threshold per segment",
		}, []string{"segment"}),
	}
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveFetch is a fetcher outcome hook.
func (m *Metrics) ObserveFetch(provider string, res fetcher.Result) {
	source := "live"
	switch {
	case res.CacheHit:
		source = "cache"
	case res.Synthetic:
		source = "synthetic"
	}
	m.ProviderCalls.WithLabelValues(provider, source).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(res.Latency.Seconds())
}

// ObserveCycle records one finished scan cycle.
func (m *Metrics) ObserveCycle(c domain.ScanCycle) {
	outcome := "completed"
	if c.Halted {
		outcome = "halted"
	}
	m.CyclesTotal.WithLabelValues(outcome).Inc()
	m.CycleDuration.Observe(c.FinishedAt.Sub(c.StartedAt).Seconds())
	m.RoutesAttempted.Add(float64(c.Attempted))
	m.RoutesFailed.Add(float64(c.Failed))
	m.RoutesSkipped.Add(float64(c.SkippedBudget))
	m.AnomaliesDetected.Add(float64(c.Anomalies))
	m.LastCycleTimestamp.Set(float64(c.FinishedAt.Unix()))
}

// ObserveSkippedCycle counts a tick that did not run because another was in flight.
func (m *Metrics) ObserveSkippedCycle() {
	m.CyclesTotal.WithLabelValues("skipped").Inc()
}

// ObserveCandidate counts one validated candidate.
func (m *Metrics) ObserveCandidate(d domain.DealCandidate) {
	m.CandidatesTotal.WithLabelValues(string(d.Segment), string(d.Recommendation)).Inc()
}

// SetBudget publishes the ledger state.
func (m *Metrics) SetBudget(used, remaining int) {
	m.BudgetUsed.Set(float64(used))
	m.BudgetRemaining.Set(float64(remaining))
}

// SetThresholds publishes the current thresholds.
func (m *Metrics) SetThresholds(values map[domain.Segment]float64) {
	for seg, v := range values {
		m.SegmentThreshold.WithLabelValues(string(seg)).Set(v)
	}
}
