// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the core emits.
type Metrics struct {
	AnalysesTotal     *prometheus.CounterVec
	AnalysisDuration  prometheus.Histogram
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	SingleFlightWaits prometheus.Counter
	RecordsFetched    prometheus.Counter
	ScheduleRuns      *prometheus.CounterVec
}

// New registers the collectors on reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AnalysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "freightlens",
			Name:      "analyses_total",
			Help:      "Analyses by terminal status.",
		}, []string{"status"}),
		AnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "freightlens",
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of completed analysis computations.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2.5, 10),
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "freightlens",
			Name:      "result_cache_hits_total",
			Help:      "Analyses served from the ready cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "freightlens",
			Name:      "result_cache_misses_total",
			Help:      "Analyses that had to compute.",
		}),
		SingleFlightWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "freightlens",
			Name:      "single_flight_waits_total",
			Help:      "Claim attempts that found the fingerprint in flight elsewhere.",
		}),
		RecordsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "freightlens",
			Name:      "records_fetched_total",
			Help:      "Freight records consumed by aggregations.",
		}),
		ScheduleRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "freightlens",
			Name:      "schedule_runs_total",
			Help:      "Schedule executor runs by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.AnalysesTotal, m.AnalysisDuration,
		m.CacheHits, m.CacheMisses, m.SingleFlightWaits,
		m.RecordsFetched, m.ScheduleRuns,
	)
	return m
}

// Nop returns metrics registered on a throwaway registry, for tests and
// callers that do not scrape.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
