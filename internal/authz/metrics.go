package authz

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects engine counters. All methods are nil-safe so the
// engine runs unchanged without a registry (tests, CLI tools).
type Metrics struct {
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	invalidations   *prometheus.CounterVec
	policyDecisions *prometheus.CounterVec
	computeDuration prometheus.Histogram
}

// NewMetrics registers the engine metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "innledger_authz_cache_hits_total",
			Help: "Permission cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "innledger_authz_cache_misses_total",
			Help: "Permission cache misses.",
		}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "innledger_authz_invalidations_total",
			Help: "Cache invalidations by scope.",
		}, []string{"scope"}),
		policyDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "innledger_authz_policy_decisions_total",
			Help: "Policy evaluation outcomes.",
		}, []string{"outcome"}),
		computeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "innledger_authz_compute_duration_seconds",
			Help:    "Duration of full permission computations.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.cacheHits, m.cacheMisses, m.invalidations, m.policyDecisions, m.computeDuration)
	}
	return m
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) Invalidation(scope string) {
	if m != nil {
		m.invalidations.WithLabelValues(scope).Inc()
	}
}

func (m *Metrics) PolicyDecision(outcome string) {
	if m != nil {
		m.policyDecisions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveCompute(d time.Duration) {
	if m != nil {
		m.computeDuration.Observe(d.Seconds())
	}
}
