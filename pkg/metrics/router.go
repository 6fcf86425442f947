package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RouterMetrics tracks the tenant connection pool cache.
type RouterMetrics struct {
	opened        prometheus.Counter
	dialFailures  prometheus.Counter
	evicted       *prometheus.CounterVec
	cached        prometheus.Gauge
	dialDuration  prometheus.Histogram
	sweepDuration prometheus.Histogram
}

// NewRouterMetrics registers the router collectors on the provided registerer.
func NewRouterMetrics(reg prometheus.Registerer) *RouterMetrics {
	if reg == nil {
		return &RouterMetrics{}
	}
	m := &RouterMetrics{
		opened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tenant_pools_opened_total",
			Help: "Tenant connection pools opened.",
		}),
		dialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tenant_pool_dial_failures_total",
			Help: "Failed attempts to open a tenant connection pool.",
		}),
		evicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenant_pools_closed_total",
			Help: "Tenant connection pools closed, by reason.",
		}, []string{"reason"}),
		cached: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tenant_pools_cached",
			Help: "Tenant connection pools currently cached.",
		}),
		dialDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tenant_pool_dial_duration_seconds",
			Help:    "Time spent resolving and opening a tenant pool.",
			Buckets: prometheus.DefBuckets,
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tenant_pool_eviction_sweep_seconds",
			Help:    "Duration of idle pool eviction sweeps.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.opened, m.dialFailures, m.evicted, m.cached, m.dialDuration, m.sweepDuration)
	return m
}

// PoolOpened records a freshly dialed pool.
func (m *RouterMetrics) PoolOpened(took time.Duration) {
	if m == nil || m.opened == nil {
		return
	}
	m.opened.Inc()
	m.cached.Inc()
	m.dialDuration.Observe(took.Seconds())
}

// DialFailed records a failed dial.
func (m *RouterMetrics) DialFailed() {
	if m == nil || m.dialFailures == nil {
		return
	}
	m.dialFailures.Inc()
}

// PoolClosed records a pool leaving the cache.
func (m *RouterMetrics) PoolClosed(reason string) {
	if m == nil || m.evicted == nil {
		return
	}
	m.evicted.WithLabelValues(normalizeLabel(reason)).Inc()
	m.cached.Dec()
}

// ObserveSweep records one eviction pass.
func (m *RouterMetrics) ObserveSweep(took time.Duration) {
	if m == nil || m.sweepDuration == nil {
		return
	}
	m.sweepDuration.Observe(took.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
