package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/configstore/metric"
)

// cacheMetrics holds Prometheus metrics for cache operations.
type cacheMetrics struct {
	requests     prometheus.Counter
	hits         prometheus.Counter
	misses       prometheus.Counter
	evictions    prometheus.Counter
	loadFailures prometheus.Counter
	loadDuration prometheus.Histogram

	size    prometheus.Gauge
	entries prometheus.Gauge
}

// newCacheMetrics creates and registers cache metrics with the provided registry.
func newCacheMetrics(registry *metric.MetricsRegistry, prefix string) (*cacheMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	m := &cacheMetrics{
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "configstore",
			Subsystem:   "cache",
			Name:        "requests_total",
			ConstLabels: labels,
			Help:        "Total number of cache lookups",
		}),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "configstore",
			Subsystem:   "cache",
			Name:        "hits_total",
			ConstLabels: labels,
			Help:        "Total number of cache hits",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "configstore",
			Subsystem:   "cache",
			Name:        "misses_total",
			ConstLabels: labels,
			Help:        "Total number of cache misses",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "configstore",
			Subsystem:   "cache",
			Name:        "evictions_total",
			ConstLabels: labels,
			Help:        "Total number of scopes evicted by capacity or expiry",
		}),
		loadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "configstore",
			Subsystem:   "cache",
			Name:        "load_failures_total",
			ConstLabels: labels,
			Help:        "Total number of failed loads",
		}),
		loadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "configstore",
			Subsystem:   "cache",
			Name:        "load_duration_seconds",
			ConstLabels: labels,
			Help:        "Time spent loading a scope from persistence",
			Buckets:     prometheus.DefBuckets,
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "configstore",
			Subsystem:   "cache",
			Name:        "size",
			ConstLabels: labels,
			Help:        "Current number of cached scopes",
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "configstore",
			Subsystem:   "cache",
			Name:        "entries",
			ConstLabels: labels,
			Help:        "Current number of cached keys across all scopes",
		}),
	}

	if err := registry.RegisterCounter(prefix, "cache_requests", m.requests); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "cache_hits", m.hits); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "cache_misses", m.misses); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "cache_evictions", m.evictions); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "cache_load_failures", m.loadFailures); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram(prefix, "cache_load_duration", m.loadDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "cache_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "cache_entries", m.entries); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *cacheMetrics) recordLookup(hit bool) {
	if m == nil {
		return
	}
	m.requests.Inc()
	if hit {
		m.hits.Inc()
	} else {
		m.misses.Inc()
	}
}

func (m *cacheMetrics) recordEviction() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

func (m *cacheMetrics) recordLoad(seconds float64, failed bool) {
	if m == nil {
		return
	}
	m.loadDuration.Observe(seconds)
	if failed {
		m.loadFailures.Inc()
	}
}

func (m *cacheMetrics) updateSize(scopes, entries int64) {
	if m == nil {
		return
	}
	m.size.Set(float64(scopes))
	m.entries.Set(float64(entries))
}
