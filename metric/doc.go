// Package metric provides the Prometheus registry and HTTP exporter for the
// config store.
//
// NewMetricsRegistry registers the core store metrics (Metrics) together with
// the Go runtime and process collectors. Components add their own collectors
// through the MetricsRegistrar interface, keyed by component and metric name
// so a component can unregister what it registered:
//
//	registry := metric.NewMetricsRegistry()
//	hits := prometheus.NewCounter(prometheus.CounterOpts{Name: "cache_hits_total"})
//	if err := registry.RegisterCounter("cache", "cache_hits_total", hits); err != nil {
//	    return err
//	}
//
// Registering the same component and metric twice returns an invalid-class
// error, as does a name collision inside Prometheus.
//
// Every Record method on Metrics is safe on a nil receiver, so components can
// be built without a registry in tests.
//
// Server serves the registry on /metrics (OpenMetrics enabled) plus a plain
// /health probe.
package metric
