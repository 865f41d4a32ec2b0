package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "configstore"

// Metrics contains the store-wide metrics shared by every component
type Metrics struct {
	// Store operations
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	ErrorsTotal       *prometheus.CounterVec

	// Change feed
	ChangeEvents      *prometheus.CounterVec
	ChangeFeedState   *prometheus.GaugeVec
	ChangeFeedRetries *prometheus.CounterVec

	HealthCheckStatus *prometheus.GaugeVec

	// NATS
	NATSConnected  prometheus.Gauge
	NATSRTT        prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates the core store metrics
func NewMetrics() *Metrics {
	return &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "operations_total",
				Help:      "Total number of store operations",
			},
			[]string{"operation", "status"},
		),

		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "operation_duration_seconds",
				Help:      "Store operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by kind",
			},
			[]string{"component", "kind"},
		),

		ChangeEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "changefeed",
				Name:      "events_total",
				Help:      "Change events delivered, by collection and operation",
			},
			[]string{"collection", "op"},
		),

		ChangeFeedState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "changefeed",
				Name:      "state",
				Help:      "Watcher state (0=stopped, 1=starting, 2=running, 3=recovering, 4=failed)",
			},
			[]string{"collection"},
		),

		ChangeFeedRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "changefeed",
				Name:      "retries_total",
				Help:      "Watch restart attempts after a stream failure",
			},
			[]string{"collection"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

func (c *Metrics) register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.OperationsTotal,
		c.OperationDuration,
		c.ErrorsTotal,
		c.ChangeEvents,
		c.ChangeFeedState,
		c.ChangeFeedRetries,
		c.HealthCheckStatus,
		c.NATSConnected,
		c.NATSRTT,
		c.NATSReconnects,
	)
}

// RecordOperation counts a store operation and observes its duration
func (c *Metrics) RecordOperation(operation string, err error, duration time.Duration) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.OperationsTotal.WithLabelValues(operation, status).Inc()
	c.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordError increments the error counter
func (c *Metrics) RecordError(component, kind string) {
	if c == nil {
		return
	}
	c.ErrorsTotal.WithLabelValues(component, kind).Inc()
}

// RecordChangeEvent counts a delivered change event
func (c *Metrics) RecordChangeEvent(collection, op string) {
	if c == nil {
		return
	}
	c.ChangeEvents.WithLabelValues(collection, op).Inc()
}

// RecordChangeFeedState updates the watcher state gauge
func (c *Metrics) RecordChangeFeedState(collection string, state int) {
	if c == nil {
		return
	}
	c.ChangeFeedState.WithLabelValues(collection).Set(float64(state))
}

// RecordChangeFeedRetry counts a watch restart attempt
func (c *Metrics) RecordChangeFeedRetry(collection string) {
	if c == nil {
		return
	}
	c.ChangeFeedRetries.WithLabelValues(collection).Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	if c == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(component).Set(value)
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSRTT updates NATS round-trip time
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	if c == nil {
		return
	}
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	if c == nil {
		return
	}
	c.NATSReconnects.Inc()
}
