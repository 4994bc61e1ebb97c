package pool

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// MetricsSubsystem is a subsystem shared by all metrics exposed by this
// package.
const MetricsSubsystem = "pool"

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of ACTIVE connections.
	Active metrics.Gauge
	// Number of IDLE connections.
	Idle metrics.Gauge
	// Connections created by a factory.
	Created metrics.Counter
	// Connections closed for any reason.
	Closed metrics.Counter
	// Idle connections evicted to make room or trim the pool.
	Evicted metrics.Counter
	// Factory failures, recorded errors and close failures.
	Errors metrics.Counter
	// Acquires served by an idle connection.
	Hits metrics.Counter
	// Acquires that created a connection.
	Misses metrics.Counter
}

// PrometheusMetrics returns Metrics built using the Prometheus client
// library and registered with reg. A nil reg means the default registerer.
// Registering the same namespace twice with one registerer panics.
func PrometheusMetrics(namespace string, reg stdprometheus.Registerer) *Metrics {
	if reg == nil {
		reg = stdprometheus.DefaultRegisterer
	}
	return &Metrics{
		Active: newGauge(reg, stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "active_connections",
			Help:      "Number of connections currently acquired.",
		}, []string{}),
		Idle: newGauge(reg, stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "idle_connections",
			Help:      "Number of open connections available for reuse.",
		}, []string{}),
		Created: newCounter(reg, stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "created_total",
			Help:      "Number of connections created.",
		}, []string{}),
		Closed: newCounter(reg, stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "closed_total",
			Help:      "Number of connections closed.",
		}, []string{}),
		Evicted: newCounter(reg, stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "evicted_total",
			Help:      "Number of idle connections evicted.",
		}, []string{}),
		Errors: newCounter(reg, stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "errors_total",
			Help:      "Number of connection errors.",
		}, []string{}),
		Hits: newCounter(reg, stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "hits_total",
			Help:      "Number of acquires served from the pool.",
		}, []string{}),
		Misses: newCounter(reg, stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "misses_total",
			Help:      "Number of acquires that created a connection.",
		}, []string{}),
	}
}

func newCounter(reg stdprometheus.Registerer, opts stdprometheus.CounterOpts, labels []string) metrics.Counter {
	vec := stdprometheus.NewCounterVec(opts, labels)
	reg.MustRegister(vec)
	return prometheus.NewCounter(vec)
}

func newGauge(reg stdprometheus.Registerer, opts stdprometheus.GaugeOpts, labels []string) metrics.Gauge {
	vec := stdprometheus.NewGaugeVec(opts, labels)
	reg.MustRegister(vec)
	return prometheus.NewGauge(vec)
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Active:  discard.NewGauge(),
		Idle:    discard.NewGauge(),
		Created: discard.NewCounter(),
		Closed:  discard.NewCounter(),
		Evicted: discard.NewCounter(),
		Errors:  discard.NewCounter(),
		Hits:    discard.NewCounter(),
		Misses:  discard.NewCounter(),
	}
}
