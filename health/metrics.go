package health

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// MetricsSubsystem is a subsystem shared by all metrics exposed by this
// package.
const MetricsSubsystem = "health"

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of tracked peers, labeled by status.
	Peers metrics.Gauge
	// Ping round-trip time in seconds.
	PingLatency metrics.Histogram
	// Failed pings and runtime peer errors.
	PingFailures metrics.Counter
	// Reconnect attempts started.
	ReconnectAttempts metrics.Counter
	// Reconnect attempts that succeeded.
	ReconnectSuccesses metrics.Counter
	// Peers whose reconnect attempts were exhausted.
	ReconnectFailures metrics.Counter
	// 1 while the local network is online.
	NetworkOnline metrics.Gauge
}

// PrometheusMetrics returns Metrics built using the Prometheus client
// library and registered with reg. A nil reg means the default registerer.
// Registering the same namespace twice with one registerer panics.
func PrometheusMetrics(namespace string, reg stdprometheus.Registerer) *Metrics {
	if reg == nil {
		reg = stdprometheus.DefaultRegisterer
	}
	return &Metrics{
		Peers: newGauge(reg, stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "peers",
			Help:      "Number of tracked peers by status.",
		}, []string{"status"}),
		PingLatency: newHistogram(reg, stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "ping_latency_seconds",
			Help:      "Ping round-trip time in seconds.",
			Buckets:   []float64{.01, .05, .1, .2, .5, 1, 2, 5},
		}, []string{}),
		PingFailures: newCounter(reg, stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "ping_failures_total",
			Help:      "Number of failed health checks.",
		}, []string{}),
		ReconnectAttempts: newCounter(reg, stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "reconnect_attempts_total",
			Help:      "Number of reconnect attempts.",
		}, []string{}),
		ReconnectSuccesses: newCounter(reg, stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "reconnect_successes_total",
			Help:      "Number of successful reconnects.",
		}, []string{}),
		ReconnectFailures: newCounter(reg, stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "reconnect_failures_total",
			Help:      "Number of peers that exhausted their reconnect attempts.",
		}, []string{}),
		NetworkOnline: newGauge(reg, stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "network_online",
			Help:      "Whether the local network is online.",
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

func newHistogram(reg stdprometheus.Registerer, opts stdprometheus.HistogramOpts, labels []string) metrics.Histogram {
	vec := stdprometheus.NewHistogramVec(opts, labels)
	reg.MustRegister(vec)
	return prometheus.NewHistogram(vec)
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Peers:              discard.NewGauge(),
		PingLatency:        discard.NewHistogram(),
		PingFailures:       discard.NewCounter(),
		ReconnectAttempts:  discard.NewCounter(),
		ReconnectSuccesses: discard.NewCounter(),
		ReconnectFailures:  discard.NewCounter(),
		NetworkOnline:      discard.NewGauge(),
	}
}
