package plugin

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics for the plugin runtime.
type Metrics struct {
	InvocationsTotal   *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec
	DenialsTotal       *prometheus.CounterVec
	BreakerTripsTotal  *prometheus.CounterVec
	PluginsInstalled   prometheus.Gauge
}

// NewMetrics creates and registers the runtime metrics.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		InvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fathom_plugin_invocations_total",
				Help: "Total hook invocations by plugin, hook and outcome",
			},
			[]string{"plugin", "hook", "outcome"},
		),
		InvocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fathom_plugin_invocation_duration_seconds",
				Help:    "Hook invocation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"hook"},
		),
		DenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fathom_plugin_permission_denials_total",
				Help: "Calls to ungranted host API operations",
			},
			[]string{"plugin"},
		),
		BreakerTripsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fathom_plugin_breaker_trips_total",
				Help: "Circuit breaker trips that force-disabled a plugin",
			},
			[]string{"plugin"},
		),
		PluginsInstalled: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fathom_plugins_installed",
				Help: "Number of installed plugins",
			},
		),
	}

	registry.MustRegister(
		m.InvocationsTotal,
		m.InvocationDuration,
		m.DenialsTotal,
		m.BreakerTripsTotal,
		m.PluginsInstalled,
	)
	return m
}

// outcomeLabel classifies a result for the invocations counter.
func outcomeLabel(res HookInvocationResult) string {
	switch {
	case res.Success:
		return "success"
	case isTimeout(res.Err):
		return "timeout"
	default:
		return "error"
	}
}
