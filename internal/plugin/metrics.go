package plugin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for plugin dispatch. Pass to
// NewManager with WithMetrics.
type Metrics struct {
	InvocationsTotal *prometheus.CounterVec
	InvocationTime   *prometheus.HistogramVec
	ViolationsTotal  *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
}

// NewMetrics creates and registers all dispatch metrics with the given
// registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		InvocationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "plugin_invocations_total",
				Help:      "Total plugin hook invocations",
			},
			[]string{"plugin", "hook", "outcome"}, // outcome=ok/violation/error/timeout
		),
		InvocationTime: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "toolgate",
				Name:      "plugin_invocation_seconds",
				Help:      "Plugin hook invocation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"plugin", "hook"},
		),
		ViolationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "plugin_violations_total",
				Help:      "Total policy violations raised by plugins",
			},
			[]string{"plugin", "hook", "mode"},
		),
		ErrorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "plugin_errors_total",
				Help:      "Total plugin invocation errors, including timeouts",
			},
			[]string{"plugin", "hook"},
		),
	}
}

// Invocation outcome labels.
const (
	outcomeOK        = "ok"
	outcomeViolation = "violation"
	outcomeError     = "error"
	outcomeTimeout   = "timeout"
)
