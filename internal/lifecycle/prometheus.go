// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements MetricsCollector on a private registry.
type PrometheusCollector struct {
	transitions        *prometheus.CounterVec
	operations         *prometheus.CounterVec
	flushSize          prometheus.Histogram
	flushFailures      prometheus.Counter
	flushDuration      prometheus.Histogram
	resolutionFailures *prometheus.CounterVec
	modules            prometheus.Gauge

	registry *prometheus.Registry
}

var _ MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates a collector whose metric names are prefixed
// with namespace ("modkit" when empty).
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	if namespace == "" {
		namespace = "modkit"
	}

	pc := &PrometheusCollector{
		registry: prometheus.NewRegistry(),
	}

	pc.transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "module_state_transitions_total",
			Help:      "Total number of module state transitions",
		},
		[]string{"module", "from_state", "to_state"},
	)

	pc.operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategy_operations_total",
			Help:      "Total number of update strategy operations",
		},
		[]string{"strategy", "operation", "status"},
	)

	pc.flushSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_contexts",
			Help:      "Number of runtime contexts reconciled per flush",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	pc.flushFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_failures_total",
			Help:      "Total number of runtime contexts that failed to reconcile during a flush",
		},
	)

	pc.flushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Duration of deferred flushes",
			Buckets:   prometheus.DefBuckets,
		},
	)

	pc.resolutionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolution_failures_total",
			Help:      "Total number of module resolution failures",
		},
		[]string{"module"},
	)

	pc.modules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "modules_installed",
			Help:      "Number of installed modules",
		},
	)

	pc.registry.MustRegister(
		pc.transitions,
		pc.operations,
		pc.flushSize,
		pc.flushFailures,
		pc.flushDuration,
		pc.resolutionFailures,
		pc.modules,
	)

	return pc
}

// StateTransition records a module state change.
func (pc *PrometheusCollector) StateTransition(module string, from, to State) {
	pc.transitions.WithLabelValues(module, from.String(), to.String()).Inc()
}

// StrategyOperation records one update-strategy operation.
func (pc *PrometheusCollector) StrategyOperation(strategy, op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	pc.operations.WithLabelValues(strategy, op, status).Inc()
}

// Flush records a drained pending set.
func (pc *PrometheusCollector) Flush(size, failures int, duration time.Duration) {
	pc.flushSize.Observe(float64(size))
	pc.flushFailures.Add(float64(failures))
	pc.flushDuration.Observe(duration.Seconds())
}

// ResolutionFailure records a module that did not resolve.
func (pc *PrometheusCollector) ResolutionFailure(module string) {
	pc.resolutionFailures.WithLabelValues(module).Inc()
}

// Modules records the number of installed modules.
func (pc *PrometheusCollector) Modules(n int) {
	pc.modules.Set(float64(n))
}

// Registry returns the private registry holding the collector's metrics.
func (pc *PrometheusCollector) Registry() *prometheus.Registry {
	return pc.registry
}

// WriteTextfile writes the current metrics in the text exposition format,
// suitable for the node exporter textfile collector.
func (pc *PrometheusCollector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, pc.registry)
}
