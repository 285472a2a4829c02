// Package metrics provides Prometheus collectors for volsnap.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "volsnap"

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Collector is a prometheus.Collector over snapshot orchestration activity.
type Collector struct {
	operations           *prometheus.CounterVec
	operationDuration    *prometheus.HistogramVec
	transitions          *prometheus.CounterVec
	duplicateCompletions prometheus.Counter
	gcPurged             *prometheus.CounterVec
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "operations_total",
				Help:      "The number of snapshot operations by operation, strategy and result.",
			}, []string{"operation", "strategy", "result"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "operation_duration_seconds",
				Help:      "The time taken by snapshot operations.",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 30, 120, 600},
			}, []string{"operation", "strategy"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "state_transitions_total",
				Help:      "The number of committed state transitions.",
			}, []string{"machine", "event"},
		),
		duplicateCompletions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "duplicate_completions_total",
				Help:      "The number of backend completions dropped because the call had already completed.",
			},
		),
		gcPurged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "gc_purged_total",
				Help:      "The number of rows purged by garbage collection.",
			}, []string{"kind"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.operations.Describe(ch)
	c.operationDuration.Describe(ch)
	c.transitions.Describe(ch)
	c.duplicateCompletions.Describe(ch)
	c.gcPurged.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.operations.Collect(ch)
	c.operationDuration.Collect(ch)
	c.transitions.Collect(ch)
	c.duplicateCompletions.Collect(ch)
	c.gcPurged.Collect(ch)
}

// ObserveOperation records one finished operation.
func (c *Collector) ObserveOperation(operation, strategy string, success bool, d time.Duration) {
	result := ResultSuccess
	if !success {
		result = ResultFailure
	}
	c.operations.WithLabelValues(operation, strategy, result).Inc()
	c.operationDuration.WithLabelValues(operation, strategy).Observe(d.Seconds())
}

// IncTransition records a committed state transition.
func (c *Collector) IncTransition(machine, event string) {
	c.transitions.WithLabelValues(machine, event).Inc()
}

// IncDuplicateCompletion records a dropped completion.
func (c *Collector) IncDuplicateCompletion() {
	c.duplicateCompletions.Inc()
}

// AddGCPurged records purged rows of the given kind.
func (c *Collector) AddGCPurged(kind string, n int) {
	c.gcPurged.WithLabelValues(kind).Add(float64(n))
}

var (
	defaultOnce      sync.Once
	defaultCollector *Collector
)

// Default returns the process wide collector.
func Default() *Collector {
	defaultOnce.Do(func() {
		defaultCollector = NewCollector()
	})
	return defaultCollector
}

// Register registers the default collector with reg.
func Register(reg prometheus.Registerer) error {
	return reg.Register(Default())
}
