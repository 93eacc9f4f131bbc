// Package metrics provides Prometheus instrumentation for the memory engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for insertions.
const (
	OutcomeInserted       = "inserted"
	OutcomeExactDuplicate = "exact_duplicate"
	OutcomeNearDuplicate  = "near_duplicate"
)

// Collector records engine operations. A nil *Collector is valid and records nothing.
type Collector struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inserts    *prometheus.CounterVec
	warnings   *prometheus.CounterVec
	decay      *prometheus.CounterVec
	lockWait   prometheus.Histogram
}

// New creates the engine collectors and registers them with reg.
// A nil reg leaves them unregistered, which suits tests and short-lived CLIs.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "localmem",
				Name:      "operations_total",
				Help:      "Total number of engine operations by operation and status",
			},
			[]string{"op", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "localmem",
				Name:      "operation_duration_seconds",
				Help:      "Engine operation duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"op"},
		),
		inserts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "localmem",
				Name:      "add_outcomes_total",
				Help:      "Total number of insertion attempts by outcome",
			},
			[]string{"outcome"},
		),
		warnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "localmem",
				Name:      "warnings_total",
				Help:      "Total number of non-fatal warnings by kind",
			},
			[]string{"kind"},
		),
		decay: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "localmem",
				Name:      "decay_records_total",
				Help:      "Total number of records affected by decay passes by verdict",
			},
			[]string{"verdict"},
		),
		lockWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "localmem",
				Name:      "lock_wait_seconds",
				Help:      "Time spent waiting for the workspace lock",
				Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 1, 5, 10},
			},
		),
	}

	if reg != nil {
		reg.MustRegister(c.operations, c.duration, c.inserts, c.warnings, c.decay, c.lockWait)
	}
	return c
}

// ObserveOperation records one finished operation.
func (c *Collector) ObserveOperation(op string, started time.Time, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.operations.WithLabelValues(op, status).Inc()
	c.duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// RecordInsert records the outcome of an insertion attempt.
func (c *Collector) RecordInsert(outcome string) {
	if c == nil {
		return
	}
	c.inserts.WithLabelValues(outcome).Inc()
}

// RecordWarning records a non-fatal warning.
func (c *Collector) RecordWarning(kind string) {
	if c == nil {
		return
	}
	c.warnings.WithLabelValues(kind).Inc()
}

// RecordDecay adds n records to the count for verdict.
func (c *Collector) RecordDecay(verdict string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.decay.WithLabelValues(verdict).Add(float64(n))
}

// RecordLockWait records how long a lock acquisition waited.
func (c *Collector) RecordLockWait(d time.Duration) {
	if c == nil {
		return
	}
	c.lockWait.Observe(d.Seconds())
}
