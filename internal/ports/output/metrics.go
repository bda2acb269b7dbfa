package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncItems increments the per-dataset item counter for an outcome.
	IncItems(dataset, outcome string, n int)

	// AddBytes records fetched payload bytes.
	AddBytes(dataset string, n int64)

	// ObserveFetchDuration records a single fetch duration.
	ObserveFetchDuration(dataset string, duration time.Duration)

	// ObserveRun records a finished run.
	ObserveRun(dataset string, success bool, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncItems implements MetricsCollector.
func (n *NoOpMetrics) IncItems(_, _ string, _ int) {}

// AddBytes implements MetricsCollector.
func (n *NoOpMetrics) AddBytes(_ string, _ int64) {}

// ObserveFetchDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveFetchDuration(_ string, _ time.Duration) {}

// ObserveRun implements MetricsCollector.
func (n *NoOpMetrics) ObserveRun(_ string, _ bool, _ time.Duration) {}
