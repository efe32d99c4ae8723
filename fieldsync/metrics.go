package fieldsync

import "time"

// MetricsCollector provides hooks for observing the sync engine. The engine
// itself ships no metrics backend; hosts plug in their own collector.
type MetricsCollector interface {
	// RecordCycleDuration records how long a drive cycle took
	RecordCycleDuration(duration time.Duration)

	// RecordItemOutcome records one per-item result ("success", "failed",
	// "exhausted", "manual")
	RecordItemOutcome(entityType EntityType, outcome string)

	// RecordConflicts records the number of conflicts resolved in a cycle
	RecordConflicts(resolved int)

	// RecordRetries records retry attempts spent inside one item's sync call
	RecordRetries(count int)
}

// NoOpMetricsCollector is the default implementation that does nothing
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordCycleDuration(duration time.Duration)               {}
func (n *NoOpMetricsCollector) RecordItemOutcome(entityType EntityType, outcome string)  {}
func (n *NoOpMetricsCollector) RecordConflicts(resolved int)                             {}
func (n *NoOpMetricsCollector) RecordRetries(count int)                                  {}
