package domain

import "time"

// Notifier receives execution lifecycle events. Implementations must not
// block: the manager calls these inline on the persistence path, and the
// app layer wraps them in an async dispatcher.
type Notifier interface {
	// ExecutionStarted fires once per execution, before any ResultAdded.
	ExecutionStarted(executionID string, startedAt time.Time)
	// ResultAdded fires after each finding is persisted and counted. A nil
	// finding is a caller bug; implementations log and dispatch nothing.
	ResultAdded(executionID string, finding *Finding)
	// StatusChanged fires on the running-to-terminal transition.
	StatusChanged(executionID string, status ExecutionStatus)
	// ExecutionCompleted fires last, after counter reconciliation, with the
	// reconciled final count.
	ExecutionCompleted(executionID string, finalCount int64, completedAt time.Time)
}

// NopNotifier discards all lifecycle events.
type NopNotifier struct{}

// ExecutionStarted implements Notifier.
func (NopNotifier) ExecutionStarted(string, time.Time) {}

// ResultAdded implements Notifier.
func (NopNotifier) ResultAdded(string, *Finding) {}

// StatusChanged implements Notifier.
func (NopNotifier) StatusChanged(string, ExecutionStatus) {}

// ExecutionCompleted implements Notifier.
func (NopNotifier) ExecutionCompleted(string, int64, time.Time) {}

var _ Notifier = NopNotifier{}
