// Package storage defines the persistence boundary for the investigations
// service: record shapes, store interfaces, and sentinel errors.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a write conflicted with existing state, such as
	// a terminal-status transition replayed against a finished execution.
	ErrConflict = errors.New("record conflict")
)

// ExecutionStatus identifies one execution lifecycle state.
type ExecutionStatus string

const (
	// ExecutionStatusRunning means the investigation run is in flight.
	ExecutionStatusRunning ExecutionStatus = "running"
	// ExecutionStatusCompleted means the run finished normally.
	ExecutionStatusCompleted ExecutionStatus = "completed"
	// ExecutionStatusFailed means the run finished with an error.
	ExecutionStatusFailed ExecutionStatus = "failed"
)

// ResultSeverity identifies one finding severity level.
type ResultSeverity string

const (
	// ResultSeverityInfo marks lifecycle and summary messages.
	ResultSeverityInfo ResultSeverity = "info"
	// ResultSeverityAnomaly marks a rule-flagged business record.
	ResultSeverityAnomaly ResultSeverity = "anomaly"
	// ResultSeverityCritical marks an anomaly that needs immediate review.
	ResultSeverityCritical ResultSeverity = "critical"
)

// TypeRecord stores one investigator catalog row.
type TypeRecord struct {
	Code          string
	Name          string
	Description   string
	DefaultConfig string
	Active        bool
	CreatedAt     time.Time
}

// InstanceRecord stores one configured investigator.
type InstanceRecord struct {
	ID               string
	TypeCode         string
	Name             string
	Active           bool
	CreatedAt        time.Time
	LastExecutedAt   *time.Time
	TotalResultCount int64
}

// ExecutionRecord stores one investigation run.
type ExecutionRecord struct {
	ID          string
	InstanceID  string
	Status      ExecutionStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	ResultCount int64
}

// ResultRecord stores one emitted finding. Rows are append-only.
type ResultRecord struct {
	ID          int64
	ExecutionID string
	Severity    ResultSeverity
	Message     string
	PayloadJSON string
	CreatedAt   time.Time
}

// InvoiceRecord stores one scanned invoice. Amounts are integer cents.
type InvoiceRecord struct {
	ID                 string
	Number             string
	TotalCents         int64
	TaxCents           int64
	IssuedAt           time.Time
	HasAnomalies       bool
	LastInvestigatedAt *time.Time
}

// WaybillRecord stores one scanned waybill.
type WaybillRecord struct {
	ID                 string
	Number             string
	IssuedAt           time.Time
	DueAt              *time.Time
	DeliveredAt        *time.Time
	HasAnomalies       bool
	LastInvestigatedAt *time.Time
}

// CatalogStore persists investigator type reference data.
type CatalogStore interface {
	PutType(ctx context.Context, record TypeRecord) error
	GetType(ctx context.Context, code string) (TypeRecord, error)
	ListTypes(ctx context.Context) ([]TypeRecord, error)
}

// InstanceStore persists configured investigator instances.
type InstanceStore interface {
	PutInstance(ctx context.Context, record InstanceRecord) error
	GetInstance(ctx context.Context, id string) (InstanceRecord, error)
	ListInstances(ctx context.Context) ([]InstanceRecord, error)
	// MarkInstanceExecuted stamps the last run time and atomically adds the
	// run's reconciled result count to the instance aggregate.
	MarkInstanceExecuted(ctx context.Context, id string, executedAt time.Time, resultsAdded int64) error
	// DeleteInstance removes an instance together with all its executions
	// and their results in one transaction. Partial deletion is never
	// observable.
	DeleteInstance(ctx context.Context, id string) error
}

// ExecutionStore persists execution lifecycle state, including the single
// atomic counter primitive the result-accounting protocol depends on.
type ExecutionStore interface {
	PutExecution(ctx context.Context, record ExecutionRecord) error
	GetExecution(ctx context.Context, id string) (ExecutionRecord, error)
	ListExecutionIDs(ctx context.Context) ([]string, error)
	ListExecutionsByInstance(ctx context.Context, instanceID string) ([]ExecutionRecord, error)
	// IncrementResultCount adds delta to the execution counter as one
	// storage-level statement. Callers must never emulate this with a
	// read-modify-write sequence; concurrent read-add-write cycles lose
	// updates.
	IncrementResultCount(ctx context.Context, executionID string, delta int64) error
	// SetResultCount overwrites the counter. Reserved for drift correction.
	SetResultCount(ctx context.Context, executionID string, count int64) error
	// MarkExecutionTerminal transitions a running execution to a terminal
	// status. Returns ErrConflict when the execution already reached a
	// terminal state; terminal statuses are never revisited.
	MarkExecutionTerminal(ctx context.Context, executionID string, status ExecutionStatus, completedAt time.Time) error
}

// ResultStore persists emitted findings.
type ResultStore interface {
	AppendResult(ctx context.Context, record ResultRecord) error
	ListResults(ctx context.Context, executionID string, limit int) ([]ResultRecord, error)
	CountResults(ctx context.Context, executionID string) (int64, error)
}

// RecordSource reads the scanned business records and writes back anomaly
// flags. The investigations service never mutates these records otherwise.
type RecordSource interface {
	ListInvoices(ctx context.Context) ([]InvoiceRecord, error)
	ListWaybills(ctx context.Context) ([]WaybillRecord, error)
	FlagInvoices(ctx context.Context, anomalousIDs []string, investigatedAt time.Time) error
	FlagWaybills(ctx context.Context, anomalousIDs []string, investigatedAt time.Time) error
	PutInvoice(ctx context.Context, record InvoiceRecord) error
	PutWaybill(ctx context.Context, record WaybillRecord) error
}
