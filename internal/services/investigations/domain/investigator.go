// Package domain holds the investigation engine: investigator contracts,
// anomaly rules, the registry, and the manager that runs executions and
// keeps the result counter honest.
package domain

import (
	"context"
	"time"
)

// Severity grades one finding.
type Severity string

const (
	// SeverityInfo marks lifecycle and summary findings.
	SeverityInfo Severity = "info"
	// SeverityAnomaly marks a rule-flagged business record.
	SeverityAnomaly Severity = "anomaly"
	// SeverityCritical marks an anomaly that needs immediate review.
	SeverityCritical Severity = "critical"
)

// Finding is one emitted investigation result. Every finding an investigator
// reports becomes a persisted result row and one counter increment.
type Finding struct {
	Severity    Severity
	Message     string
	PayloadJSON string
	CreatedAt   time.Time
}

// ReportFunc delivers one finding to the execution's result pipeline. The
// call returns once the finding is accepted for persistence; an error means
// the run should stop.
type ReportFunc func(ctx context.Context, finding Finding) error

// Investigator scans business records and reports findings. Collaborators
// (report path, record source, thresholds) are bound at construction.
type Investigator interface {
	TypeCode() string
	// Run emits a started info finding, scans, and emits a completed info
	// finding. All emissions flow through the bound report path.
	Run(ctx context.Context) error
}

// RecordSource gives investigators read access to scanned business records
// and flag write-back. Implemented by the app layer over storage.
type RecordSource interface {
	ListInvoices(ctx context.Context) ([]Invoice, error)
	FlagInvoices(ctx context.Context, anomalousIDs []string, investigatedAt time.Time) error
	ListWaybills(ctx context.Context) ([]Waybill, error)
	FlagWaybills(ctx context.Context, anomalousIDs []string, investigatedAt time.Time) error
}

// InvestigatorDeps carries the collaborators bound into an investigator at
// construction time.
type InvestigatorDeps struct {
	Report     ReportFunc
	Records    RecordSource
	Thresholds Thresholds
	Clock      func() time.Time
}

func (deps InvestigatorDeps) validate() error {
	if deps.Report == nil {
		return ErrReporterRequired
	}
	if deps.Records == nil {
		return ErrRecordSourceRequired
	}
	return nil
}

func (deps InvestigatorDeps) nowUTC() time.Time {
	if deps.Clock == nil {
		return time.Now().UTC()
	}
	return deps.Clock().UTC()
}

// runScan brackets a scan with the started and completed lifecycle findings.
// Lifecycle findings count like any other emission.
func runScan(ctx context.Context, deps InvestigatorDeps, scan func(ctx context.Context) error) error {
	if err := deps.Report(ctx, Finding{
		Severity:  SeverityInfo,
		Message:   "investigation started",
		CreatedAt: deps.nowUTC(),
	}); err != nil {
		return err
	}
	if err := scan(ctx); err != nil {
		return err
	}
	return deps.Report(ctx, Finding{
		Severity:  SeverityInfo,
		Message:   "investigation completed",
		CreatedAt: deps.nowUTC(),
	})
}
