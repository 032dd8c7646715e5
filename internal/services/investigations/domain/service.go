package domain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/corvid-labs/fieldaudit/internal/platform/id"
	"golang.org/x/sync/errgroup"
)

// ExecutionStatus identifies one execution lifecycle state. Transitions are
// one-way: running moves to completed or failed exactly once.
type ExecutionStatus string

const (
	// ExecutionStatusRunning means the investigation run is in flight.
	ExecutionStatusRunning ExecutionStatus = "running"
	// ExecutionStatusCompleted means the run finished normally.
	ExecutionStatusCompleted ExecutionStatus = "completed"
	// ExecutionStatusFailed means the run finished with an error.
	ExecutionStatusFailed ExecutionStatus = "failed"
)

const (
	defaultFindingQueueSize = 64
	defaultSaverLimit       = 8
	defaultResultPageSize   = 50
	maxResultPageSize       = 500
)

// InvestigatorType is one catalog entry.
type InvestigatorType struct {
	Code          string
	Name          string
	Description   string
	DefaultConfig string
	Active        bool
	CreatedAt     time.Time
}

// Instance is one configured investigator.
type Instance struct {
	ID               string
	TypeCode         string
	Name             string
	Active           bool
	CreatedAt        time.Time
	LastExecutedAt   *time.Time
	TotalResultCount int64
}

// Execution is one investigation run.
type Execution struct {
	ID          string
	InstanceID  string
	Status      ExecutionStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	ResultCount int64
}

// Result is one persisted finding.
type Result struct {
	ID          int64
	ExecutionID string
	Severity    Severity
	Message     string
	PayloadJSON string
	CreatedAt   time.Time
}

// CountReport compares an execution's running counter against the true
// persisted result row count.
type CountReport struct {
	ExecutionID string
	Reported    int64
	Actual      int64
	Accurate    bool
	Discrepancy int64
}

// Store is the domain persistence boundary for investigation lifecycle
// behavior.
type Store interface {
	PutType(ctx context.Context, investigatorType InvestigatorType) error
	GetType(ctx context.Context, code string) (InvestigatorType, error)
	ListTypes(ctx context.Context) ([]InvestigatorType, error)

	PutInstance(ctx context.Context, instance Instance) error
	GetInstance(ctx context.Context, id string) (Instance, error)
	ListInstances(ctx context.Context) ([]Instance, error)
	MarkInstanceExecuted(ctx context.Context, id string, executedAt time.Time, resultsAdded int64) error
	DeleteInstance(ctx context.Context, id string) error

	PutExecution(ctx context.Context, execution Execution) error
	GetExecution(ctx context.Context, id string) (Execution, error)
	ListExecutionIDs(ctx context.Context) ([]string, error)
	ListExecutionsByInstance(ctx context.Context, instanceID string) ([]Execution, error)
	// IncrementResultCount adds delta to the execution counter as one
	// storage-level operation. The counter addition must happen inside the
	// store; read-modify-write sequences lose concurrent updates.
	IncrementResultCount(ctx context.Context, executionID string, delta int64) error
	SetResultCount(ctx context.Context, executionID string, count int64) error
	MarkExecutionTerminal(ctx context.Context, executionID string, status ExecutionStatus, completedAt time.Time) error

	AppendResult(ctx context.Context, result Result) error
	ListResults(ctx context.Context, executionID string, limit int) ([]Result, error)
	CountResults(ctx context.Context, executionID string) (int64, error)
}

// Service orchestrates investigator lifecycle, execution runs, and result
// accounting.
type Service struct {
	store    Store
	records  RecordSource
	registry *Registry
	notifier Notifier
	clock    func() time.Time
	newID    func() (string, error)

	queueSize  int
	saverLimit int

	runs sync.WaitGroup
}

// NewService constructs investigation domain use-cases. Nil registry falls
// back to the built-in investigators, nil notifier to a no-op sink.
func NewService(store Store, records RecordSource, registry *Registry, notifier Notifier, clock func() time.Time, newID func() (string, error)) *Service {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}
	return &Service{
		store:      store,
		records:    records,
		registry:   registry,
		notifier:   notifier,
		clock:      clock,
		newID:      newID,
		queueSize:  defaultFindingQueueSize,
		saverLimit: defaultSaverLimit,
	}
}

// Wait blocks until every launched execution run has finished. Used at
// shutdown and by tests.
func (s *Service) Wait() {
	if s == nil {
		return
	}
	s.runs.Wait()
}

// EnsureDefaultCatalog upserts catalog entries for every registered
// investigator type that is not already cataloged.
func (s *Service) EnsureDefaultCatalog(ctx context.Context) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	names := map[string]string{
		TypeCodeInvoiceAudit: "Invoice Audit",
		TypeCodeWaybillAudit: "Waybill Audit",
	}
	for _, code := range s.registry.Codes() {
		if _, err := s.store.GetType(ctx, code); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		name := names[code]
		if name == "" {
			name = code
		}
		if err := s.store.PutType(ctx, InvestigatorType{
			Code:      code,
			Name:      name,
			Active:    true,
			CreatedAt: s.nowUTC(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// CreateInvestigator validates the type code against the catalog and
// persists a new active instance. Unknown and inactive type codes fail
// validation.
func (s *Service) CreateInvestigator(ctx context.Context, typeCode string, name string) (Instance, error) {
	if s == nil || s.store == nil {
		return Instance{}, ErrStoreNotConfigured
	}
	if s.newID == nil {
		return Instance{}, ErrIDGeneratorNotConfigured
	}
	typeCode = strings.TrimSpace(typeCode)
	if typeCode == "" {
		return Instance{}, ErrTypeCodeRequired
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Instance{}, ErrInstanceNameRequired
	}

	investigatorType, err := s.store.GetType(ctx, typeCode)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Instance{}, fmt.Errorf("%w: %s", ErrUnknownType, typeCode)
		}
		return Instance{}, err
	}
	if !investigatorType.Active {
		return Instance{}, fmt.Errorf("%w: %s", ErrTypeInactive, typeCode)
	}

	instanceID, err := s.newID()
	if err != nil {
		return Instance{}, err
	}
	instance := Instance{
		ID:        instanceID,
		TypeCode:  typeCode,
		Name:      name,
		Active:    true,
		CreatedAt: s.nowUTC(),
	}
	if err := s.store.PutInstance(ctx, instance); err != nil {
		return Instance{}, err
	}
	return instance, nil
}

// StartInvestigator launches one execution for the given instance. Missing
// or inactive instances return false with no side effects. On launch the
// execution row exists with status running and counter zero; the run itself
// proceeds detached from the caller's context.
func (s *Service) StartInvestigator(ctx context.Context, instanceID string) (string, bool, error) {
	if s == nil || s.store == nil {
		return "", false, ErrStoreNotConfigured
	}
	if s.newID == nil {
		return "", false, ErrIDGeneratorNotConfigured
	}
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return "", false, ErrInstanceIDRequired
	}

	instance, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if !instance.Active {
		return "", false, nil
	}

	investigatorType, err := s.store.GetType(ctx, instance.TypeCode)
	if err != nil {
		return "", false, err
	}
	thresholds, err := ResolveThresholds(investigatorType.DefaultConfig)
	if err != nil {
		return "", false, err
	}

	executionID, err := s.newID()
	if err != nil {
		return "", false, err
	}

	// Resolve the investigator before creating the execution row so an
	// unregistered type code leaves no trace.
	findings := make(chan Finding, s.queueSize)
	investigator, err := s.registry.Create(instance.TypeCode, InvestigatorDeps{
		Report: func(ctx context.Context, finding Finding) error {
			select {
			case findings <- finding:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		Records:    s.records,
		Thresholds: thresholds,
		Clock:      s.clock,
	})
	if err != nil {
		return "", false, err
	}

	startedAt := s.nowUTC()
	if err := s.store.PutExecution(ctx, Execution{
		ID:         executionID,
		InstanceID: instanceID,
		Status:     ExecutionStatusRunning,
		StartedAt:  startedAt,
	}); err != nil {
		return "", false, err
	}
	s.notifier.ExecutionStarted(executionID, startedAt)

	runCtx := context.WithoutCancel(ctx)
	s.runs.Add(1)
	go s.runExecution(runCtx, executionID, instanceID, investigator, findings)
	return executionID, true, nil
}

// runExecution drains the investigator's findings through a bounded saver
// pool, then drives the terminal transition and counter reconciliation.
func (s *Service) runExecution(ctx context.Context, executionID string, instanceID string, investigator Investigator, findings chan Finding) {
	defer s.runs.Done()

	runResult := make(chan error, 1)
	go func() {
		runResult <- investigator.Run(ctx)
		close(findings)
	}()

	var group errgroup.Group
	group.SetLimit(s.saverLimit)
	for finding := range findings {
		group.Go(func() error {
			return s.SaveResult(ctx, executionID, &finding)
		})
	}
	saveErr := group.Wait()
	runErr := <-runResult

	status := ExecutionStatusCompleted
	if runErr != nil {
		status = ExecutionStatusFailed
		log.Printf("execution %s investigator run failed: %v", executionID, runErr)
	}
	if saveErr != nil {
		status = ExecutionStatusFailed
		log.Printf("execution %s result save failed: %v", executionID, saveErr)
	}
	if err := s.finishExecution(ctx, executionID, instanceID, status); err != nil {
		log.Printf("execution %s terminal transition failed: %v", executionID, err)
	}
}

// SaveResult persists one finding: an append-only result row followed by a
// single atomic counter increment. A nil finding logs a warning and does
// nothing.
func (s *Service) SaveResult(ctx context.Context, executionID string, finding *Finding) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return ErrExecutionIDRequired
	}
	if finding == nil {
		log.Printf("execution %s received nil finding, ignoring", executionID)
		return nil
	}

	createdAt := finding.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.nowUTC()
	}
	if err := s.store.AppendResult(ctx, Result{
		ExecutionID: executionID,
		Severity:    finding.Severity,
		Message:     finding.Message,
		PayloadJSON: finding.PayloadJSON,
		CreatedAt:   createdAt,
	}); err != nil {
		return fmt.Errorf("append result: %w", err)
	}
	if err := s.store.IncrementResultCount(ctx, executionID, 1); err != nil {
		return fmt.Errorf("increment result count: %w", err)
	}
	s.notifier.ResultAdded(executionID, finding)
	return nil
}

// finishExecution marks the terminal status, reconciles the counter against
// the true row count, rolls the run into the instance aggregate, and emits
// the completion notification with the reconciled count.
func (s *Service) finishExecution(ctx context.Context, executionID string, instanceID string, status ExecutionStatus) error {
	completedAt := s.nowUTC()
	if err := s.store.MarkExecutionTerminal(ctx, executionID, status, completedAt); err != nil {
		if errors.Is(err, ErrConflict) {
			log.Printf("execution %s already terminal, skipping transition", executionID)
			return nil
		}
		return err
	}
	s.notifier.StatusChanged(executionID, status)

	report, err := s.VerifyResultCount(ctx, executionID)
	if err != nil {
		return err
	}
	finalCount := report.Actual
	if !report.Accurate {
		log.Printf("execution %s counter drift: reported %d, actual %d", executionID, report.Reported, report.Actual)
		if err := s.store.SetResultCount(ctx, executionID, finalCount); err != nil {
			return err
		}
	}
	if err := s.store.MarkInstanceExecuted(ctx, instanceID, completedAt, finalCount); err != nil {
		return err
	}
	s.notifier.ExecutionCompleted(executionID, finalCount, completedAt)
	return nil
}

// VerifyResultCount compares the execution counter against the persisted
// result rows.
func (s *Service) VerifyResultCount(ctx context.Context, executionID string) (CountReport, error) {
	if s == nil || s.store == nil {
		return CountReport{}, ErrStoreNotConfigured
	}
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return CountReport{}, ErrExecutionIDRequired
	}

	execution, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return CountReport{}, err
	}
	actual, err := s.store.CountResults(ctx, executionID)
	if err != nil {
		return CountReport{}, err
	}
	return CountReport{
		ExecutionID: executionID,
		Reported:    execution.ResultCount,
		Actual:      actual,
		Accurate:    execution.ResultCount == actual,
		Discrepancy: actual - execution.ResultCount,
	}, nil
}

// CorrectResultCount overwrites a drifted counter with the true row count.
// Returns true when a correction was applied. Idempotent: a second call
// finds an accurate counter and returns false.
func (s *Service) CorrectResultCount(ctx context.Context, executionID string) (bool, error) {
	report, err := s.VerifyResultCount(ctx, executionID)
	if err != nil {
		return false, err
	}
	if report.Accurate {
		return false, nil
	}
	if err := s.store.SetResultCount(ctx, executionID, report.Actual); err != nil {
		return false, err
	}
	return true, nil
}

// CorrectAllResultCounts sweeps every execution and corrects drifted
// counters. Returns how many executions were corrected.
func (s *Service) CorrectAllResultCounts(ctx context.Context) (int, error) {
	if s == nil || s.store == nil {
		return 0, ErrStoreNotConfigured
	}
	executionIDs, err := s.store.ListExecutionIDs(ctx)
	if err != nil {
		return 0, err
	}
	corrected := 0
	for _, executionID := range executionIDs {
		applied, err := s.CorrectResultCount(ctx, executionID)
		if err != nil {
			return corrected, fmt.Errorf("correct execution %s: %w", executionID, err)
		}
		if applied {
			corrected++
		}
	}
	return corrected, nil
}

// DeleteInvestigator removes an instance together with all its executions
// and results.
func (s *Service) DeleteInvestigator(ctx context.Context, instanceID string) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return ErrInstanceIDRequired
	}
	return s.store.DeleteInstance(ctx, instanceID)
}

// GetInstance loads one configured investigator.
func (s *Service) GetInstance(ctx context.Context, instanceID string) (Instance, error) {
	if s == nil || s.store == nil {
		return Instance{}, ErrStoreNotConfigured
	}
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return Instance{}, ErrInstanceIDRequired
	}
	return s.store.GetInstance(ctx, instanceID)
}

// ListInstances lists configured investigators newest-first.
func (s *Service) ListInstances(ctx context.Context) ([]Instance, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	return s.store.ListInstances(ctx)
}

// ListTypes lists the investigator catalog.
func (s *Service) ListTypes(ctx context.Context) ([]InvestigatorType, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	return s.store.ListTypes(ctx)
}

// GetExecution loads one execution.
func (s *Service) GetExecution(ctx context.Context, executionID string) (Execution, error) {
	if s == nil || s.store == nil {
		return Execution{}, ErrStoreNotConfigured
	}
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return Execution{}, ErrExecutionIDRequired
	}
	return s.store.GetExecution(ctx, executionID)
}

// ListExecutions lists one instance's executions newest-first.
func (s *Service) ListExecutions(ctx context.Context, instanceID string) ([]Execution, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return nil, ErrInstanceIDRequired
	}
	return s.store.ListExecutionsByInstance(ctx, instanceID)
}

// ListResults lists one execution's results in insertion order.
func (s *Service) ListResults(ctx context.Context, executionID string, pageSize int) ([]Result, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return nil, ErrExecutionIDRequired
	}
	switch {
	case pageSize <= 0:
		pageSize = defaultResultPageSize
	case pageSize > maxResultPageSize:
		pageSize = maxResultPageSize
	}
	return s.store.ListResults(ctx, executionID, pageSize)
}

func (s *Service) nowUTC() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}
