// Package app wires the investigations service runtime: storage adapters,
// async notifications, the scan loop, and the health server.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/corvid-labs/fieldaudit/internal/services/investigations/domain"
	"github.com/corvid-labs/fieldaudit/internal/services/investigations/storage"
)

// Stores groups the storage interfaces the adapter needs.
type Stores struct {
	Catalog    storage.CatalogStore
	Instances  storage.InstanceStore
	Executions storage.ExecutionStore
	Results    storage.ResultStore
}

type domainStoreAdapter struct {
	stores Stores
}

func newDomainStoreAdapter(stores Stores) *domainStoreAdapter {
	return &domainStoreAdapter{stores: stores}
}

func mapStorageError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return domain.ErrNotFound
	case errors.Is(err, storage.ErrConflict):
		return domain.ErrConflict
	default:
		return err
	}
}

func (a *domainStoreAdapter) PutType(ctx context.Context, investigatorType domain.InvestigatorType) error {
	if a == nil || a.stores.Catalog == nil {
		return domain.ErrStoreNotConfigured
	}
	return mapStorageError(a.stores.Catalog.PutType(ctx, storage.TypeRecord{
		Code:          investigatorType.Code,
		Name:          investigatorType.Name,
		Description:   investigatorType.Description,
		DefaultConfig: investigatorType.DefaultConfig,
		Active:        investigatorType.Active,
		CreatedAt:     investigatorType.CreatedAt,
	}))
}

func (a *domainStoreAdapter) GetType(ctx context.Context, code string) (domain.InvestigatorType, error) {
	if a == nil || a.stores.Catalog == nil {
		return domain.InvestigatorType{}, domain.ErrStoreNotConfigured
	}
	record, err := a.stores.Catalog.GetType(ctx, code)
	if err != nil {
		return domain.InvestigatorType{}, mapStorageError(err)
	}
	return toDomainType(record), nil
}

func (a *domainStoreAdapter) ListTypes(ctx context.Context) ([]domain.InvestigatorType, error) {
	if a == nil || a.stores.Catalog == nil {
		return nil, domain.ErrStoreNotConfigured
	}
	records, err := a.stores.Catalog.ListTypes(ctx)
	if err != nil {
		return nil, mapStorageError(err)
	}
	types := make([]domain.InvestigatorType, 0, len(records))
	for _, record := range records {
		types = append(types, toDomainType(record))
	}
	return types, nil
}

func (a *domainStoreAdapter) PutInstance(ctx context.Context, instance domain.Instance) error {
	if a == nil || a.stores.Instances == nil {
		return domain.ErrStoreNotConfigured
	}
	return mapStorageError(a.stores.Instances.PutInstance(ctx, storage.InstanceRecord{
		ID:               instance.ID,
		TypeCode:         instance.TypeCode,
		Name:             instance.Name,
		Active:           instance.Active,
		CreatedAt:        instance.CreatedAt,
		LastExecutedAt:   instance.LastExecutedAt,
		TotalResultCount: instance.TotalResultCount,
	}))
}

func (a *domainStoreAdapter) GetInstance(ctx context.Context, id string) (domain.Instance, error) {
	if a == nil || a.stores.Instances == nil {
		return domain.Instance{}, domain.ErrStoreNotConfigured
	}
	record, err := a.stores.Instances.GetInstance(ctx, id)
	if err != nil {
		return domain.Instance{}, mapStorageError(err)
	}
	return toDomainInstance(record), nil
}

func (a *domainStoreAdapter) ListInstances(ctx context.Context) ([]domain.Instance, error) {
	if a == nil || a.stores.Instances == nil {
		return nil, domain.ErrStoreNotConfigured
	}
	records, err := a.stores.Instances.ListInstances(ctx)
	if err != nil {
		return nil, mapStorageError(err)
	}
	instances := make([]domain.Instance, 0, len(records))
	for _, record := range records {
		instances = append(instances, toDomainInstance(record))
	}
	return instances, nil
}

func (a *domainStoreAdapter) MarkInstanceExecuted(ctx context.Context, id string, executedAt time.Time, resultsAdded int64) error {
	if a == nil || a.stores.Instances == nil {
		return domain.ErrStoreNotConfigured
	}
	return mapStorageError(a.stores.Instances.MarkInstanceExecuted(ctx, id, executedAt, resultsAdded))
}

func (a *domainStoreAdapter) DeleteInstance(ctx context.Context, id string) error {
	if a == nil || a.stores.Instances == nil {
		return domain.ErrStoreNotConfigured
	}
	return mapStorageError(a.stores.Instances.DeleteInstance(ctx, id))
}

func (a *domainStoreAdapter) PutExecution(ctx context.Context, execution domain.Execution) error {
	if a == nil || a.stores.Executions == nil {
		return domain.ErrStoreNotConfigured
	}
	return mapStorageError(a.stores.Executions.PutExecution(ctx, storage.ExecutionRecord{
		ID:          execution.ID,
		InstanceID:  execution.InstanceID,
		Status:      storage.ExecutionStatus(execution.Status),
		StartedAt:   execution.StartedAt,
		CompletedAt: execution.CompletedAt,
		ResultCount: execution.ResultCount,
	}))
}

func (a *domainStoreAdapter) GetExecution(ctx context.Context, id string) (domain.Execution, error) {
	if a == nil || a.stores.Executions == nil {
		return domain.Execution{}, domain.ErrStoreNotConfigured
	}
	record, err := a.stores.Executions.GetExecution(ctx, id)
	if err != nil {
		return domain.Execution{}, mapStorageError(err)
	}
	return toDomainExecution(record), nil
}

func (a *domainStoreAdapter) ListExecutionIDs(ctx context.Context) ([]string, error) {
	if a == nil || a.stores.Executions == nil {
		return nil, domain.ErrStoreNotConfigured
	}
	ids, err := a.stores.Executions.ListExecutionIDs(ctx)
	return ids, mapStorageError(err)
}

func (a *domainStoreAdapter) ListExecutionsByInstance(ctx context.Context, instanceID string) ([]domain.Execution, error) {
	if a == nil || a.stores.Executions == nil {
		return nil, domain.ErrStoreNotConfigured
	}
	records, err := a.stores.Executions.ListExecutionsByInstance(ctx, instanceID)
	if err != nil {
		return nil, mapStorageError(err)
	}
	executions := make([]domain.Execution, 0, len(records))
	for _, record := range records {
		executions = append(executions, toDomainExecution(record))
	}
	return executions, nil
}

func (a *domainStoreAdapter) IncrementResultCount(ctx context.Context, executionID string, delta int64) error {
	if a == nil || a.stores.Executions == nil {
		return domain.ErrStoreNotConfigured
	}
	return mapStorageError(a.stores.Executions.IncrementResultCount(ctx, executionID, delta))
}

func (a *domainStoreAdapter) SetResultCount(ctx context.Context, executionID string, count int64) error {
	if a == nil || a.stores.Executions == nil {
		return domain.ErrStoreNotConfigured
	}
	return mapStorageError(a.stores.Executions.SetResultCount(ctx, executionID, count))
}

func (a *domainStoreAdapter) MarkExecutionTerminal(ctx context.Context, executionID string, status domain.ExecutionStatus, completedAt time.Time) error {
	if a == nil || a.stores.Executions == nil {
		return domain.ErrStoreNotConfigured
	}
	return mapStorageError(a.stores.Executions.MarkExecutionTerminal(ctx, executionID, storage.ExecutionStatus(status), completedAt))
}

func (a *domainStoreAdapter) AppendResult(ctx context.Context, result domain.Result) error {
	if a == nil || a.stores.Results == nil {
		return domain.ErrStoreNotConfigured
	}
	return mapStorageError(a.stores.Results.AppendResult(ctx, storage.ResultRecord{
		ExecutionID: result.ExecutionID,
		Severity:    storage.ResultSeverity(result.Severity),
		Message:     result.Message,
		PayloadJSON: result.PayloadJSON,
		CreatedAt:   result.CreatedAt,
	}))
}

func (a *domainStoreAdapter) ListResults(ctx context.Context, executionID string, limit int) ([]domain.Result, error) {
	if a == nil || a.stores.Results == nil {
		return nil, domain.ErrStoreNotConfigured
	}
	records, err := a.stores.Results.ListResults(ctx, executionID, limit)
	if err != nil {
		return nil, mapStorageError(err)
	}
	results := make([]domain.Result, 0, len(records))
	for _, record := range records {
		results = append(results, domain.Result{
			ID:          record.ID,
			ExecutionID: record.ExecutionID,
			Severity:    domain.Severity(record.Severity),
			Message:     record.Message,
			PayloadJSON: record.PayloadJSON,
			CreatedAt:   record.CreatedAt,
		})
	}
	return results, nil
}

func (a *domainStoreAdapter) CountResults(ctx context.Context, executionID string) (int64, error) {
	if a == nil || a.stores.Results == nil {
		return 0, domain.ErrStoreNotConfigured
	}
	count, err := a.stores.Results.CountResults(ctx, executionID)
	return count, mapStorageError(err)
}

func toDomainType(record storage.TypeRecord) domain.InvestigatorType {
	return domain.InvestigatorType{
		Code:          record.Code,
		Name:          record.Name,
		Description:   record.Description,
		DefaultConfig: record.DefaultConfig,
		Active:        record.Active,
		CreatedAt:     record.CreatedAt,
	}
}

func toDomainInstance(record storage.InstanceRecord) domain.Instance {
	return domain.Instance{
		ID:               record.ID,
		TypeCode:         record.TypeCode,
		Name:             record.Name,
		Active:           record.Active,
		CreatedAt:        record.CreatedAt,
		LastExecutedAt:   record.LastExecutedAt,
		TotalResultCount: record.TotalResultCount,
	}
}

func toDomainExecution(record storage.ExecutionRecord) domain.Execution {
	return domain.Execution{
		ID:          record.ID,
		InstanceID:  record.InstanceID,
		Status:      domain.ExecutionStatus(record.Status),
		StartedAt:   record.StartedAt,
		CompletedAt: record.CompletedAt,
		ResultCount: record.ResultCount,
	}
}

var _ domain.Store = (*domainStoreAdapter)(nil)

// recordSourceAdapter maps the storage business records onto the domain
// record source.
type recordSourceAdapter struct {
	records storage.RecordSource
}

func newRecordSourceAdapter(records storage.RecordSource) *recordSourceAdapter {
	return &recordSourceAdapter{records: records}
}

func (a *recordSourceAdapter) ListInvoices(ctx context.Context) ([]domain.Invoice, error) {
	if a == nil || a.records == nil {
		return nil, domain.ErrStoreNotConfigured
	}
	records, err := a.records.ListInvoices(ctx)
	if err != nil {
		return nil, mapStorageError(err)
	}
	invoices := make([]domain.Invoice, 0, len(records))
	for _, record := range records {
		invoices = append(invoices, domain.Invoice{
			ID:                 record.ID,
			Number:             record.Number,
			TotalCents:         record.TotalCents,
			TaxCents:           record.TaxCents,
			IssuedAt:           record.IssuedAt,
			HasAnomalies:       record.HasAnomalies,
			LastInvestigatedAt: record.LastInvestigatedAt,
		})
	}
	return invoices, nil
}

func (a *recordSourceAdapter) FlagInvoices(ctx context.Context, anomalousIDs []string, investigatedAt time.Time) error {
	if a == nil || a.records == nil {
		return domain.ErrStoreNotConfigured
	}
	return mapStorageError(a.records.FlagInvoices(ctx, anomalousIDs, investigatedAt))
}

func (a *recordSourceAdapter) ListWaybills(ctx context.Context) ([]domain.Waybill, error) {
	if a == nil || a.records == nil {
		return nil, domain.ErrStoreNotConfigured
	}
	records, err := a.records.ListWaybills(ctx)
	if err != nil {
		return nil, mapStorageError(err)
	}
	waybills := make([]domain.Waybill, 0, len(records))
	for _, record := range records {
		waybills = append(waybills, domain.Waybill{
			ID:                 record.ID,
			Number:             record.Number,
			IssuedAt:           record.IssuedAt,
			DueAt:              record.DueAt,
			DeliveredAt:        record.DeliveredAt,
			HasAnomalies:       record.HasAnomalies,
			LastInvestigatedAt: record.LastInvestigatedAt,
		})
	}
	return waybills, nil
}

func (a *recordSourceAdapter) FlagWaybills(ctx context.Context, anomalousIDs []string, investigatedAt time.Time) error {
	if a == nil || a.records == nil {
		return domain.ErrStoreNotConfigured
	}
	return mapStorageError(a.records.FlagWaybills(ctx, anomalousIDs, investigatedAt))
}

var _ domain.RecordSource = (*recordSourceAdapter)(nil)
