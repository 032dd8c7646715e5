package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/corvid-labs/fieldaudit/internal/services/investigations/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "investigations.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return store
}

func seedInstance(t *testing.T, store *Store, instanceID string) {
	t.Helper()
	ctx := context.Background()
	createdAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	if err := store.PutType(ctx, storage.TypeRecord{
		Code:      "invoice_audit",
		Name:      "Invoice Audit",
		Active:    true,
		CreatedAt: createdAt,
	}); err != nil {
		t.Fatalf("PutType() error = %v", err)
	}
	if err := store.PutInstance(ctx, storage.InstanceRecord{
		ID:        instanceID,
		TypeCode:  "invoice_audit",
		Name:      "march invoices",
		Active:    true,
		CreatedAt: createdAt,
	}); err != nil {
		t.Fatalf("PutInstance() error = %v", err)
	}
}

func seedExecution(t *testing.T, store *Store, instanceID, executionID string) {
	t.Helper()
	seedInstance(t, store, instanceID)
	if err := store.PutExecution(context.Background(), storage.ExecutionRecord{
		ID:         executionID,
		InstanceID: instanceID,
		Status:     storage.ExecutionStatusRunning,
		StartedAt:  time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("PutExecution() error = %v", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("Open() with blank path should fail")
	}
}

func TestTypeRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createdAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	record := storage.TypeRecord{
		Code:          "waybill_audit",
		Name:          "Waybill Audit",
		Description:   "flags overdue and expiring waybills",
		DefaultConfig: `{"expiry_window_days":3}`,
		Active:        true,
		CreatedAt:     createdAt,
	}
	if err := store.PutType(ctx, record); err != nil {
		t.Fatalf("PutType() error = %v", err)
	}

	got, err := store.GetType(ctx, "waybill_audit")
	if err != nil {
		t.Fatalf("GetType() error = %v", err)
	}
	if got != record {
		t.Fatalf("GetType() = %+v, want %+v", got, record)
	}

	record.Name = "Waybill Audit v2"
	if err := store.PutType(ctx, record); err != nil {
		t.Fatalf("PutType() upsert error = %v", err)
	}
	got, err = store.GetType(ctx, "waybill_audit")
	if err != nil {
		t.Fatalf("GetType() after upsert error = %v", err)
	}
	if got.Name != "Waybill Audit v2" {
		t.Fatalf("Name after upsert = %q, want %q", got.Name, "Waybill Audit v2")
	}
	if got.CreatedAt != createdAt {
		t.Fatalf("CreatedAt changed on upsert: %v", got.CreatedAt)
	}
}

func TestGetTypeNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetType(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetType() error = %v, want ErrNotFound", err)
	}
}

func TestInstanceRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedInstance(t, store, "inst-1")

	got, err := store.GetInstance(ctx, "inst-1")
	if err != nil {
		t.Fatalf("GetInstance() error = %v", err)
	}
	if got.TypeCode != "invoice_audit" {
		t.Fatalf("TypeCode = %q, want %q", got.TypeCode, "invoice_audit")
	}
	if got.LastExecutedAt != nil {
		t.Fatalf("LastExecutedAt = %v, want nil before first run", got.LastExecutedAt)
	}
	if got.TotalResultCount != 0 {
		t.Fatalf("TotalResultCount = %d, want 0", got.TotalResultCount)
	}
}

func TestMarkInstanceExecuted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedInstance(t, store, "inst-1")

	executedAt := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	if err := store.MarkInstanceExecuted(ctx, "inst-1", executedAt, 103); err != nil {
		t.Fatalf("MarkInstanceExecuted() error = %v", err)
	}
	if err := store.MarkInstanceExecuted(ctx, "inst-1", executedAt.Add(time.Hour), 7); err != nil {
		t.Fatalf("MarkInstanceExecuted() second run error = %v", err)
	}

	got, err := store.GetInstance(ctx, "inst-1")
	if err != nil {
		t.Fatalf("GetInstance() error = %v", err)
	}
	if got.TotalResultCount != 110 {
		t.Fatalf("TotalResultCount = %d, want 110", got.TotalResultCount)
	}
	if got.LastExecutedAt == nil || !got.LastExecutedAt.Equal(executedAt.Add(time.Hour)) {
		t.Fatalf("LastExecutedAt = %v, want %v", got.LastExecutedAt, executedAt.Add(time.Hour))
	}

	if err := store.MarkInstanceExecuted(ctx, "missing", executedAt, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("MarkInstanceExecuted() missing error = %v, want ErrNotFound", err)
	}
}

func TestDeleteInstanceCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedExecution(t, store, "inst-1", "exec-1")
	if err := store.AppendResult(ctx, storage.ResultRecord{
		ExecutionID: "exec-1",
		Severity:    storage.ResultSeverityAnomaly,
		Message:     "invoice INV-9 total is negative",
		CreatedAt:   time.Date(2026, 3, 14, 9, 31, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("AppendResult() error = %v", err)
	}

	if err := store.DeleteInstance(ctx, "inst-1"); err != nil {
		t.Fatalf("DeleteInstance() error = %v", err)
	}

	if _, err := store.GetInstance(ctx, "inst-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetInstance() after delete error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetExecution(ctx, "exec-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetExecution() after delete error = %v, want ErrNotFound", err)
	}
	count, err := store.CountResults(ctx, "exec-1")
	if err != nil {
		t.Fatalf("CountResults() after delete error = %v", err)
	}
	if count != 0 {
		t.Fatalf("CountResults() after delete = %d, want 0", count)
	}

	if err := store.DeleteInstance(ctx, "inst-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("DeleteInstance() repeat error = %v, want ErrNotFound", err)
	}
}

func TestIncrementResultCountConcurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedExecution(t, store, "inst-1", "exec-1")

	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.IncrementResultCount(ctx, "exec-1", 1)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("IncrementResultCount() error = %v", err)
		}
	}

	got, err := store.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	if got.ResultCount != workers {
		t.Fatalf("ResultCount = %d, want %d", got.ResultCount, workers)
	}
}

func TestIncrementResultCountValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedExecution(t, store, "inst-1", "exec-1")

	if err := store.IncrementResultCount(ctx, "exec-1", 0); err == nil {
		t.Fatal("IncrementResultCount() with zero delta should fail")
	}
	if err := store.IncrementResultCount(ctx, "missing", 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("IncrementResultCount() missing error = %v, want ErrNotFound", err)
	}
}

func TestSetResultCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedExecution(t, store, "inst-1", "exec-1")

	if err := store.SetResultCount(ctx, "exec-1", 100); err != nil {
		t.Fatalf("SetResultCount() error = %v", err)
	}
	got, err := store.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	if got.ResultCount != 100 {
		t.Fatalf("ResultCount = %d, want 100", got.ResultCount)
	}
	if err := store.SetResultCount(ctx, "exec-1", -1); err == nil {
		t.Fatal("SetResultCount() with negative count should fail")
	}
	if err := store.SetResultCount(ctx, "missing", 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("SetResultCount() missing error = %v, want ErrNotFound", err)
	}
}

func TestMarkExecutionTerminal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedExecution(t, store, "inst-1", "exec-1")

	completedAt := time.Date(2026, 3, 14, 9, 45, 0, 0, time.UTC)
	if err := store.MarkExecutionTerminal(ctx, "exec-1", storage.ExecutionStatusCompleted, completedAt); err != nil {
		t.Fatalf("MarkExecutionTerminal() error = %v", err)
	}

	got, err := store.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	if got.Status != storage.ExecutionStatusCompleted {
		t.Fatalf("Status = %q, want %q", got.Status, storage.ExecutionStatusCompleted)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completedAt) {
		t.Fatalf("CompletedAt = %v, want %v", got.CompletedAt, completedAt)
	}

	// Terminal states are one-way; a replay must not flip the status.
	err = store.MarkExecutionTerminal(ctx, "exec-1", storage.ExecutionStatusFailed, completedAt.Add(time.Minute))
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("MarkExecutionTerminal() replay error = %v, want ErrConflict", err)
	}
	got, err = store.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetExecution() after replay error = %v", err)
	}
	if got.Status != storage.ExecutionStatusCompleted {
		t.Fatalf("Status after replay = %q, want %q", got.Status, storage.ExecutionStatusCompleted)
	}

	if err := store.MarkExecutionTerminal(ctx, "missing", storage.ExecutionStatusFailed, completedAt); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("MarkExecutionTerminal() missing error = %v, want ErrNotFound", err)
	}
	if err := store.MarkExecutionTerminal(ctx, "exec-1", storage.ExecutionStatusRunning, completedAt); err == nil {
		t.Fatal("MarkExecutionTerminal() with running status should fail")
	}
}

func TestResultsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedExecution(t, store, "inst-1", "exec-1")

	createdAt := time.Date(2026, 3, 14, 9, 31, 0, 0, time.UTC)
	messages := []string{
		"investigation started",
		"invoice INV-1 total is negative",
		"investigation completed",
	}
	for _, message := range messages {
		if err := store.AppendResult(ctx, storage.ResultRecord{
			ExecutionID: "exec-1",
			Severity:    storage.ResultSeverityInfo,
			Message:     message,
			CreatedAt:   createdAt,
		}); err != nil {
			t.Fatalf("AppendResult(%q) error = %v", message, err)
		}
	}

	results, err := store.ListResults(ctx, "exec-1", 10)
	if err != nil {
		t.Fatalf("ListResults() error = %v", err)
	}
	if len(results) != len(messages) {
		t.Fatalf("ListResults() returned %d rows, want %d", len(results), len(messages))
	}
	for i, result := range results {
		if result.Message != messages[i] {
			t.Fatalf("results[%d].Message = %q, want %q", i, result.Message, messages[i])
		}
		if result.ID == 0 {
			t.Fatalf("results[%d].ID = 0, want assigned row id", i)
		}
	}

	limited, err := store.ListResults(ctx, "exec-1", 2)
	if err != nil {
		t.Fatalf("ListResults() limited error = %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("ListResults() limited returned %d rows, want 2", len(limited))
	}

	count, err := store.CountResults(ctx, "exec-1")
	if err != nil {
		t.Fatalf("CountResults() error = %v", err)
	}
	if count != int64(len(messages)) {
		t.Fatalf("CountResults() = %d, want %d", count, len(messages))
	}
}

func TestListExecutionIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedInstance(t, store, "inst-1")

	startedAt := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	for i, id := range []string{"exec-1", "exec-2", "exec-3"} {
		if err := store.PutExecution(ctx, storage.ExecutionRecord{
			ID:         id,
			InstanceID: "inst-1",
			Status:     storage.ExecutionStatusRunning,
			StartedAt:  startedAt.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("PutExecution(%q) error = %v", id, err)
		}
	}

	ids, err := store.ListExecutionIDs(ctx)
	if err != nil {
		t.Fatalf("ListExecutionIDs() error = %v", err)
	}
	want := []string{"exec-1", "exec-2", "exec-3"}
	if len(ids) != len(want) {
		t.Fatalf("ListExecutionIDs() returned %d ids, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}

	executions, err := store.ListExecutionsByInstance(ctx, "inst-1")
	if err != nil {
		t.Fatalf("ListExecutionsByInstance() error = %v", err)
	}
	if len(executions) != 3 {
		t.Fatalf("ListExecutionsByInstance() returned %d rows, want 3", len(executions))
	}
	if executions[0].ID != "exec-3" {
		t.Fatalf("executions[0].ID = %q, want newest first", executions[0].ID)
	}
}

func TestInvoiceFlagging(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	issuedAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, record := range []storage.InvoiceRecord{
		{ID: "inv-1", Number: "INV-1", TotalCents: -500, TaxCents: 0, IssuedAt: issuedAt},
		{ID: "inv-2", Number: "INV-2", TotalCents: 10000, TaxCents: 900, IssuedAt: issuedAt.Add(time.Hour)},
	} {
		if err := store.PutInvoice(ctx, record); err != nil {
			t.Fatalf("PutInvoice(%q) error = %v", record.ID, err)
		}
	}

	investigatedAt := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	if err := store.FlagInvoices(ctx, []string{"inv-1"}, investigatedAt); err != nil {
		t.Fatalf("FlagInvoices() error = %v", err)
	}

	invoices, err := store.ListInvoices(ctx)
	if err != nil {
		t.Fatalf("ListInvoices() error = %v", err)
	}
	if len(invoices) != 2 {
		t.Fatalf("ListInvoices() returned %d rows, want 2", len(invoices))
	}
	if !invoices[0].HasAnomalies {
		t.Fatal("inv-1 should be flagged")
	}
	if invoices[0].LastInvestigatedAt == nil || !invoices[0].LastInvestigatedAt.Equal(investigatedAt) {
		t.Fatalf("inv-1 LastInvestigatedAt = %v, want %v", invoices[0].LastInvestigatedAt, investigatedAt)
	}
	if invoices[1].HasAnomalies {
		t.Fatal("inv-2 should not be flagged")
	}

	// Empty flag lists are a no-op, not an error.
	if err := store.FlagInvoices(ctx, nil, investigatedAt); err != nil {
		t.Fatalf("FlagInvoices() with empty list error = %v", err)
	}
}

func TestWaybillFlagging(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	issuedAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	dueAt := issuedAt.Add(7 * 24 * time.Hour)

	if err := store.PutWaybill(ctx, storage.WaybillRecord{
		ID: "wb-1", Number: "WB-1", IssuedAt: issuedAt, DueAt: &dueAt,
	}); err != nil {
		t.Fatalf("PutWaybill() error = %v", err)
	}

	investigatedAt := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	if err := store.FlagWaybills(ctx, []string{"wb-1"}, investigatedAt); err != nil {
		t.Fatalf("FlagWaybills() error = %v", err)
	}

	waybills, err := store.ListWaybills(ctx)
	if err != nil {
		t.Fatalf("ListWaybills() error = %v", err)
	}
	if len(waybills) != 1 {
		t.Fatalf("ListWaybills() returned %d rows, want 1", len(waybills))
	}
	if !waybills[0].HasAnomalies {
		t.Fatal("wb-1 should be flagged")
	}
	if waybills[0].DueAt == nil || !waybills[0].DueAt.Equal(dueAt) {
		t.Fatalf("wb-1 DueAt = %v, want %v", waybills[0].DueAt, dueAt)
	}
	if waybills[0].DeliveredAt != nil {
		t.Fatalf("wb-1 DeliveredAt = %v, want nil", waybills[0].DeliveredAt)
	}
}

func TestCancelledContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.GetExecution(ctx, "exec-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("GetExecution() error = %v, want context.Canceled", err)
	}
	if err := store.IncrementResultCount(ctx, "exec-1", 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("IncrementResultCount() error = %v, want context.Canceled", err)
	}
}
