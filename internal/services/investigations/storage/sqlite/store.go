// Package sqlite provides SQLite-backed persistence for the investigations
// service.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/corvid-labs/fieldaudit/internal/platform/storage/sqlitemigrate"
	"github.com/corvid-labs/fieldaudit/internal/services/investigations/storage"
	"github.com/corvid-labs/fieldaudit/internal/services/investigations/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for investigations state.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func toNullMillis(value *time.Time) any {
	if value == nil {
		return nil
	}
	return toMillis(*value)
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	at := fromMillis(value.Int64)
	return &at
}

// Open opens an investigations SQLite store at the provided path and applies
// migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := ensureForeignKeysEnabled(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func ensureForeignKeysEnabled(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("sqlite db is required")
	}
	var enabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&enabled); err != nil {
		return fmt.Errorf("check sqlite foreign key pragma: %w", err)
	}
	if enabled != 1 {
		return fmt.Errorf("sqlite foreign keys are disabled")
	}
	return nil
}

// PutType upserts one investigator catalog row.
func (s *Store) PutType(ctx context.Context, record storage.TypeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	record.Code = strings.TrimSpace(record.Code)
	record.Name = strings.TrimSpace(record.Name)
	if record.Code == "" {
		return fmt.Errorf("type code is required")
	}
	if record.Name == "" {
		return fmt.Errorf("type name is required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO investigator_types (code, name, description, default_config, active, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(code) DO UPDATE SET
	name = excluded.name,
	description = excluded.description,
	default_config = excluded.default_config,
	active = excluded.active
`, record.Code, record.Name, record.Description, record.DefaultConfig, record.Active, toMillis(record.CreatedAt))
	if err != nil {
		return fmt.Errorf("put investigator type: %w", err)
	}
	return nil
}

// GetType loads one investigator catalog row by code.
func (s *Store) GetType(ctx context.Context, code string) (storage.TypeRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.TypeRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.TypeRecord{}, fmt.Errorf("storage is not configured")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return storage.TypeRecord{}, fmt.Errorf("type code is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT code, name, description, default_config, active, created_at
FROM investigator_types
WHERE code = ?
`, code)

	var record storage.TypeRecord
	var createdAt int64
	if err := row.Scan(&record.Code, &record.Name, &record.Description, &record.DefaultConfig, &record.Active, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.TypeRecord{}, storage.ErrNotFound
		}
		return storage.TypeRecord{}, fmt.Errorf("get investigator type: %w", err)
	}
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

// ListTypes lists catalog rows ordered by code.
func (s *Store) ListTypes(ctx context.Context) ([]storage.TypeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT code, name, description, default_config, active, created_at
FROM investigator_types
ORDER BY code ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list investigator types: %w", err)
	}
	defer rows.Close()

	var records []storage.TypeRecord
	for rows.Next() {
		var record storage.TypeRecord
		var createdAt int64
		if err := rows.Scan(&record.Code, &record.Name, &record.Description, &record.DefaultConfig, &record.Active, &createdAt); err != nil {
			return nil, fmt.Errorf("scan investigator type: %w", err)
		}
		record.CreatedAt = fromMillis(createdAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate investigator types: %w", err)
	}
	return records, nil
}

// PutInstance persists one configured investigator.
func (s *Store) PutInstance(ctx context.Context, record storage.InstanceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	record.ID = strings.TrimSpace(record.ID)
	record.TypeCode = strings.TrimSpace(record.TypeCode)
	record.Name = strings.TrimSpace(record.Name)
	if record.ID == "" {
		return fmt.Errorf("instance id is required")
	}
	if record.TypeCode == "" {
		return fmt.Errorf("instance type code is required")
	}
	if record.Name == "" {
		return fmt.Errorf("instance name is required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO investigator_instances (id, type_code, name, active, created_at, last_executed_at, total_result_count)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name,
	active = excluded.active
`, record.ID, record.TypeCode, record.Name, record.Active, toMillis(record.CreatedAt),
		toNullMillis(record.LastExecutedAt), record.TotalResultCount)
	if err != nil {
		return fmt.Errorf("put investigator instance: %w", err)
	}
	return nil
}

// GetInstance loads one configured investigator by id.
func (s *Store) GetInstance(ctx context.Context, id string) (storage.InstanceRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.InstanceRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.InstanceRecord{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.InstanceRecord{}, fmt.Errorf("instance id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, type_code, name, active, created_at, last_executed_at, total_result_count
FROM investigator_instances
WHERE id = ?
`, id)
	return scanInstance(row.Scan)
}

// ListInstances lists configured investigators newest-first.
func (s *Store) ListInstances(ctx context.Context) ([]storage.InstanceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, type_code, name, active, created_at, last_executed_at, total_result_count
FROM investigator_instances
ORDER BY created_at DESC, id DESC
`)
	if err != nil {
		return nil, fmt.Errorf("list investigator instances: %w", err)
	}
	defer rows.Close()

	var records []storage.InstanceRecord
	for rows.Next() {
		record, scanErr := scanInstance(rows.Scan)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate investigator instances: %w", err)
	}
	return records, nil
}

func scanInstance(scan func(...any) error) (storage.InstanceRecord, error) {
	var record storage.InstanceRecord
	var createdAt int64
	var lastExecutedAt sql.NullInt64
	if err := scan(&record.ID, &record.TypeCode, &record.Name, &record.Active, &createdAt, &lastExecutedAt, &record.TotalResultCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.InstanceRecord{}, storage.ErrNotFound
		}
		return storage.InstanceRecord{}, fmt.Errorf("scan investigator instance: %w", err)
	}
	record.CreatedAt = fromMillis(createdAt)
	record.LastExecutedAt = fromNullMillis(lastExecutedAt)
	return record, nil
}

// MarkInstanceExecuted stamps the last run time and adds the run's result
// count to the instance aggregate in one statement.
func (s *Store) MarkInstanceExecuted(ctx context.Context, id string, executedAt time.Time, resultsAdded int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("instance id is required")
	}
	if executedAt.IsZero() {
		return fmt.Errorf("executed at is required")
	}
	if resultsAdded < 0 {
		return fmt.Errorf("results added must be non-negative")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE investigator_instances
SET last_executed_at = ?, total_result_count = total_result_count + ?
WHERE id = ?
`, toMillis(executedAt), resultsAdded, id)
	if err != nil {
		return fmt.Errorf("mark instance executed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark instance executed rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteInstance removes an instance with all its executions and results in
// one transaction. Foreign keys cascade execution and result rows.
func (s *Store) DeleteInstance(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("instance id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin instance delete: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM investigator_instances WHERE id = ?`, id)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete instance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete instance rows affected: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return storage.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit instance delete: %w", err)
	}
	return nil
}

// PutExecution persists one execution row.
func (s *Store) PutExecution(ctx context.Context, record storage.ExecutionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	record.ID = strings.TrimSpace(record.ID)
	record.InstanceID = strings.TrimSpace(record.InstanceID)
	if record.ID == "" {
		return fmt.Errorf("execution id is required")
	}
	if record.InstanceID == "" {
		return fmt.Errorf("execution instance id is required")
	}
	if record.Status == "" {
		return fmt.Errorf("execution status is required")
	}
	if record.StartedAt.IsZero() {
		return fmt.Errorf("execution started at is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO investigation_executions (id, instance_id, status, started_at, completed_at, result_count)
VALUES (?, ?, ?, ?, ?, ?)
`, record.ID, record.InstanceID, record.Status, toMillis(record.StartedAt),
		toNullMillis(record.CompletedAt), record.ResultCount)
	if err != nil {
		return fmt.Errorf("put execution: %w", err)
	}
	return nil
}

// GetExecution loads one execution by id.
func (s *Store) GetExecution(ctx context.Context, id string) (storage.ExecutionRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.ExecutionRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ExecutionRecord{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.ExecutionRecord{}, fmt.Errorf("execution id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, instance_id, status, started_at, completed_at, result_count
FROM investigation_executions
WHERE id = ?
`, id)
	return scanExecution(row.Scan)
}

// ListExecutionIDs lists every execution id, oldest first.
func (s *Store) ListExecutionIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id FROM investigation_executions ORDER BY started_at ASC, id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list execution ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan execution id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution ids: %w", err)
	}
	return ids, nil
}

// ListExecutionsByInstance lists one instance's executions newest-first.
func (s *Store) ListExecutionsByInstance(ctx context.Context, instanceID string) ([]storage.ExecutionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return nil, fmt.Errorf("instance id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, instance_id, status, started_at, completed_at, result_count
FROM investigation_executions
WHERE instance_id = ?
ORDER BY started_at DESC, id DESC
`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("list executions by instance: %w", err)
	}
	defer rows.Close()

	var records []storage.ExecutionRecord
	for rows.Next() {
		record, scanErr := scanExecution(rows.Scan)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return records, nil
}

func scanExecution(scan func(...any) error) (storage.ExecutionRecord, error) {
	var record storage.ExecutionRecord
	var startedAt int64
	var completedAt sql.NullInt64
	if err := scan(&record.ID, &record.InstanceID, &record.Status, &startedAt, &completedAt, &record.ResultCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ExecutionRecord{}, storage.ErrNotFound
		}
		return storage.ExecutionRecord{}, fmt.Errorf("scan execution: %w", err)
	}
	record.StartedAt = fromMillis(startedAt)
	record.CompletedAt = fromNullMillis(completedAt)
	return record, nil
}

// IncrementResultCount adds delta to the execution counter in one statement.
// This is the only sanctioned mutation path for the counter during a run:
// the addition happens inside the database, so concurrent increments
// serialize there and no update is ever lost.
func (s *Store) IncrementResultCount(ctx context.Context, executionID string, delta int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return fmt.Errorf("execution id is required")
	}
	if delta <= 0 {
		return fmt.Errorf("delta must be positive")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE investigation_executions
SET result_count = result_count + ?
WHERE id = ?
`, delta, executionID)
	if err != nil {
		return fmt.Errorf("increment result count: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment result count rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SetResultCount overwrites the execution counter. Used only by drift
// correction after verifying against the true row count.
func (s *Store) SetResultCount(ctx context.Context, executionID string, count int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return fmt.Errorf("execution id is required")
	}
	if count < 0 {
		return fmt.Errorf("count must be non-negative")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE investigation_executions SET result_count = ? WHERE id = ?
`, count, executionID)
	if err != nil {
		return fmt.Errorf("set result count: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set result count rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkExecutionTerminal transitions one running execution to a terminal
// status. The WHERE clause guards the one-way lifecycle: a replayed or
// racing transition finds zero running rows and reports ErrConflict.
func (s *Store) MarkExecutionTerminal(ctx context.Context, executionID string, status storage.ExecutionStatus, completedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return fmt.Errorf("execution id is required")
	}
	if status != storage.ExecutionStatusCompleted && status != storage.ExecutionStatusFailed {
		return fmt.Errorf("status %q is not terminal", status)
	}
	if completedAt.IsZero() {
		return fmt.Errorf("completed at is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE investigation_executions
SET status = ?, completed_at = ?
WHERE id = ? AND status = ?
`, status, toMillis(completedAt), executionID, storage.ExecutionStatusRunning)
	if err != nil {
		return fmt.Errorf("mark execution terminal: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark execution terminal rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetExecution(ctx, executionID); getErr != nil {
			return getErr
		}
		return storage.ErrConflict
	}
	return nil
}

// AppendResult persists one emitted finding as a new row. Every call writes
// a distinct row, so concurrent saves never contend on existing data.
func (s *Store) AppendResult(ctx context.Context, record storage.ResultRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	record.ExecutionID = strings.TrimSpace(record.ExecutionID)
	record.Message = strings.TrimSpace(record.Message)
	if record.ExecutionID == "" {
		return fmt.Errorf("result execution id is required")
	}
	if record.Severity == "" {
		return fmt.Errorf("result severity is required")
	}
	if record.Message == "" {
		return fmt.Errorf("result message is required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO investigation_results (execution_id, severity, message, payload_json, created_at)
VALUES (?, ?, ?, ?, ?)
`, record.ExecutionID, record.Severity, record.Message, record.PayloadJSON, toMillis(record.CreatedAt))
	if err != nil {
		return fmt.Errorf("append result: %w", err)
	}
	return nil
}

// ListResults lists one execution's findings in insertion order.
func (s *Store) ListResults(ctx context.Context, executionID string, limit int) ([]storage.ResultRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return nil, fmt.Errorf("execution id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, execution_id, severity, message, payload_json, created_at
FROM investigation_results
WHERE execution_id = ?
ORDER BY id ASC
LIMIT ?
`, executionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	records := make([]storage.ResultRecord, 0, limit)
	for rows.Next() {
		var record storage.ResultRecord
		var createdAt int64
		if err := rows.Scan(&record.ID, &record.ExecutionID, &record.Severity, &record.Message, &record.PayloadJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		record.CreatedAt = fromMillis(createdAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return records, nil
}

// CountResults returns the true number of persisted findings for one
// execution. Verification compares this against the running counter.
func (s *Store) CountResults(ctx context.Context, executionID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return 0, fmt.Errorf("execution id is required")
	}

	var count int64
	if err := s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(1) FROM investigation_results WHERE execution_id = ?
`, executionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count results: %w", err)
	}
	return count, nil
}

var (
	_ storage.CatalogStore   = (*Store)(nil)
	_ storage.InstanceStore  = (*Store)(nil)
	_ storage.ExecutionStore = (*Store)(nil)
	_ storage.ResultStore    = (*Store)(nil)
)
