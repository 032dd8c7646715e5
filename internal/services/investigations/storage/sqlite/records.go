package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/corvid-labs/fieldaudit/internal/services/investigations/storage"
)

// PutInvoice upserts one scanned invoice.
func (s *Store) PutInvoice(ctx context.Context, record storage.InvoiceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	record.ID = strings.TrimSpace(record.ID)
	record.Number = strings.TrimSpace(record.Number)
	if record.ID == "" {
		return fmt.Errorf("invoice id is required")
	}
	if record.Number == "" {
		return fmt.Errorf("invoice number is required")
	}
	if record.IssuedAt.IsZero() {
		return fmt.Errorf("invoice issued at is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO invoices (id, number, total_cents, tax_cents, issued_at, has_anomalies, last_investigated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	number = excluded.number,
	total_cents = excluded.total_cents,
	tax_cents = excluded.tax_cents,
	issued_at = excluded.issued_at
`, record.ID, record.Number, record.TotalCents, record.TaxCents, toMillis(record.IssuedAt),
		record.HasAnomalies, toNullMillis(record.LastInvestigatedAt))
	if err != nil {
		return fmt.Errorf("put invoice: %w", err)
	}
	return nil
}

// ListInvoices lists every scanned invoice in issue order.
func (s *Store) ListInvoices(ctx context.Context) ([]storage.InvoiceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, number, total_cents, tax_cents, issued_at, has_anomalies, last_investigated_at
FROM invoices
ORDER BY issued_at ASC, id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var records []storage.InvoiceRecord
	for rows.Next() {
		var record storage.InvoiceRecord
		var issuedAt int64
		var lastInvestigatedAt sql.NullInt64
		if err := rows.Scan(&record.ID, &record.Number, &record.TotalCents, &record.TaxCents, &issuedAt, &record.HasAnomalies, &lastInvestigatedAt); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		record.IssuedAt = fromMillis(issuedAt)
		record.LastInvestigatedAt = fromNullMillis(lastInvestigatedAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoices: %w", err)
	}
	return records, nil
}

// PutWaybill upserts one scanned waybill.
func (s *Store) PutWaybill(ctx context.Context, record storage.WaybillRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	record.ID = strings.TrimSpace(record.ID)
	record.Number = strings.TrimSpace(record.Number)
	if record.ID == "" {
		return fmt.Errorf("waybill id is required")
	}
	if record.Number == "" {
		return fmt.Errorf("waybill number is required")
	}
	if record.IssuedAt.IsZero() {
		return fmt.Errorf("waybill issued at is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO waybills (id, number, issued_at, due_at, delivered_at, has_anomalies, last_investigated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	number = excluded.number,
	issued_at = excluded.issued_at,
	due_at = excluded.due_at,
	delivered_at = excluded.delivered_at
`, record.ID, record.Number, toMillis(record.IssuedAt), toNullMillis(record.DueAt),
		toNullMillis(record.DeliveredAt), record.HasAnomalies, toNullMillis(record.LastInvestigatedAt))
	if err != nil {
		return fmt.Errorf("put waybill: %w", err)
	}
	return nil
}

// ListWaybills lists every scanned waybill in issue order.
func (s *Store) ListWaybills(ctx context.Context) ([]storage.WaybillRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, number, issued_at, due_at, delivered_at, has_anomalies, last_investigated_at
FROM waybills
ORDER BY issued_at ASC, id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list waybills: %w", err)
	}
	defer rows.Close()

	var records []storage.WaybillRecord
	for rows.Next() {
		var record storage.WaybillRecord
		var issuedAt int64
		var dueAt, deliveredAt, lastInvestigatedAt sql.NullInt64
		if err := rows.Scan(&record.ID, &record.Number, &issuedAt, &dueAt, &deliveredAt, &record.HasAnomalies, &lastInvestigatedAt); err != nil {
			return nil, fmt.Errorf("scan waybill: %w", err)
		}
		record.IssuedAt = fromMillis(issuedAt)
		record.DueAt = fromNullMillis(dueAt)
		record.DeliveredAt = fromNullMillis(deliveredAt)
		record.LastInvestigatedAt = fromNullMillis(lastInvestigatedAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate waybills: %w", err)
	}
	return records, nil
}

// FlagInvoices marks the given invoices anomalous and stamps the scan time.
func (s *Store) FlagInvoices(ctx context.Context, anomalousIDs []string, investigatedAt time.Time) error {
	return s.flagRecords(ctx, "invoices", anomalousIDs, investigatedAt)
}

// FlagWaybills marks the given waybills anomalous and stamps the scan time.
func (s *Store) FlagWaybills(ctx context.Context, anomalousIDs []string, investigatedAt time.Time) error {
	return s.flagRecords(ctx, "waybills", anomalousIDs, investigatedAt)
}

func (s *Store) flagRecords(ctx context.Context, table string, anomalousIDs []string, investigatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if investigatedAt.IsZero() {
		return fmt.Errorf("investigated at is required")
	}
	if len(anomalousIDs) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(anomalousIDs))
	args := make([]any, 0, len(anomalousIDs)+1)
	args = append(args, toMillis(investigatedAt))
	for _, id := range anomalousIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return fmt.Errorf("record id is required")
		}
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}

	query := fmt.Sprintf(`
UPDATE %s
SET has_anomalies = 1, last_investigated_at = ?
WHERE id IN (%s)
`, table, strings.Join(placeholders, ", "))
	if _, err := s.sqlDB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("flag %s: %w", table, err)
	}
	return nil
}

var _ storage.RecordSource = (*Store)(nil)
