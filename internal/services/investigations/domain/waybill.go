package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TypeCodeWaybillAudit identifies the waybill anomaly investigator.
const TypeCodeWaybillAudit = "waybill_audit"

// Waybill is one scanned waybill record.
type Waybill struct {
	ID                 string
	Number             string
	IssuedAt           time.Time
	DueAt              *time.Time
	DeliveredAt        *time.Time
	HasAnomalies       bool
	LastInvestigatedAt *time.Time
}

// EvaluateWaybill applies the enabled waybill anomaly rules. Delivered
// waybills are never anomalous. Waybills without a due date fall back to the
// legacy cutoff rule on the issue date.
func EvaluateWaybill(waybill Waybill, now time.Time, thresholds Thresholds) (Severity, []string, bool) {
	if waybill.DeliveredAt != nil {
		return "", nil, false
	}

	var reasons []string
	severity := SeverityAnomaly

	switch {
	case waybill.DueAt == nil:
		if thresholds.LegacyCutoffEnabled && waybill.IssuedAt.Before(now.Add(-thresholds.legacyCutoff())) {
			reasons = append(reasons, fmt.Sprintf("no due date and issued more than %d days ago", thresholds.LegacyCutoffDays))
		}
	case waybill.DueAt.Before(now):
		if thresholds.OverdueEnabled {
			reasons = append(reasons, fmt.Sprintf("overdue since %s", waybill.DueAt.UTC().Format(time.RFC3339)))
			severity = SeverityCritical
		}
	case waybill.DueAt.Before(now.Add(thresholds.expiryWindow())):
		if thresholds.ExpiringSoonEnabled {
			reasons = append(reasons, fmt.Sprintf("due within %d days", thresholds.ExpiryWindowDays))
		}
	}

	if len(reasons) == 0 {
		return "", nil, false
	}
	return severity, reasons, true
}

// WaybillInvestigator flags undelivered waybills that are overdue, expiring
// soon, or past the legacy age cutoff.
type WaybillInvestigator struct {
	deps InvestigatorDeps
}

// NewWaybillInvestigator binds the waybill investigator to its collaborators.
func NewWaybillInvestigator(deps InvestigatorDeps) (*WaybillInvestigator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &WaybillInvestigator{deps: deps}, nil
}

// TypeCode returns the catalog code for this investigator.
func (inv *WaybillInvestigator) TypeCode() string {
	return TypeCodeWaybillAudit
}

// Run scans every waybill, emits one finding per anomalous waybill, and
// flags the anomalous records. Unlike the invoice variant it emits no
// trailing summary.
func (inv *WaybillInvestigator) Run(ctx context.Context) error {
	if inv == nil {
		return ErrRecordSourceRequired
	}
	return runScan(ctx, inv.deps, inv.scan)
}

func (inv *WaybillInvestigator) scan(ctx context.Context) error {
	waybills, err := inv.deps.Records.ListWaybills(ctx)
	if err != nil {
		return fmt.Errorf("list waybills: %w", err)
	}

	now := inv.deps.nowUTC()
	var flaggedIDs []string
	for _, waybill := range waybills {
		severity, reasons, anomalous := EvaluateWaybill(waybill, now, inv.deps.Thresholds)
		if !anomalous {
			continue
		}
		flaggedIDs = append(flaggedIDs, waybill.ID)

		payload, err := json.Marshal(struct {
			WaybillID string   `json:"waybill_id"`
			Number    string   `json:"number"`
			Reasons   []string `json:"reasons"`
		}{WaybillID: waybill.ID, Number: waybill.Number, Reasons: reasons})
		if err != nil {
			return fmt.Errorf("encode waybill finding payload: %w", err)
		}
		if err := inv.deps.Report(ctx, Finding{
			Severity:    severity,
			Message:     fmt.Sprintf("waybill %s: %s", waybill.Number, strings.Join(reasons, "; ")),
			PayloadJSON: string(payload),
			CreatedAt:   now,
		}); err != nil {
			return err
		}
	}

	if err := inv.deps.Records.FlagWaybills(ctx, flaggedIDs, now); err != nil {
		return fmt.Errorf("flag waybills: %w", err)
	}
	return nil
}

var _ Investigator = (*WaybillInvestigator)(nil)
