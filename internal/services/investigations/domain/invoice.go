package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TypeCodeInvoiceAudit identifies the invoice anomaly investigator.
const TypeCodeInvoiceAudit = "invoice_audit"

// Invoice is one scanned invoice record. Amounts are integer cents.
type Invoice struct {
	ID                 string
	Number             string
	TotalCents         int64
	TaxCents           int64
	IssuedAt           time.Time
	HasAnomalies       bool
	LastInvestigatedAt *time.Time
}

// EvaluateInvoice applies the enabled invoice anomaly rules. It is a pure
// predicate: no persistence, no clock reads. Returns every triggered reason
// and the combined severity, or false when the invoice is clean.
func EvaluateInvoice(invoice Invoice, now time.Time, thresholds Thresholds) (Severity, []string, bool) {
	var reasons []string
	severity := SeverityAnomaly

	if thresholds.NegativeTotalEnabled && invoice.TotalCents < 0 {
		reasons = append(reasons, "total is negative")
		severity = SeverityCritical
	}
	if thresholds.TaxRatioEnabled && invoice.TotalCents > 0 && invoice.TaxCents > 0 {
		ratio := float64(invoice.TaxCents) / float64(invoice.TotalCents)
		if ratio > thresholds.MaxTaxRatio {
			reasons = append(reasons, fmt.Sprintf("tax ratio %.2f exceeds %.2f", ratio, thresholds.MaxTaxRatio))
		}
	}
	if thresholds.FutureIssueEnabled && invoice.IssuedAt.After(now.Add(thresholds.maxIssueSkew())) {
		reasons = append(reasons, fmt.Sprintf("issue date %s is in the future", invoice.IssuedAt.UTC().Format(time.RFC3339)))
	}

	if len(reasons) == 0 {
		return "", nil, false
	}
	return severity, reasons, true
}

// InvoiceInvestigator flags anomalous invoices and writes anomaly flags back
// to the record source.
type InvoiceInvestigator struct {
	deps InvestigatorDeps
}

// NewInvoiceInvestigator binds the invoice investigator to its collaborators.
func NewInvoiceInvestigator(deps InvestigatorDeps) (*InvoiceInvestigator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &InvoiceInvestigator{deps: deps}, nil
}

// TypeCode returns the catalog code for this investigator.
func (inv *InvoiceInvestigator) TypeCode() string {
	return TypeCodeInvoiceAudit
}

// Run scans every invoice, emits one finding per anomalous invoice listing
// all triggered reasons, flags the anomalous records, and closes with a
// summary finding.
func (inv *InvoiceInvestigator) Run(ctx context.Context) error {
	if inv == nil {
		return ErrRecordSourceRequired
	}
	return runScan(ctx, inv.deps, inv.scan)
}

func (inv *InvoiceInvestigator) scan(ctx context.Context) error {
	invoices, err := inv.deps.Records.ListInvoices(ctx)
	if err != nil {
		return fmt.Errorf("list invoices: %w", err)
	}

	now := inv.deps.nowUTC()
	var flaggedIDs []string
	for _, invoice := range invoices {
		severity, reasons, anomalous := EvaluateInvoice(invoice, now, inv.deps.Thresholds)
		if !anomalous {
			continue
		}
		flaggedIDs = append(flaggedIDs, invoice.ID)

		payload, err := json.Marshal(struct {
			InvoiceID string   `json:"invoice_id"`
			Number    string   `json:"number"`
			Reasons   []string `json:"reasons"`
		}{InvoiceID: invoice.ID, Number: invoice.Number, Reasons: reasons})
		if err != nil {
			return fmt.Errorf("encode invoice finding payload: %w", err)
		}
		if err := inv.deps.Report(ctx, Finding{
			Severity:    severity,
			Message:     fmt.Sprintf("invoice %s: %s", invoice.Number, strings.Join(reasons, "; ")),
			PayloadJSON: string(payload),
			CreatedAt:   now,
		}); err != nil {
			return err
		}
	}

	if err := inv.deps.Records.FlagInvoices(ctx, flaggedIDs, now); err != nil {
		return fmt.Errorf("flag invoices: %w", err)
	}
	return inv.deps.Report(ctx, Finding{
		Severity:  SeverityInfo,
		Message:   fmt.Sprintf("scanned %d invoices, flagged %d", len(invoices), len(flaggedIDs)),
		CreatedAt: now,
	})
}

var _ Investigator = (*InvoiceInvestigator)(nil)
