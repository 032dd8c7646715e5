package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Thresholds tunes the anomaly rules. Zero values fall back to defaults at
// resolution time, so a partial catalog config overrides only what it names.
type Thresholds struct {
	// MaxTaxRatio is the highest allowed tax/total ratio before an invoice
	// is flagged.
	MaxTaxRatio float64 `json:"max_tax_ratio"`
	// MaxIssueSkewHours bounds how far in the future an invoice issue date
	// may sit before it is flagged. Covers clock drift between scanners.
	MaxIssueSkewHours int `json:"max_issue_skew_hours"`
	// ExpiryWindowDays is the lookahead window for waybills due soon.
	ExpiryWindowDays int `json:"expiry_window_days"`
	// LegacyCutoffDays is the fallback age limit for waybills without a due
	// date.
	LegacyCutoffDays int `json:"legacy_cutoff_days"`

	// Per-check enable switches. Every check defaults to enabled; a catalog
	// config disables one by naming its key with false. Unmarshalling over
	// the defaults keeps absent keys enabled.
	NegativeTotalEnabled bool `json:"negative_total_enabled"`
	TaxRatioEnabled      bool `json:"tax_ratio_enabled"`
	FutureIssueEnabled   bool `json:"future_issue_enabled"`
	OverdueEnabled       bool `json:"overdue_enabled"`
	ExpiringSoonEnabled  bool `json:"expiring_soon_enabled"`
	LegacyCutoffEnabled  bool `json:"legacy_cutoff_enabled"`
}

// DefaultThresholds returns the built-in anomaly rule tuning with every
// check enabled.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxTaxRatio:          0.5,
		MaxIssueSkewHours:    24,
		ExpiryWindowDays:     3,
		LegacyCutoffDays:     30,
		NegativeTotalEnabled: true,
		TaxRatioEnabled:      true,
		FutureIssueEnabled:   true,
		OverdueEnabled:       true,
		ExpiringSoonEnabled:  true,
		LegacyCutoffEnabled:  true,
	}
}

// ResolveThresholds merges a catalog default_config JSON document over the
// built-in defaults. A blank document resolves to the defaults unchanged.
func ResolveThresholds(defaultConfig string) (Thresholds, error) {
	resolved := DefaultThresholds()
	defaultConfig = strings.TrimSpace(defaultConfig)
	if defaultConfig == "" {
		return resolved, nil
	}
	if err := json.Unmarshal([]byte(defaultConfig), &resolved); err != nil {
		return Thresholds{}, fmt.Errorf("parse investigator config: %w", err)
	}
	if resolved.MaxTaxRatio <= 0 {
		resolved.MaxTaxRatio = DefaultThresholds().MaxTaxRatio
	}
	if resolved.MaxIssueSkewHours <= 0 {
		resolved.MaxIssueSkewHours = DefaultThresholds().MaxIssueSkewHours
	}
	if resolved.ExpiryWindowDays <= 0 {
		resolved.ExpiryWindowDays = DefaultThresholds().ExpiryWindowDays
	}
	if resolved.LegacyCutoffDays <= 0 {
		resolved.LegacyCutoffDays = DefaultThresholds().LegacyCutoffDays
	}
	return resolved, nil
}

func (t Thresholds) maxIssueSkew() time.Duration {
	return time.Duration(t.MaxIssueSkewHours) * time.Hour
}

func (t Thresholds) expiryWindow() time.Duration {
	return time.Duration(t.ExpiryWindowDays) * 24 * time.Hour
}

func (t Thresholds) legacyCutoff() time.Duration {
	return time.Duration(t.LegacyCutoffDays) * 24 * time.Hour
}
