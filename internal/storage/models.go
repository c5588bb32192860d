package storage

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Severity ranks an alert's violation.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Severities lists every tier from least to most severe.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// ParseSeverity validates a severity string.
func ParseSeverity(v string) (Severity, error) {
	for _, s := range Severities {
		if string(s) == v {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown severity %q", v)
}

// Status is the review state of an alert.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusReviewing Status = "REVIEWING"
	StatusResolved  Status = "RESOLVED"
)

// Alert is a recorded market-supervision violation.
type Alert struct {
	AlertID       string
	CompanyName   string
	ViolationType string
	Severity      Severity
	Status        Status
	Amount        decimal.Decimal
	DetectedAt    time.Time
	Region        string

	// Snapshot of the owning company's profile, rewritten on every recalculation.
	TotalViolationsCount int
	CompanyRiskScore     decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CompanyProfile is the materialised per-company risk aggregate.
type CompanyProfile struct {
	CompanyName     string
	TotalViolations int
	TotalAmount     decimal.Decimal
	RiskScore       decimal.Decimal
	LastViolationAt *time.Time
	UpdatedAt       time.Time
}

// DailyStatistic is the rollup of one calendar day of alerts.
type DailyStatistic struct {
	Date               time.Time
	TotalAlerts        int
	CriticalAlerts     int
	HighAlerts         int
	MediumAlerts       int
	LowAlerts          int
	TotalAmount        decimal.Decimal
	AvgResolutionHours decimal.Decimal
	UpdatedAt          time.Time
}

// Aggregate is one consistent snapshot over a set of alerts.
type Aggregate struct {
	Total              int
	TotalAmount        decimal.Decimal
	BySeverity         map[Severity]int
	Pending            int
	LastDetectedAt     *time.Time
	AvgResolutionHours decimal.Decimal
}

// Count returns the number of alerts of the given severity.
func (a Aggregate) Count(s Severity) int {
	if a.BySeverity == nil {
		return 0
	}
	return a.BySeverity[s]
}

// DateOnly truncates t to midnight of its calendar day in its own location,
// then pins the result to UTC so dates compare equal regardless of zone.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
