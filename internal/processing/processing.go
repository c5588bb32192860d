// Package processing holds the alert aggregation core: single-alert
// processing, batch fan-out, company risk recalculation and the daily
// statistics rollup. Every unit runs as a task on the tasks substrate.
package processing

import (
	"fmt"

	"market-risk-alerts/internal/tasks"
)

// Task kinds handled by this package.
const (
	KindProcessAlert    tasks.Kind = "alerts.process"
	KindDispatchBatch   tasks.Kind = "alerts.dispatch_batch"
	KindRecalculateRisk tasks.Kind = "alerts.recalculate_risk"
	KindAggregateDaily  tasks.Kind = "stats.aggregate_daily"
)

// Result statuses reported by the processors.
const (
	StatusSuccess  = "success"
	StatusNotFound = "not_found"
)

type processAlertPayload struct {
	AlertID string `json:"alert_id"`
}

type dispatchBatchPayload struct {
	AlertIDs []string `json:"alert_ids"`
}

type recalculatePayload struct {
	CompanyName string `json:"company_name"`
}

type aggregateDailyPayload struct {
	// Date is YYYY-MM-DD; empty means yesterday at execution time.
	Date string `json:"date,omitempty"`
}

// ValidationError rejects caller input before anything is enqueued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func validateAlertIDs(ids []string) error {
	if len(ids) == 0 {
		return &ValidationError{Field: "alert_ids", Reason: "must not be empty"}
	}
	for i, id := range ids {
		if id == "" {
			return &ValidationError{Field: "alert_ids", Reason: fmt.Sprintf("entry %d is blank", i)}
		}
	}
	return nil
}
