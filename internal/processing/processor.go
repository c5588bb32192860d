package processing

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"market-risk-alerts/internal/storage"
	"market-risk-alerts/internal/tasks"
)

// ProcessResult is the terminal report of one alert.
type ProcessResult struct {
	Status      string `json:"status"`
	AlertID     string `json:"alert_id"`
	CompanyName string `json:"company_name,omitempty"`
}

// AlertProcessor moves one alert into review and schedules a recalculation
// of its company.
type AlertProcessor struct {
	store    storage.AlertStore
	enqueuer tasks.Enqueuer
	logger   zerolog.Logger
}

// NewAlertProcessor constructs the processor.
func NewAlertProcessor(store storage.AlertStore, enqueuer tasks.Enqueuer, logger zerolog.Logger) *AlertProcessor {
	return &AlertProcessor{
		store:    store,
		enqueuer: enqueuer,
		logger:   logger.With().Str("component", "alert_processor").Logger(),
	}
}

// Process returns a not_found result with a nil error for unknown ids. Any
// returned error is transient and eligible for retry.
func (p *AlertProcessor) Process(ctx context.Context, alertID string) (ProcessResult, error) {
	alert, err := p.store.GetAlert(ctx, alertID)
	if errors.Is(err, storage.ErrNotFound) {
		p.logger.Info().Str("alert_id", alertID).Msg("alert not found")
		return ProcessResult{Status: StatusNotFound, AlertID: alertID}, nil
	}
	if err != nil {
		return ProcessResult{}, fmt.Errorf("load alert %s: %w", alertID, err)
	}

	if err := p.store.UpdateAlertStatus(ctx, alertID, storage.StatusReviewing); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ProcessResult{Status: StatusNotFound, AlertID: alertID}, nil
		}
		return ProcessResult{}, fmt.Errorf("update alert %s: %w", alertID, err)
	}

	// fire-and-forget: an enqueue failure here does not fail the alert
	task, err := tasks.NewTask(KindRecalculateRisk, recalculatePayload{CompanyName: alert.CompanyName})
	if err == nil {
		err = p.enqueuer.Enqueue(ctx, task)
	}
	if err != nil {
		p.logger.Error().Err(err).
			Str("alert_id", alertID).
			Str("company", alert.CompanyName).
			Msg("failed to schedule risk recalculation")
	}

	p.logger.Debug().Str("alert_id", alertID).Str("company", alert.CompanyName).Msg("alert moved to review")
	return ProcessResult{Status: StatusSuccess, AlertID: alertID, CompanyName: alert.CompanyName}, nil
}

// Handle adapts Process to the task runner.
func (p *AlertProcessor) Handle(ctx context.Context, task tasks.Task) (tasks.Outcome, error) {
	var payload processAlertPayload
	if err := task.Decode(&payload); err != nil {
		return "", err
	}
	if payload.AlertID == "" {
		return "", tasks.Permanent(&ValidationError{Field: "alert_id", Reason: "must not be empty"})
	}
	result, err := p.Process(ctx, payload.AlertID)
	if err != nil {
		return "", err
	}
	if result.Status == StatusNotFound {
		return tasks.OutcomeNotFound, nil
	}
	return tasks.OutcomeSuccess, nil
}
