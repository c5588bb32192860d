package processing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-risk-alerts/internal/cache"
	"market-risk-alerts/internal/storage"
	"market-risk-alerts/internal/tasks"
)

var (
	criticalWeight = decimal.NewFromInt(10)
	highWeight     = decimal.NewFromInt(5)
	amountDivisor  = decimal.NewFromInt(100000)
)

// RiskScore computes critical×10 + high×5 + totalAmount/100000.
func RiskScore(critical, high int, totalAmount decimal.Decimal) decimal.Decimal {
	return criticalWeight.Mul(decimal.NewFromInt(int64(critical))).
		Add(highWeight.Mul(decimal.NewFromInt(int64(high)))).
		Add(totalAmount.Div(amountDivisor))
}

// RecalcResult reports the profile written by a recalculation.
type RecalcResult struct {
	CompanyName     string          `json:"company"`
	TotalViolations int             `json:"total_violations"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	RiskScore       decimal.Decimal `json:"risk_score"`
	AlertsSynced    int64           `json:"alerts_synced"`
}

// RiskRecalculator rebuilds a company profile from the company's full alert
// history.
type RiskRecalculator struct {
	store       storage.AlertStore
	invalidator *cache.Invalidator
	logger      zerolog.Logger
}

// NewRiskRecalculator constructs the recalculator. A nil invalidator skips
// cache eviction.
func NewRiskRecalculator(store storage.AlertStore, invalidator *cache.Invalidator, logger zerolog.Logger) *RiskRecalculator {
	return &RiskRecalculator{
		store:       store,
		invalidator: invalidator,
		logger:      logger.With().Str("component", "risk_recalculator").Logger(),
	}
}

// Recalculate aggregates, scores and upserts inside one transaction holding
// the company lock, then evicts the top companies view. A company with no
// alerts still gets a zero-score profile.
func (r *RiskRecalculator) Recalculate(ctx context.Context, companyName string) (RecalcResult, error) {
	var result RecalcResult
	err := r.store.InTx(ctx, func(tx storage.AlertTx) error {
		if err := tx.LockCompany(ctx, companyName); err != nil {
			return fmt.Errorf("lock company: %w", err)
		}
		agg, err := tx.AggregateByCompany(ctx, companyName)
		if err != nil {
			return fmt.Errorf("aggregate company: %w", err)
		}

		score := RiskScore(agg.Count(storage.SeverityCritical), agg.Count(storage.SeverityHigh), agg.TotalAmount)
		profile, err := tx.UpsertCompanyProfile(ctx, storage.CompanyProfile{
			CompanyName:     companyName,
			TotalViolations: agg.Total,
			TotalAmount:     agg.TotalAmount,
			RiskScore:       score,
			LastViolationAt: agg.LastDetectedAt,
		})
		if err != nil {
			return fmt.Errorf("upsert company profile: %w", err)
		}

		synced, err := tx.SyncAlertSnapshots(ctx, companyName, profile.TotalViolations, profile.RiskScore)
		if err != nil {
			return fmt.Errorf("sync alert snapshots: %w", err)
		}

		result = RecalcResult{
			CompanyName:     companyName,
			TotalViolations: profile.TotalViolations,
			TotalAmount:     profile.TotalAmount,
			RiskScore:       profile.RiskScore,
			AlertsSynced:    synced,
		}
		return nil
	})
	if err != nil {
		return RecalcResult{}, fmt.Errorf("recalculate %s: %w", companyName, err)
	}

	r.invalidator.Invalidate(ctx, cache.TopRiskCompaniesKey)

	r.logger.Info().
		Str("company", companyName).
		Int("total_violations", result.TotalViolations).
		Str("risk_score", result.RiskScore.String()).
		Int64("alerts_synced", result.AlertsSynced).
		Msg("company risk recalculated")
	return result, nil
}

// Handle adapts Recalculate to the task runner.
func (r *RiskRecalculator) Handle(ctx context.Context, task tasks.Task) (tasks.Outcome, error) {
	var payload recalculatePayload
	if err := task.Decode(&payload); err != nil {
		return "", err
	}
	if payload.CompanyName == "" {
		return "", tasks.Permanent(&ValidationError{Field: "company_name", Reason: "must not be empty"})
	}
	if _, err := r.Recalculate(ctx, payload.CompanyName); err != nil {
		return "", err
	}
	return tasks.OutcomeSuccess, nil
}
