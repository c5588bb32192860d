package processing

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-risk-alerts/internal/cache"
	"market-risk-alerts/internal/storage"
	"market-risk-alerts/internal/tasks"
)

// DateLayout is the wire and CLI format of a statistics date.
const DateLayout = "2006-01-02"

// AggregateResult reports one rollup.
type AggregateResult struct {
	Date        string          `json:"date"`
	TotalAlerts int             `json:"total_alerts"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// DailyAggregator rolls one calendar day of alerts into a DailyStatistic.
type DailyAggregator struct {
	store       storage.AlertStore
	invalidator *cache.Invalidator
	loc         *time.Location
	now         func() time.Time
	logger      zerolog.Logger
}

// NewDailyAggregator constructs the aggregator. Calendar days are taken in
// loc; nil means UTC.
func NewDailyAggregator(store storage.AlertStore, invalidator *cache.Invalidator, loc *time.Location, logger zerolog.Logger) *DailyAggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &DailyAggregator{
		store:       store,
		invalidator: invalidator,
		loc:         loc,
		now:         time.Now,
		logger:      logger.With().Str("component", "daily_aggregator").Logger(),
	}
}

// Yesterday returns the calendar day before now in the aggregator's zone.
func (a *DailyAggregator) Yesterday() time.Time {
	y, m, d := a.now().In(a.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, a.loc).AddDate(0, 0, -1)
}

// AggregateDaily rolls up yesterday.
func (a *DailyAggregator) AggregateDaily(ctx context.Context) (AggregateResult, error) {
	return a.AggregateDate(ctx, a.Yesterday())
}

// AggregateDate rolls up the calendar day containing date and replaces that
// day's statistic row.
func (a *DailyAggregator) AggregateDate(ctx context.Context, date time.Time) (AggregateResult, error) {
	y, m, d := date.In(a.loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, a.loc)
	end := start.AddDate(0, 0, 1)
	label := start.Format(DateLayout)

	agg, err := a.store.AggregateDetectedBetween(ctx, start, end)
	if err != nil {
		a.logger.Error().Err(err).Str("date", label).Msg("daily aggregation failed")
		return AggregateResult{}, fmt.Errorf("aggregate %s: %w", label, err)
	}

	stat := storage.DailyStatistic{
		Date:               storage.DateOnly(start),
		TotalAlerts:        agg.Total,
		CriticalAlerts:     agg.Count(storage.SeverityCritical),
		HighAlerts:         agg.Count(storage.SeverityHigh),
		MediumAlerts:       agg.Count(storage.SeverityMedium),
		LowAlerts:          agg.Count(storage.SeverityLow),
		TotalAmount:        agg.TotalAmount,
		AvgResolutionHours: agg.AvgResolutionHours,
	}
	if err := a.store.UpsertDailyStatistic(ctx, stat); err != nil {
		a.logger.Error().Err(err).Str("date", label).Msg("daily statistic upsert failed")
		return AggregateResult{}, fmt.Errorf("store statistic %s: %w", label, err)
	}

	a.invalidator.Invalidate(ctx, cache.RiskTrendsKey)

	a.logger.Info().Str("date", label).Int("total_alerts", stat.TotalAlerts).Msg("daily statistics aggregated")
	return AggregateResult{Date: label, TotalAlerts: stat.TotalAlerts, TotalAmount: stat.TotalAmount}, nil
}

// Handle adapts the aggregator to the task runner. A payload date is
// resolved as given; an empty one means yesterday at execution time.
func (a *DailyAggregator) Handle(ctx context.Context, task tasks.Task) (tasks.Outcome, error) {
	var payload aggregateDailyPayload
	if len(task.Payload) > 0 {
		if err := task.Decode(&payload); err != nil {
			return "", err
		}
	}
	var err error
	if payload.Date == "" {
		_, err = a.AggregateDaily(ctx)
	} else {
		date, parseErr := ParseDate(payload.Date, a.loc)
		if parseErr != nil {
			return "", tasks.Permanent(parseErr)
		}
		_, err = a.AggregateDate(ctx, date)
	}
	if err != nil {
		return "", err
	}
	return tasks.OutcomeSuccess, nil
}

// ParseDate reads a YYYY-MM-DD date as midnight in loc.
func ParseDate(v string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, v, loc)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date", Reason: fmt.Sprintf("%q is not YYYY-MM-DD", v)}
	}
	return t, nil
}

// NewAggregateTask builds a rollup task; a zero date targets yesterday.
func NewAggregateTask(date time.Time) (tasks.Task, error) {
	payload := aggregateDailyPayload{}
	if !date.IsZero() {
		payload.Date = date.Format(DateLayout)
	}
	return tasks.NewTask(KindAggregateDaily, payload)
}
