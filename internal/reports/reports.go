// Package reports serves the cached aggregate read views. Each view is
// read-through: a miss loads from the store and repopulates the key with the
// view's TTL.
package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-risk-alerts/internal/cache"
	"market-risk-alerts/internal/storage"
)

// CompanyRisk is one row of the top companies view.
type CompanyRisk struct {
	CompanyName     string          `json:"company_name"`
	TotalViolations int             `json:"total_violations"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	RiskScore       decimal.Decimal `json:"risk_score"`
	LastViolationAt *time.Time      `json:"last_violation_at,omitempty"`
}

// TrendPoint is one day of the risk trends view.
type TrendPoint struct {
	Date               string          `json:"date"`
	TotalAlerts        int             `json:"total_alerts"`
	CriticalAlerts     int             `json:"critical_alerts"`
	HighAlerts         int             `json:"high_alerts"`
	MediumAlerts       int             `json:"medium_alerts"`
	LowAlerts          int             `json:"low_alerts"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	AvgResolutionHours decimal.Decimal `json:"avg_resolution_hours"`
}

// Dashboard summarises alerts detected over the trailing window.
type Dashboard struct {
	Since         time.Time       `json:"since"`
	TotalAlerts   int             `json:"total_alerts"`
	PendingAlerts int             `json:"pending_alerts"`
	BySeverity    map[string]int  `json:"by_severity"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
}

// Options size the views.
type Options struct {
	TopCompaniesLimit int
	TrendDays         int
	DashboardTTL      time.Duration
	TrendsTTL         time.Duration
	TopCompaniesTTL   time.Duration
	Location          *time.Location
}

func (o *Options) applyDefaults() {
	if o.TopCompaniesLimit <= 0 {
		o.TopCompaniesLimit = 10
	}
	if o.TrendDays <= 0 {
		o.TrendDays = 30
	}
	if o.DashboardTTL <= 0 {
		o.DashboardTTL = cache.DashboardStatisticsTTL
	}
	if o.TrendsTTL <= 0 {
		o.TrendsTTL = cache.RiskTrendsTTL
	}
	if o.TopCompaniesTTL <= 0 {
		o.TopCompaniesTTL = cache.TopRiskCompaniesTTL
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
}

// Service builds the views.
type Service struct {
	store  storage.ReportStore
	cache  cache.Cache
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

// NewService constructs the view service. A nil cache always reads through.
func NewService(store storage.ReportStore, c cache.Cache, opts Options, logger zerolog.Logger) *Service {
	opts.applyDefaults()
	return &Service{
		store:  store,
		cache:  c,
		opts:   opts,
		now:    time.Now,
		logger: logger.With().Str("component", "reports").Logger(),
	}
}

// TopRiskCompanies lists the highest scoring companies.
func (s *Service) TopRiskCompanies(ctx context.Context) ([]CompanyRisk, error) {
	return readThrough(ctx, s, cache.TopRiskCompaniesKey, s.opts.TopCompaniesTTL, func(ctx context.Context) ([]CompanyRisk, error) {
		profiles, err := s.store.ListTopCompanies(ctx, s.opts.TopCompaniesLimit)
		if err != nil {
			return nil, fmt.Errorf("list top companies: %w", err)
		}
		out := make([]CompanyRisk, 0, len(profiles))
		for _, p := range profiles {
			out = append(out, CompanyRisk{
				CompanyName:     p.CompanyName,
				TotalViolations: p.TotalViolations,
				TotalAmount:     p.TotalAmount,
				RiskScore:       p.RiskScore,
				LastViolationAt: p.LastViolationAt,
			})
		}
		return out, nil
	})
}

// RiskTrends returns the stored daily statistics of the trailing window,
// oldest first. Days without a row are omitted.
func (s *Service) RiskTrends(ctx context.Context) ([]TrendPoint, error) {
	return readThrough(ctx, s, cache.RiskTrendsKey, s.opts.TrendsTTL, func(ctx context.Context) ([]TrendPoint, error) {
		today := s.today()
		from := today.AddDate(0, 0, -s.opts.TrendDays)
		stats, err := s.store.ListDailyStatistics(ctx, storage.DateOnly(from), storage.DateOnly(today))
		if err != nil {
			return nil, fmt.Errorf("list daily statistics: %w", err)
		}
		out := make([]TrendPoint, 0, len(stats))
		for _, st := range stats {
			out = append(out, TrendPoint{
				Date:               st.Date.Format("2006-01-02"),
				TotalAlerts:        st.TotalAlerts,
				CriticalAlerts:     st.CriticalAlerts,
				HighAlerts:         st.HighAlerts,
				MediumAlerts:       st.MediumAlerts,
				LowAlerts:          st.LowAlerts,
				TotalAmount:        st.TotalAmount,
				AvgResolutionHours: st.AvgResolutionHours,
			})
		}
		return out, nil
	})
}

// DashboardStatistics aggregates alerts detected over the trailing TrendDays
// days up to now.
func (s *Service) DashboardStatistics(ctx context.Context) (Dashboard, error) {
	return readThrough(ctx, s, cache.DashboardStatisticsKey, s.opts.DashboardTTL, func(ctx context.Context) (Dashboard, error) {
		now := s.now()
		since := now.AddDate(0, 0, -s.opts.TrendDays)
		agg, err := s.store.AggregateDetectedBetween(ctx, since, now)
		if err != nil {
			return Dashboard{}, fmt.Errorf("aggregate dashboard window: %w", err)
		}
		bySeverity := make(map[string]int, len(storage.Severities))
		for _, sev := range storage.Severities {
			bySeverity[string(sev)] = agg.Count(sev)
		}
		return Dashboard{
			Since:         since.UTC(),
			TotalAlerts:   agg.Total,
			PendingAlerts: agg.Pending,
			BySeverity:    bySeverity,
			TotalAmount:   agg.TotalAmount,
		}, nil
	})
}

func (s *Service) today() time.Time {
	y, m, d := s.now().In(s.opts.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.opts.Location)
}

// readThrough serves key from the cache, otherwise loads and stores it. Cache
// faults degrade to a direct load.
func readThrough[T any](ctx context.Context, s *Service, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if s.cache != nil {
		var cached T
		err := s.cache.Get(ctx, key, &cached)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
	}

	value, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, value, ttl); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
		}
	}
	return value, nil
}
