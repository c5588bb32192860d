package reports

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-risk-alerts/internal/cache"
	"market-risk-alerts/internal/storage"
)

var fixedNow = time.Date(2026, 10, 14, 15, 30, 0, 0, time.UTC)

func upsertProfile(t *testing.T, store *storage.MemoryStore, name string, score string) {
	t.Helper()
	err := store.InTx(context.Background(), func(tx storage.AlertTx) error {
		_, err := tx.UpsertCompanyProfile(context.Background(), storage.CompanyProfile{
			CompanyName:     name,
			TotalViolations: 1,
			TotalAmount:     decimal.NewFromInt(1000),
			RiskScore:       decimal.RequireFromString(score),
		})
		return err
	})
	require.NoError(t, err)
}

func newService(store storage.ReportStore, c cache.Cache, opts Options) *Service {
	svc := NewService(store, c, opts, zerolog.Nop())
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func TestTopRiskCompaniesReadThrough(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	for name, score := range map[string]string{"Acme Corp": "17.51", "Beta LLC": "3", "Gamma SA": "42"} {
		upsertProfile(t, store, name, score)
	}
	c := cache.NewMemoryCache(time.Minute)
	svc := newService(store, c, Options{TopCompaniesLimit: 2})

	top, err := svc.TopRiskCompanies(ctx)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "Gamma SA", top[0].CompanyName)
	assert.Equal(t, "Acme Corp", top[1].CompanyName)
	assert.Equal(t, "17.51", top[1].RiskScore.String())
	assert.True(t, c.Has(cache.TopRiskCompaniesKey))

	upsertProfile(t, store, "Delta AG", "99")
	cached, err := svc.TopRiskCompanies(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Gamma SA", cached[0].CompanyName, "served from cache until evicted")

	require.NoError(t, c.Delete(ctx, cache.TopRiskCompaniesKey))
	fresh, err := svc.TopRiskCompanies(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Delta AG", fresh[0].CompanyName)
}

func TestRiskTrendsWindow(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	for _, daysAgo := range []int{1, 2, 30, 31, 45} {
		require.NoError(t, store.UpsertDailyStatistic(ctx, storage.DailyStatistic{
			Date:        fixedNow.AddDate(0, 0, -daysAgo),
			TotalAlerts: daysAgo,
			TotalAmount: decimal.NewFromInt(int64(daysAgo)),
		}))
	}
	svc := newService(store, cache.NewMemoryCache(time.Minute), Options{TrendDays: 30})

	trends, err := svc.RiskTrends(ctx)
	require.NoError(t, err)
	require.Len(t, trends, 3)
	assert.Equal(t, "2026-09-14", trends[0].Date)
	assert.Equal(t, 30, trends[0].TotalAlerts)
	assert.Equal(t, "2026-10-13", trends[2].Date)
}

func TestDashboardStatistics(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	mk := func(id string, sev storage.Severity, status storage.Status, at time.Time) storage.Alert {
		return storage.Alert{AlertID: id, CompanyName: "Acme Corp", Severity: sev, Status: status, Amount: decimal.NewFromInt(500), DetectedAt: at}
	}
	_, err := store.InsertAlerts(ctx, []storage.Alert{
		mk("A-1", storage.SeverityCritical, storage.StatusPending, fixedNow.Add(-time.Hour)),
		mk("A-2", storage.SeverityLow, storage.StatusReviewing, fixedNow.Add(-2*time.Hour)),
		mk("A-3", storage.SeverityLow, storage.StatusPending, fixedNow.AddDate(0, 0, -1)),
		mk("A-4", storage.SeverityHigh, storage.StatusPending, fixedNow.AddDate(0, 0, -31)),
	})
	require.NoError(t, err)

	svc := newService(store, nil, Options{})
	dash, err := svc.DashboardStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, fixedNow.AddDate(0, 0, -30), dash.Since)
	assert.Equal(t, 3, dash.TotalAlerts)
	assert.Equal(t, 2, dash.PendingAlerts)
	assert.Equal(t, 1, dash.BySeverity["CRITICAL"])
	assert.Equal(t, 2, dash.BySeverity["LOW"])
	assert.Zero(t, dash.BySeverity["HIGH"])
	assert.Equal(t, "1500", dash.TotalAmount.String())
}

func TestViewsOverRedisCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := storage.NewMemoryStore()
	upsertProfile(t, store, "Acme Corp", "17.51")
	svc := newService(store, cache.NewRedisCache(client, "market_supervision:"), Options{})

	_, err := svc.TopRiskCompanies(ctx)
	require.NoError(t, err)
	require.True(t, mr.Exists("market_supervision:"+cache.TopRiskCompaniesKey))
	assert.Equal(t, cache.TopRiskCompaniesTTL, mr.TTL("market_supervision:"+cache.TopRiskCompaniesKey))

	top, err := svc.TopRiskCompanies(ctx)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "17.51", top[0].RiskScore.String())

	mr.Close()
	degraded, err := svc.DashboardStatistics(ctx)
	require.NoError(t, err, "cache outage falls back to the store")
	assert.Zero(t, degraded.TotalAlerts)
}
