package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-risk-alerts/internal/config"
)

func newPostgresStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("RISKALERTS_TEST_DSN")
	if dsn == "" {
		t.Skip("RISKALERTS_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := NewPool(ctx, config.DatabaseConfig{DSN: dsn, MaxOpenConns: 4, ConnMaxLifetime: time.Minute})
	require.NoError(t, err)
	store := NewStore(pool)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestStoreNotConfigured(t *testing.T) {
	store := NewStore(nil)
	_, err := store.GetAlert(context.Background(), "A")
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestPostgresRecalculationTx(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	company := fmt.Sprintf("Test Co %s", uuid.NewString())
	detected := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)

	n, err := store.InsertAlerts(ctx, []Alert{
		{AlertID: uuid.NewString(), CompanyName: company, Severity: SeverityCritical, Amount: decimal.RequireFromString("1000000"), DetectedAt: detected},
		{AlertID: uuid.NewString(), CompanyName: company, Severity: SeverityHigh, Amount: decimal.RequireFromString("250000.50"), DetectedAt: detected.Add(-time.Hour)},
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	var synced int64
	err = store.InTx(ctx, func(tx AlertTx) error {
		if err := tx.LockCompany(ctx, company); err != nil {
			return err
		}
		agg, err := tx.AggregateByCompany(ctx, company)
		if err != nil {
			return err
		}
		assert.Equal(t, 2, agg.Total)
		assert.Equal(t, 1, agg.Count(SeverityCritical))
		require.NotNil(t, agg.LastDetectedAt)
		assert.True(t, agg.LastDetectedAt.Equal(detected))

		profile, err := tx.UpsertCompanyProfile(ctx, CompanyProfile{
			CompanyName:     company,
			TotalViolations: agg.Total,
			TotalAmount:     agg.TotalAmount,
			RiskScore:       decimal.RequireFromString("27.5"),
			LastViolationAt: agg.LastDetectedAt,
		})
		if err != nil {
			return err
		}
		synced, err = tx.SyncAlertSnapshots(ctx, company, profile.TotalViolations, profile.RiskScore)
		return err
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, synced)

	top, err := store.ListTopCompanies(ctx, 1000)
	require.NoError(t, err)
	var found bool
	for _, p := range top {
		if p.CompanyName == company {
			found = true
			assert.Equal(t, "27.5", p.RiskScore.String())
			assert.Equal(t, "1250000.5", p.TotalAmount.String())
		}
	}
	assert.True(t, found)
}

func TestPostgresDailyStatisticUpsert(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	date := time.Date(1999, 1, 2, 0, 0, 0, 0, time.UTC)

	for _, total := range []int{3, 5} {
		require.NoError(t, store.UpsertDailyStatistic(ctx, DailyStatistic{
			Date:               date,
			TotalAlerts:        total,
			TotalAmount:        decimal.NewFromInt(int64(total * 100)),
			AvgResolutionHours: decimal.Zero,
		}))
	}

	stats, err := store.ListDailyStatistics(ctx, date, date)
	require.NoError(t, err)
	require.Len(t, stats, 1, "upsert by date must not duplicate")
	assert.Equal(t, 5, stats[0].TotalAlerts)
}
