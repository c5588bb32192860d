package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGetAndUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.GetAlert(ctx, "ALERT-MISSING")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, store.UpdateAlertStatus(ctx, "ALERT-MISSING", StatusReviewing), ErrNotFound)

	n, err := store.InsertAlerts(ctx, []Alert{
		{AlertID: "ALERT-1", CompanyName: "Acme Corp", Severity: SeverityHigh, Amount: decimal.NewFromInt(10)},
		{AlertID: "ALERT-1", CompanyName: "Dup", Severity: SeverityLow, Amount: decimal.NewFromInt(1)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.UpdateAlertStatus(ctx, "ALERT-1", StatusReviewing))
	alert, err := store.GetAlert(ctx, "ALERT-1")
	require.NoError(t, err)
	assert.Equal(t, StatusReviewing, alert.Status)
	assert.Equal(t, "Acme Corp", alert.CompanyName)
}

func TestMemoryStoreTxRollback(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.InsertAlerts(ctx, []Alert{{AlertID: "A", CompanyName: "Acme Corp", Severity: SeverityCritical, Amount: decimal.NewFromInt(5)}})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = store.InTx(ctx, func(tx AlertTx) error {
		_, err := tx.UpsertCompanyProfile(ctx, CompanyProfile{CompanyName: "Acme Corp", TotalViolations: 1, RiskScore: decimal.NewFromInt(10)})
		require.NoError(t, err)
		_, err = tx.SyncAlertSnapshots(ctx, "Acme Corp", 1, decimal.NewFromInt(10))
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, ok := store.CompanyProfile("Acme Corp")
	assert.False(t, ok, "rolled back upsert must not be visible")
	alert, _ := store.GetAlert(ctx, "A")
	assert.Equal(t, 0, alert.TotalViolationsCount)
}

func TestMemoryStoreAggregateWindow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	_, err := store.InsertAlerts(ctx, []Alert{
		{AlertID: "in-1", Severity: SeverityLow, Amount: decimal.RequireFromString("10.25"), DetectedAt: day},
		{AlertID: "in-2", Severity: SeverityCritical, Amount: decimal.RequireFromString("0.75"), DetectedAt: day.Add(23*time.Hour + 59*time.Minute)},
		{AlertID: "in-3", Severity: SeverityCritical, Status: StatusResolved, Amount: decimal.Zero, DetectedAt: day.Add(time.Hour), UpdatedAt: day.Add(4 * time.Hour)},
		{AlertID: "out", Severity: SeverityHigh, Amount: decimal.NewFromInt(99), DetectedAt: day.AddDate(0, 0, 1)},
	})
	require.NoError(t, err)

	agg, err := store.AggregateDetectedBetween(ctx, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 3, agg.Total)
	assert.True(t, decimal.NewFromInt(11).Equal(agg.TotalAmount), agg.TotalAmount.String())
	assert.Equal(t, 2, agg.Count(SeverityCritical))
	assert.Equal(t, 0, agg.Count(SeverityHigh))
	assert.Equal(t, 2, agg.Pending)
	assert.True(t, decimal.NewFromInt(3).Equal(agg.AvgResolutionHours), agg.AvgResolutionHours.String())
}

func TestMemoryStoreTopCompaniesOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for name, score := range map[string]int64{"B": 5, "A": 5, "C": 20} {
		require.NoError(t, store.InTx(ctx, func(tx AlertTx) error {
			_, err := tx.UpsertCompanyProfile(ctx, CompanyProfile{CompanyName: name, RiskScore: decimal.NewFromInt(score)})
			return err
		}))
	}

	top, err := store.ListTopCompanies(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "C", top[0].CompanyName)
	assert.Equal(t, "A", top[1].CompanyName)
}
