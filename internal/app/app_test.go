package app

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-risk-alerts/internal/config"
	"market-risk-alerts/internal/storage"
	"market-risk-alerts/internal/tasks"
)

func newMemoryApp(t *testing.T) *App {
	t.Helper()
	t.Setenv("RISKALERTS_CACHE_BACKEND", "memory")
	t.Setenv("RISKALERTS_TASKS_BROKER", "memory")
	t.Setenv("RISKALERTS_SCHEDULER_TIMEZONE", "UTC")
	cfg, err := config.Load("")
	require.NoError(t, err)
	return NewApp(cfg, zerolog.Nop())
}

func TestBackfillDatesInclusive(t *testing.T) {
	from := time.Date(2026, 2, 27, 15, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)

	dates := backfillDates(from, to, time.UTC)
	require.Len(t, dates, 4)
	assert.Equal(t, "2026-02-27", dates[0].Format("2006-01-02"))
	assert.Equal(t, "2026-03-02", dates[3].Format("2006-01-02"))
	for _, d := range dates {
		assert.Zero(t, d.Hour())
	}

	assert.Len(t, backfillDates(from, from, time.UTC), 1)
	assert.Empty(t, backfillDates(to, from, time.UTC))
}

func TestBackfillRunsEveryDay(t *testing.T) {
	a := newMemoryApp(t)
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, a.Backfill(context.Background(), BackfillOptions{From: from, To: from.AddDate(0, 0, 6), Workers: 3}))
	require.NoError(t, a.Backfill(context.Background(), BackfillOptions{From: from, To: from, DryRun: true}))
	require.Error(t, a.Backfill(context.Background(), BackfillOptions{From: from.AddDate(0, 0, 1), To: from}))
}

func TestGenerateAlertsDeterministic(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	opts := SeedOptions{Count: 200, Companies: 5, Days: 10, Seed: 7}

	first := generateAlerts(opts, now)
	second := generateAlerts(opts, now)
	require.Len(t, first, 200)
	assert.Equal(t, first, second)

	companies := map[string]struct{}{}
	for _, al := range first {
		assert.Regexp(t, `^ALERT-[0-9A-F]{8}$`, al.AlertID)
		assert.Equal(t, storage.StatusPending, al.Status)
		assert.False(t, al.DetectedAt.After(now))
		assert.True(t, al.DetectedAt.After(now.AddDate(0, 0, -11)))
		assert.True(t, al.Amount.GreaterThanOrEqual(decimal.Zero))
		_, err := storage.ParseSeverity(string(al.Severity))
		assert.NoError(t, err)
		companies[al.CompanyName] = struct{}{}
	}
	assert.LessOrEqual(t, len(companies), 5)
}

func TestSeedRequiresCount(t *testing.T) {
	a := newMemoryApp(t)
	require.Error(t, a.Seed(context.Background(), SeedOptions{}))
	require.NoError(t, a.Seed(context.Background(), SeedOptions{Count: 50, BatchSize: 7, Seed: 1}))
}

func TestWriteStatisticsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "stats.csv")
	stats := []storage.DailyStatistic{{
		Date:               time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		TotalAlerts:        3,
		CriticalAlerts:     1,
		HighAlerts:         1,
		LowAlerts:          1,
		TotalAmount:        decimal.RequireFromString("1500.50"),
		AvgResolutionHours: decimal.RequireFromString("2.5"),
	}}
	require.NoError(t, writeStatisticsCSV(path, stats))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "date", records[0][0])
	assert.Equal(t, []string{"2026-04-01", "3", "1", "1", "0", "1", "1500.5", "2.5"}, records[1])
}

func TestExportRequiresOutput(t *testing.T) {
	a := newMemoryApp(t)
	require.Error(t, a.Export(context.Background(), ExportOptions{}))
}

func TestOpenRuntimeRedisBackends(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("RISKALERTS_REDIS_ADDR", mr.Addr())
	t.Setenv("RISKALERTS_SCHEDULER_TIMEZONE", "UTC")
	cfg, err := config.Load("")
	require.NoError(t, err)
	a := NewApp(cfg, zerolog.Nop())

	rt, err := a.openRuntime(context.Background())
	require.NoError(t, err)
	defer rt.Close()

	assert.IsType(t, &tasks.RedisBroker{}, rt.broker)
	assert.NotNil(t, rt.recent)
	assert.NotNil(t, rt.memory)
	assert.Nil(t, rt.locker)

	res, err := a.components(rt).Dispatcher.DispatchBatch(context.Background(), []string{"A-1", "A-2"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalAlerts)

	status, err := rt.tracker.Status(context.Background(), res.GroupID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Total)
}
