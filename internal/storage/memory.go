package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process implementation of the storage contracts. A
// single mutex is held for the duration of every call and every transaction,
// so transactions are serialisable.
type MemoryStore struct {
	mu        sync.Mutex
	alerts    map[string]Alert
	companies map[string]CompanyProfile
	daily     map[time.Time]DailyStatistic
	now       func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:    make(map[string]Alert),
		companies: make(map[string]CompanyProfile),
		daily:     make(map[time.Time]DailyStatistic),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// InsertAlerts adds alerts, skipping ids that already exist.
func (m *MemoryStore) InsertAlerts(_ context.Context, alerts []Alert) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, a := range alerts {
		if _, exists := m.alerts[a.AlertID]; exists {
			continue
		}
		if a.Status == "" {
			a.Status = StatusPending
		}
		now := m.now()
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
		m.alerts[a.AlertID] = a
		inserted++
	}
	return inserted, nil
}

func (m *MemoryStore) GetAlert(_ context.Context, alertID string) (Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[alertID]
	if !ok {
		return Alert{}, ErrNotFound
	}
	return alert, nil
}

func (m *MemoryStore) UpdateAlertStatus(_ context.Context, alertID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[alertID]
	if !ok {
		return ErrNotFound
	}
	alert.Status = status
	alert.UpdatedAt = m.now()
	m.alerts[alertID] = alert
	return nil
}

func (m *MemoryStore) AggregateDetectedBetween(_ context.Context, from, to time.Time) (Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aggregate(func(a Alert) bool {
		return !a.DetectedAt.Before(from) && a.DetectedAt.Before(to)
	}), nil
}

func (m *MemoryStore) UpsertDailyStatistic(_ context.Context, stat DailyStatistic) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stat.Date = DateOnly(stat.Date)
	stat.UpdatedAt = m.now()
	m.daily[stat.Date] = stat
	return nil
}

// DailyStatistic returns the stored rollup for date.
func (m *MemoryStore) DailyStatistic(date time.Time) (DailyStatistic, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stat, ok := m.daily[DateOnly(date)]
	return stat, ok
}

// DailyStatisticCount returns the number of stored rollup rows.
func (m *MemoryStore) DailyStatisticCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.daily)
}

// CompanyProfile returns the stored profile for name.
func (m *MemoryStore) CompanyProfile(name string) (CompanyProfile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.companies[name]
	return p, ok
}

func (m *MemoryStore) ListTopCompanies(_ context.Context, limit int) ([]CompanyProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	profiles := make([]CompanyProfile, 0, len(m.companies))
	for _, p := range m.companies {
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool {
		if c := profiles[i].RiskScore.Cmp(profiles[j].RiskScore); c != 0 {
			return c > 0
		}
		return profiles[i].CompanyName < profiles[j].CompanyName
	})
	if limit > 0 && len(profiles) > limit {
		profiles = profiles[:limit]
	}
	return profiles, nil
}

func (m *MemoryStore) ListDailyStatistics(_ context.Context, from, to time.Time) ([]DailyStatistic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lo, hi := DateOnly(from), DateOnly(to)
	stats := make([]DailyStatistic, 0)
	for date, stat := range m.daily {
		if date.Before(lo) || date.After(hi) {
			continue
		}
		stats = append(stats, stat)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Date.Before(stats[j].Date) })
	return stats, nil
}

// InTx runs fn with the store lock held. Writes are staged and only applied
// when fn returns nil.
func (m *MemoryStore) InTx(ctx context.Context, fn func(tx AlertTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{store: m}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *MemoryStore) aggregate(match func(Alert) bool) Aggregate {
	agg := Aggregate{
		TotalAmount:        decimal.Zero,
		AvgResolutionHours: decimal.Zero,
		BySeverity:         make(map[Severity]int, len(Severities)),
	}
	for _, s := range Severities {
		agg.BySeverity[s] = 0
	}

	resolvedHours := decimal.Zero
	resolved := 0
	for _, a := range m.alerts {
		if !match(a) {
			continue
		}
		agg.Total++
		agg.TotalAmount = agg.TotalAmount.Add(a.Amount)
		agg.BySeverity[a.Severity]++
		if a.Status == StatusPending {
			agg.Pending++
		}
		if agg.LastDetectedAt == nil || a.DetectedAt.After(*agg.LastDetectedAt) {
			detected := a.DetectedAt
			agg.LastDetectedAt = &detected
		}
		if a.Status == StatusResolved {
			hours := decimal.NewFromFloat(a.UpdatedAt.Sub(a.DetectedAt).Hours())
			resolvedHours = resolvedHours.Add(hours)
			resolved++
		}
	}
	if resolved > 0 {
		agg.AvgResolutionHours = resolvedHours.Div(decimal.NewFromInt(int64(resolved))).Round(2)
	}
	return agg
}

type memTx struct {
	store    *MemoryStore
	profiles []CompanyProfile
	syncs    []snapshotSync
}

type snapshotSync struct {
	company string
	total   int
	score   decimal.Decimal
}

// LockCompany is a no-op; the store lock already serialises transactions.
func (t *memTx) LockCompany(context.Context, string) error { return nil }

func (t *memTx) AggregateByCompany(_ context.Context, companyName string) (Aggregate, error) {
	return t.store.aggregate(func(a Alert) bool { return a.CompanyName == companyName }), nil
}

func (t *memTx) UpsertCompanyProfile(_ context.Context, profile CompanyProfile) (CompanyProfile, error) {
	profile.UpdatedAt = t.store.now()
	t.profiles = append(t.profiles, profile)
	return profile, nil
}

func (t *memTx) SyncAlertSnapshots(_ context.Context, companyName string, totalViolations int, riskScore decimal.Decimal) (int64, error) {
	var affected int64
	for _, a := range t.store.alerts {
		if a.CompanyName == companyName && (a.TotalViolationsCount != totalViolations || !a.CompanyRiskScore.Equal(riskScore)) {
			affected++
		}
	}
	t.syncs = append(t.syncs, snapshotSync{company: companyName, total: totalViolations, score: riskScore})
	return affected, nil
}

func (t *memTx) commit() {
	for _, p := range t.profiles {
		t.store.companies[p.CompanyName] = p
	}
	for _, s := range t.syncs {
		for id, a := range t.store.alerts {
			if a.CompanyName != s.company {
				continue
			}
			a.TotalViolationsCount = s.total
			a.CompanyRiskScore = s.score
			t.store.alerts[id] = a
		}
	}
}

var (
	_ AlertStore  = (*MemoryStore)(nil)
	_ ReportStore = (*MemoryStore)(nil)
	_ AlertWriter = (*MemoryStore)(nil)
)
