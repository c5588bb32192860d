package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the referenced alert does not exist.
	ErrNotFound = errors.New("storage: alert not found")
)

const (
	alertColumns = `alert_id,
        company_name,
        violation_type,
        severity,
        status,
        amount::text,
        detected_at,
        region,
        total_violations_count,
        company_risk_score::text,
        created_at,
        updated_at`

	getAlertSQL = `SELECT ` + alertColumns + `
    FROM risk_alerts
    WHERE alert_id = $1;`

	updateAlertStatusSQL = `UPDATE risk_alerts
    SET status = $2, updated_at = NOW()
    WHERE alert_id = $1;`

	insertAlertSQL = `INSERT INTO risk_alerts (
        alert_id,
        company_name,
        violation_type,
        severity,
        status,
        amount,
        detected_at,
        region
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (alert_id) DO NOTHING;`

	aggregateSelectSQL = `SELECT
        COUNT(*),
        COALESCE(SUM(amount), 0)::text,
        COUNT(*) FILTER (WHERE severity = 'LOW'),
        COUNT(*) FILTER (WHERE severity = 'MEDIUM'),
        COUNT(*) FILTER (WHERE severity = 'HIGH'),
        COUNT(*) FILTER (WHERE severity = 'CRITICAL'),
        COUNT(*) FILTER (WHERE status = 'PENDING'),
        MAX(detected_at),
        ROUND(COALESCE(AVG(EXTRACT(EPOCH FROM (updated_at - detected_at)) / 3600)
            FILTER (WHERE status = 'RESOLVED'), 0)::numeric, 2)::text
    FROM risk_alerts
    `

	aggregateByCompanySQL = aggregateSelectSQL + `WHERE company_name = $1;`

	aggregateDetectedBetweenSQL = aggregateSelectSQL + `WHERE detected_at >= $1
      AND detected_at < $2;`

	lockCompanySQL = `SELECT pg_advisory_xact_lock(hashtext($1));`

	upsertCompanyProfileSQL = `INSERT INTO company_profiles (
        company_name,
        total_violations,
        total_amount,
        risk_score,
        last_violation_at,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,NOW()
    )
    ON CONFLICT (company_name) DO UPDATE
    SET
        total_violations  = EXCLUDED.total_violations,
        total_amount      = EXCLUDED.total_amount,
        risk_score        = EXCLUDED.risk_score,
        last_violation_at = EXCLUDED.last_violation_at,
        updated_at        = EXCLUDED.updated_at
    RETURNING company_name, total_violations, total_amount::text, risk_score::text, last_violation_at, updated_at;`

	syncAlertSnapshotsSQL = `UPDATE risk_alerts
    SET total_violations_count = $2,
        company_risk_score     = $3
    WHERE company_name = $1
      AND (total_violations_count <> $2 OR company_risk_score <> $3);`

	upsertDailyStatisticSQL = `INSERT INTO daily_statistics (
        stat_date,
        total_alerts,
        critical_alerts,
        high_alerts,
        medium_alerts,
        low_alerts,
        total_amount,
        avg_resolution_hours,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,NOW()
    )
    ON CONFLICT (stat_date) DO UPDATE
    SET
        total_alerts         = EXCLUDED.total_alerts,
        critical_alerts      = EXCLUDED.critical_alerts,
        high_alerts          = EXCLUDED.high_alerts,
        medium_alerts        = EXCLUDED.medium_alerts,
        low_alerts           = EXCLUDED.low_alerts,
        total_amount         = EXCLUDED.total_amount,
        avg_resolution_hours = EXCLUDED.avg_resolution_hours,
        updated_at           = EXCLUDED.updated_at;`

	listTopCompaniesSQL = `SELECT
        company_name,
        total_violations,
        total_amount::text,
        risk_score::text,
        last_violation_at,
        updated_at
    FROM company_profiles
    ORDER BY risk_score DESC, company_name
    LIMIT $1;`

	listDailyStatisticsSQL = `SELECT
        stat_date,
        total_alerts,
        critical_alerts,
        high_alerts,
        medium_alerts,
        low_alerts,
        total_amount::text,
        avg_resolution_hours::text,
        updated_at
    FROM daily_statistics
    WHERE stat_date >= $1
      AND stat_date <= $2
    ORDER BY stat_date;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertStore is the transactional persistence contract of the aggregation core.
type AlertStore interface {
	GetAlert(ctx context.Context, alertID string) (Alert, error)
	UpdateAlertStatus(ctx context.Context, alertID string, status Status) error
	AggregateDetectedBetween(ctx context.Context, from, to time.Time) (Aggregate, error)
	UpsertDailyStatistic(ctx context.Context, stat DailyStatistic) error
	InTx(ctx context.Context, fn func(tx AlertTx) error) error
}

// AlertTx groups the operations that must share one transaction during a
// company recalculation.
type AlertTx interface {
	LockCompany(ctx context.Context, companyName string) error
	AggregateByCompany(ctx context.Context, companyName string) (Aggregate, error)
	UpsertCompanyProfile(ctx context.Context, profile CompanyProfile) (CompanyProfile, error)
	SyncAlertSnapshots(ctx context.Context, companyName string, totalViolations int, riskScore decimal.Decimal) (int64, error)
}

// ReportStore serves the cached read views.
type ReportStore interface {
	ListTopCompanies(ctx context.Context, limit int) ([]CompanyProfile, error)
	ListDailyStatistics(ctx context.Context, from, to time.Time) ([]DailyStatistic, error)
	AggregateDetectedBetween(ctx context.Context, from, to time.Time) (Aggregate, error)
}

// AlertWriter ingests alert rows; used by seeding.
type AlertWriter interface {
	InsertAlerts(ctx context.Context, alerts []Alert) (int, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL implementation of every storage contract.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the lock dies with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// GetAlert loads one alert by its business identifier.
func (s *Store) GetAlert(ctx context.Context, alertID string) (Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}
	alert, err := scanAlert(pool.QueryRow(ctx, getAlertSQL, alertID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Alert{}, ErrNotFound
	}
	if err != nil {
		return Alert{}, fmt.Errorf("get alert %s: %w", alertID, err)
	}
	return alert, nil
}

// UpdateAlertStatus performs a status-scoped write of one alert.
func (s *Store) UpdateAlertStatus(ctx context.Context, alertID string, status Status) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, updateAlertStatusSQL, alertID, string(status))
	if execErr != nil {
		return fmt.Errorf("update alert status: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertAlerts inserts alerts in one batch, skipping ids that already exist.
func (s *Store) InsertAlerts(ctx context.Context, alerts []Alert) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if len(alerts) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, a := range alerts {
		status := a.Status
		if status == "" {
			status = StatusPending
		}
		batch.Queue(insertAlertSQL,
			a.AlertID,
			a.CompanyName,
			a.ViolationType,
			string(a.Severity),
			string(status),
			a.Amount.String(),
			a.DetectedAt,
			a.Region,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range alerts {
		tag, execErr := results.Exec()
		if execErr != nil {
			return inserted, fmt.Errorf("insert alert: %w", execErr)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// AggregateDetectedBetween aggregates alerts detected in [from, to).
func (s *Store) AggregateDetectedBetween(ctx context.Context, from, to time.Time) (Aggregate, error) {
	pool, err := s.getPool()
	if err != nil {
		return Aggregate{}, err
	}
	agg, err := scanAggregate(pool.QueryRow(ctx, aggregateDetectedBetweenSQL, from, to))
	if err != nil {
		return Aggregate{}, fmt.Errorf("aggregate detected between: %w", err)
	}
	return agg, nil
}

// UpsertDailyStatistic replaces the rollup row for stat.Date.
func (s *Store) UpsertDailyStatistic(ctx context.Context, stat DailyStatistic) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, upsertDailyStatisticSQL,
		DateOnly(stat.Date),
		stat.TotalAlerts,
		stat.CriticalAlerts,
		stat.HighAlerts,
		stat.MediumAlerts,
		stat.LowAlerts,
		stat.TotalAmount.String(),
		stat.AvgResolutionHours.String(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert daily statistic: %w", execErr)
	}
	return nil
}

// ListTopCompanies returns profiles ordered by descending risk score.
func (s *Store) ListTopCompanies(ctx context.Context, limit int) ([]CompanyProfile, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTopCompaniesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list top companies: %w", queryErr)
	}
	defer rows.Close()

	profiles := make([]CompanyProfile, 0, limit)
	for rows.Next() {
		profile, scanErr := scanCompanyProfile(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		profiles = append(profiles, profile)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return profiles, nil
}

// ListDailyStatistics lists rollups with from <= date <= to.
func (s *Store) ListDailyStatistics(ctx context.Context, from, to time.Time) ([]DailyStatistic, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listDailyStatisticsSQL, DateOnly(from), DateOnly(to))
	if queryErr != nil {
		return nil, fmt.Errorf("list daily statistics: %w", queryErr)
	}
	defer rows.Close()

	stats := make([]DailyStatistic, 0)
	for rows.Next() {
		var (
			stat         DailyStatistic
			amountStr    string
			avgResolvStr string
		)
		if err := rows.Scan(
			&stat.Date,
			&stat.TotalAlerts,
			&stat.CriticalAlerts,
			&stat.HighAlerts,
			&stat.MediumAlerts,
			&stat.LowAlerts,
			&amountStr,
			&avgResolvStr,
			&stat.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if stat.TotalAmount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("parse total amount: %w", err)
		}
		if stat.AvgResolutionHours, err = decimal.NewFromString(avgResolvStr); err != nil {
			return nil, fmt.Errorf("parse avg resolution: %w", err)
		}
		stats = append(stats, stat)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return stats, nil
}

// InTx runs fn inside a read-committed transaction. A non-nil error from fn
// rolls the transaction back.
func (s *Store) InTx(ctx context.Context, fn func(tx AlertTx) error) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

// LockCompany serialises recalculations of one company until commit.
func (t *pgTx) LockCompany(ctx context.Context, companyName string) error {
	if _, err := t.tx.Exec(ctx, lockCompanySQL, companyName); err != nil {
		return fmt.Errorf("lock company: %w", err)
	}
	return nil
}

func (t *pgTx) AggregateByCompany(ctx context.Context, companyName string) (Aggregate, error) {
	agg, err := scanAggregate(t.tx.QueryRow(ctx, aggregateByCompanySQL, companyName))
	if err != nil {
		return Aggregate{}, fmt.Errorf("aggregate by company: %w", err)
	}
	return agg, nil
}

func (t *pgTx) UpsertCompanyProfile(ctx context.Context, profile CompanyProfile) (CompanyProfile, error) {
	row := t.tx.QueryRow(ctx, upsertCompanyProfileSQL,
		profile.CompanyName,
		profile.TotalViolations,
		profile.TotalAmount.String(),
		profile.RiskScore.String(),
		profile.LastViolationAt,
	)
	saved, err := scanCompanyProfile(row)
	if err != nil {
		return CompanyProfile{}, fmt.Errorf("upsert company profile: %w", err)
	}
	return saved, nil
}

func (t *pgTx) SyncAlertSnapshots(ctx context.Context, companyName string, totalViolations int, riskScore decimal.Decimal) (int64, error) {
	tag, err := t.tx.Exec(ctx, syncAlertSnapshotsSQL, companyName, totalViolations, riskScore.String())
	if err != nil {
		return 0, fmt.Errorf("sync alert snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanAlert(row pgx.Row) (Alert, error) {
	var (
		alert     Alert
		severity  string
		status    string
		amountStr string
		scoreStr  string
	)
	if err := row.Scan(
		&alert.AlertID,
		&alert.CompanyName,
		&alert.ViolationType,
		&severity,
		&status,
		&amountStr,
		&alert.DetectedAt,
		&alert.Region,
		&alert.TotalViolationsCount,
		&scoreStr,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	); err != nil {
		return Alert{}, err
	}

	alert.Severity = Severity(severity)
	alert.Status = Status(status)

	var err error
	if alert.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return Alert{}, fmt.Errorf("parse amount: %w", err)
	}
	if alert.CompanyRiskScore, err = decimal.NewFromString(scoreStr); err != nil {
		return Alert{}, fmt.Errorf("parse company risk score: %w", err)
	}
	return alert, nil
}

func scanAggregate(row pgx.Row) (Aggregate, error) {
	var agg Aggregate
	var amountStr, avgStr string
	var low, medium, high, critical int
	if err := row.Scan(
		&agg.Total,
		&amountStr,
		&low,
		&medium,
		&high,
		&critical,
		&agg.Pending,
		&agg.LastDetectedAt,
		&avgStr,
	); err != nil {
		return Aggregate{}, err
	}

	var err error
	if agg.TotalAmount, err = decimal.NewFromString(amountStr); err != nil {
		return Aggregate{}, fmt.Errorf("parse total amount: %w", err)
	}
	if agg.AvgResolutionHours, err = decimal.NewFromString(avgStr); err != nil {
		return Aggregate{}, fmt.Errorf("parse avg resolution: %w", err)
	}
	agg.BySeverity = map[Severity]int{
		SeverityLow:      low,
		SeverityMedium:   medium,
		SeverityHigh:     high,
		SeverityCritical: critical,
	}
	return agg, nil
}

func scanCompanyProfile(row pgx.Row) (CompanyProfile, error) {
	var profile CompanyProfile
	var amountStr, scoreStr string
	if err := row.Scan(
		&profile.CompanyName,
		&profile.TotalViolations,
		&amountStr,
		&scoreStr,
		&profile.LastViolationAt,
		&profile.UpdatedAt,
	); err != nil {
		return CompanyProfile{}, err
	}

	var err error
	if profile.TotalAmount, err = decimal.NewFromString(amountStr); err != nil {
		return CompanyProfile{}, fmt.Errorf("parse total amount: %w", err)
	}
	if profile.RiskScore, err = decimal.NewFromString(scoreStr); err != nil {
		return CompanyProfile{}, fmt.Errorf("parse risk score: %w", err)
	}
	return profile, nil
}

var (
	_ AlertStore     = (*Store)(nil)
	_ ReportStore    = (*Store)(nil)
	_ AlertWriter    = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
