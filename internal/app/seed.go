package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"market-risk-alerts/internal/storage"
)

var (
	seedViolationTypes = []string{"PRICE_GOUGING", "FALSE_ADVERTISING", "UNLICENSED_OPERATION", "PRODUCT_QUALITY", "FOOD_SAFETY"}
	seedRegions        = []string{"North", "South", "East", "West", "Central"}
)

// weighted towards the low tiers
var seedSeverityWeights = []struct {
	severity storage.Severity
	weight   int
}{
	{storage.SeverityLow, 40},
	{storage.SeverityMedium, 30},
	{storage.SeverityHigh, 20},
	{storage.SeverityCritical, 10},
}

// Seed inserts synthetic alerts and optionally dispatches them.
func (a *App) Seed(ctx context.Context, opts SeedOptions) error {
	if opts.Count <= 0 {
		return errors.New("--count must be positive")
	}
	if opts.Companies <= 0 {
		opts.Companies = 20
	}
	if opts.Days <= 0 {
		opts.Days = 30
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}

	rt, err := a.openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	alerts := generateAlerts(opts, time.Now().In(a.location()))

	inserted := 0
	for start := 0; start < len(alerts); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(alerts))
		n, err := rt.writer.InsertAlerts(ctx, alerts[start:end])
		if err != nil {
			return fmt.Errorf("insert batch at %d: %w", start, err)
		}
		inserted += n
	}
	a.Logger.Info().Int("generated", len(alerts)).Int("inserted", inserted).Msg("seeded alerts")

	if !opts.Dispatch {
		return nil
	}
	a.warnEphemeralBroker()

	ids := make([]string, len(alerts))
	for i, al := range alerts {
		ids[i] = al.AlertID
	}
	res, err := a.components(rt).Dispatcher.DispatchBatch(ctx, ids)
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, res)
}

func generateAlerts(opts SeedOptions, now time.Time) []storage.Alert {
	seed := uint64(opts.Seed)
	if opts.Seed == 0 {
		seed = uint64(now.UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))

	total := 0
	for _, w := range seedSeverityWeights {
		total += w.weight
	}

	alerts := make([]storage.Alert, 0, opts.Count)
	for i := 0; i < opts.Count; i++ {
		pick := rng.IntN(total)
		severity := storage.SeverityLow
		for _, w := range seedSeverityWeights {
			if pick < w.weight {
				severity = w.severity
				break
			}
			pick -= w.weight
		}

		detected := now.AddDate(0, 0, -rng.IntN(opts.Days)).
			Add(-time.Duration(rng.IntN(24*60)) * time.Minute)

		alerts = append(alerts, storage.Alert{
			AlertID:       fmt.Sprintf("ALERT-%08X", rng.Uint32()),
			CompanyName:   fmt.Sprintf("Company %03d", rng.IntN(opts.Companies)+1),
			ViolationType: seedViolationTypes[rng.IntN(len(seedViolationTypes))],
			Severity:      severity,
			Status:        storage.StatusPending,
			Amount:        decimal.New(int64(rng.IntN(5_000_000)), -2),
			DetectedAt:    detected.UTC(),
			Region:        seedRegions[rng.IntN(len(seedRegions))],
		})
	}
	return alerts
}
