package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"market-risk-alerts/internal/processing"
)

// backfillDates lists every calendar day from from to to, both inclusive.
func backfillDates(from, to time.Time, loc *time.Location) []time.Time {
	y, m, d := from.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	y, m, d = to.In(loc).Date()
	end := time.Date(y, m, d, 0, 0, 0, 0, loc)

	var dates []time.Time
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		dates = append(dates, day)
	}
	return dates
}

// Backfill re-runs the daily rollup for a range of dates.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	dates := backfillDates(opts.From, opts.To, a.location())
	if len(dates) == 0 {
		return errors.New("回填范围为空，请检查 --from/--to")
	}

	if opts.DryRun {
		a.Logger.Warn().Msg("回填 dry-run：不会写入数据库")
		for _, day := range dates {
			a.Logger.Info().Str("date", day.Format(processing.DateLayout)).Msg("would aggregate")
		}
		return nil
	}

	rt, err := a.openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	aggregator := a.components(rt).Aggregator

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	var processed, failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, day := range dates {
		day := day
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if _, err := aggregator.AggregateDate(gctx, day); err != nil {
				failed.Add(1)
				// a failed day does not abort the others
				return nil
			}
			processed.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.Logger.Info().Int32("processed", processed.Load()).Int32("failed", failed.Load()).Msg("回填完成")
	if failed.Load() > 0 {
		return fmt.Errorf("%d 个日期回填失败，请检查日志", failed.Load())
	}
	return nil
}
