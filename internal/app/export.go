package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"market-risk-alerts/internal/processing"
	"market-risk-alerts/internal/storage"
)

// Export renders stored daily statistics as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	loc := a.location()
	to := time.Now().In(loc)
	if opts.To != nil {
		to = opts.To.In(loc)
	}
	from := to.AddDate(0, 0, -a.Config.Reports.TrendDays)
	if opts.From != nil {
		from = opts.From.In(loc)
	}
	if from.After(to) {
		return errors.New("from must not be after to")
	}

	rt, err := a.openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	stats, err := rt.reports.ListDailyStatistics(ctx, storage.DateOnly(from), storage.DateOnly(to))
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		a.Logger.Info().Msg("no daily statistics found for export window")
		return nil
	}
	a.Logger.Info().Int("days", len(stats)).Msg("exporting daily statistics")

	if opts.CSVPath != "" {
		if err := writeStatisticsCSV(opts.CSVPath, stats); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeStatisticsPNG(opts.PNGPath, stats); err != nil {
			return err
		}
	}

	return nil
}

func writeStatisticsCSV(path string, stats []storage.DailyStatistic) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"date", "total_alerts", "critical_alerts", "high_alerts", "medium_alerts", "low_alerts", "total_amount", "avg_resolution_hours"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, st := range stats {
		record := []string{
			st.Date.Format(processing.DateLayout),
			strconv.Itoa(st.TotalAlerts),
			strconv.Itoa(st.CriticalAlerts),
			strconv.Itoa(st.HighAlerts),
			strconv.Itoa(st.MediumAlerts),
			strconv.Itoa(st.LowAlerts),
			st.TotalAmount.String(),
			st.AvgResolutionHours.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeStatisticsPNG(path string, stats []storage.DailyStatistic) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(stats))
	total := make([]float64, len(stats))
	critical := make([]float64, len(stats))
	amount := make([]float64, len(stats))

	for i, st := range stats {
		x[i] = st.Date
		total[i] = float64(st.TotalAlerts)
		critical[i] = float64(st.CriticalAlerts)
		amount[i] = st.TotalAmount.InexactFloat64()
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Alerts",
			ValueFormatter: countFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Amount",
			ValueFormatter: countFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Total",
				XValues: x,
				YValues: total,
			},
			chart.TimeSeries{
				Name:    "Critical",
				XValues: x,
				YValues: critical,
			},
			chart.TimeSeries{
				Name:    "Amount",
				XValues: x,
				YValues: amount,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
