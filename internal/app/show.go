package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"market-risk-alerts/internal/reports"
	"market-risk-alerts/internal/tasks"
)

// Show views.
const (
	ViewCompanies   = "companies"
	ViewTrends      = "trends"
	ViewDashboard   = "dashboard"
	ViewDeadLetters = "dead-letters"
)

// ShowOptions configure the show command.
type ShowOptions struct {
	View  string
	Limit int
}

// Show prints one cached view.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	rt, err := a.openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc := a.reportService(rt)
	switch opts.View {
	case ViewCompanies:
		rows, err := svc.TopRiskCompanies(ctx)
		if err != nil {
			return err
		}
		return renderCompanies(os.Stdout, rows)
	case ViewTrends:
		points, err := svc.RiskTrends(ctx)
		if err != nil {
			return err
		}
		return renderTrends(os.Stdout, points)
	case ViewDashboard:
		dash, err := svc.DashboardStatistics(ctx)
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, dash)
	case ViewDeadLetters:
		if rt.recent == nil {
			return fmt.Errorf("dead letters are only retained with tasks.broker=redis")
		}
		letters, err := rt.recent.Recent(ctx, int64(opts.Limit))
		if err != nil {
			return err
		}
		return renderDeadLetters(os.Stdout, letters)
	default:
		return fmt.Errorf("unknown view %q", opts.View)
	}
}

func renderCompanies(w io.Writer, rows []reports.CompanyRisk) error {
	if len(rows) == 0 {
		fmt.Fprintln(w, "no company profiles found")
		return nil
	}
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Company\tViolations\tAmount\tRisk Score\tLast Violation (UTC)")
	for _, row := range rows {
		last := "-"
		if row.LastViolationAt != nil {
			last = row.LastViolationAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\n",
			sanitizeInline(row.CompanyName),
			row.TotalViolations,
			formatDecimal(row.TotalAmount, 2),
			formatDecimal(row.RiskScore, 2),
			last,
		)
	}
	return writer.Flush()
}

func renderTrends(w io.Writer, points []reports.TrendPoint) error {
	if len(points) == 0 {
		fmt.Fprintln(w, "no daily statistics found")
		return nil
	}
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tTotal\tCritical\tHigh\tMedium\tLow\tAmount\tAvg Resolution (h)")
	for _, p := range points {
		fmt.Fprintf(writer, "%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			p.Date, p.TotalAlerts, p.CriticalAlerts, p.HighAlerts, p.MediumAlerts, p.LowAlerts,
			formatDecimal(p.TotalAmount, 2), formatDecimal(p.AvgResolutionHours, 2))
	}
	return writer.Flush()
}

func renderDeadLetters(w io.Writer, letters []tasks.DeadLetter) error {
	if len(letters) == 0 {
		fmt.Fprintln(w, "no dead letters")
		return nil
	}
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Failed (UTC)\tKind\tTask\tAttempt\tError")
	for _, l := range letters {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%s\n",
			l.FailedAt.UTC().Format(time.RFC3339), l.Task.Kind, l.Task.ID, l.Task.Attempt, sanitizeInline(l.Error))
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
