package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"market-risk-alerts/internal/processing"
	"market-risk-alerts/internal/tasks"
)

// DispatchOptions configure the dispatch command.
type DispatchOptions struct {
	AlertIDs []string
	// Async defers the fan-out to a worker and prints the submission handle.
	Async bool
}

// Dispatch fans alert ids out to the workers.
func (a *App) Dispatch(ctx context.Context, opts DispatchOptions) error {
	rt, err := a.openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	a.warnEphemeralBroker()

	if opts.Async {
		sub, err := processing.NewSubmitter(rt.broker, a.Logger).SubmitBatch(ctx, opts.AlertIDs)
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, sub)
	}

	res, err := a.components(rt).Dispatcher.DispatchBatch(ctx, opts.AlertIDs)
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, res)
}

// Recalculate rebuilds one company profile inline.
func (a *App) Recalculate(ctx context.Context, company string) error {
	if company == "" {
		return errors.New("--company must be provided")
	}
	rt, err := a.openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := a.components(rt).Recalculator.Recalculate(ctx, company)
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, res)
}

// AggregateDaily rolls up date inline; nil means yesterday.
func (a *App) AggregateDaily(ctx context.Context, date *time.Time) error {
	rt, err := a.openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	agg := a.components(rt).Aggregator
	var res processing.AggregateResult
	if date == nil {
		res, err = agg.AggregateDaily(ctx)
	} else {
		res, err = agg.AggregateDate(ctx, *date)
	}
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, res)
}

// GroupStatus prints the member outcomes of a dispatched group.
func (a *App) GroupStatus(ctx context.Context, groupID string) error {
	if groupID == "" {
		return errors.New("group id must be provided")
	}
	rt, err := a.openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	status, err := rt.tracker.Status(ctx, groupID)
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, struct {
		tasks.GroupStatus
		Finished int  `json:"finished"`
		Done     bool `json:"done"`
	}{status, status.Finished(), status.Done()})
}

// Migrate applies the database schema.
func (a *App) Migrate(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn 未配置，无法迁移")
	}
	defer closeStore()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	a.Logger.Info().Msg("schema applied")
	return nil
}

func (a *App) warnEphemeralBroker() {
	if a.Config.Tasks.Broker == "memory" {
		a.Logger.Warn().Msg("tasks.broker is memory; submitted tasks are dropped when this command exits")
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
