package processing

import (
	"market-risk-alerts/internal/config"
	"market-risk-alerts/internal/tasks"
)

// Registrar is satisfied by *tasks.Runner.
type Registrar interface {
	Register(kind tasks.Kind, handler tasks.HandlerFunc, policy tasks.RetryPolicy)
}

// Components bundles the handlers of every task kind.
type Components struct {
	Processor    *AlertProcessor
	Dispatcher   *BatchDispatcher
	Recalculator *RiskRecalculator
	Aggregator   *DailyAggregator
}

// Policies returns the retry policy of each kind.
func Policies(cfg config.TasksConfig) map[tasks.Kind]tasks.RetryPolicy {
	return map[tasks.Kind]tasks.RetryPolicy{
		KindProcessAlert:    tasks.ExponentialBackoff(cfg.ProcessMaxRetries, cfg.ProcessBackoffBase),
		KindDispatchBatch:   tasks.FixedDelay(cfg.DispatchMaxRetries, cfg.DispatchDelay),
		KindRecalculateRisk: tasks.FixedDelay(cfg.RecalcMaxRetries, cfg.RecalcDelay),
		KindAggregateDaily:  tasks.NoRetry(),
	}
}

// Register binds every handler to r.
func (c Components) Register(r Registrar, cfg config.TasksConfig) {
	policies := Policies(cfg)
	r.Register(KindProcessAlert, c.Processor.Handle, policies[KindProcessAlert])
	r.Register(KindDispatchBatch, c.Dispatcher.Handle, policies[KindDispatchBatch])
	r.Register(KindRecalculateRisk, c.Recalculator.Handle, policies[KindRecalculateRisk])
	r.Register(KindAggregateDaily, c.Aggregator.Handle, policies[KindAggregateDaily])
}
