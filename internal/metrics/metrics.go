// Package metrics exposes task and cache telemetry to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"market-risk-alerts/internal/tasks"
)

const namespace = "riskalerts"

// Metrics holds the collectors registered by NewMetrics.
type Metrics struct {
	TasksExecuted      *prometheus.CounterVec
	TaskDuration       *prometheus.HistogramVec
	TaskRetries        *prometheus.CounterVec
	DeadLetters        *prometheus.CounterVec
	CacheInvalidations *prometheus.CounterVec
	QueueDepth         prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		TasksExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_executed_total",
			Help:      "Task executions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time of one task attempt.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"kind"}),
		TaskRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_retries_total",
			Help:      "Retries scheduled by kind.",
		}, []string{"kind"}),
		DeadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letters_total",
			Help:      "Tasks abandoned after their final attempt, by kind.",
		}, []string{"kind"}),
		CacheInvalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidations_total",
			Help:      "Cache key deletions by key and result.",
		}, []string{"key", "result"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_queue_depth",
			Help:      "Tasks waiting in the broker, eligible or delayed.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.TasksExecuted, m.TaskDuration, m.TaskRetries,
		m.DeadLetters, m.CacheInvalidations, m.QueueDepth,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) TaskExecuted(kind tasks.Kind, outcome tasks.Outcome, elapsed time.Duration) {
	m.TasksExecuted.WithLabelValues(string(kind), string(outcome)).Inc()
	m.TaskDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

func (m *Metrics) TaskRetried(kind tasks.Kind) {
	m.TaskRetries.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) TaskDeadLettered(kind tasks.Kind) {
	m.DeadLetters.WithLabelValues(string(kind)).Inc()
}

// CacheInvalidated matches cache.InvalidationObserver.
func (m *Metrics) CacheInvalidated(key string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CacheInvalidations.WithLabelValues(key, result).Inc()
}

// SampleQueue sets the queue depth gauge every interval until ctx is done.
func (m *Metrics) SampleQueue(ctx context.Context, broker tasks.Broker, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := broker.Len(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Debug().Err(err).Msg("queue depth sample failed")
		} else {
			m.QueueDepth.Set(float64(n))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Serve exposes gatherer on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

var _ tasks.Observer = (*Metrics)(nil)
