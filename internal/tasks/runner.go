package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// HandlerFunc executes one task attempt. A nil error is terminal with the
// returned outcome; an error is retried per the kind's policy unless it is
// Permanent.
type HandlerFunc func(ctx context.Context, task Task) (Outcome, error)

// Observer receives execution telemetry.
type Observer interface {
	TaskExecuted(kind Kind, outcome Outcome, elapsed time.Duration)
	TaskRetried(kind Kind)
	TaskDeadLettered(kind Kind)
}

// RunnerOptions tune the worker pool.
type RunnerOptions struct {
	Workers      int
	TaskTimeout  time.Duration
	ErrorBackoff time.Duration
	Tracker      GroupTracker
	DeadLetters  DeadLetterSink
	Observer     Observer
}

type registration struct {
	handler HandlerFunc
	policy  RetryPolicy
}

// Runner pulls tasks from a broker and executes them on a fixed pool of
// workers.
type Runner struct {
	broker   Broker
	opts     RunnerOptions
	logger   zerolog.Logger
	now      func() time.Time
	mu       sync.RWMutex
	handlers map[Kind]registration
}

// NewRunner constructs a runner; register handlers before calling Run.
func NewRunner(broker Broker, opts RunnerOptions, logger zerolog.Logger) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = time.Second
	}
	return &Runner{
		broker:   broker,
		opts:     opts,
		logger:   logger.With().Str("component", "task_runner").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
		handlers: make(map[Kind]registration),
	}
}

// Register binds a handler and its retry policy to kind.
func (r *Runner) Register(kind Kind, handler HandlerFunc, policy RetryPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = registration{handler: handler, policy: policy}
}

// Run blocks until ctx is cancelled. In-flight tasks finish their current
// attempt before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.opts.Workers; i++ {
		worker := i
		g.Go(func() error {
			r.work(gctx, worker)
			return nil
		})
	}
	r.logger.Info().Int("workers", r.opts.Workers).Msg("task runner started")
	err := g.Wait()
	r.logger.Info().Msg("task runner stopped")
	return err
}

func (r *Runner) work(ctx context.Context, worker int) {
	for {
		task, err := r.broker.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error().Err(err).Int("worker", worker).Msg("dequeue failed")
			if !sleepCtx(ctx, r.opts.ErrorBackoff) {
				return
			}
			continue
		}
		r.Execute(ctx, task)
	}
}

// Execute runs one attempt of task and applies the resulting retry,
// dead-letter and group bookkeeping.
func (r *Runner) Execute(ctx context.Context, task Task) {
	if task.Attempt < 1 {
		task.Attempt = 1
	}
	log := r.logger.With().
		Str("task_id", task.ID).
		Str("kind", string(task.Kind)).
		Int("attempt", task.Attempt).
		Str("group_id", task.GroupID).
		Logger()

	r.mu.RLock()
	reg, ok := r.handlers[task.Kind]
	r.mu.RUnlock()
	if !ok {
		r.abandon(ctx, log, task, fmt.Errorf("%w: %s", ErrUnknownKind, task.Kind))
		return
	}

	started := r.now()
	outcome, err := r.invoke(ctx, reg.handler, task)
	elapsed := r.now().Sub(started)

	if err == nil {
		if r.opts.Observer != nil {
			r.opts.Observer.TaskExecuted(task.Kind, outcome, elapsed)
		}
		r.record(ctx, log, task, outcome)
		log.Debug().Str("outcome", string(outcome)).Dur("elapsed", elapsed).Msg("task finished")
		return
	}

	if r.opts.Observer != nil {
		r.opts.Observer.TaskExecuted(task.Kind, OutcomeFailed, elapsed)
	}

	// an attempt cut short by shutdown is requeued as the same attempt
	if ctx.Err() != nil && !IsPermanent(err) {
		again := task
		again.EligibleAt = r.now()
		if enqErr := r.broker.Enqueue(context.WithoutCancel(ctx), again); enqErr != nil {
			r.abandon(ctx, log, task, errors.Join(err, fmt.Errorf("requeue interrupted attempt: %w", enqErr)))
			return
		}
		log.Warn().Err(err).Msg("task interrupted by shutdown; requeued")
		return
	}

	if !IsPermanent(err) {
		if delay, retry := reg.policy.Next(task.Attempt); retry {
			next := task
			next.Attempt++
			next.EligibleAt = r.now().Add(delay)
			next.LastError = err.Error()
			// shutdown must not lose a scheduled retry
			if enqErr := r.broker.Enqueue(context.WithoutCancel(ctx), next); enqErr != nil {
				r.abandon(ctx, log, task, errors.Join(err, fmt.Errorf("schedule retry: %w", enqErr)))
				return
			}
			if r.opts.Observer != nil {
				r.opts.Observer.TaskRetried(task.Kind)
			}
			log.Warn().Err(err).Dur("retry_in", delay).Int("next_attempt", next.Attempt).Msg("task failed; retry scheduled")
			return
		}
	}

	r.abandon(ctx, log, task, err)
}

func (r *Runner) invoke(ctx context.Context, handler HandlerFunc, task Task) (outcome Outcome, err error) {
	if r.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.TaskTimeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			err = Permanent(fmt.Errorf("task panicked: %v", p))
		}
	}()
	return handler(ctx, task)
}

func (r *Runner) abandon(ctx context.Context, log zerolog.Logger, task Task, err error) {
	log.Error().Err(err).Msg("task abandoned")

	letter := DeadLetter{Task: task, Error: err.Error(), FailedAt: r.now()}
	if r.opts.DeadLetters != nil {
		if sinkErr := r.opts.DeadLetters.DeadLetter(context.WithoutCancel(ctx), letter); sinkErr != nil {
			log.Error().Err(sinkErr).Msg("dead letter delivery failed")
		}
	}
	if r.opts.Observer != nil {
		r.opts.Observer.TaskDeadLettered(task.Kind)
	}
	r.record(ctx, log, task, OutcomeFailed)
}

func (r *Runner) record(ctx context.Context, log zerolog.Logger, task Task, outcome Outcome) {
	if task.GroupID == "" || r.opts.Tracker == nil {
		return
	}
	if err := r.opts.Tracker.Record(context.WithoutCancel(ctx), task.GroupID, task.ID, outcome); err != nil {
		log.Warn().Err(err).Msg("group outcome not recorded")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
