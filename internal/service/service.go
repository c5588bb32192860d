package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"market-risk-alerts/internal/processing"
	"market-risk-alerts/internal/scheduler"
	"market-risk-alerts/internal/storage"
	"market-risk-alerts/internal/tasks"
)

// defaultLockHold is how long past a fire time the winning replica keeps the
// advisory lock.
const defaultLockHold = time.Minute

// Beat turns daily scheduler ticks into rollup tasks. With a locker
// configured, only the replica holding the advisory lock enqueues.
type Beat struct {
	scheduler *scheduler.Scheduler
	enqueuer  tasks.Enqueuer
	locker    storage.AdvisoryLocker
	lockKey   int64
	loc       *time.Location
	lockHold  time.Duration
	now       func() time.Time
	logger    zerolog.Logger

	mu   sync.Mutex
	held *heldLock
}

// heldLock releases at most once, from its timer or from Run returning.
type heldLock struct {
	once   sync.Once
	unlock func()
}

func (h *heldLock) release() {
	h.once.Do(h.unlock)
}

// NewBeat constructs the beat service. locker may be nil.
func NewBeat(sched *scheduler.Scheduler, enqueuer tasks.Enqueuer, locker storage.AdvisoryLocker, lockKey int64, loc *time.Location, logger zerolog.Logger) *Beat {
	if loc == nil {
		loc = time.UTC
	}
	return &Beat{
		scheduler: sched,
		enqueuer:  enqueuer,
		locker:    locker,
		lockKey:   lockKey,
		loc:       loc,
		lockHold:  defaultLockHold,
		now:       time.Now,
		logger:    logger.With().Str("component", "beat").Logger(),
	}
}

// Run begins the daily loop.
func (b *Beat) Run(ctx context.Context) error {
	if b.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	defer b.releaseHeld()
	return b.scheduler.Run(ctx, b.Tick)
}

// Tick enqueues the rollup of the day before fireAt. The target date is
// fixed at enqueue time so a late worker still rolls up the intended day.
func (b *Beat) Tick(ctx context.Context, fireAt time.Time) error {
	unlock, proceed, err := b.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		b.logger.Debug().Time("fire_at", fireAt).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	enqueued := false
	if unlock != nil {
		defer func() {
			if enqueued {
				b.holdUntil(fireAt.Add(b.lockHold), unlock)
				return
			}
			unlock()
		}()
	}

	y, m, d := fireAt.In(b.loc).Date()
	target := time.Date(y, m, d-1, 0, 0, 0, 0, b.loc)
	task, err := processing.NewAggregateTask(target)
	if err != nil {
		return err
	}
	if err := b.enqueuer.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueue daily aggregation for %s: %w", target.Format(processing.DateLayout), err)
	}
	enqueued = true

	b.logger.Info().
		Str("task_id", task.ID).
		Str("date", target.Format(processing.DateLayout)).
		Msg("daily aggregation scheduled")
	return nil
}

func (b *Beat) acquireLock(ctx context.Context) (func(), bool, error) {
	if b.lockKey == 0 || b.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := b.locker.TryAdvisoryLock(ctx, b.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// holdUntil keeps the lock of a completed tick until releaseAt.
func (b *Beat) holdUntil(releaseAt time.Time, unlock func()) {
	wait := releaseAt.Sub(b.now())
	if wait <= 0 {
		unlock()
		return
	}
	h := &heldLock{unlock: unlock}
	b.mu.Lock()
	prev := b.held
	b.held = h
	b.mu.Unlock()
	time.AfterFunc(wait, h.release)
	if prev != nil {
		prev.release()
	}
}

// releaseHeld frees a lock still held from the last tick.
func (b *Beat) releaseHeld() {
	b.mu.Lock()
	h := b.held
	b.held = nil
	b.mu.Unlock()
	if h != nil {
		h.release()
	}
}
