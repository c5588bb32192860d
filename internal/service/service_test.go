package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-risk-alerts/internal/processing"
	"market-risk-alerts/internal/tasks"
)

type stubLocker struct {
	acquired bool
	err      error
	released int
}

func (l *stubLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if l.err != nil || !l.acquired {
		return nil, false, l.err
	}
	return func() { l.released++ }, true, nil
}

func TestTickEnqueuesYesterday(t *testing.T) {
	broker := tasks.NewMemoryBroker()
	locker := &stubLocker{acquired: true}
	beat := NewBeat(nil, broker, locker, 42, time.UTC, zerolog.Nop())

	fireAt := time.Date(2026, 11, 1, 1, 0, 0, 0, time.UTC)
	beat.now = func() time.Time { return fireAt.Add(2 * time.Minute) }
	if err := beat.Tick(context.Background(), fireAt); err != nil {
		t.Fatalf("tick: %v", err)
	}

	pending := broker.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected one task, got %d", len(pending))
	}
	if pending[0].Kind != processing.KindAggregateDaily {
		t.Fatalf("unexpected kind %s", pending[0].Kind)
	}
	var payload struct {
		Date string `json:"date"`
	}
	if err := json.Unmarshal(pending[0].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Date != "2026-10-31" {
		t.Fatalf("target date = %s, want 2026-10-31", payload.Date)
	}
	if locker.released != 1 {
		t.Fatalf("lock should be released once, got %d", locker.released)
	}
}

// sharedLocker models one advisory lock shared by several replicas.
type sharedLocker struct {
	mu       sync.Mutex
	held     bool
	released int
}

func (l *sharedLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, false, nil
	}
	l.held = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held = false
		l.released++
	}, true, nil
}

func TestTickHoldsLockPastSlot(t *testing.T) {
	broker := tasks.NewMemoryBroker()
	locker := &sharedLocker{}
	fireAt := time.Date(2026, 11, 1, 1, 0, 0, 0, time.UTC)

	first := NewBeat(nil, broker, locker, 42, time.UTC, zerolog.Nop())
	first.now = func() time.Time { return fireAt.Add(5 * time.Millisecond) }
	second := NewBeat(nil, broker, locker, 42, time.UTC, zerolog.Nop())
	second.now = func() time.Time { return fireAt.Add(8 * time.Millisecond) }

	if err := first.Tick(context.Background(), fireAt); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if err := second.Tick(context.Background(), fireAt); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if n := len(broker.Pending()); n != 1 {
		t.Fatalf("replicas ticking together should enqueue once, got %d", n)
	}
	if locker.released != 0 {
		t.Fatalf("lock released before the slot passed")
	}

	first.releaseHeld()
	if locker.released != 1 {
		t.Fatalf("shutdown should release the held lock, released = %d", locker.released)
	}
	first.releaseHeld()
	if locker.released != 1 {
		t.Fatalf("lock released twice")
	}
}

func TestTickReleasesLockOnEnqueueFailure(t *testing.T) {
	locker := &sharedLocker{}
	beat := NewBeat(nil, failingEnqueuer{}, locker, 42, time.UTC, zerolog.Nop())
	beat.now = func() time.Time { return time.Date(2026, 11, 1, 1, 0, 0, 0, time.UTC) }

	if err := beat.Tick(context.Background(), beat.now()); err == nil {
		t.Fatal("expected enqueue error")
	}
	if locker.released != 1 {
		t.Fatalf("failed tick must release the lock, released = %d", locker.released)
	}
}

type failingEnqueuer struct{}

func (failingEnqueuer) Enqueue(context.Context, ...tasks.Task) error {
	return errors.New("redis down")
}

func TestTickSkipsWithoutLock(t *testing.T) {
	broker := tasks.NewMemoryBroker()
	beat := NewBeat(nil, broker, &stubLocker{acquired: false}, 42, time.UTC, zerolog.Nop())

	if err := beat.Tick(context.Background(), time.Now()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if n := len(broker.Pending()); n != 0 {
		t.Fatalf("lock held elsewhere; expected no task, got %d", n)
	}
}

func TestTickLockError(t *testing.T) {
	beat := NewBeat(nil, tasks.NewMemoryBroker(), &stubLocker{err: errors.New("db down")}, 42, time.UTC, zerolog.Nop())
	if err := beat.Tick(context.Background(), time.Now()); err == nil {
		t.Fatal("expected lock error")
	}
}

func TestRunRequiresScheduler(t *testing.T) {
	beat := NewBeat(nil, tasks.NewMemoryBroker(), nil, 0, nil, zerolog.Nop())
	if err := beat.Run(context.Background()); err == nil {
		t.Fatal("expected error without scheduler")
	}
}
