package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func mustScheduler(t *testing.T, opts Options) *Scheduler {
	t.Helper()
	s, err := New(opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s
}

func TestNextRun(t *testing.T) {
	s := mustScheduler(t, Options{Hour: 1, Minute: 0})

	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before fire time", time.Date(2026, 10, 14, 0, 59, 0, 0, time.UTC), time.Date(2026, 10, 14, 1, 0, 0, 0, time.UTC)},
		{"exactly at fire time", time.Date(2026, 10, 14, 1, 0, 0, 0, time.UTC), time.Date(2026, 10, 15, 1, 0, 0, 0, time.UTC)},
		{"after fire time", time.Date(2026, 10, 14, 13, 0, 0, 0, time.UTC), time.Date(2026, 10, 15, 1, 0, 0, 0, time.UTC)},
		{"month rollover", time.Date(2026, 10, 31, 2, 0, 0, 0, time.UTC), time.Date(2026, 11, 1, 1, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := s.NextRun(tc.now); !got.Equal(tc.want) {
			t.Fatalf("%s: next run = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestNextRunInZone(t *testing.T) {
	plus8 := time.FixedZone("UTC+8", 8*3600)
	s := mustScheduler(t, Options{Hour: 1, Minute: 30, Location: plus8})

	// 18:00 UTC is 02:00 the next day in UTC+8, already past 01:30 there
	got := s.NextRun(time.Date(2026, 10, 14, 18, 0, 0, 0, time.UTC))
	want := time.Date(2026, 10, 16, 1, 30, 0, 0, plus8)
	if !got.Equal(want) {
		t.Fatalf("next run = %v, want %v", got, want)
	}
}

func TestNewRejectsInvalidTime(t *testing.T) {
	if _, err := New(Options{Hour: 24}, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for hour 24")
	}
	if _, err := New(Options{Minute: -1}, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for negative minute")
	}
}

func TestRunFiresAndSurvivesTickErrors(t *testing.T) {
	s := mustScheduler(t, Options{Hour: 1})
	var calls atomic.Int32
	// every NextRun lands a few milliseconds ahead
	var clock atomic.Int64
	clock.Store(time.Date(2026, 10, 14, 0, 59, 59, 990_000_000, time.UTC).UnixNano())
	s.now = func() time.Time { return time.Unix(0, clock.Load()).UTC() }

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(_ context.Context, fireAt time.Time) error {
			if n := calls.Add(1); n >= 2 {
				cancel()
			}
			clock.Store(fireAt.Add(24*time.Hour - 10*time.Millisecond).UnixNano())
			return errors.New("boom")
		})
	}()

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("run returned %v, want context.Canceled", err)
	}
	if calls.Load() < 2 {
		t.Fatalf("expected at least two ticks, got %d", calls.Load())
	}
}
