package timer

import (
	"testing"
	"time"

	"github.com/goodtune/ktrack/internal/clock"
	"github.com/goodtune/ktrack/internal/model"
	"github.com/rs/zerolog"
)

func newTestReconciler(t *testing.T) (*Reconciler, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(now)
	return NewReconciler(Config{}, fake, zerolog.Nop()), fake
}

func TestReconcilerTicksWhileRunning(t *testing.T) {
	r, fake := newTestReconciler(t)

	r.Observe(model.Descriptor{StartTime: ts(now.Add(-3661 * time.Second))})
	r.Start()

	if got := r.Snapshot().ElapsedSeconds; got != 3661 {
		t.Fatalf("expected 3661 after observe, got %d", got)
	}
	if got := FormatElapsed(r.Snapshot().ElapsedSeconds); got != "01:01:01" {
		t.Fatalf("expected 01:01:01, got %s", got)
	}

	fake.Advance(5 * time.Second)
	if got := r.Snapshot().ElapsedSeconds; got != 3666 {
		t.Fatalf("expected 3666 after 5s, got %d", got)
	}
}

func TestReconcilerDoesNotTickWhenPaused(t *testing.T) {
	r, fake := newTestReconciler(t)

	r.Observe(model.Descriptor{
		StartTime:          ts(now.Add(-7200 * time.Second)),
		TotalPauseDuration: 1800,
		IsPaused:           true,
		PausePeriods:       []model.PausePeriod{{PauseTime: ts(now.Add(-300 * time.Second))}},
	})
	r.Start()

	fake.Advance(30 * time.Second)
	tick := r.Snapshot()
	if tick.ElapsedSeconds != 5100 {
		t.Fatalf("expected paused value 5100, got %d", tick.ElapsedSeconds)
	}
	if !tick.IsPaused {
		t.Fatal("expected paused tick")
	}
	if fake.Pending() != 0 {
		t.Fatalf("expected no ticker while paused, got %d timers", fake.Pending())
	}
}

func TestReconcilerCorruptDescriptorStillRuns(t *testing.T) {
	r, fake := newTestReconciler(t)

	r.Observe(model.Descriptor{StartTime: "not-a-date"})
	r.Start()

	if !r.IsRunning() {
		t.Fatal("expected reconciler to be running")
	}
	if got := r.Snapshot().ElapsedSeconds; got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}

	fake.Advance(3 * time.Second)
	if got := r.Snapshot().ElapsedSeconds; got != 3 {
		t.Fatalf("expected 3 after ticking, got %d", got)
	}
}

func TestReconcilerResumeReDerives(t *testing.T) {
	r, fake := newTestReconciler(t)
	start := now.Add(-600 * time.Second)

	r.Observe(model.Descriptor{
		ID:           "s1",
		StartTime:    ts(start),
		IsPaused:     true,
		PausePeriods: []model.PausePeriod{{PauseTime: ts(now)}},
	})
	r.Start()
	fake.Advance(120 * time.Second)

	if got := r.Snapshot().ElapsedSeconds; got != 600 {
		t.Fatalf("expected frozen 600 while paused, got %d", got)
	}

	resumedAt := fake.Now()
	r.Observe(model.Descriptor{
		ID:                 "s1",
		StartTime:          ts(start),
		TotalPauseDuration: 120,
		PausePeriods: []model.PausePeriod{
			{PauseTime: ts(now), ResumeTime: strPtr(ts(resumedAt))},
		},
	})
	fake.Advance(10 * time.Second)

	tick := r.Snapshot()
	if tick.IsPaused {
		t.Fatal("expected running after resume")
	}
	if tick.ElapsedSeconds != 610 {
		t.Fatalf("expected 610, got %d", tick.ElapsedSeconds)
	}
}

func TestReconcilerStopCancelsTicker(t *testing.T) {
	r, fake := newTestReconciler(t)

	r.Observe(model.Descriptor{StartTime: ts(now.Add(-10 * time.Second))})
	r.Start()
	fake.Advance(2 * time.Second)
	r.Stop()
	fake.Advance(time.Minute)

	if got := r.Snapshot().ElapsedSeconds; got != 12 {
		t.Fatalf("expected value frozen at 12, got %d", got)
	}
	if fake.Pending() != 0 {
		t.Fatalf("expected no dangling timers, got %d", fake.Pending())
	}

	r.Reset()
	if got := r.Snapshot(); got.ElapsedSeconds != 0 || got.Running {
		t.Fatalf("expected zeroed, stopped snapshot, got %+v", got)
	}
}

func TestReconcilerCeiling(t *testing.T) {
	fake := clock.NewFake(now)
	r := NewReconciler(Config{MaxSession: 10 * time.Second}, fake, zerolog.Nop())

	r.Observe(model.Descriptor{StartTime: ts(now.Add(-8 * time.Second))})
	r.Start()
	fake.Advance(time.Minute)

	if got := r.Snapshot().ElapsedSeconds; got != 10 {
		t.Fatalf("expected ceiling 10, got %d", got)
	}
}

func TestReconcilerSubscribe(t *testing.T) {
	r, fake := newTestReconciler(t)

	var ticks []Tick
	unsubscribe := r.Subscribe(func(tick Tick) { ticks = append(ticks, tick) })

	r.Observe(model.Descriptor{StartTime: ts(now)})
	r.Start()
	fake.Advance(2 * time.Second)
	unsubscribe()
	fake.Advance(2 * time.Second)

	// observe, start, two ticks
	if len(ticks) != 4 {
		t.Fatalf("expected 4 notifications, got %d (%+v)", len(ticks), ticks)
	}
	if last := ticks[len(ticks)-1]; last.ElapsedSeconds != 2 || !last.Running {
		t.Fatalf("unexpected last tick %+v", last)
	}
}

func TestReconcilerFollowsWallClockWithSlowSubscriber(t *testing.T) {
	r, fake := newTestReconciler(t)

	stalled := false
	r.Subscribe(func(tick Tick) {
		if tick.ElapsedSeconds == 2 && !stalled {
			stalled = true
			// This subscriber holds up the tick for three seconds.
			fake.Set(fake.Now().Add(3 * time.Second))
		}
	})

	r.Observe(model.Descriptor{StartTime: ts(now)})
	r.Start()
	fake.Advance(10 * time.Second)

	if !stalled {
		t.Fatal("expected the subscriber to stall once")
	}
	if got := r.Snapshot().ElapsedSeconds; got != 10 {
		t.Fatalf("expected 10 after 10s of wall-clock time, got %d", got)
	}
}
