package clock

import (
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func TestFakeAdvanceFiresInOrder(t *testing.T) {
	fake := NewFake(epoch)

	var order []int
	fake.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	fake.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	fake.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	fake.Advance(2 * time.Second)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected [1 2], got %v", order)
	}
	if got := fake.Now(); !got.Equal(epoch.Add(2 * time.Second)) {
		t.Fatalf("expected now %v, got %v", epoch.Add(2*time.Second), got)
	}

	fake.Advance(time.Second)
	if len(order) != 3 {
		t.Fatalf("expected 3 fires, got %v", order)
	}
}

func TestFakeTimerStop(t *testing.T) {
	fake := NewFake(epoch)

	fired := false
	timer := fake.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("expected Stop to report a pending timer")
	}
	if timer.Stop() {
		t.Fatal("expected second Stop to report false")
	}

	fake.Advance(5 * time.Second)
	if fired {
		t.Fatal("stopped timer fired")
	}
	if fake.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", fake.Pending())
	}
}

func TestTickerFiresEveryInterval(t *testing.T) {
	fake := NewFake(epoch)

	var at []time.Duration
	ticker := NewTicker(fake, 5*time.Second, func() {
		at = append(at, fake.Now().Sub(epoch))
	})

	fake.Advance(12 * time.Second)
	ticker.Stop()
	fake.Advance(time.Minute)

	if len(at) != 2 {
		t.Fatalf("expected 2 ticks, got %d (%v)", len(at), at)
	}
	if at[0] != 5*time.Second || at[1] != 10*time.Second {
		t.Fatalf("unexpected tick times %v", at)
	}
	if fake.Pending() != 0 {
		t.Fatalf("expected stopped ticker to leave no timers, got %d", fake.Pending())
	}
}

func TestTickerStopFromCallback(t *testing.T) {
	fake := NewFake(epoch)

	calls := 0
	var ticker *Ticker
	ticker = NewTicker(fake, time.Second, func() {
		calls++
		ticker.Stop()
	})

	fake.Advance(10 * time.Second)
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if !ticker.Stopped() {
		t.Fatal("expected ticker to be stopped")
	}
}

func TestTickerKeepsDeadlinesWhenCallbackIsSlow(t *testing.T) {
	fake := NewFake(epoch)

	var at []time.Duration
	ticker := NewTicker(fake, 5*time.Second, func() {
		at = append(at, fake.Now().Sub(epoch))
		// The callback itself takes two seconds.
		fake.Set(fake.Now().Add(2 * time.Second))
	})
	defer ticker.Stop()

	fake.Advance(19 * time.Second)

	want := []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second}
	if len(at) != len(want) {
		t.Fatalf("expected ticks at %v, got %v", want, at)
	}
	for i := range want {
		if at[i] != want[i] {
			t.Fatalf("expected ticks at %v, got %v", want, at)
		}
	}
}

func TestTickerSkipsMissedDeadlines(t *testing.T) {
	fake := NewFake(epoch)

	var at []time.Duration
	ticker := NewTicker(fake, 5*time.Second, func() {
		at = append(at, fake.Now().Sub(epoch))
		if len(at) == 1 {
			// Overrun the 10s and 15s deadlines.
			fake.Set(fake.Now().Add(12 * time.Second))
		}
	})
	defer ticker.Stop()

	fake.Advance(25 * time.Second)

	want := []time.Duration{5 * time.Second, 20 * time.Second, 25 * time.Second}
	if len(at) != len(want) {
		t.Fatalf("expected ticks at %v, got %v", want, at)
	}
	for i := range want {
		if at[i] != want[i] {
			t.Fatalf("expected ticks at %v, got %v", want, at)
		}
	}
}

func TestTickerRealClockDoesNotAccumulateLag(t *testing.T) {
	if testing.Short() {
		t.Skip("uses wall-clock time")
	}

	const interval = 10 * time.Millisecond
	var (
		mu    sync.Mutex
		calls int
	)
	start := time.Now()
	ticker := NewTicker(RealClock{}, interval, func() {
		mu.Lock()
		calls++
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	})
	time.Sleep(500 * time.Millisecond)
	ticker.Stop()
	elapsed := time.Since(start)

	mu.Lock()
	defer mu.Unlock()
	// Re-arming after the callback would manage about two thirds of this.
	if floor := int(elapsed/interval) * 8 / 10; calls < floor {
		t.Fatalf("expected at least %d calls in %s, got %d", floor, elapsed, calls)
	}
}
