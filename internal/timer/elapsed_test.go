package timer

import (
	"testing"
	"time"

	"github.com/goodtune/ktrack/internal/model"
)

var now = time.Date(2024, 6, 10, 14, 30, 0, 0, time.UTC)

func ts(t time.Time) string { return t.Format(time.RFC3339) }

func strPtr(s string) *string { return &s }

func TestReconcileScenarios(t *testing.T) {
	tests := []struct {
		name       string
		descriptor model.Descriptor
		want       int64
		wantPaused bool
	}{
		{
			name: "running for an hour one minute one second",
			descriptor: model.Descriptor{
				StartTime: ts(now.Add(-3661 * time.Second)),
			},
			want: 3661,
		},
		{
			name: "paused with prior pauses and an open pause",
			descriptor: model.Descriptor{
				StartTime:          ts(now.Add(-7200 * time.Second)),
				TotalPauseDuration: 1800,
				IsPaused:           true,
				PausePeriods: []model.PausePeriod{
					{PauseTime: ts(now.Add(-300 * time.Second))},
				},
			},
			want:       5100,
			wantPaused: true,
		},
		{
			name:       "unparsable start time",
			descriptor: model.Descriptor{StartTime: "not-a-date"},
			want:       0,
		},
		{
			name:       "start time in the future",
			descriptor: model.Descriptor{StartTime: ts(now.Add(time.Hour))},
			want:       0,
		},
		{
			name: "pause total larger than wall time",
			descriptor: model.Descriptor{
				StartTime:          ts(now.Add(-60 * time.Second)),
				TotalPauseDuration: 600,
			},
			want: 0,
		},
		{
			name: "stale open pause never goes negative",
			descriptor: model.Descriptor{
				StartTime: ts(now.Add(-100 * time.Second)),
				IsPaused:  true,
				PausePeriods: []model.PausePeriod{
					{PauseTime: ts(now.Add(-10 * 24 * time.Hour))},
				},
			},
			want:       0,
			wantPaused: true,
		},
		{
			name: "clamped at the ceiling",
			descriptor: model.Descriptor{
				StartTime: ts(now.Add(-72 * time.Hour)),
			},
			want: int64(DefaultMaxSession / time.Second),
		},
		{
			name: "negative pause total treated as zero",
			descriptor: model.Descriptor{
				StartTime:          ts(now.Add(-90 * time.Second)),
				TotalPauseDuration: -50,
			},
			want: 90,
		},
		{
			name: "open pause without cached flag",
			descriptor: model.Descriptor{
				StartTime: ts(now.Add(-1000 * time.Second)),
				PausePeriods: []model.PausePeriod{
					{PauseTime: ts(now.Add(-100 * time.Second))},
				},
			},
			want:       900,
			wantPaused: true,
		},
		{
			name: "unparsable pause time subtracts nothing",
			descriptor: model.Descriptor{
				StartTime: ts(now.Add(-1000 * time.Second)),
				IsPaused:  true,
				PausePeriods: []model.PausePeriod{
					{PauseTime: "garbage"},
				},
			},
			want:       1000,
			wantPaused: true,
		},
		{
			name: "epoch milliseconds start time",
			descriptor: model.Descriptor{
				StartTime: "1718029710000", // 2024-06-10T14:28:30Z
			},
			want: 90,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Reconcile(tt.descriptor, now, DefaultMaxSession)
			if res.ElapsedSeconds != tt.want {
				t.Errorf("Reconcile() elapsed = %d, want %d", res.ElapsedSeconds, tt.want)
			}
			if res.Paused != tt.wantPaused {
				t.Errorf("Reconcile() paused = %v, want %v", res.Paused, tt.wantPaused)
			}
		})
	}
}

func TestClosedPauseRoundTrip(t *testing.T) {
	start := now.Add(-2 * time.Hour)
	pausedAt := start.Add(30 * time.Minute)
	resumedAt := pausedAt.Add(17*time.Minute + 3*time.Second)
	p := int64(resumedAt.Sub(pausedAt) / time.Second)

	d := model.Descriptor{
		StartTime:          ts(start),
		TotalPauseDuration: p,
		PausePeriods: []model.PausePeriod{
			{PauseTime: ts(pausedAt), ResumeTime: strPtr(ts(resumedAt))},
		},
	}

	want := int64(now.Sub(start)/time.Second) - p
	if got := Elapsed(d, now, DefaultMaxSession); got != want {
		t.Fatalf("Elapsed() = %d, want %d", got, want)
	}

	// Same descriptor, open pause of q seconds on top.
	q := int64(240)
	open := d
	open.IsPaused = true
	open.PausePeriods = append(append([]model.PausePeriod{}, d.PausePeriods...),
		model.PausePeriod{PauseTime: ts(now.Add(-time.Duration(q) * time.Second))})

	if got := Elapsed(open, now, DefaultMaxSession); got != want-q {
		t.Fatalf("Elapsed() with open pause = %d, want %d", got, want-q)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	d := model.Descriptor{
		StartTime:          ts(now.Add(-5432 * time.Second)),
		TotalPauseDuration: 12,
	}

	first := Elapsed(d, now, DefaultMaxSession)
	second := Elapsed(d, now, DefaultMaxSession)
	if first != second {
		t.Fatalf("repeated reconciliation drifted: %d then %d", first, second)
	}
}

func TestReconcileBounds(t *testing.T) {
	starts := []string{
		"", "not-a-date", ts(now), ts(now.Add(-time.Second)),
		ts(now.Add(-48 * time.Hour)), ts(now.Add(48 * time.Hour)),
	}
	pauses := []int64{-10, 0, 30, 1 << 40}

	for _, start := range starts {
		for _, pause := range pauses {
			d := model.Descriptor{StartTime: start, TotalPauseDuration: pause}
			got := Elapsed(d, now, DefaultMaxSession)
			if got < 0 || got > int64(DefaultMaxSession/time.Second) {
				t.Errorf("Elapsed(%q, %d) = %d out of bounds", start, pause, got)
			}
		}
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{0, "00:00:00"},
		{59, "00:00:59"},
		{3661, "01:01:01"},
		{86400, "24:00:00"},
		{-5, "00:00:00"},
	}

	for _, tt := range tests {
		if got := FormatElapsed(tt.seconds); got != tt.want {
			t.Errorf("FormatElapsed(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}
