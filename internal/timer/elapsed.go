package timer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/ktrack/internal/model"
)

// DefaultMaxSession is the ceiling applied to any reconciled elapsed value.
// It absorbs clock skew and corrupt descriptors; it is not a protocol limit.
const DefaultMaxSession = 24 * time.Hour

// timestampLayouts are tried in order when parsing descriptor timestamps.
// Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses a descriptor timestamp. Numeric values are taken as
// Unix milliseconds.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC(), true
	}

	return time.Time{}, false
}

// Result is one reconciliation of a descriptor.
type Result struct {
	ElapsedSeconds int64
	Paused         bool
	// Fallback is set when the start time could not be used and "now" was
	// substituted for it.
	Fallback bool
}

// Reconcile derives the displayed elapsed seconds of d at now.
//
// elapsed = floor((now-start)/1s) - total_pause_duration - open pause, each
// step floored at zero, and the result clamped to [0, ceiling].
func Reconcile(d model.Descriptor, now time.Time, ceiling time.Duration) Result {
	if ceiling <= 0 {
		ceiling = DefaultMaxSession
	}

	res := Result{Paused: d.Paused()}

	start, ok := ParseTimestamp(d.StartTime)
	if !ok || start.After(now) {
		start = now
		res.Fallback = true
	}

	pauseTotal := d.TotalPauseDuration
	if pauseTotal < 0 {
		pauseTotal = 0
	}

	elapsed := wholeSeconds(now.Sub(start)) - pauseTotal
	if elapsed < 0 {
		elapsed = 0
	}

	if res.Paused {
		if open, ok := d.OpenPause(); ok {
			if pausedAt, ok := ParseTimestamp(open.PauseTime); ok {
				stuck := wholeSeconds(now.Sub(pausedAt))
				if stuck > 0 {
					elapsed -= stuck
				}
				if elapsed < 0 {
					elapsed = 0
				}
			}
		}
	}

	if limit := wholeSeconds(ceiling); elapsed > limit {
		elapsed = limit
	}

	res.ElapsedSeconds = elapsed
	return res
}

// Elapsed is Reconcile without the paused flag.
func Elapsed(d model.Descriptor, now time.Time, ceiling time.Duration) int64 {
	return Reconcile(d, now, ceiling).ElapsedSeconds
}

// FormatElapsed renders seconds as HH:MM:SS.
func FormatElapsed(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func wholeSeconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
