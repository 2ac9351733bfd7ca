package timer

import (
	"sync"
	"time"

	"github.com/goodtune/ktrack/internal/clock"
	"github.com/goodtune/ktrack/internal/metrics"
	"github.com/goodtune/ktrack/internal/model"
	"github.com/rs/zerolog"
)

const (
	// DefaultTickInterval is the local display tick.
	DefaultTickInterval = time.Second
)

// Tick is what the reconciler publishes to its subscribers.
type Tick struct {
	ElapsedSeconds int64 `json:"elapsed_seconds"`
	IsPaused       bool  `json:"is_paused"`
	Running        bool  `json:"running"`
}

// Config holds reconciler configuration
type Config struct {
	TickInterval time.Duration
	MaxSession   time.Duration
}

// Reconciler turns session descriptors into a displayed elapsed-seconds value
// and keeps it ticking locally between observations.
type Reconciler struct {
	clock    clock.Clock
	interval time.Duration
	max      time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	elapsed int64
	base    int64
	anchor  time.Time
	paused  bool
	running bool
	ticker  *clock.Ticker
	subs    map[int]func(Tick)
	nextSub int
}

// NewReconciler creates a stopped reconciler showing zero.
func NewReconciler(cfg Config, clk clock.Clock, logger zerolog.Logger) *Reconciler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.MaxSession <= 0 {
		cfg.MaxSession = DefaultMaxSession
	}

	return &Reconciler{
		clock:    clk,
		interval: cfg.TickInterval,
		max:      cfg.MaxSession,
		logger:   logger.With().Str("component", "reconciler").Logger(),
		subs:     make(map[int]func(Tick)),
	}
}

// Observe re-derives the displayed value from d. The descriptor is read,
// never modified. If the reconciler is running the local ticker restarts
// from this observation.
func (r *Reconciler) Observe(d model.Descriptor) Tick {
	res := Reconcile(d, r.clock.Now(), r.max)

	if res.Fallback {
		metrics.ReconciliationsTotal.WithLabelValues("fallback").Inc()
		r.logger.Debug().
			Str("session_id", d.ID).
			Str("start_time", d.StartTime).
			Msg("Unusable start time, counting from now")
	} else {
		metrics.ReconciliationsTotal.WithLabelValues("ok").Inc()
	}

	r.mu.Lock()
	r.elapsed = res.ElapsedSeconds
	r.paused = res.Paused
	if r.running {
		r.restartTickerLocked()
	}
	tick, subs := r.snapshotLocked()
	r.mu.Unlock()

	r.logger.Debug().
		Str("session_id", d.ID).
		Int64("elapsed_seconds", tick.ElapsedSeconds).
		Bool("paused", tick.IsPaused).
		Msg("Descriptor reconciled")

	publish(subs, tick)
	return tick
}

// Start begins local ticking. Calling Start on a running reconciler is a no-op.
func (r *Reconciler) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.restartTickerLocked()
	tick, subs := r.snapshotLocked()
	r.mu.Unlock()

	publish(subs, tick)
}

// Stop cancels the local ticker and keeps the last displayed value.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.stopTickerLocked()
	tick, subs := r.snapshotLocked()
	r.mu.Unlock()

	publish(subs, tick)
}

// Reset stops the reconciler and zeroes the displayed value.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.running = false
	r.stopTickerLocked()
	r.elapsed = 0
	r.paused = false
	tick, subs := r.snapshotLocked()
	r.mu.Unlock()

	publish(subs, tick)
}

// IsRunning reports whether the reconciler is started.
func (r *Reconciler) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Snapshot returns the current displayed value.
func (r *Reconciler) Snapshot() Tick {
	r.mu.Lock()
	defer r.mu.Unlock()
	tick, _ := r.snapshotLocked()
	return tick
}

// Subscribe registers fn for every change of the displayed value. The
// returned function removes the subscription.
func (r *Reconciler) Subscribe(fn func(Tick)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

func (r *Reconciler) tick() {
	r.mu.Lock()
	if !r.running || r.paused {
		r.mu.Unlock()
		return
	}
	elapsed := r.base + wholeSeconds(r.clock.Now().Sub(r.anchor))
	if ceiling := wholeSeconds(r.max); elapsed > ceiling {
		elapsed = ceiling
	}
	if elapsed > r.elapsed {
		r.elapsed = elapsed
	}
	tick, subs := r.snapshotLocked()
	r.mu.Unlock()

	publish(subs, tick)
}

// restartTickerLocked must be called with r.mu held. The displayed value
// counts wall-clock seconds from here, so a slow subscriber delays a tick
// without losing time.
func (r *Reconciler) restartTickerLocked() {
	r.stopTickerLocked()
	if r.paused {
		return
	}
	r.base = r.elapsed
	r.anchor = r.clock.Now()
	r.ticker = clock.NewTicker(r.clock, r.interval, r.tick)
}

func (r *Reconciler) stopTickerLocked() {
	if r.ticker != nil {
		r.ticker.Stop()
		r.ticker = nil
	}
}

func (r *Reconciler) snapshotLocked() (Tick, []func(Tick)) {
	tick := Tick{
		ElapsedSeconds: r.elapsed,
		IsPaused:       r.paused,
		Running:        r.running,
	}
	subs := make([]func(Tick), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	metrics.ElapsedSeconds.Set(float64(r.elapsed))
	return tick, subs
}

func publish(subs []func(Tick), tick Tick) {
	for _, fn := range subs {
		fn(tick)
	}
}
