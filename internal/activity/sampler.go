package activity

import (
	"errors"
	"sync"
	"time"

	"github.com/goodtune/ktrack/internal/clock"
	"github.com/goodtune/ktrack/internal/consent"
	"github.com/goodtune/ktrack/internal/metrics"
	"github.com/goodtune/ktrack/internal/model"
	"github.com/rs/zerolog"
)

const (
	// DefaultSampleInterval is the sampling cadence.
	DefaultSampleInterval = 10 * time.Second
)

// ErrConsentRequired is returned by Start when the consent gate is closed.
var ErrConsentRequired = errors.New("activity: monitoring consent not granted")

// Config holds sampler configuration
type Config struct {
	Interval      time.Duration
	PointerFactor float64
	KeyFactor     float64
	Thresholds    Thresholds
}

// Sampler accumulates raw input counters and periodically turns them into an
// activity snapshot. The counters belong to the sampler alone: they are
// written by its input handler and read by its sampling tick.
type Sampler struct {
	cfg    Config
	clock  clock.Clock
	source InputSource
	gate   *consent.Gate
	logger zerolog.Logger

	mu            sync.Mutex
	pointerEvents int64
	keyEvents     int64
	windowStart   time.Time
	running       bool
	gen           int
	unsubscribe   func()
	detach        func()
	ticker        *clock.Ticker
	callback      func(model.ActivitySnapshot)
}

// NewSampler creates a stopped sampler. Revoking consent on gate stops it.
func NewSampler(cfg Config, source InputSource, gate *consent.Gate, clk clock.Clock, logger zerolog.Logger) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSampleInterval
	}
	if cfg.PointerFactor <= 0 {
		cfg.PointerFactor = DefaultPointerFactor
	}
	if cfg.KeyFactor <= 0 {
		cfg.KeyFactor = DefaultKeyFactor
	}
	if cfg.Thresholds.Validate() != nil {
		cfg.Thresholds = DefaultThresholds
	}

	s := &Sampler{
		cfg:         cfg,
		clock:       clk,
		source:      source,
		gate:        gate,
		logger:      logger.With().Str("component", "activity-sampler").Logger(),
		windowStart: clk.Now(),
	}

	s.detach = gate.OnRevoke(s.Stop)

	return s
}

// Start subscribes to the input source and calls callback every interval
// until Stop. Counters restart from zero. Starting a running sampler is a
// no-op.
func (s *Sampler) Start(callback func(model.ActivitySnapshot)) error {
	s.mu.Lock()
	// Checked under s.mu: a concurrent Revoke either closes the gate first or
	// waits in Stop until the sampler is running.
	if !s.gate.Granted() {
		s.mu.Unlock()
		return ErrConsentRequired
	}
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.gen++
	gen := s.gen
	s.callback = callback
	s.pointerEvents = 0
	s.keyEvents = 0
	s.windowStart = s.clock.Now()
	s.ticker = clock.NewTicker(s.clock, s.cfg.Interval, s.sample)
	s.mu.Unlock()

	// Subscribe outside the lock: a source may deliver synchronously.
	unsubscribe := s.source.Subscribe(s.record)

	s.mu.Lock()
	if !s.running || s.gen != gen {
		// Stopped while subscribing.
		s.mu.Unlock()
		unsubscribe()
		return nil
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	s.logger.Info().Dur("interval", s.cfg.Interval).Msg("Activity sampler started")
	return nil
}

// Stop unsubscribes from the input source and cancels the sampling tick.
// Stopping a stopped sampler is a no-op.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.callback = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	s.logger.Info().Msg("Activity sampler stopped")
}

// Close stops the sampler and removes its revoke hook from the gate. A closed
// sampler must not be started again.
func (s *Sampler) Close() {
	s.Stop()

	s.mu.Lock()
	detach := s.detach
	s.detach = nil
	s.mu.Unlock()

	if detach != nil {
		detach()
	}
}

// Reset zeroes the counters and re-anchors the rate window without
// stopping the sampler.
func (s *Sampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pointerEvents = 0
	s.keyEvents = 0
	s.windowStart = s.clock.Now()
}

// IsRunning reports whether the sampler is started.
func (s *Sampler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Snapshot computes the current activity snapshot without waiting for the
// next tick.
func (s *Sampler) Snapshot() model.ActivitySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Sampler) record(kind InputKind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	switch kind {
	case PointerInput:
		s.pointerEvents++
	case KeyInput:
		s.keyEvents++
	}
}

func (s *Sampler) sample() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	callback := s.callback
	s.mu.Unlock()

	metrics.ActivitySamplesTotal.Inc()
	metrics.ActivityLevel.WithLabelValues("pointer").Set(float64(snap.PointerActivity))
	metrics.ActivityLevel.WithLabelValues("key").Set(float64(snap.KeyActivity))
	metrics.ActivityLevel.WithLabelValues("overall").Set(float64(snap.ActivityLevel))

	s.logger.Debug().
		Int("pointer_activity", snap.PointerActivity).
		Int("key_activity", snap.KeyActivity).
		Int64("total_events", snap.TotalEvents).
		Float64("elapsed_minutes", snap.ElapsedMinutes).
		Msg("Activity sampled")

	if callback != nil {
		callback(snap)
	}
}

func (s *Sampler) snapshotLocked() model.ActivitySnapshot {
	now := s.clock.Now()
	minutes := now.Sub(s.windowStart).Minutes()
	if minutes < 0 {
		minutes = 0
	}

	var pointerRate, keyRate float64
	if minutes > 0 {
		pointerRate = float64(s.pointerEvents) / minutes
		keyRate = float64(s.keyEvents) / minutes
	}

	pointer := Score(pointerRate, s.cfg.PointerFactor)
	key := Score(keyRate, s.cfg.KeyFactor)
	level := Combine(pointer, key)

	return model.ActivitySnapshot{
		PointerActivity: pointer,
		KeyActivity:     key,
		ActivityLevel:   level,
		Productivity:    s.cfg.Thresholds.Classify(level),
		TotalEvents:     s.pointerEvents + s.keyEvents,
		ElapsedMinutes:  minutes,
		SampledAt:       now,
	}
}
