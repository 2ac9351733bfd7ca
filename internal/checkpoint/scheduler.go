package checkpoint

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goodtune/ktrack/internal/clock"
	"github.com/goodtune/ktrack/internal/consent"
	"github.com/goodtune/ktrack/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultInterval is the checkpoint cadence when none is configured.
const DefaultInterval = 600 * time.Second

// ErrConsentRequired is returned by Start when the consent gate is closed.
var ErrConsentRequired = errors.New("checkpoint: monitoring consent not granted")

// Func performs one checkpoint. Its context is cancelled when the scheduler
// stops.
type Func func(ctx context.Context) error

// Scheduler fires a checkpoint function at a fixed interval while started and
// while consent is granted. A failing checkpoint is logged and the schedule
// continues.
type Scheduler struct {
	clock  clock.Clock
	gate   *consent.Gate
	logger zerolog.Logger

	mu       sync.Mutex
	interval time.Duration
	running  bool
	fn       Func
	ticker   *clock.Ticker
	ctx      context.Context
	cancel   context.CancelFunc
	detach   func()
	fired    int
	failed   int
}

// NewScheduler creates a stopped scheduler. Revoking consent on gate stops it.
func NewScheduler(interval time.Duration, gate *consent.Gate, clk clock.Clock, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}

	s := &Scheduler{
		clock:    clk,
		gate:     gate,
		interval: interval,
		logger:   logger.With().Str("component", "checkpoint-scheduler").Logger(),
	}

	s.detach = gate.OnRevoke(s.Stop)

	return s
}

// Start begins firing fn every interval. Starting a running scheduler is a
// no-op.
func (s *Scheduler) Start(fn Func) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.gate.Granted() {
		return ErrConsentRequired
	}
	if s.running {
		return nil
	}
	s.running = true
	s.fn = fn
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.ticker = clock.NewTicker(s.clock, s.interval, s.fire)

	s.logger.Info().Dur("interval", s.interval).Msg("Checkpoint scheduler started")
	return nil
}

// Stop cancels the schedule and any in-flight checkpoint context. Stopping a
// stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.ticker.Stop()
	s.ticker = nil
	s.cancel()
	s.fn = nil

	s.logger.Info().
		Int("fired", s.fired).
		Int("failed", s.failed).
		Msg("Checkpoint scheduler stopped")
}

// Close stops the scheduler and removes its revoke hook from the gate.
func (s *Scheduler) Close() {
	s.Stop()

	s.mu.Lock()
	detach := s.detach
	s.detach = nil
	s.mu.Unlock()

	if detach != nil {
		detach()
	}
}

// SetInterval changes the cadence. A running schedule is re-armed from now;
// nothing else is affected.
func (s *Scheduler) SetInterval(interval time.Duration) error {
	if interval <= 0 {
		return errors.New("checkpoint: interval must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.interval = interval
	if s.running {
		s.ticker.Stop()
		s.ticker = clock.NewTicker(s.clock, interval, s.fire)
	}

	s.logger.Info().Dur("interval", interval).Msg("Checkpoint interval changed")
	return nil
}

// Interval returns the current cadence.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// IsRunning reports whether the scheduler is started.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Fired returns how many checkpoints ran and how many of them failed.
func (s *Scheduler) Fired() (fired, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired, s.failed
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	if !s.running || !s.gate.Granted() {
		s.mu.Unlock()
		return
	}
	fn := s.fn
	ctx := s.ctx
	s.fired++
	s.mu.Unlock()

	err := s.run(ctx, fn)
	if err != nil {
		s.mu.Lock()
		s.failed++
		s.mu.Unlock()

		metrics.CheckpointsTotal.WithLabelValues("failed").Inc()
		s.logger.Warn().Err(err).Msg("Checkpoint failed, schedule continues")
		return
	}

	metrics.CheckpointsTotal.WithLabelValues("ok").Inc()
	s.logger.Debug().Msg("Checkpoint completed")
}

// run calls fn, converting a panic into an error so a bad callback cannot
// take down the schedule.
func (s *Scheduler) run(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("checkpoint: callback panicked")
			s.logger.Error().Interface("panic", r).Msg("Checkpoint callback panicked")
		}
	}()
	return fn(ctx)
}
