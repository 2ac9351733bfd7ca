package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/ktrack/internal/activity"
	"github.com/goodtune/ktrack/internal/api"
	"github.com/goodtune/ktrack/internal/checkpoint"
	"github.com/goodtune/ktrack/internal/clock"
	"github.com/goodtune/ktrack/internal/consent"
	"github.com/goodtune/ktrack/internal/metrics"
	"github.com/goodtune/ktrack/internal/model"
	"github.com/goodtune/ktrack/internal/storage"
	"github.com/goodtune/ktrack/internal/timer"
	"github.com/rs/zerolog"
)

const (
	opStart  = "start"
	opPause  = "pause"
	opResume = "resume"
	opStop   = "stop"
	opReset  = "reset"

	// DefaultReportTimeout bounds activity reports and checkpoint uploads.
	DefaultReportTimeout = 10 * time.Second
)

// Components are the parts a session composes. The session holds them but
// never reaches into their timers.
type Components struct {
	Gate       *consent.Gate
	Reconciler *timer.Reconciler
	Sampler    *activity.Sampler
	Scheduler  *checkpoint.Scheduler
	Capture    checkpoint.ScreenshotCapture
}

// Config holds session configuration
type Config struct {
	ReportTimeout time.Duration
}

// Session orchestrates one tracking session: it drives the collaborator API
// through start, pause, resume and stop, and starts and stops the clock,
// sampler and checkpoint scheduler to match.
type Session struct {
	api    api.Client
	store  storage.Store
	clock  clock.Clock
	cfg    Config
	logger zerolog.Logger

	gate       *consent.Gate
	reconciler *timer.Reconciler
	sampler    *activity.Sampler
	scheduler  *checkpoint.Scheduler
	capture    checkpoint.ScreenshotCapture

	mu           sync.Mutex
	phase        Phase
	busy         bool
	descriptor   *model.Descriptor
	lastActivity *model.ActivitySnapshot
	lastReport   *model.ActivityReport
	checkpoints  int
	lastSummary  *Summary

	nextSub        int
	activitySubs   map[int]func(model.ActivitySnapshot)
	checkpointSubs map[int]func(model.Artifact, model.CheckpointResult)
	phaseSubs      map[int]func(from, to Phase)
}

// New creates an idle session. store may be nil to disable mirroring.
func New(client api.Client, parts Components, store storage.Store, cfg Config, clk clock.Clock, logger zerolog.Logger) *Session {
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = DefaultReportTimeout
	}

	s := &Session{
		api:            client,
		store:          store,
		clock:          clk,
		cfg:            cfg,
		logger:         logger.With().Str("component", "session").Logger(),
		gate:           parts.Gate,
		reconciler:     parts.Reconciler,
		sampler:        parts.Sampler,
		scheduler:      parts.Scheduler,
		capture:        parts.Capture,
		phase:          Idle,
		activitySubs:   make(map[int]func(model.ActivitySnapshot)),
		checkpointSubs: make(map[int]func(model.Artifact, model.CheckpointResult)),
		phaseSubs:      make(map[int]func(from, to Phase)),
	}
	setPhaseGauge(Idle)

	return s
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Start begins tracking. Without consent the session moves to AwaitingConsent
// and ErrConsentRequired is returned; the host should obtain consent and call
// Start again. On API failure the phase is unchanged.
func (s *Session) Start(ctx context.Context, sc model.SessionContext) error {
	if _, err := s.begin(opStart, Idle, AwaitingConsent); err != nil {
		return err
	}
	defer s.end()

	if !s.gate.Granted() {
		s.setPhase(AwaitingConsent)
		s.reject(opStart, "consent")
		return ErrConsentRequired
	}

	d, err := s.api.StartTracking(ctx, sc)
	if err != nil {
		s.reject(opStart, "transport")
		s.logger.Error().Err(err).Msg("Failed to start tracking")
		return fmt.Errorf("start tracking: %w", err)
	}

	s.mu.Lock()
	s.descriptor = &d
	s.lastActivity = nil
	s.lastReport = nil
	s.checkpoints = 0
	s.lastSummary = nil
	s.mu.Unlock()

	s.reconciler.Observe(d)
	s.reconciler.Start()
	s.setPhase(Running)
	s.startMonitoring()
	s.persistDescriptor(ctx, d)

	s.logger.Info().
		Str("session_id", d.ID).
		Str("project_id", sc.ProjectID).
		Str("task_id", sc.TaskID).
		Msg("Tracking started")
	return nil
}

// Pause opens a pause period on the server and re-derives the clock from the
// returned descriptor.
func (s *Session) Pause(ctx context.Context) error {
	if _, err := s.begin(opPause, Running); err != nil {
		return err
	}
	defer s.end()

	id := s.sessionID()
	d, err := s.api.PauseTracking(ctx, id)
	if err != nil {
		s.reject(opPause, "transport")
		s.logger.Error().Err(err).Str("session_id", id).Msg("Failed to pause tracking")
		return fmt.Errorf("pause tracking: %w", err)
	}

	s.stopMonitoring()
	s.observe(d)
	s.setPhase(Paused)
	s.persistDescriptor(ctx, d)

	s.logger.Info().Str("session_id", id).Msg("Tracking paused")
	return nil
}

// Resume closes the open pause period on the server and re-derives the clock
// from the returned descriptor.
func (s *Session) Resume(ctx context.Context) error {
	if _, err := s.begin(opResume, Paused); err != nil {
		return err
	}
	defer s.end()

	id := s.sessionID()
	d, err := s.api.ResumeTracking(ctx, id)
	if err != nil {
		s.reject(opResume, "transport")
		s.logger.Error().Err(err).Str("session_id", id).Msg("Failed to resume tracking")
		return fmt.Errorf("resume tracking: %w", err)
	}

	s.observe(d)
	s.setPhase(Running)
	s.startMonitoring()
	s.persistDescriptor(ctx, d)

	s.logger.Info().Str("session_id", id).Msg("Tracking resumed")
	return nil
}

// Stop ends the session. Monitoring and the clock stop first; the session is
// then finalized on the server. The session is Stopped locally even if the
// server call fails, in which case the summary is returned together with the
// error. Stopping a stopped session returns the previous summary.
func (s *Session) Stop(ctx context.Context) (Summary, error) {
	from, err := s.begin(opStop, AwaitingConsent, Running, Paused, Stopped)
	if err != nil {
		return Summary{}, err
	}
	defer s.end()

	if from == Stopped {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.lastSummary != nil {
			return *s.lastSummary, nil
		}
		return Summary{}, nil
	}

	final := s.currentActivity()
	s.stopMonitoring()
	s.reconciler.Stop()
	tick := s.reconciler.Snapshot()

	s.mu.Lock()
	summary := Summary{
		ElapsedSeconds: tick.ElapsedSeconds,
		Elapsed:        timer.FormatElapsed(tick.ElapsedSeconds),
		Activity:       final,
		Report:         s.lastReport,
		Checkpoints:    s.checkpoints,
	}
	var id string
	if s.descriptor != nil {
		id = s.descriptor.ID
	}
	s.mu.Unlock()
	summary.SessionID = id

	var stopErr error
	if id != "" {
		server, err := s.api.StopTracking(ctx, id)
		if err != nil {
			s.reject(opStop, "transport")
			s.logger.Error().Err(err).Str("session_id", id).Msg("Failed to finalize session on server")
			stopErr = fmt.Errorf("stop tracking: %w", err)
		} else {
			summary.Server = &server
		}
	}

	s.mu.Lock()
	s.lastSummary = &summary
	s.mu.Unlock()

	s.setPhase(Stopped)
	s.clearDescriptor(ctx)

	s.logger.Info().
		Str("session_id", id).
		Int64("elapsed_seconds", summary.ElapsedSeconds).
		Int("activity_level", summary.Activity.ActivityLevel).
		Int("checkpoints", summary.Checkpoints).
		Msg("Tracking stopped")

	return summary, stopErr
}

// Reset returns the session to Idle, clearing the descriptor, the clock and
// the activity counters. It is refused while Running.
func (s *Session) Reset(ctx context.Context) error {
	if _, err := s.begin(opReset, Idle, AwaitingConsent, Paused, Stopped); err != nil {
		return err
	}
	defer s.end()

	s.stopMonitoring()
	s.reconciler.Reset()
	s.sampler.Reset()

	s.mu.Lock()
	s.descriptor = nil
	s.lastActivity = nil
	s.lastReport = nil
	s.checkpoints = 0
	s.lastSummary = nil
	s.mu.Unlock()

	s.setPhase(Idle)
	s.clearDescriptor(ctx)

	s.logger.Info().Msg("Session reset")
	return nil
}

// Restore reloads the mirrored consent record and descriptor after a
// restart. It reports whether a session was resumed. Only valid while Idle.
func (s *Session) Restore(ctx context.Context) (bool, error) {
	if _, err := s.begin("restore", Idle); err != nil {
		return false, err
	}
	defer s.end()

	if s.store == nil {
		return false, nil
	}

	rec, err := s.store.Consent().Load(ctx)
	switch {
	case err == nil:
		s.gate.Restore(*rec)
	case !errors.Is(err, storage.ErrNotFound):
		return false, fmt.Errorf("load consent: %w", err)
	}

	mirrored, err := s.store.Descriptors().Current(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load descriptor: %w", err)
	}

	d := mirrored.Descriptor
	if adopter, ok := s.api.(api.Adopter); ok {
		adopter.Adopt(d)
		s.logger.Debug().Str("session_id", d.ID).Msg("Mirrored session handed to backend")
	}

	s.mu.Lock()
	s.descriptor = &d
	s.mu.Unlock()

	tick := s.reconciler.Observe(d)
	s.reconciler.Start()
	if d.Paused() {
		s.setPhase(Paused)
	} else {
		s.setPhase(Running)
		s.startMonitoring()
	}

	s.logger.Info().
		Str("session_id", d.ID).
		Time("saved_at", mirrored.SavedAt).
		Int64("elapsed_seconds", tick.ElapsedSeconds).
		Bool("paused", tick.IsPaused).
		Msg("Session restored")
	return true, nil
}

// GrantConsent opens the consent gate. While Running, monitoring starts
// immediately. Mirroring and recording the change are best effort.
func (s *Session) GrantConsent(ctx context.Context, source string) model.ConsentRecord {
	rec := s.gate.Grant(source)

	if s.Phase() == Running {
		s.startMonitoring()
	}

	s.recordConsent(ctx, rec, true)
	return rec
}

// RevokeConsent closes the consent gate. The sampler and checkpoint
// scheduler have stopped when it returns; the clock keeps running.
func (s *Session) RevokeConsent(ctx context.Context, source string) model.ConsentRecord {
	rec := s.gate.Revoke(source)
	s.recordConsent(ctx, rec, false)
	return rec
}

// SetCheckpointInterval changes the checkpoint cadence without touching the
// display clock.
func (s *Session) SetCheckpointInterval(d time.Duration) error {
	return s.scheduler.SetInterval(d)
}

// SubscribeClock registers fn for every displayed elapsed-time change.
func (s *Session) SubscribeClock(fn func(timer.Tick)) func() {
	return s.reconciler.Subscribe(fn)
}

// SubscribeActivity registers fn for every activity sample.
func (s *Session) SubscribeActivity(fn func(model.ActivitySnapshot)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.activitySubs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.activitySubs, id)
	}
}

// OnCheckpoint registers fn for every checkpoint attempt.
func (s *Session) OnCheckpoint(fn func(model.Artifact, model.CheckpointResult)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.checkpointSubs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.checkpointSubs, id)
	}
}

// SubscribePhase registers fn for every phase transition.
func (s *Session) SubscribePhase(fn func(from, to Phase)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.phaseSubs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.phaseSubs, id)
	}
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	tick := s.reconciler.Snapshot()
	monitoring := s.sampler.IsRunning() || s.scheduler.IsRunning()
	interval := s.scheduler.Interval()
	rec := s.gate.Record()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Phase:              s.phase,
		Clock:              tick,
		Elapsed:            timer.FormatElapsed(tick.ElapsedSeconds),
		Monitoring:         monitoring,
		Activity:           s.lastActivity,
		Report:             s.lastReport,
		Checkpoints:        s.checkpoints,
		CheckpointInterval: interval.String(),
		Consent:            rec,
	}
	if s.descriptor != nil {
		st.SessionID = s.descriptor.ID
	}
	return st
}

// begin claims the session for one transition. It fails without side effects
// when another transition is in flight or the phase does not allow op.
func (s *Session) begin(op string, allowed ...Phase) (Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		s.rejectLocked(op, "busy")
		return s.phase, ErrBusy
	}
	for _, p := range allowed {
		if s.phase == p {
			s.busy = true
			return s.phase, nil
		}
	}

	s.rejectLocked(op, "invalid_transition")
	return s.phase, &TransitionError{Op: op, From: s.phase}
}

func (s *Session) end() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

func (s *Session) setPhase(to Phase) {
	s.mu.Lock()
	from := s.phase
	if from == to {
		s.mu.Unlock()
		return
	}
	s.phase = to
	subs := make([]func(from, to Phase), 0, len(s.phaseSubs))
	for _, fn := range s.phaseSubs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	metrics.SessionTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	setPhaseGauge(to)
	s.logger.Info().Str("from", string(from)).Str("to", string(to)).Msg("Session phase changed")

	for _, fn := range subs {
		fn(from, to)
	}
}

func (s *Session) reject(op, reason string) {
	metrics.SessionRejectedTotal.WithLabelValues(op, reason).Inc()
}

func (s *Session) rejectLocked(op, reason string) {
	metrics.SessionRejectedTotal.WithLabelValues(op, reason).Inc()
	s.logger.Warn().
		Str("operation", op).
		Str("phase", string(s.phase)).
		Str("reason", reason).
		Msg("Session operation rejected")
}

func (s *Session) observe(d model.Descriptor) {
	s.mu.Lock()
	s.descriptor = &d
	s.mu.Unlock()

	s.reconciler.Observe(d)
}

func (s *Session) sessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.descriptor == nil {
		return ""
	}
	return s.descriptor.ID
}

func setPhaseGauge(current Phase) {
	for _, p := range allPhases {
		v := 0.0
		if p == current {
			v = 1
		}
		metrics.SessionPhase.WithLabelValues(string(p)).Set(v)
	}
}
