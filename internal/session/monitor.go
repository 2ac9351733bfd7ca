package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/ktrack/internal/model"
	"github.com/goodtune/ktrack/internal/storage"
)

// startMonitoring starts the sampler and the checkpoint scheduler when
// consent allows it. Both are no-ops if already running.
func (s *Session) startMonitoring() {
	if !s.gate.Granted() {
		s.logger.Info().Msg("Monitoring not started, consent not granted")
		return
	}
	if err := s.sampler.Start(s.onSample); err != nil {
		s.logger.Warn().Err(err).Msg("Activity sampler not started")
	}
	if err := s.scheduler.Start(s.runCheckpoint); err != nil {
		s.logger.Warn().Err(err).Msg("Checkpoint scheduler not started")
	}
}

func (s *Session) stopMonitoring() {
	s.sampler.Stop()
	s.scheduler.Stop()
}

// currentActivity is the live snapshot while sampling, else the last sample.
func (s *Session) currentActivity() model.ActivitySnapshot {
	if s.sampler.IsRunning() {
		return s.sampler.Snapshot()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastActivity != nil {
		return *s.lastActivity
	}
	return model.ActivitySnapshot{}
}

// onSample runs on every sampler tick: publish, then report to the server
// while Running.
func (s *Session) onSample(snap model.ActivitySnapshot) {
	s.mu.Lock()
	s.lastActivity = &snap
	phase := s.phase
	var id string
	if s.descriptor != nil {
		id = s.descriptor.ID
	}
	subs := make([]func(model.ActivitySnapshot), 0, len(s.activitySubs))
	for _, fn := range s.activitySubs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}

	if phase != Running || id == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ReportTimeout)
	defer cancel()

	report, err := s.api.ReportActivity(ctx, id, snap)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", id).Msg("Activity report failed")
		return
	}

	s.mu.Lock()
	s.lastReport = &report
	s.mu.Unlock()

	s.logger.Debug().
		Str("session_id", id).
		Str("productivity", string(report.ProductivityLevel)).
		Int("recommendations", len(report.Recommendations)).
		Msg("Activity reported")
}

// runCheckpoint captures an artifact and uploads it with the current
// activity level. Errors go back to the scheduler, which logs and continues.
func (s *Session) runCheckpoint(ctx context.Context) error {
	s.mu.Lock()
	phase := s.phase
	var id string
	if s.descriptor != nil {
		id = s.descriptor.ID
	}
	s.mu.Unlock()

	if phase != Running || id == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReportTimeout)
	defer cancel()

	level := s.currentActivity().ActivityLevel
	result := model.CheckpointResult{
		SessionID:     id,
		CapturedAt:    s.clock.Now(),
		ActivityLevel: level,
	}

	artifact, err := s.capture.Capture(ctx)
	if err != nil {
		result.Error = err.Error()
		s.publishCheckpoint(model.Artifact{}, result)
		return fmt.Errorf("capture: %w", err)
	}
	result.ArtifactID = artifact.ID
	result.CapturedAt = artifact.CapturedAt

	res, err := s.api.UploadCheckpoint(ctx, id, artifact, level)
	switch {
	case err != nil:
		result.Error = err.Error()
	case !res.Success:
		err = errors.New("upload rejected")
		result.Error = err.Error()
	default:
		result.Success = true
		s.mu.Lock()
		s.checkpoints++
		s.mu.Unlock()
	}

	s.publishCheckpoint(artifact, result)
	if err != nil {
		return fmt.Errorf("upload checkpoint: %w", err)
	}
	return nil
}

func (s *Session) publishCheckpoint(artifact model.Artifact, result model.CheckpointResult) {
	s.mu.Lock()
	subs := make([]func(model.Artifact, model.CheckpointResult), 0, len(s.checkpointSubs))
	for _, fn := range s.checkpointSubs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(artifact, result)
	}
}

func (s *Session) persistDescriptor(ctx context.Context, d model.Descriptor) {
	if s.store == nil {
		return
	}
	err := s.store.Descriptors().Save(ctx, d)
	switch {
	case errors.Is(err, storage.ErrStaleDescriptor):
		s.logger.Warn().Err(err).Str("session_id", d.ID).Msg("Ignoring stale descriptor")
	case err != nil:
		s.logger.Error().Err(err).Str("session_id", d.ID).Msg("Failed to mirror descriptor")
	}
}

func (s *Session) clearDescriptor(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.Descriptors().Clear(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to clear mirrored descriptor")
	}
}

func (s *Session) recordConsent(ctx context.Context, rec model.ConsentRecord, granted bool) {
	if s.store != nil {
		if err := s.store.Consent().Save(ctx, rec); err != nil {
			s.logger.Error().Err(err).Msg("Failed to persist consent")
		}
	}
	if err := s.api.RecordConsent(ctx, granted); err != nil {
		s.logger.Warn().Err(err).Bool("granted", granted).Msg("Failed to record consent on server")
	}
}
