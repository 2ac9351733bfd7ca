package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goodtune/ktrack/internal/activity"
	"github.com/goodtune/ktrack/internal/clock"
	"github.com/goodtune/ktrack/internal/model"
	"github.com/google/uuid"
)

// Memory is an in-process collaborator backend. It keeps time entries, pause
// periods, reports and checkpoints in memory and can be told to fail any
// operation. It backs offline mode and the stand-in HTTP server.
type Memory struct {
	clock      clock.Clock
	thresholds activity.Thresholds

	mu       sync.Mutex
	entries  map[string]*memoryEntry
	failures map[string]error
	calls    map[string]int
	consent  *bool
}

type memoryEntry struct {
	descriptor  model.Descriptor
	context     model.SessionContext
	stopped     *model.SessionSummary
	reports     []model.ActivitySnapshot
	checkpoints []CheckpointUpload
}

// NewMemory creates an empty backend. thresholds bucket the reported activity
// level into a productivity level.
func NewMemory(clk clock.Clock, thresholds activity.Thresholds) *Memory {
	return &Memory{
		clock:      clk,
		thresholds: thresholds,
		entries:    make(map[string]*memoryEntry),
		failures:   make(map[string]error),
		calls:      make(map[string]int),
	}
}

// SetFailure makes every call to op fail with err until cleared with a nil
// err.
func (m *Memory) SetFailure(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Calls returns how many times op was invoked, including failed calls.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Descriptor returns the stored descriptor of a session.
func (m *Memory) Descriptor(sessionID string) (model.Descriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[sessionID]
	if !ok {
		return model.Descriptor{}, false
	}
	return copyDescriptor(e.descriptor), true
}

// Reports returns the activity snapshots received for a session.
func (m *Memory) Reports(sessionID string) []model.ActivitySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[sessionID]
	if !ok {
		return nil
	}
	return append([]model.ActivitySnapshot(nil), e.reports...)
}

// Checkpoints returns the checkpoint uploads received for a session.
func (m *Memory) Checkpoints(sessionID string) []CheckpointUpload {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[sessionID]
	if !ok {
		return nil
	}
	return append([]CheckpointUpload(nil), e.checkpoints...)
}

// Consent returns the last recorded consent and whether any was recorded.
func (m *Memory) Consent() (granted, recorded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.consent == nil {
		return false, false
	}
	return *m.consent, true
}

// Adopt registers a descriptor created by an earlier instance of the backend.
// An entry the backend already knows is left alone.
func (m *Memory) Adopt(d model.Descriptor) {
	if d.ID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[d.ID]; ok {
		return
	}
	m.entries[d.ID] = &memoryEntry{descriptor: copyDescriptor(d)}
}

// StartTracking creates a new running entry.
func (m *Memory) StartTracking(ctx context.Context, sc model.SessionContext) (model.Descriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enterLocked(ctx, OpStartTracking); err != nil {
		return model.Descriptor{}, err
	}

	d := model.Descriptor{
		ID:           uuid.NewString(),
		StartTime:    m.stamp(),
		PausePeriods: []model.PausePeriod{},
	}
	m.entries[d.ID] = &memoryEntry{descriptor: d, context: sc}

	return copyDescriptor(d), nil
}

// PauseTracking opens a pause period.
func (m *Memory) PauseTracking(ctx context.Context, sessionID string) (model.Descriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.activeLocked(ctx, OpPauseTracking, sessionID)
	if err != nil {
		return model.Descriptor{}, err
	}
	if e.descriptor.Paused() {
		return model.Descriptor{}, &Error{Op: OpPauseTracking, StatusCode: http.StatusConflict, Message: "session already paused"}
	}

	e.descriptor.PausePeriods = append(e.descriptor.PausePeriods, model.PausePeriod{PauseTime: m.stamp()})
	e.descriptor.IsPaused = true

	return copyDescriptor(e.descriptor), nil
}

// ResumeTracking closes the open pause period and adds it to the cumulative
// pause duration.
func (m *Memory) ResumeTracking(ctx context.Context, sessionID string) (model.Descriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.activeLocked(ctx, OpResumeTracking, sessionID)
	if err != nil {
		return model.Descriptor{}, err
	}
	if !e.descriptor.Paused() {
		return model.Descriptor{}, &Error{Op: OpResumeTracking, StatusCode: http.StatusConflict, Message: "session not paused"}
	}

	m.closePauseLocked(e)

	return copyDescriptor(e.descriptor), nil
}

// StopTracking finalizes the entry. A paused entry has its open pause closed
// first.
func (m *Memory) StopTracking(ctx context.Context, sessionID string) (model.SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.activeLocked(ctx, OpStopTracking, sessionID)
	if err != nil {
		return model.SessionSummary{}, err
	}
	if e.descriptor.Paused() {
		m.closePauseLocked(e)
	}

	now := m.clock.Now().UTC()
	start, err := time.Parse(time.RFC3339Nano, e.descriptor.StartTime)
	if err != nil {
		start = now
	}
	duration := int64(now.Sub(start)/time.Second) - e.descriptor.TotalPauseDuration
	if duration < 0 {
		duration = 0
	}

	summary := model.SessionSummary{
		ID:              sessionID,
		StartTime:       e.descriptor.StartTime,
		EndTime:         now.Format(time.RFC3339Nano),
		DurationSeconds: duration,
		PauseSeconds:    e.descriptor.TotalPauseDuration,
	}
	e.stopped = &summary

	return summary, nil
}

// ReportActivity stores the snapshot and answers with a productivity
// classification and recommendations.
func (m *Memory) ReportActivity(ctx context.Context, sessionID string, snap model.ActivitySnapshot) (model.ActivityReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.activeLocked(ctx, OpReportActivity, sessionID)
	if err != nil {
		return model.ActivityReport{}, err
	}
	e.reports = append(e.reports, snap)

	level := m.thresholds.Classify(snap.ActivityLevel)
	return model.ActivityReport{
		ActivityLevel:     snap.ActivityLevel,
		ProductivityLevel: level,
		Recommendations:   recommendations(level),
	}, nil
}

// UploadCheckpoint stores the artifact.
func (m *Memory) UploadCheckpoint(ctx context.Context, sessionID string, artifact model.Artifact, activityLevel int) (model.UploadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.activeLocked(ctx, OpUploadCheckpoint, sessionID)
	if err != nil {
		return model.UploadResult{}, err
	}
	if len(artifact.Data) == 0 {
		return model.UploadResult{}, &Error{Op: OpUploadCheckpoint, StatusCode: http.StatusBadRequest, Message: "empty artifact"}
	}
	e.checkpoints = append(e.checkpoints, CheckpointUpload{Artifact: artifact, ActivityLevel: activityLevel})

	return model.UploadResult{Success: true}, nil
}

// RecordConsent stores the consent flag.
func (m *Memory) RecordConsent(ctx context.Context, granted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enterLocked(ctx, OpRecordConsent); err != nil {
		return err
	}
	m.consent = &granted
	return nil
}

func (m *Memory) enterLocked(ctx context.Context, op string) error {
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return &Error{Op: op, Err: err}
	}
	if err, ok := m.failures[op]; ok {
		return &Error{Op: op, StatusCode: http.StatusServiceUnavailable, Message: err.Error(), Err: err}
	}
	return nil
}

func (m *Memory) activeLocked(ctx context.Context, op, sessionID string) (*memoryEntry, error) {
	if err := m.enterLocked(ctx, op); err != nil {
		return nil, err
	}
	e, ok := m.entries[sessionID]
	if !ok {
		return nil, &Error{Op: op, StatusCode: http.StatusNotFound, Message: fmt.Sprintf("session %q not found", sessionID)}
	}
	if e.stopped != nil {
		return nil, &Error{Op: op, StatusCode: http.StatusConflict, Message: "session already stopped"}
	}
	return e, nil
}

func (m *Memory) closePauseLocked(e *memoryEntry) {
	now := m.clock.Now().UTC()
	last := len(e.descriptor.PausePeriods) - 1
	if last >= 0 && e.descriptor.PausePeriods[last].Open() {
		resume := now.Format(time.RFC3339Nano)
		e.descriptor.PausePeriods[last].ResumeTime = &resume
		if paused, err := time.Parse(time.RFC3339Nano, e.descriptor.PausePeriods[last].PauseTime); err == nil && now.After(paused) {
			e.descriptor.TotalPauseDuration += int64(now.Sub(paused) / time.Second)
		}
	}
	e.descriptor.IsPaused = false
}

func (m *Memory) stamp() string {
	return m.clock.Now().UTC().Format(time.RFC3339Nano)
}

func copyDescriptor(d model.Descriptor) model.Descriptor {
	periods := make([]model.PausePeriod, len(d.PausePeriods))
	for i, p := range d.PausePeriods {
		periods[i] = model.PausePeriod{PauseTime: p.PauseTime}
		if p.ResumeTime != nil {
			r := *p.ResumeTime
			periods[i].ResumeTime = &r
		}
	}
	d.PausePeriods = periods
	return d
}

func recommendations(level model.ProductivityLevel) []string {
	switch level {
	case model.ProductivityVeryLow:
		return []string{
			"Activity is very low. Check whether the timer should be paused.",
			"Try closing distractions and focusing on a single task.",
		}
	case model.ProductivityLow:
		return []string{"Consider a short break and then a focused work block."}
	case model.ProductivityVeryHigh:
		return []string{"Sustained high activity. Remember to take regular breaks."}
	default:
		return nil
	}
}
