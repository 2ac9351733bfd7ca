package model

import "time"

// PausePeriod is one pause interval of a session. A nil ResumeTime means the
// session is still paused.
type PausePeriod struct {
	PauseTime  string  `json:"pause_time"`
	ResumeTime *string `json:"resume_time,omitempty"`
}

// Open reports whether the pause has not been resumed yet.
func (p PausePeriod) Open() bool {
	return p.ResumeTime == nil || *p.ResumeTime == ""
}

// Descriptor mirrors the server's record of a running time entry.
// Timestamps are kept as the raw strings the server sent so that corrupt
// values can be tolerated at reconciliation time instead of at decode time.
type Descriptor struct {
	ID                 string        `json:"id"`
	StartTime          string        `json:"start_time"`
	TotalPauseDuration int64         `json:"total_pause_duration"`
	PausePeriods       []PausePeriod `json:"pause_periods"`
	IsPaused           bool          `json:"is_paused"`
}

// OpenPause returns the trailing pause period if it has no resume time.
func (d Descriptor) OpenPause() (PausePeriod, bool) {
	if len(d.PausePeriods) == 0 {
		return PausePeriod{}, false
	}
	last := d.PausePeriods[len(d.PausePeriods)-1]
	if !last.Open() {
		return PausePeriod{}, false
	}
	return last, true
}

// Paused reports whether the descriptor describes a paused session: either the
// cached flag is set or the last pause period is still open.
func (d Descriptor) Paused() bool {
	if d.IsPaused {
		return true
	}
	_, open := d.OpenPause()
	return open
}

// SessionContext identifies what is being tracked when a session starts.
type SessionContext struct {
	ProjectID   string `json:"project_id,omitempty"`
	TaskID      string `json:"task_id,omitempty"`
	Description string `json:"description,omitempty"`
}

// ProductivityLevel is a categorical bucket derived from an activity level.
type ProductivityLevel string

const (
	ProductivityVeryLow  ProductivityLevel = "very_low"
	ProductivityLow      ProductivityLevel = "low"
	ProductivityMedium   ProductivityLevel = "medium"
	ProductivityHigh     ProductivityLevel = "high"
	ProductivityVeryHigh ProductivityLevel = "very_high"
)

// ActivitySnapshot is one sample of the input-activity accumulator.
type ActivitySnapshot struct {
	PointerActivity int               `json:"pointer_activity"`
	KeyActivity     int               `json:"key_activity"`
	ActivityLevel   int               `json:"activity_level"`
	Productivity    ProductivityLevel `json:"productivity_level"`
	TotalEvents     int64             `json:"total_events"`
	ElapsedMinutes  float64           `json:"elapsed_minutes"`
	SampledAt       time.Time         `json:"sampled_at"`
}

// ActivityReport is the server's answer to a reported snapshot.
type ActivityReport struct {
	ActivityLevel     int               `json:"activity_level"`
	ProductivityLevel ProductivityLevel `json:"productivity_level"`
	Recommendations   []string          `json:"recommendations,omitempty"`
}

// Artifact is a captured checkpoint payload, typically a screenshot.
type Artifact struct {
	ID          string    `json:"id"`
	CapturedAt  time.Time `json:"captured_at"`
	ContentType string    `json:"content_type"`
	Data        []byte    `json:"data"`
}

// UploadResult is the server's answer to a checkpoint upload.
type UploadResult struct {
	Success bool `json:"success"`
}

// CheckpointResult is handed to checkpoint listeners after each upload.
type CheckpointResult struct {
	SessionID     string    `json:"session_id"`
	ArtifactID    string    `json:"artifact_id"`
	CapturedAt    time.Time `json:"captured_at"`
	ActivityLevel int       `json:"activity_level"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
}

// SessionSummary is the server's final record of a stopped session.
type SessionSummary struct {
	ID              string `json:"id"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	DurationSeconds int64  `json:"duration_seconds"`
	PauseSeconds    int64  `json:"pause_seconds"`
}

// ConsentState is the state of the consent gate.
type ConsentState string

const (
	ConsentUnset   ConsentState = "unset"
	ConsentGranted ConsentState = "granted"
	ConsentDenied  ConsentState = "denied"
)

// ConsentRecord is the consent state together with where it came from.
type ConsentRecord struct {
	State     ConsentState `json:"state"`
	Source    string       `json:"source,omitempty"`
	ChangedAt time.Time    `json:"changed_at,omitempty"`
}
