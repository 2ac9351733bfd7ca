package session

import (
	"errors"
	"fmt"

	"github.com/goodtune/ktrack/internal/model"
	"github.com/goodtune/ktrack/internal/timer"
)

// Phase is the tracking session state.
type Phase string

const (
	Idle            Phase = "idle"
	AwaitingConsent Phase = "awaiting_consent"
	Running         Phase = "running"
	Paused          Phase = "paused"
	Stopped         Phase = "stopped"
)

var allPhases = []Phase{Idle, AwaitingConsent, Running, Paused, Stopped}

var (
	// ErrConsentRequired is returned when an operation needs monitoring
	// consent that has not been granted.
	ErrConsentRequired = errors.New("session: monitoring consent required")

	// ErrInvalidTransition matches every *TransitionError.
	ErrInvalidTransition = errors.New("session: invalid transition")

	// ErrBusy is returned while another transition is waiting on the API.
	ErrBusy = errors.New("session: transition already in progress")
)

// TransitionError reports an operation attempted from a phase that does not
// allow it. Nothing changed.
type TransitionError struct {
	Op   string
	From Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session: cannot %s while %s", e.Op, e.From)
}

// Is makes errors.Is(err, ErrInvalidTransition) true.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Summary is returned by Stop.
type Summary struct {
	SessionID      string                 `json:"session_id,omitempty"`
	ElapsedSeconds int64                  `json:"elapsed_seconds"`
	Elapsed        string                 `json:"elapsed"`
	Activity       model.ActivitySnapshot `json:"activity"`
	Report         *model.ActivityReport  `json:"report,omitempty"`
	Checkpoints    int                    `json:"checkpoints"`
	Server         *model.SessionSummary  `json:"server,omitempty"`
}

// Status is a point-in-time view of the session for the host.
type Status struct {
	Phase              Phase                   `json:"phase"`
	SessionID          string                  `json:"session_id,omitempty"`
	Clock              timer.Tick              `json:"clock"`
	Elapsed            string                  `json:"elapsed"`
	Monitoring         bool                    `json:"monitoring"`
	Activity           *model.ActivitySnapshot `json:"activity,omitempty"`
	Report             *model.ActivityReport   `json:"report,omitempty"`
	Checkpoints        int                     `json:"checkpoints"`
	CheckpointInterval string                  `json:"checkpoint_interval"`
	Consent            model.ConsentRecord     `json:"consent"`
}
