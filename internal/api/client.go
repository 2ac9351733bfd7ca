// Package api is the collaborator surface the tracking core talks to: the
// remote server of record for time entries, activity reports and checkpoints.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goodtune/ktrack/internal/model"
)

// Client is the collaborator API consumed by the tracking session.
type Client interface {
	StartTracking(ctx context.Context, sc model.SessionContext) (model.Descriptor, error)
	PauseTracking(ctx context.Context, sessionID string) (model.Descriptor, error)
	ResumeTracking(ctx context.Context, sessionID string) (model.Descriptor, error)
	StopTracking(ctx context.Context, sessionID string) (model.SessionSummary, error)
	ReportActivity(ctx context.Context, sessionID string, snap model.ActivitySnapshot) (model.ActivityReport, error)
	UploadCheckpoint(ctx context.Context, sessionID string, artifact model.Artifact, activityLevel int) (model.UploadResult, error)
	RecordConsent(ctx context.Context, granted bool) error
}

// Adopter is implemented by backends that keep no state across a host
// restart. Adopt hands them a mirrored descriptor so later calls for that
// session succeed.
type Adopter interface {
	Adopt(d model.Descriptor)
}

// Operation names used in errors, metrics and logs.
const (
	OpStartTracking    = "start_tracking"
	OpPauseTracking    = "pause_tracking"
	OpResumeTracking   = "resume_tracking"
	OpStopTracking     = "stop_tracking"
	OpReportActivity   = "report_activity"
	OpUploadCheckpoint = "upload_checkpoint"
	OpRecordConsent    = "record_consent"
)

// Error is a failed collaborator round-trip. StatusCode is zero when the
// request never got a response.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("api %s: %d %s: %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode), e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("api %s: %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	case e.Err != nil:
		return fmt.Sprintf("api %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("api %s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorResponse is the JSON body returned with non-2xx responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// CheckpointUpload is the request body of an upload.
type CheckpointUpload struct {
	Artifact      model.Artifact `json:"artifact"`
	ActivityLevel int            `json:"activity_level"`
}

// ConsentRequest is the request body of a consent record.
type ConsentRequest struct {
	Granted bool `json:"granted"`
}
