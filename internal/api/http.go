package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goodtune/ktrack/internal/metrics"
	"github.com/goodtune/ktrack/internal/model"
	"github.com/rs/zerolog"
)

// HTTPClient talks JSON to a collaborator server.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// NewHTTPClient creates a client for baseURL. A nil httpClient gets one with
// the given timeout.
func NewHTTPClient(baseURL string, timeout time.Duration, httpClient *http.Client, logger zerolog.Logger) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger.With().Str("component", "api-client").Logger(),
	}
}

// StartTracking creates a new time entry.
func (c *HTTPClient) StartTracking(ctx context.Context, sc model.SessionContext) (model.Descriptor, error) {
	var d model.Descriptor
	err := c.do(ctx, OpStartTracking, "/api/tracking/start", sc, &d)
	return d, err
}

// PauseTracking opens a pause period.
func (c *HTTPClient) PauseTracking(ctx context.Context, sessionID string) (model.Descriptor, error) {
	var d model.Descriptor
	err := c.do(ctx, OpPauseTracking, trackingPath(sessionID, "pause"), nil, &d)
	return d, err
}

// ResumeTracking closes the open pause period.
func (c *HTTPClient) ResumeTracking(ctx context.Context, sessionID string) (model.Descriptor, error) {
	var d model.Descriptor
	err := c.do(ctx, OpResumeTracking, trackingPath(sessionID, "resume"), nil, &d)
	return d, err
}

// StopTracking finalizes the time entry.
func (c *HTTPClient) StopTracking(ctx context.Context, sessionID string) (model.SessionSummary, error) {
	var s model.SessionSummary
	err := c.do(ctx, OpStopTracking, trackingPath(sessionID, "stop"), nil, &s)
	return s, err
}

// ReportActivity sends one activity snapshot.
func (c *HTTPClient) ReportActivity(ctx context.Context, sessionID string, snap model.ActivitySnapshot) (model.ActivityReport, error) {
	var r model.ActivityReport
	err := c.do(ctx, OpReportActivity, trackingPath(sessionID, "activity"), snap, &r)
	return r, err
}

// UploadCheckpoint sends a checkpoint artifact with the activity level at
// capture time.
func (c *HTTPClient) UploadCheckpoint(ctx context.Context, sessionID string, artifact model.Artifact, activityLevel int) (model.UploadResult, error) {
	var r model.UploadResult
	body := CheckpointUpload{Artifact: artifact, ActivityLevel: activityLevel}
	err := c.do(ctx, OpUploadCheckpoint, trackingPath(sessionID, "checkpoints"), body, &r)
	return r, err
}

// RecordConsent stores the user's monitoring consent.
func (c *HTTPClient) RecordConsent(ctx context.Context, granted bool) error {
	return c.do(ctx, OpRecordConsent, "/api/consent", ConsentRequest{Granted: granted}, nil)
}

func trackingPath(sessionID, action string) string {
	return "/api/tracking/" + url.PathEscape(sessionID) + "/" + action
}

func (c *HTTPClient) do(ctx context.Context, op, path string, in, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		metrics.APIRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.APIErrorsTotal.WithLabelValues(op).Inc()
			c.logger.Warn().Err(err).Str("op", op).Msg("Collaborator request failed")
		}
	}()

	var body io.Reader = http.NoBody
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return &Error{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	c.logger.Debug().Str("op", op).Dur("took", time.Since(start)).Msg("Collaborator request completed")
	return nil
}

func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var er ErrorResponse
	if json.Unmarshal(raw, &er) == nil && er.Message != "" {
		return er.Message
	}
	return strings.TrimSpace(string(raw))
}
