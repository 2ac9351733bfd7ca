package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goodtune/ktrack/internal/api"
	"github.com/goodtune/ktrack/internal/model"
	"github.com/goodtune/ktrack/internal/session"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// ConsentRequest is the body of POST /api/consent.
type ConsentRequest struct {
	Granted bool   `json:"granted"`
	Source  string `json:"source,omitempty"`
}

// IntervalRequest is the body of PUT /api/checkpoint/interval.
type IntervalRequest struct {
	Seconds int `json:"seconds"`
}

// StopResponse is returned by POST /api/session/stop. ServerError is set
// when the session stopped locally but could not be finalized remotely.
type StopResponse struct {
	Summary     session.Summary `json:"summary"`
	ServerError string          `json:"server_error,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// statusFor maps a session error to an HTTP status.
func statusFor(err error) int {
	var apiErr *api.Error
	switch {
	case errors.Is(err, session.ErrConsentRequired):
		return http.StatusPreconditionFailed
	case errors.Is(err, session.ErrInvalidTransition), errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes an optional JSON body into out.
func decodeBody(r *http.Request, out any) error {
	err := json.NewDecoder(r.Body).Decode(out)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"phase":          s.session.Phase(),
		"live_clients":   s.hub.Clients(),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var sc model.SessionContext
	if err := decodeBody(r, &sc); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	s.transition(w, func() error { return s.session.Start(r.Context(), sc) })
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.transition(w, func() error { return s.session.Pause(r.Context()) })
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.transition(w, func() error { return s.session.Resume(r.Context()) })
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.transition(w, func() error { return s.session.Reset(r.Context()) })
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	summary, err := s.session.Stop(r.Context())
	if err == nil {
		writeJSON(w, http.StatusOK, StopResponse{Summary: summary})
		return
	}

	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		writeJSON(w, http.StatusBadGateway, StopResponse{Summary: summary, ServerError: err.Error()})
		return
	}
	writeError(w, statusFor(err), err.Error())
}

func (s *Server) handleConsent(w http.ResponseWriter, r *http.Request) {
	var req ConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Source == "" {
		req.Source = "control"
	}

	var rec model.ConsentRecord
	if req.Granted {
		rec = s.session.GrantConsent(r.Context(), req.Source)
	} else {
		rec = s.session.RevokeConsent(r.Context(), req.Source)
	}

	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCheckpointInterval(w http.ResponseWriter, r *http.Request) {
	var req IntervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Seconds <= 0 {
		writeError(w, http.StatusBadRequest, "seconds must be positive")
		return
	}

	if err := s.session.SetCheckpointInterval(time.Duration(req.Seconds) * time.Second); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	s.hub.HandleWS(w, r, Event{Type: EventStatus, Data: s.session.Status()})
}

// transition runs op and answers with the new status or the mapped error.
func (s *Server) transition(w http.ResponseWriter, op func() error) {
	if err := op(); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.session.Status())
}
