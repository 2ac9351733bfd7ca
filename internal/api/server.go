package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/goodtune/ktrack/internal/model"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Handler serves a Client backend over the routes HTTPClient calls.
type Handler struct {
	backend Client
	logger  zerolog.Logger
}

// NewHandler returns a router exposing backend as a collaborator server.
func NewHandler(backend Client, logger zerolog.Logger) http.Handler {
	h := &Handler{
		backend: backend,
		logger:  logger.With().Str("component", "api-server").Logger(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/tracking/start", h.start).Methods(http.MethodPost)
	r.HandleFunc("/api/tracking/{id}/pause", h.pause).Methods(http.MethodPost)
	r.HandleFunc("/api/tracking/{id}/resume", h.resume).Methods(http.MethodPost)
	r.HandleFunc("/api/tracking/{id}/stop", h.stop).Methods(http.MethodPost)
	r.HandleFunc("/api/tracking/{id}/activity", h.activity).Methods(http.MethodPost)
	r.HandleFunc("/api/tracking/{id}/checkpoints", h.checkpoint).Methods(http.MethodPost)
	r.HandleFunc("/api/consent", h.consent).Methods(http.MethodPost)

	return r
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	var sc model.SessionContext
	if !decodeBody(w, r, &sc) {
		return
	}
	d, err := h.backend.StartTracking(r.Context(), sc)
	h.reply(w, http.StatusCreated, d, err)
}

func (h *Handler) pause(w http.ResponseWriter, r *http.Request) {
	d, err := h.backend.PauseTracking(r.Context(), mux.Vars(r)["id"])
	h.reply(w, http.StatusOK, d, err)
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request) {
	d, err := h.backend.ResumeTracking(r.Context(), mux.Vars(r)["id"])
	h.reply(w, http.StatusOK, d, err)
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	s, err := h.backend.StopTracking(r.Context(), mux.Vars(r)["id"])
	h.reply(w, http.StatusOK, s, err)
}

func (h *Handler) activity(w http.ResponseWriter, r *http.Request) {
	var snap model.ActivitySnapshot
	if !decodeBody(w, r, &snap) {
		return
	}
	report, err := h.backend.ReportActivity(r.Context(), mux.Vars(r)["id"], snap)
	h.reply(w, http.StatusOK, report, err)
}

func (h *Handler) checkpoint(w http.ResponseWriter, r *http.Request) {
	var up CheckpointUpload
	if !decodeBody(w, r, &up) {
		return
	}
	res, err := h.backend.UploadCheckpoint(r.Context(), mux.Vars(r)["id"], up.Artifact, up.ActivityLevel)
	h.reply(w, http.StatusCreated, res, err)
}

func (h *Handler) consent(w http.ResponseWriter, r *http.Request) {
	var req ConsentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.backend.RecordConsent(r.Context(), req.Granted); err != nil {
		h.reply(w, 0, nil, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) reply(w http.ResponseWriter, status int, data interface{}, err error) {
	if err == nil {
		writeJSON(w, status, data)
		return
	}

	code := http.StatusInternalServerError
	message := err.Error()
	var apiErr *Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode != 0 {
			code = apiErr.StatusCode
		}
		if apiErr.Message != "" {
			message = apiErr.Message
		}
	}

	h.logger.Warn().Err(err).Int("status", code).Msg("Collaborator operation rejected")
	writeError(w, code, message)
}

// decodeBody treats an empty body as the zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

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

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}
