package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/tetrixcorps/compliantivr/internal/ivr/healthcare"
	"github.com/tetrixcorps/compliantivr/internal/ivr/orchestrator"
	"github.com/tetrixcorps/compliantivr/internal/ivr/service"
)

// maxJSONBody caps admin request bodies.
const maxJSONBody = 64 << 10

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeServiceError maps service sentinels to 400/404 and anything else
// to 500.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidTenant):
		writeError(w, http.StatusBadRequest, "invalid_tenant", err.Error())
	case errors.Is(err, service.ErrInvalidConsent):
		writeError(w, http.StatusBadRequest, "invalid_consent", err.Error())
	case errors.Is(err, service.ErrInvalidFormat):
		writeError(w, http.StatusBadRequest, "invalid_format", err.Error())
	case errors.Is(err, healthcare.ErrInvalidRequest), errors.Is(err, healthcare.ErrTemplateNotFound):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, service.ErrConsentNotFound):
		writeError(w, http.StatusNotFound, "consent_not_found", err.Error())
	case errors.Is(err, service.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, orchestrator.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "not_configured", err.Error())
	default:
		s.logger.Error("admin request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}
