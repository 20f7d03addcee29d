package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/linkedin-autodm/internal/apperrors"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps service errors onto HTTP statuses
func statusFor(err error) int {
	switch {
	case apperrors.IsValidation(err), errors.Is(err, apperrors.ErrImmutableField):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrAutomationBusy), errors.Is(err, apperrors.ErrAutomationInactive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err in the {error} envelope. Internal errors are
// logged and hidden from the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		msg = "internal server error"
	} else if errors.Is(err, apperrors.ErrNotFound) {
		msg = "automation not found"
	}
	writeErrorMessage(w, status, msg)
}
