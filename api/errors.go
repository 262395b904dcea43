package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmcleod/ironca/pki"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// errorStatus maps the pki error taxonomy onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, pki.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pki.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, pki.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, pki.ErrDuplicateSerial):
		return http.StatusConflict
	case errors.Is(err, pki.ErrChainValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pki.ErrConfiguration):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (a *API) mapError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	writeError(w, status, err.Error())
}
