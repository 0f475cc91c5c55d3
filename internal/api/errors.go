package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	TraceID string `json:"traceId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: "INVALID_INPUT"})
}

// writeError maps domain errors to HTTP statuses. Internal details of
// unexpected errors are logged, not returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	traceID := GetTraceID(r.Context())

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "INVALID_INPUT", TraceID: traceID})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Code: "NOT_FOUND", TraceID: traceID})
	case errors.Is(err, domain.ErrAlreadyResolved):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "ALREADY_RESOLVED", TraceID: traceID})
	case errors.Is(err, domain.ErrPersistence):
		slog.Error("persistence failure", "path", r.URL.Path, "trace_id", traceID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to persist scoring attempt", Code: "PERSISTENCE", TraceID: traceID})
	default:
		slog.Error("request failed", "path", r.URL.Path, "trace_id", traceID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error", Code: "INTERNAL", TraceID: traceID})
	}
}
