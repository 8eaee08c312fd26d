package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// writeJSON writes a JSON response with the given status code and data
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("failed to encode json response", "error", err)
	}
}

// writeJSONError writes a JSON error body {"error": msg}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusBadRequest, msg)
}

func notFound(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusNotFound, msg)
}

func internalError(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusInternalServerError, msg)
}
