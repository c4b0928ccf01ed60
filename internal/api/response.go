package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/SurveyPipe/internal/models"
)

// internalErrorBody is written when a payload cannot be encoded.
var internalErrorBody = mustMarshal(models.Error("Internal server error"))

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("api: cannot marshal static response: " + err.Error())
	}
	return b
}

// writeJSON encodes v before touching headers so an encoding failure still yields a 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("Server writeJSON: encode failed", "error", err, "status", status)
		body, status = internalErrorBody, http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Error("Server writeJSON: write failed", "error", err)
	}
}

// writeError writes the standard error envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.Error(msg))
}
