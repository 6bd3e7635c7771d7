package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(env)
	if err != nil {
		log.Error("failed to marshal response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		log.Debug("response write failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, log *slog.Logger, status int, msg string) {
	writeJSON(w, log, status, envelope{OK: false, Error: msg})
}
