package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("failed writing response body", "err", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

type validationErrorBody struct {
	Error      string   `json:"error"`
	Violations []string `json:"violations"`
}

func writeError(w http.ResponseWriter, log *slog.Logger, status int, msg string) {
	writeJSON(w, log, status, errorBody{Error: msg})
}
