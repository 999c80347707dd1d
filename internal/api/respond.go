package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/zykor/barsync/internal/pkg/logger"
)

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("response encode failed", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func nowUTC() time.Time { return time.Now().UTC() }
