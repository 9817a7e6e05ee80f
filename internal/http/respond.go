package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/IMxSPYDER/banking-system/internal/domain"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps a domain failure to its HTTP status.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, domain.ErrStorageUnavailable) {
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err.Error())
}
