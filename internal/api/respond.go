package api

import (
	"encoding/json"
	"net/http"

	"github.com/openclaw/acct-agent/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps an apperr.Kind to its HTTP status (spec.md §7) and
// emits {"error": "..."}. Unrecognized errors default to 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if appErr, ok := apperr.As(err); ok {
		status = appErr.HTTPStatus()
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
