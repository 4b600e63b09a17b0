package dispatch

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/openclaw/acct-agent/internal/logging"
)

type dispatchTaskBody struct {
	RunID string `json:"run_id"`
}

// DispatchHandler serves the Cloud Tasks push target named by
// CloudTasksConfig.DispatchURL: it decodes {"run_id": ...} and drives the
// run through Dispatcher.Dispatch synchronously, returning 500 on failure
// so Cloud Tasks retries per the queue's own retry policy.
func DispatchHandler(d *Dispatcher) http.HandlerFunc {
	log := logging.New("dispatch.handler")
	return func(w http.ResponseWriter, r *http.Request) {
		var body dispatchTaskBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RunID == "" {
			http.Error(w, "missing run_id", http.StatusBadRequest)
			return
		}
		if _, err := d.Dispatch(context.Background(), body.RunID); err != nil {
			log.Error("dispatch failed", "run_id", body.RunID, "err", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
