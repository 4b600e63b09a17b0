package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/acct-agent/internal/apperr"
	"github.com/openclaw/acct-agent/internal/store"
)

type tierBFeedbackBody struct {
	ObligationID string                  `json:"obligation_id"`
	UserID       string                  `json:"user_id"`
	FeedbackType store.TierBFeedbackType `json:"feedback_type"`
	Delta        *float64                `json:"delta,omitempty"`
}

// SubmitTierBFeedback implements POST /agent/v1/tier-b/feedback
// (SPEC_FULL.md §4.7): an append-only signal used to tune future proposal
// confidence, never mutated or deleted once recorded.
func SubmitTierBFeedback(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body tierBFeedbackBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, apperr.Validation("malformed request body: %v", err))
			return
		}
		if body.ObligationID == "" || body.UserID == "" {
			writeError(w, apperr.Validation("obligation_id and user_id are required"))
			return
		}
		switch body.FeedbackType {
		case store.FeedbackExplicitYes, store.FeedbackExplicitNo,
			store.FeedbackImplicitAccept, store.FeedbackImplicitEdit, store.FeedbackImplicitReject:
		default:
			writeError(w, apperr.Validation("unknown feedback_type %q", body.FeedbackType))
			return
		}

		f := &store.TierBFeedback{
			ID:           uuid.NewString(),
			ObligationID: body.ObligationID,
			UserID:       body.UserID,
			FeedbackType: body.FeedbackType,
			Delta:        body.Delta,
			CreatedAt:    time.Now(),
		}
		if err := st.InsertTierBFeedback(r.Context(), f); err != nil {
			writeError(w, apperr.Storage(err, "insert tier-b feedback"))
			return
		}
		writeJSON(w, http.StatusOK, f)
	}
}
