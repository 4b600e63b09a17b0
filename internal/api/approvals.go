package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/openclaw/acct-agent/internal/apperr"
	"github.com/openclaw/acct-agent/internal/approval"
	"github.com/openclaw/acct-agent/internal/store"
)

type approvalBody struct {
	ApproverID     string                     `json:"approver_id"`
	Decision       store.ApprovalDecisionKind `json:"decision"`
	EvidenceAck    bool                       `json:"evidence_ack"`
	IdempotencyKey string                     `json:"idempotency_key"`
	ActorUserID    string                     `json:"actor_user_id"`
}

func decideApproval(w http.ResponseWriter, r *http.Request, eng *approval.Engine, kind approval.ProposalKind) {
	var body approvalBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.Validation("malformed request body: %v", err))
		return
	}
	if body.Decision != store.DecisionApprove && body.Decision != store.DecisionReject {
		writeError(w, apperr.Validation("decision must be %q or %q", store.DecisionApprove, store.DecisionReject))
		return
	}
	if body.ApproverID == "" {
		writeError(w, apperr.Validation("approver_id is required"))
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey == "" {
		idemKey = body.IdempotencyKey
	}

	decision, err := eng.Decide(r.Context(), approval.Request{
		ProposalKind:   kind,
		ProposalID:     mux.Vars(r)["id"],
		ApproverID:     body.ApproverID,
		Decision:       body.Decision,
		EvidenceAck:    body.EvidenceAck,
		IdempotencyKey: idemKey,
		ActorUserID:    body.ActorUserID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// DecideContractApproval implements POST /agent/v1/contract/proposals/{id}/approvals.
func DecideContractApproval(eng *approval.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decideApproval(w, r, eng, approval.KindContract)
	}
}

// DecideJournalApproval implements POST /agent/v1/journal/proposals/{id}/approvals.
func DecideJournalApproval(eng *approval.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decideApproval(w, r, eng, approval.KindJournal)
	}
}
