package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/acct-agent/internal/store"
)

func TestDecideContractApproval_RejectsSelfApproval(t *testing.T) {
	srv, st, _ := newTestRouter(t)
	defer srv.Close()

	p := &store.ContractProposal{ID: "cp-1", CreatedBy: "maker", Status: store.ContractUnderReview}
	_, err := st.InsertContractProposalIfAbsent(context.Background(), p)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]any{
		"approver_id":  "maker",
		"decision":     "approve",
		"evidence_ack": true,
	})
	resp, err := http.Post(srv.URL+"/agent/v1/contract/proposals/cp-1/approvals", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDecideContractApproval_RequiresEvidenceAckToApprove(t *testing.T) {
	srv, st, _ := newTestRouter(t)
	defer srv.Close()

	p := &store.ContractProposal{ID: "cp-2", CreatedBy: "maker", Status: store.ContractUnderReview}
	_, err := st.InsertContractProposalIfAbsent(context.Background(), p)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]any{
		"approver_id": "checker",
		"decision":    "approve",
	})
	resp, err := http.Post(srv.URL+"/agent/v1/contract/proposals/cp-2/approvals", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDecideContractApproval_SucceedsAndTransitions(t *testing.T) {
	srv, st, _ := newTestRouter(t)
	defer srv.Close()

	p := &store.ContractProposal{ID: "cp-3", CreatedBy: "maker", Status: store.ContractUnderReview}
	_, err := st.InsertContractProposalIfAbsent(context.Background(), p)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]any{
		"approver_id":  "checker",
		"decision":     "approve",
		"evidence_ack": true,
	})
	resp, err := http.Post(srv.URL+"/agent/v1/contract/proposals/cp-3/approvals", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	updated, err := st.GetContractProposal(context.Background(), "cp-3")
	require.NoError(t, err)
	assert.Equal(t, store.ContractApproved, updated.Status)
}
