package approval

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/acct-agent/internal/apperr"
	"github.com/openclaw/acct-agent/internal/store"
)

func newContractProposal(st store.Store, createdBy string) *store.ContractProposal {
	p := &store.ContractProposal{
		ID:          "prop-1",
		CaseID:      "case-1",
		ProposalType: "write_off",
		Title:       "Write off stale receivable",
		RiskLevel:   store.RiskMedium,
		Confidence:  0.7,
		Status:      store.ContractUnderReview,
		CreatedBy:   createdBy,
		ProposalKey: "case-1:write_off:v1",
	}
	if _, err := st.InsertContractProposalIfAbsent(context.Background(), p); err != nil {
		panic(err)
	}
	return p
}

// TestDecide_MakerCheckerViolation covers spec.md §8 property 2 / scenario S2.
func TestDecide_MakerCheckerViolation(t *testing.T) {
	st := store.NewMemStore()
	newContractProposal(st, "maker1")
	eng := New(st)

	_, err := eng.Decide(context.Background(), Request{
		ProposalKind: KindContract,
		ProposalID:   "prop-1",
		ApproverID:   "maker1",
		Decision:     store.DecisionApprove,
		EvidenceAck:  true,
	})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindConflict, appErr.Kind)

	p, err := st.GetContractProposal(context.Background(), "prop-1")
	require.NoError(t, err)
	assert.Equal(t, store.ContractUnderReview, p.Status)
}

// TestDecide_EvidenceAckRequired covers spec.md §8 property 3.
func TestDecide_EvidenceAckRequired(t *testing.T) {
	st := store.NewMemStore()
	newContractProposal(st, "maker1")
	eng := New(st)

	_, err := eng.Decide(context.Background(), Request{
		ProposalKind: KindContract,
		ProposalID:   "prop-1",
		ApproverID:   "checker1",
		Decision:     store.DecisionApprove,
		EvidenceAck:  false,
	})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)

	p, err := st.GetContractProposal(context.Background(), "prop-1")
	require.NoError(t, err)
	assert.Equal(t, store.ContractUnderReview, p.Status)
}

// TestDecide_TerminalImmutability covers spec.md §8 property 4.
func TestDecide_TerminalImmutability(t *testing.T) {
	st := store.NewMemStore()
	newContractProposal(st, "maker1")
	eng := New(st)
	ctx := context.Background()

	_, err := eng.Decide(ctx, Request{
		ProposalKind: KindContract, ProposalID: "prop-1", ApproverID: "checker1",
		Decision: store.DecisionApprove, EvidenceAck: true, IdempotencyKey: "key-1",
	})
	require.NoError(t, err)

	p, err := st.GetContractProposal(ctx, "prop-1")
	require.NoError(t, err)
	assert.Equal(t, store.ContractApproved, p.Status)

	_, err = eng.Decide(ctx, Request{
		ProposalKind: KindContract, ProposalID: "prop-1", ApproverID: "checker2",
		Decision: store.DecisionReject, EvidenceAck: true, IdempotencyKey: "key-2",
	})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindConflict, appErr.Kind)
}

// TestDecide_IdempotentReplay covers spec.md §8 property 5.
func TestDecide_IdempotentReplay(t *testing.T) {
	st := store.NewMemStore()
	newContractProposal(st, "maker1")
	eng := New(st)
	ctx := context.Background()

	req := Request{
		ProposalKind: KindContract, ProposalID: "prop-1", ApproverID: "checker1",
		Decision: store.DecisionApprove, EvidenceAck: true, IdempotencyKey: "same-key",
	}
	first, err := eng.Decide(ctx, req)
	require.NoError(t, err)
	second, err := eng.Decide(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	n, err := st.Count(ctx, "agent_approvals", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// TestDecide_ConcurrentApprovers covers spec.md §8 property 5 / scenario S3:
// exactly one of two distinct-key approvers wins the terminal transition.
func TestDecide_ConcurrentApprovers(t *testing.T) {
	st := store.NewMemStore()
	newContractProposal(st, "maker1")
	eng := New(st)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, 2)
	approvers := []string{"approver1", "approver2"}
	keys := []string{"key-a", "key-b"}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := eng.Decide(ctx, Request{
				ProposalKind: KindContract, ProposalID: "prop-1", ApproverID: approvers[i],
				Decision: store.DecisionApprove, EvidenceAck: true, IdempotencyKey: keys[i],
			})
			results[i] = err
		}(i)
	}
	wg.Wait()

	successCount := 0
	for _, err := range results {
		if err == nil {
			successCount++
		}
	}
	assert.Equal(t, 1, successCount)

	p, err := st.GetContractProposal(ctx, "prop-1")
	require.NoError(t, err)
	assert.True(t, p.Status.Terminal())

	n, err := st.Count(ctx, "agent_approvals", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// TestDecide_JournalProposalApproval exercises the journal-proposal kind
// through the same engine.
func TestDecide_JournalProposalApproval(t *testing.T) {
	st := store.NewMemStore()
	ctx := context.Background()
	p := &store.JournalProposal{
		ID: "jp-1", VoucherID: "v-1", Description: "test", Confidence: 0.9,
		Status: store.JournalProposalPending, CreatedBy: "system:journal_suggestion",
	}
	require.NoError(t, st.InsertJournalProposal(ctx, p, nil))

	eng := New(st)
	decision, err := eng.Decide(ctx, Request{
		ProposalKind: KindJournal, ProposalID: "jp-1", ApproverID: "reviewer1",
		Decision: store.DecisionApprove, EvidenceAck: true, IdempotencyKey: "jp-key",
	})
	require.NoError(t, err)
	assert.Equal(t, store.DecisionApprove, decision.Decision)

	got, _, err := st.GetJournalProposal(ctx, "jp-1")
	require.NoError(t, err)
	assert.Equal(t, store.JournalProposalApproved, got.Status)
}

// TestDecide_AuditEntryOnRejection verifies audit emission even when a
// request fails validation (spec.md §4.6: "accepted or rejected-by-rule").
func TestDecide_AuditEntryOnRejection(t *testing.T) {
	st := store.NewMemStore()
	newContractProposal(st, "maker1")
	eng := New(st)
	ctx := context.Background()

	_, err := eng.Decide(ctx, Request{
		ProposalKind: KindContract, ProposalID: "prop-1", ApproverID: "maker1",
		Decision: store.DecisionApprove, EvidenceAck: true,
	})
	require.Error(t, err)

	entries, err := st.ListAudit(ctx, store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "approval.decide", entries[0].Action)
	assert.Contains(t, entries[0].Payload, "error")
}
