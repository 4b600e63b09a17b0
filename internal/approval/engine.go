// Package approval implements the maker-checker approval engine (spec.md
// §4.6): a single validation pipeline shared by Contract Proposals and
// Journal Proposals, both routed through one Approval Decision table.
package approval

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/acct-agent/internal/apperr"
	"github.com/openclaw/acct-agent/internal/metrics"
	"github.com/openclaw/acct-agent/internal/store"
)

// Approvable is the minimal surface the engine needs from either proposal
// kind — generalized beyond spec.md's literal "Operates on Contract
// Proposals" wording to also cover journal-proposal review (SPEC_FULL.md
// §3), since both share the same maker-checker invariants.
type Approvable interface {
	ProposalID() string
	CreatedBy() string
	Terminal() bool
}

type contractApprovable struct{ p *store.ContractProposal }

func (c contractApprovable) ProposalID() string { return c.p.ID }
func (c contractApprovable) CreatedBy() string  { return c.p.CreatedBy }
func (c contractApprovable) Terminal() bool     { return c.p.Status.Terminal() }

type journalApprovable struct{ p *store.JournalProposal }

func (j journalApprovable) ProposalID() string { return j.p.ID }
func (j journalApprovable) CreatedBy() string  { return j.p.CreatedBy }
func (j journalApprovable) Terminal() bool     { return j.p.Terminal() }

// ProposalKind selects which table Decide resolves proposal_id against.
type ProposalKind string

const (
	KindContract ProposalKind = "contract"
	KindJournal  ProposalKind = "journal"
)

// Request is a maker-checker approval request (spec.md §4.6).
type Request struct {
	ProposalKind   ProposalKind
	ProposalID     string
	ApproverID     string
	Decision       store.ApprovalDecisionKind
	EvidenceAck    bool
	IdempotencyKey string
	ActorUserID    string
}

// Engine runs Decide against a Store, enforcing spec.md §4.6's validation
// order and concurrency guarantees. Every call — whatever the outcome —
// emits one audit-log entry.
type Engine struct {
	store store.Store
}

func New(st store.Store) *Engine {
	return &Engine{store: st}
}

// Decide applies its checks in this order (first failure wins):
//  1. evidence_ack required when decision=approve -> 400 (KindValidation)
//  2. idempotency_key replay returns the prior decision, no side effect
//  3. approver_id must differ from the proposal's creator -> 409 (KindConflict)
//  4. proposal must not already be terminal -> 409 (KindConflict)
//  5. otherwise insert the decision and transition the proposal, same tx
func (e *Engine) Decide(ctx context.Context, req Request) (*store.ApprovalDecision, error) {
	decision, err := e.decide(ctx, req)
	e.audit(ctx, req, decision, err)
	metrics.ApprovalDecisionsTotal.WithLabelValues(string(req.Decision), rejectedReason(err)).Inc()
	return decision, err
}

// rejectedReason labels the ApprovalDecisionsTotal metric with the
// apperr.Kind of a failed decision, empty when it succeeded.
func rejectedReason(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := apperr.As(err); ok {
		return string(appErr.Kind)
	}
	return "unknown"
}

func (e *Engine) decide(ctx context.Context, req Request) (*store.ApprovalDecision, error) {
	if req.Decision == store.DecisionApprove && !req.EvidenceAck {
		return nil, apperr.Validation("evidence_ack is required to approve proposal %s", req.ProposalID)
	}

	// Replay check runs before the maker/terminal checks below on purpose:
	// a proposal can go terminal between an approver's first and retried
	// request, and a replay must still 200 with the original decision
	// rather than 409 against the now-terminal status.
	if req.IdempotencyKey != "" {
		prior, err := e.store.FindApprovalByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return prior, nil
		}
	}

	var decided *store.ApprovalDecision

	switch req.ProposalKind {
	case KindContract:
		err := e.store.WithContractProposalLock(ctx, req.ProposalID, func(p *store.ContractProposal) (*store.ApprovalDecision, store.ContractProposalStatus, error) {
			d, terminal, err := e.validateAndBuild(contractApprovable{p}, req)
			if err != nil {
				return nil, "", err
			}
			decided = d
			return d, store.ContractProposalStatus(terminal), nil
		})
		if err != nil {
			return nil, err
		}
	case KindJournal:
		err := e.store.WithJournalProposalLock(ctx, req.ProposalID, func(p *store.JournalProposal) (*store.ApprovalDecision, store.ProposalStatus, error) {
			d, terminal, err := e.validateAndBuild(journalApprovable{p}, req)
			if err != nil {
				return nil, "", err
			}
			decided = d
			return d, store.ProposalStatus(terminal), nil
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, apperr.Validation("unknown proposal kind %q", req.ProposalKind)
	}

	return decided, nil
}

// terminalStatus is a neutral approved/rejected label; the caller casts it
// into whichever concrete status enum its proposal kind uses.
type terminalStatus string

const (
	statusApproved terminalStatus = "approved"
	statusRejected terminalStatus = "rejected"
)

// validateAndBuild runs rules 2-3 and, if they pass, builds the decision
// row plus the terminal status to persist. It does not itself insert
// anything — callers hold the proposal lock and must persist both the
// decision and the transition atomically.
func (e *Engine) validateAndBuild(p Approvable, req Request) (*store.ApprovalDecision, terminalStatus, error) {
	if req.ApproverID == p.CreatedBy() {
		return nil, "", apperr.Conflict("approver %s cannot review their own proposal %s", req.ApproverID, p.ProposalID())
	}
	if p.Terminal() {
		return nil, "", apperr.Conflict("proposal %s is already terminal", p.ProposalID())
	}

	decision := &store.ApprovalDecision{
		ID:             uuid.NewString(),
		ProposalID:     p.ProposalID(),
		ApproverID:     req.ApproverID,
		Decision:       req.Decision,
		EvidenceAck:    req.EvidenceAck,
		DecidedAt:      time.Now(),
		IdempotencyKey: req.IdempotencyKey,
		ActorUserID:    req.ActorUserID,
	}

	terminal := statusRejected
	if req.Decision == store.DecisionApprove {
		terminal = statusApproved
	}
	return decision, terminal, nil
}

func (e *Engine) audit(ctx context.Context, req Request, decision *store.ApprovalDecision, err error) {
	actor := req.ActorUserID
	if actor == "" {
		actor = req.ApproverID
	}
	payload := store.JSONMap{
		"proposal_kind": string(req.ProposalKind),
		"decision":      string(req.Decision),
		"evidence_ack":  req.EvidenceAck,
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	_ = e.store.AppendAudit(ctx, &store.AuditLog{
		ID:          uuid.NewString(),
		Actor:       actor,
		Action:      "approval.decide",
		SubjectType: string(req.ProposalKind) + "_proposal",
		SubjectID:   req.ProposalID,
		Payload:     payload,
		TS:          time.Now(),
	})
}
