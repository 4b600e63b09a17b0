// Package store defines the artifact & audit data model (spec.md §3) and
// an abstract Store interface over it, with a Postgres implementation
// (lib/pq) and an alternate Supabase REST implementation.
package store

import "time"

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSuccess   RunStatus = "success"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// TriggerType is how a Run was created.
type TriggerType string

const (
	TriggerManual   TriggerType = "manual"
	TriggerSchedule TriggerType = "schedule"
	TriggerEvent    TriggerType = "event"
)

// Run is the durable unit of work dispatched to a workflow.
type Run struct {
	ID             string
	RunType        string
	TriggerType    TriggerType
	Status         RunStatus
	IdempotencyKey string
	CursorIn       JSONMap
	CursorOut      JSONMap
	Stats          JSONMap
	StartedAt      *time.Time
	FinishedAt     *time.Time
	CreatedAt      time.Time
}

// VoucherSource is the closed enum of where a voucher mirror originated —
// an explicit Go type rather than an inferred string, per SPEC_FULL.md §9
// (Open Question resolution): the ingest workflow always sets this from
// its own call site, never by sniffing the stored value back.
type VoucherSource string

const (
	VoucherSourceERPX           VoucherSource = "erpx"
	VoucherSourceOCRUpload      VoucherSource = "ocr_upload"
	VoucherSourcePayload        VoucherSource = "payload"
	VoucherSourceBuiltinFixture VoucherSource = "builtin_fixture"
)

// VoucherType enumerates the ERP voucher kinds used by classification and
// the journal rule table.
type VoucherType string

const (
	VoucherSellInvoice VoucherType = "sell_invoice"
	VoucherBuyInvoice  VoucherType = "buy_invoice"
	VoucherReceipt     VoucherType = "receipt"
	VoucherPayment     VoucherType = "payment"
	VoucherOther       VoucherType = "other"
)

// Voucher is the local mirror of an ERP voucher, enriched with
// classification fields the ERP does not carry.
type Voucher struct {
	ID                string
	ERPVoucherID      string
	VoucherNo         string
	VoucherType       VoucherType
	Date              string // YYYY-MM-DD
	Amount            float64
	Currency          string
	PartnerName       string
	PartnerTaxCode    string
	HasAttachment     bool
	Source            VoucherSource
	TypeHint          string
	RawPayload        JSONMap
	ClassificationTag string
	RunID             string
	SyncedAt          time.Time
}

// MatchStatus is the bank-transaction reconciliation outcome.
type MatchStatus string

const (
	MatchUnmatched MatchStatus = "unmatched"
	MatchMatched   MatchStatus = "matched"
	MatchAnomaly   MatchStatus = "anomaly"
)

// BankTransaction is the local mirror of an ERP bank transaction.
type BankTransaction struct {
	ID                string
	BankTxRef         string
	BankAccount       string
	Date              string
	Amount            float64
	Currency          string
	Counterparty      string
	Memo              string
	MatchedVoucherID  *string
	MatchStatus       MatchStatus
	SyncedAt          time.Time
	RunID             string
}

// ProposalStatus is the journal-proposal review lifecycle.
type ProposalStatus string

const (
	JournalProposalPending  ProposalStatus = "pending"
	JournalProposalApproved ProposalStatus = "approved"
	JournalProposalRejected ProposalStatus = "rejected"
)

// JournalProposal is an AI-suggested journal entry awaiting review.
type JournalProposal struct {
	ID          string
	VoucherID   string
	Description string
	Confidence  float64
	Reasoning   string
	Status      ProposalStatus
	// CreatedBy is always a workflow identity (e.g. "system:journal_suggestion")
	// since these are machine-generated; never a human approver_id, so the
	// maker-checker self-approval rule never actually fires for this kind.
	CreatedBy  string
	ReviewedBy string
	ReviewedAt *time.Time
	CreatedAt  time.Time
	RunID      string
}

func (p *JournalProposal) Terminal() bool {
	return p.Status == JournalProposalApproved || p.Status == JournalProposalRejected
}

// JournalLine is one debit/credit leg of a JournalProposal.
type JournalLine struct {
	ID          string
	ProposalID  string
	AccountCode string
	AccountName string
	Debit       float64
	Credit      float64
}

// RiskLevel grades Contract Proposal severity.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ContractProposalStatus is the maker-checker lifecycle for contract
// proposals (spec.md §4.6): draft -> under_review -> {approved, rejected}.
type ContractProposalStatus string

const (
	ContractDraft       ContractProposalStatus = "draft"
	ContractUnderReview ContractProposalStatus = "under_review"
	ContractApproved    ContractProposalStatus = "approved"
	ContractRejected    ContractProposalStatus = "rejected"
)

func (s ContractProposalStatus) Terminal() bool {
	return s == ContractApproved || s == ContractRejected
}

// ContractProposal is a proposed obligation/case action subject to
// maker-checker review.
type ContractProposal struct {
	ID                  string
	CaseID              string
	ObligationID        *string
	ProposalType        string
	Title               string
	Summary             string
	Details             JSONMap
	RiskLevel           RiskLevel
	Confidence          float64
	Status              ContractProposalStatus
	CreatedBy           string
	Tier                int
	EvidenceSummaryHash string
	ProposalKey         string
	RunID               string
	CreatedAt           time.Time
}

// ApprovalDecisionKind is approve or reject.
type ApprovalDecisionKind string

const (
	DecisionApprove ApprovalDecisionKind = "approve"
	DecisionReject  ApprovalDecisionKind = "reject"
)

// ApprovalDecision records one maker-checker review outcome, keyed for
// idempotent replay by IdempotencyKey (spec.md §4.6 rule 4).
type ApprovalDecision struct {
	ID             string
	ProposalID     string
	ApproverID     string
	Decision       ApprovalDecisionKind
	EvidenceAck    bool
	DecidedAt      time.Time
	IdempotencyKey string
	ActorUserID    string
}

// IssueSeverity grades a validation issue.
type IssueSeverity string

const (
	SeverityInfo     IssueSeverity = "info"
	SeverityWarning  IssueSeverity = "warning"
	SeverityError    IssueSeverity = "error"
	SeverityCritical IssueSeverity = "critical"
)

// IssueResolution is the lifecycle of a validation issue; only the
// resolution fields are ever mutated (spec.md §3: "append-only except for
// resolution fields").
type IssueResolution string

const (
	ResolutionOpen     IssueResolution = "open"
	ResolutionResolved IssueResolution = "resolved"
	ResolutionIgnored  IssueResolution = "ignored"
)

// ValidationIssue is one soft-check rule violation.
type ValidationIssue struct {
	ID            string
	RuleCode      string
	Severity      IssueSeverity
	Message       string
	ERPRef        string
	Details       JSONMap
	Resolution    IssueResolution
	ResolvedBy    string
	ResolvedAt    *time.Time
	CheckResultID *string
	CreatedAt     time.Time
	RunID         string
}

// SoftCheckResult summarizes one soft-check run over a period.
type SoftCheckResult struct {
	ID          string
	Period      string // YYYY-MM
	TotalChecks int
	Passed      int
	Warnings    int
	Errors      int
	Score       float64
	RunID       string
	CreatedAt   time.Time
}

// ReportType enumerates the versioned snapshot kinds.
type ReportType string

const (
	ReportVATList      ReportType = "vat_list"
	ReportTrialBalance ReportType = "trial_balance"
	ReportVASAuditPack ReportType = "vas_audit_pack"
)

// ReportSnapshot is an immutable, versioned report artifact.
type ReportSnapshot struct {
	ID         string
	ReportType ReportType
	Period     string
	Version    int
	FileURI    string
	SummaryJSON JSONMap
	RunID      string
	CreatedAt  time.Time
}

// CashflowDirection is inflow or outflow.
type CashflowDirection string

const (
	CashflowInflow  CashflowDirection = "inflow"
	CashflowOutflow CashflowDirection = "outflow"
)

// CashflowSourceType is the origin of a projected cashflow row.
type CashflowSourceType string

const (
	CashflowSourceReceivable CashflowSourceType = "invoice_receivable"
	CashflowSourcePayable    CashflowSourceType = "invoice_payable"
	CashflowSourceRecurring  CashflowSourceType = "recurring"
	CashflowSourceManual     CashflowSourceType = "manual"
)

// CashflowForecastRow is one projected cash movement.
type CashflowForecastRow struct {
	ID           string
	ForecastDate string
	Direction    CashflowDirection
	Amount       float64
	Currency     string
	SourceType   CashflowSourceType
	SourceRef    string
	Confidence   float64
	RunID        string
	CreatedAt    time.Time
}

// AuditLog is an append-only record of every state-changing action. The
// store MUST reject UPDATE/DELETE against it (spec.md §4.2, §6).
type AuditLog struct {
	ID         string
	Actor      string
	Action     string
	SubjectType string
	SubjectID  string
	Payload    JSONMap
	TS         time.Time
}

// TierBFeedbackType enumerates reviewer feedback signals used to tune
// future proposal confidence.
type TierBFeedbackType string

const (
	FeedbackExplicitYes     TierBFeedbackType = "explicit_yes"
	FeedbackExplicitNo      TierBFeedbackType = "explicit_no"
	FeedbackImplicitAccept  TierBFeedbackType = "implicit_accept"
	FeedbackImplicitEdit    TierBFeedbackType = "implicit_edit"
	FeedbackImplicitReject  TierBFeedbackType = "implicit_reject"
)

// TierBFeedback is an append-only reviewer signal against an obligation.
type TierBFeedback struct {
	ID           string
	ObligationID string
	UserID       string
	FeedbackType TierBFeedbackType
	Delta        *float64
	CreatedAt    time.Time
}

// JSONMap is an opaque, tolerantly-deserialized record — the store never
// assumes a fixed schema for payloads originating outside this module
// (spec.md §9: "dynamic record maps ... represent as tagged records with
// tolerant deserialization").
type JSONMap map[string]any
