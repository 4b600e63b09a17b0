package store

import "context"

// Filter is an equality or range constraint used by List queries. Op is
// one of "=", ">", ">=", "<", "<=".
type Filter struct {
	Field string
	Op    string
	Value any
}

// ListOptions bounds and orders a List call.
type ListOptions struct {
	Filters []Filter
	OrderBy string // column name; empty means store default (usually created_at desc)
	Limit   int
	Offset  int
}

// Store is the abstract session every workflow and API handler talks to.
// It intentionally exposes no mutation path for the audit log beyond
// AppendAudit — see spec.md §4.2.
type Store interface {
	// Runs
	InsertRun(ctx context.Context, run *Run) error
	// FindRunByIdempotencyKey returns (nil, nil) when absent.
	FindRunByIdempotencyKey(ctx context.Context, key string) (*Run, error)
	GetRun(ctx context.Context, id string) (*Run, error)
	// UpdateRun persists mutable run fields (status, cursors, stats, timestamps).
	UpdateRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, opts ListOptions) ([]*Run, error)

	// Voucher mirrors
	// InsertVoucherIfAbsent inserts by the (voucher_no, source) dedup key
	// from spec.md §3; returns inserted=false when a row already exists.
	InsertVoucherIfAbsent(ctx context.Context, v *Voucher) (inserted bool, err error)
	GetVoucher(ctx context.Context, id string) (*Voucher, error)
	ListVouchers(ctx context.Context, opts ListOptions) ([]*Voucher, error)
	UpdateVoucherClassification(ctx context.Context, voucherID, tag string) error

	// Bank transaction mirrors
	InsertBankTransactionIfAbsent(ctx context.Context, t *BankTransaction) (inserted bool, err error)
	ListBankTransactions(ctx context.Context, opts ListOptions) ([]*BankTransaction, error)
	UpdateBankTransactionMatch(ctx context.Context, id string, status MatchStatus, matchedVoucherID *string) error

	// Journal proposals
	InsertJournalProposal(ctx context.Context, p *JournalProposal, lines []*JournalLine) error
	GetJournalProposal(ctx context.Context, id string) (*JournalProposal, []*JournalLine, error)
	ListJournalProposals(ctx context.Context, opts ListOptions) ([]*JournalProposal, error)
	DecideJournalProposal(ctx context.Context, id string, status ProposalStatus, reviewedBy string) error
	// WithJournalProposalLock runs fn with the proposal row locked for
	// update inside a transaction. fn returns the approval decision to
	// insert (nil to insert nothing) and the new status to persist (empty
	// to leave it unchanged); both happen in the same transaction as the
	// lock, so the decision row and the terminal transition commit
	// together (spec.md §4.6 rule 5). Mirrors WithContractProposalLock for
	// the journal-proposal maker-checker path (SPEC_FULL.md §3: both
	// proposal kinds flow through the same approval engine).
	WithJournalProposalLock(ctx context.Context, id string, fn func(p *JournalProposal) (*ApprovalDecision, ProposalStatus, error)) error

	// Contract proposals (maker-checker)
	InsertContractProposalIfAbsent(ctx context.Context, p *ContractProposal) (inserted bool, err error)
	GetContractProposal(ctx context.Context, id string) (*ContractProposal, error)
	ListContractProposals(ctx context.Context, opts ListOptions) ([]*ContractProposal, error)
	// WithContractProposalLock runs fn with the proposal row locked for
	// update inside a transaction. fn returns the approval decision to
	// insert (nil to insert nothing) and the new status to persist (empty
	// to leave it unchanged); both happen in the same transaction as the
	// lock. Used by the approval engine to serialize concurrent approvers
	// (spec.md §4.6, §5).
	WithContractProposalLock(ctx context.Context, id string, fn func(p *ContractProposal) (*ApprovalDecision, ContractProposalStatus, error)) error

	// Approval decisions
	// FindApprovalByIdempotencyKey returns (nil, nil) when absent.
	FindApprovalByIdempotencyKey(ctx context.Context, key string) (*ApprovalDecision, error)
	InsertApprovalDecision(ctx context.Context, d *ApprovalDecision) error

	// Validation issues & soft-check results
	InsertSoftCheckResult(ctx context.Context, r *SoftCheckResult) error
	InsertValidationIssues(ctx context.Context, issues []*ValidationIssue) error
	ListValidationIssues(ctx context.Context, opts ListOptions) ([]*ValidationIssue, error)

	// Report snapshots, versioned
	// InsertReportSnapshotAtomic assigns MAX(version)+1 for (ReportType,
	// Period) and inserts the row in the same transaction, and is
	// idempotent per (RunID, ReportType): a retried compute node for the
	// same run returns the snapshot it already wrote instead of
	// allocating a second version (spec.md §4.2, §4.3).
	InsertReportSnapshotAtomic(ctx context.Context, s *ReportSnapshot) (*ReportSnapshot, error)
	ListReportSnapshots(ctx context.Context, opts ListOptions) ([]*ReportSnapshot, error)

	// Cashflow forecast
	ReplaceCashflowForecast(ctx context.Context, runID string, rows []*CashflowForecastRow) error
	ListCashflowForecast(ctx context.Context, opts ListOptions) ([]*CashflowForecastRow, error)

	// Audit log — append only, no update/delete methods exist on this
	// interface by design.
	AppendAudit(ctx context.Context, entry *AuditLog) error
	ListAudit(ctx context.Context, opts ListOptions) ([]*AuditLog, error)

	// Tier-B feedback
	InsertTierBFeedback(ctx context.Context, f *TierBFeedback) error

	// Count is the aggregate count primitive used by soft-check scoring
	// and listing endpoints' pagination metadata.
	Count(ctx context.Context, table string, filters []Filter) (int, error)

	Ping(ctx context.Context) error
	Close() error
}
