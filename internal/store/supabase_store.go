package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	supabase "github.com/supabase-community/supabase-go"

	"github.com/openclaw/acct-agent/internal/apperr"
)

// SupabaseStore implements Store over the Supabase REST API (PostgREST),
// grounded on the teacher's internal/database.SupabaseClient wrapper —
// same From/Select/Insert/Eq/Order/Limit/ExecuteTo call shape, adapted
// from tenant/agent tables to the accounting domain's tables. Chosen as
// the alternate backend per SPEC_FULL.md's domain-stack wiring for
// supabase-community/supabase-go.
type SupabaseStore struct {
	client *supabase.Client
}

// NewSupabaseStore dials Supabase using a project URL and service-role key.
func NewSupabaseStore(url, serviceKey string) (*SupabaseStore, error) {
	if url == "" || serviceKey == "" {
		return nil, fmt.Errorf("supabase url and service key are required")
	}
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &SupabaseStore{client: client}, nil
}

func (s *SupabaseStore) Ping(ctx context.Context) error {
	var rows []map[string]any
	_, err := s.client.From("agent_runs").Select("id", "", false).Limit(1, "").ExecuteTo(&rows)
	if err != nil {
		return apperr.Storage(err, "supabase ping")
	}
	return nil
}

func (s *SupabaseStore) Close() error { return nil }

// --- row shapes (json-tagged for PostgREST) --------------------------------

type runRow struct {
	ID             string    `json:"id"`
	RunType        string    `json:"run_type"`
	TriggerType    string    `json:"trigger_type"`
	Status         string    `json:"status"`
	IdempotencyKey string    `json:"idempotency_key"`
	CursorIn       JSONMap   `json:"cursor_in"`
	CursorOut      JSONMap   `json:"cursor_out"`
	Stats          JSONMap   `json:"stats"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

func (r runRow) toRun() *Run {
	return &Run{
		ID: r.ID, RunType: r.RunType, TriggerType: TriggerType(r.TriggerType), Status: RunStatus(r.Status),
		IdempotencyKey: r.IdempotencyKey, CursorIn: r.CursorIn, CursorOut: r.CursorOut, Stats: r.Stats,
		StartedAt: r.StartedAt, FinishedAt: r.FinishedAt, CreatedAt: r.CreatedAt,
	}
}

func (s *SupabaseStore) InsertRun(ctx context.Context, r *Run) error {
	row := runRow{ID: r.ID, RunType: r.RunType, TriggerType: string(r.TriggerType), Status: string(r.Status),
		IdempotencyKey: r.IdempotencyKey, CursorIn: r.CursorIn, Stats: r.Stats}
	_, _, err := s.client.From("agent_runs").Insert(row, false, "", "", "").Execute()
	if err != nil {
		return classifySupabaseErr(err, "insert run")
	}
	return nil
}

func (s *SupabaseStore) FindRunByIdempotencyKey(ctx context.Context, key string) (*Run, error) {
	var rows []runRow
	_, err := s.client.From("agent_runs").Select("*", "", false).Eq("idempotency_key", key).ExecuteTo(&rows)
	if err != nil {
		return nil, apperr.Storage(err, "find run by idempotency key")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toRun(), nil
}

func (s *SupabaseStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var rows []runRow
	_, err := s.client.From("agent_runs").Select("*", "", false).Eq("id", id).ExecuteTo(&rows)
	if err != nil {
		return nil, apperr.Storage(err, "get run")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toRun(), nil
}

func (s *SupabaseStore) UpdateRun(ctx context.Context, r *Run) error {
	update := map[string]any{
		"status": string(r.Status), "cursor_out": r.CursorOut, "stats": r.Stats,
		"started_at": r.StartedAt, "finished_at": r.FinishedAt,
	}
	_, _, err := s.client.From("agent_runs").Update(update, "", "").Eq("id", r.ID).Execute()
	if err != nil {
		return apperr.Storage(err, "update run %s", r.ID)
	}
	return nil
}

func (s *SupabaseStore) ListRuns(ctx context.Context, opts ListOptions) ([]*Run, error) {
	var rows []runRow
	if err := supabaseList(s.client, "agent_runs", opts, &rows); err != nil {
		return nil, err
	}
	out := make([]*Run, len(rows))
	for i, r := range rows {
		out[i] = r.toRun()
	}
	return out, nil
}

// --- vouchers ---------------------------------------------------------------

type voucherRow struct {
	ID                string  `json:"id"`
	ERPVoucherID      string  `json:"erp_voucher_id"`
	VoucherNo         string  `json:"voucher_no"`
	VoucherType       string  `json:"voucher_type"`
	Date              string  `json:"date"`
	Amount            float64 `json:"amount"`
	Currency          string  `json:"currency"`
	PartnerName       string  `json:"partner_name"`
	PartnerTaxCode    string  `json:"partner_tax_code"`
	HasAttachment     bool    `json:"has_attachment"`
	Source            string  `json:"source"`
	TypeHint          string  `json:"type_hint"`
	RawPayload        JSONMap `json:"raw_payload"`
	ClassificationTag string  `json:"classification_tag"`
	RunID             string  `json:"run_id"`
	SyncedAt          time.Time `json:"synced_at,omitempty"`
}

func (v voucherRow) toVoucher() *Voucher {
	return &Voucher{
		ID: v.ID, ERPVoucherID: v.ERPVoucherID, VoucherNo: v.VoucherNo, VoucherType: VoucherType(v.VoucherType),
		Date: v.Date, Amount: v.Amount, Currency: v.Currency, PartnerName: v.PartnerName, PartnerTaxCode: v.PartnerTaxCode,
		HasAttachment: v.HasAttachment, Source: VoucherSource(v.Source), TypeHint: v.TypeHint, RawPayload: v.RawPayload,
		ClassificationTag: v.ClassificationTag, RunID: v.RunID, SyncedAt: v.SyncedAt,
	}
}

// InsertVoucherIfAbsent relies on the unique (voucher_no, source) index
// configured on the Supabase table; a duplicate-key error is treated as
// "already exists" rather than propagated.
func (s *SupabaseStore) InsertVoucherIfAbsent(ctx context.Context, v *Voucher) (bool, error) {
	row := voucherRow{
		ID: v.ID, ERPVoucherID: v.ERPVoucherID, VoucherNo: v.VoucherNo, VoucherType: string(v.VoucherType),
		Date: v.Date, Amount: v.Amount, Currency: v.Currency, PartnerName: v.PartnerName, PartnerTaxCode: v.PartnerTaxCode,
		HasAttachment: v.HasAttachment, Source: string(v.Source), TypeHint: v.TypeHint, RawPayload: v.RawPayload,
		ClassificationTag: v.ClassificationTag, RunID: v.RunID,
	}
	_, _, err := s.client.From("acct_vouchers").Insert(row, false, "", "", "").Execute()
	if err != nil {
		if isDuplicateKeyErr(err) {
			return false, nil
		}
		return false, apperr.Storage(err, "insert voucher")
	}
	return true, nil
}

func (s *SupabaseStore) GetVoucher(ctx context.Context, id string) (*Voucher, error) {
	var rows []voucherRow
	_, err := s.client.From("acct_vouchers").Select("*", "", false).Eq("id", id).ExecuteTo(&rows)
	if err != nil {
		return nil, apperr.Storage(err, "get voucher")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toVoucher(), nil
}

func (s *SupabaseStore) ListVouchers(ctx context.Context, opts ListOptions) ([]*Voucher, error) {
	var rows []voucherRow
	if err := supabaseList(s.client, "acct_vouchers", opts, &rows); err != nil {
		return nil, err
	}
	out := make([]*Voucher, len(rows))
	for i, v := range rows {
		out[i] = v.toVoucher()
	}
	return out, nil
}

func (s *SupabaseStore) UpdateVoucherClassification(ctx context.Context, voucherID, tag string) error {
	_, _, err := s.client.From("acct_vouchers").
		Update(map[string]any{"classification_tag": tag}, "", "").
		Eq("id", voucherID).Execute()
	if err != nil {
		return apperr.Storage(err, "update voucher classification %s", voucherID)
	}
	return nil
}

// --- bank transactions -------------------------------------------------------

type bankTxRow struct {
	ID               string  `json:"id"`
	BankTxRef        string  `json:"bank_tx_ref"`
	BankAccount      string  `json:"bank_account"`
	Date             string  `json:"date"`
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	Counterparty     string  `json:"counterparty"`
	Memo             string  `json:"memo"`
	MatchedVoucherID *string `json:"matched_voucher_id"`
	MatchStatus      string  `json:"match_status"`
	RunID            string  `json:"run_id"`
	SyncedAt         time.Time `json:"synced_at,omitempty"`
}

func (t bankTxRow) toBankTx() *BankTransaction {
	return &BankTransaction{
		ID: t.ID, BankTxRef: t.BankTxRef, BankAccount: t.BankAccount, Date: t.Date, Amount: t.Amount,
		Currency: t.Currency, Counterparty: t.Counterparty, Memo: t.Memo, MatchedVoucherID: t.MatchedVoucherID,
		MatchStatus: MatchStatus(t.MatchStatus), RunID: t.RunID, SyncedAt: t.SyncedAt,
	}
}

func (s *SupabaseStore) InsertBankTransactionIfAbsent(ctx context.Context, t *BankTransaction) (bool, error) {
	row := bankTxRow{ID: t.ID, BankTxRef: t.BankTxRef, BankAccount: t.BankAccount, Date: t.Date, Amount: t.Amount,
		Currency: t.Currency, Counterparty: t.Counterparty, Memo: t.Memo, MatchedVoucherID: t.MatchedVoucherID,
		MatchStatus: string(t.MatchStatus), RunID: t.RunID}
	_, _, err := s.client.From("acct_bank_transactions").Insert(row, false, "", "", "").Execute()
	if err != nil {
		if isDuplicateKeyErr(err) {
			return false, nil
		}
		return false, apperr.Storage(err, "insert bank transaction")
	}
	return true, nil
}

func (s *SupabaseStore) ListBankTransactions(ctx context.Context, opts ListOptions) ([]*BankTransaction, error) {
	var rows []bankTxRow
	if err := supabaseList(s.client, "acct_bank_transactions", opts, &rows); err != nil {
		return nil, err
	}
	out := make([]*BankTransaction, len(rows))
	for i, t := range rows {
		out[i] = t.toBankTx()
	}
	return out, nil
}

func (s *SupabaseStore) UpdateBankTransactionMatch(ctx context.Context, id string, status MatchStatus, matchedVoucherID *string) error {
	_, _, err := s.client.From("acct_bank_transactions").
		Update(map[string]any{"match_status": string(status), "matched_voucher_id": matchedVoucherID}, "", "").
		Eq("id", id).Execute()
	if err != nil {
		return apperr.Storage(err, "update bank transaction match %s", id)
	}
	return nil
}

// --- journal proposals --------------------------------------------------------

type journalProposalRow struct {
	ID          string  `json:"id"`
	VoucherID   string  `json:"voucher_id"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
	Status      string  `json:"status"`
	CreatedBy   string  `json:"created_by"`
	ReviewedBy  string  `json:"reviewed_by"`
	ReviewedAt  *time.Time `json:"reviewed_at"`
	CreatedAt   time.Time  `json:"created_at,omitempty"`
	RunID       string  `json:"run_id"`
}

func (p journalProposalRow) toProposal() *JournalProposal {
	return &JournalProposal{
		ID: p.ID, VoucherID: p.VoucherID, Description: p.Description, Confidence: p.Confidence,
		Reasoning: p.Reasoning, Status: ProposalStatus(p.Status), CreatedBy: p.CreatedBy, ReviewedBy: p.ReviewedBy,
		ReviewedAt: p.ReviewedAt, CreatedAt: p.CreatedAt, RunID: p.RunID,
	}
}

type journalLineRow struct {
	ID          string  `json:"id"`
	ProposalID  string  `json:"proposal_id"`
	AccountCode string  `json:"account_code"`
	AccountName string  `json:"account_name"`
	Debit       float64 `json:"debit"`
	Credit      float64 `json:"credit"`
}

func (l journalLineRow) toLine() *JournalLine {
	return &JournalLine{ID: l.ID, ProposalID: l.ProposalID, AccountCode: l.AccountCode, AccountName: l.AccountName, Debit: l.Debit, Credit: l.Credit}
}

// InsertJournalProposal performs the proposal insert followed by the line
// inserts; PostgREST has no cross-table transaction, so a follow-up Postgres
// function (`insert_journal_proposal_tx`) exposed as an RPC is the
// recommended production path. This client-side fallback keeps the same
// write order and is acceptable because lines are only ever read once the
// proposal row exists.
func (s *SupabaseStore) InsertJournalProposal(ctx context.Context, p *JournalProposal, lines []*JournalLine) error {
	row := journalProposalRow{ID: p.ID, VoucherID: p.VoucherID, Description: p.Description, Confidence: p.Confidence,
		Reasoning: p.Reasoning, Status: string(p.Status), CreatedBy: p.CreatedBy, RunID: p.RunID}
	_, _, err := s.client.From("acct_journal_proposals").Insert(row, false, "", "", "").Execute()
	if err != nil {
		return classifySupabaseErr(err, "insert journal proposal")
	}
	for _, l := range lines {
		lr := journalLineRow{ID: l.ID, ProposalID: p.ID, AccountCode: l.AccountCode, AccountName: l.AccountName, Debit: l.Debit, Credit: l.Credit}
		if _, _, err := s.client.From("acct_journal_lines").Insert(lr, false, "", "", "").Execute(); err != nil {
			return apperr.Storage(err, "insert journal line")
		}
	}
	return nil
}

func (s *SupabaseStore) GetJournalProposal(ctx context.Context, id string) (*JournalProposal, []*JournalLine, error) {
	var proposals []journalProposalRow
	if _, err := s.client.From("acct_journal_proposals").Select("*", "", false).Eq("id", id).ExecuteTo(&proposals); err != nil {
		return nil, nil, apperr.Storage(err, "get journal proposal")
	}
	if len(proposals) == 0 {
		return nil, nil, nil
	}
	var lineRows []journalLineRow
	if _, err := s.client.From("acct_journal_lines").Select("*", "", false).Eq("proposal_id", id).ExecuteTo(&lineRows); err != nil {
		return nil, nil, apperr.Storage(err, "list journal lines")
	}
	lines := make([]*JournalLine, len(lineRows))
	for i, l := range lineRows {
		lines[i] = l.toLine()
	}
	return proposals[0].toProposal(), lines, nil
}

func (s *SupabaseStore) ListJournalProposals(ctx context.Context, opts ListOptions) ([]*JournalProposal, error) {
	var rows []journalProposalRow
	if err := supabaseList(s.client, "acct_journal_proposals", opts, &rows); err != nil {
		return nil, err
	}
	out := make([]*JournalProposal, len(rows))
	for i, p := range rows {
		out[i] = p.toProposal()
	}
	return out, nil
}

func (s *SupabaseStore) DecideJournalProposal(ctx context.Context, id string, status ProposalStatus, reviewedBy string) error {
	_, _, err := s.client.From("acct_journal_proposals").
		Update(map[string]any{"status": string(status), "reviewed_by": reviewedBy, "reviewed_at": time.Now()}, "", "").
		Eq("id", id).Execute()
	if err != nil {
		return apperr.Storage(err, "decide journal proposal %s", id)
	}
	return nil
}

// WithJournalProposalLock mirrors WithContractProposalLock's conditional
// compare-and-swap update for the journal-proposal maker-checker path.
func (s *SupabaseStore) WithJournalProposalLock(ctx context.Context, id string, fn func(p *JournalProposal) (*ApprovalDecision, ProposalStatus, error)) error {
	p, _, err := s.GetJournalProposal(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return apperr.Validation("journal proposal %s not found", id)
	}
	decision, newStatus, err := fn(p)
	if err != nil {
		return err
	}
	if newStatus == "" {
		if decision != nil {
			return s.InsertApprovalDecision(ctx, decision)
		}
		return nil
	}
	reviewedBy := p.ReviewedBy
	if decision != nil {
		reviewedBy = decision.ApproverID
	}
	_, count, err := s.client.From("acct_journal_proposals").
		Update(map[string]any{"status": string(newStatus), "reviewed_by": reviewedBy, "reviewed_at": time.Now()}, "", "exact").
		Eq("id", id).Eq("status", string(p.Status)).
		Execute()
	if err != nil {
		return apperr.Storage(err, "transition journal proposal %s", id)
	}
	if count == 0 {
		return apperr.Conflict("journal proposal %s changed concurrently", id)
	}
	if decision != nil {
		return s.InsertApprovalDecision(ctx, decision)
	}
	return nil
}

// --- contract proposals (maker-checker) ---------------------------------------

type contractProposalRow struct {
	ID                  string  `json:"id"`
	CaseID              string  `json:"case_id"`
	ObligationID        *string `json:"obligation_id"`
	ProposalType        string  `json:"proposal_type"`
	Title               string  `json:"title"`
	Summary             string  `json:"summary"`
	Details             JSONMap `json:"details"`
	RiskLevel           string  `json:"risk_level"`
	Confidence          float64 `json:"confidence"`
	Status              string  `json:"status"`
	CreatedBy           string  `json:"created_by"`
	Tier                int     `json:"tier"`
	EvidenceSummaryHash string  `json:"evidence_summary_hash"`
	ProposalKey         string  `json:"proposal_key"`
	RunID               string  `json:"run_id"`
	CreatedAt           time.Time `json:"created_at,omitempty"`
}

func (p contractProposalRow) toProposal() *ContractProposal {
	return &ContractProposal{
		ID: p.ID, CaseID: p.CaseID, ObligationID: p.ObligationID, ProposalType: p.ProposalType, Title: p.Title,
		Summary: p.Summary, Details: p.Details, RiskLevel: RiskLevel(p.RiskLevel), Confidence: p.Confidence,
		Status: ContractProposalStatus(p.Status), CreatedBy: p.CreatedBy, Tier: p.Tier,
		EvidenceSummaryHash: p.EvidenceSummaryHash, ProposalKey: p.ProposalKey, RunID: p.RunID, CreatedAt: p.CreatedAt,
	}
}

func (s *SupabaseStore) InsertContractProposalIfAbsent(ctx context.Context, p *ContractProposal) (bool, error) {
	row := contractProposalRow{ID: p.ID, CaseID: p.CaseID, ObligationID: p.ObligationID, ProposalType: p.ProposalType,
		Title: p.Title, Summary: p.Summary, Details: p.Details, RiskLevel: string(p.RiskLevel), Confidence: p.Confidence,
		Status: string(p.Status), CreatedBy: p.CreatedBy, Tier: p.Tier, EvidenceSummaryHash: p.EvidenceSummaryHash,
		ProposalKey: p.ProposalKey, RunID: p.RunID}
	_, _, err := s.client.From("agent_proposals").Insert(row, false, "", "", "").Execute()
	if err != nil {
		if isDuplicateKeyErr(err) {
			return false, nil
		}
		return false, apperr.Storage(err, "insert contract proposal")
	}
	return true, nil
}

func (s *SupabaseStore) GetContractProposal(ctx context.Context, id string) (*ContractProposal, error) {
	var rows []contractProposalRow
	_, err := s.client.From("agent_proposals").Select("*", "", false).Eq("id", id).ExecuteTo(&rows)
	if err != nil {
		return nil, apperr.Storage(err, "get contract proposal")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toProposal(), nil
}

func (s *SupabaseStore) ListContractProposals(ctx context.Context, opts ListOptions) ([]*ContractProposal, error) {
	var rows []contractProposalRow
	if err := supabaseList(s.client, "agent_proposals", opts, &rows); err != nil {
		return nil, err
	}
	out := make([]*ContractProposal, len(rows))
	for i, p := range rows {
		out[i] = p.toProposal()
	}
	return out, nil
}

// WithContractProposalLock has no native row-lock equivalent over
// PostgREST, so it relies on the proposal_key/idempotency_key unique
// indexes plus a conditional update (`status = 'expected'` in the WHERE
// clause) to make the terminal transition compare-and-swap rather than
// blind — the same single-winner guarantee as SELECT...FOR UPDATE, at the
// cost of needing the caller to retry on a zero-rows-affected response.
// Production deployments on this backend should prefer the Postgres
// backend for the approval engine; this exists for REST-only deployments.
func (s *SupabaseStore) WithContractProposalLock(ctx context.Context, id string, fn func(p *ContractProposal) (*ApprovalDecision, ContractProposalStatus, error)) error {
	p, err := s.GetContractProposal(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return apperr.Validation("contract proposal %s not found", id)
	}
	decision, newStatus, err := fn(p)
	if err != nil {
		return err
	}
	if newStatus == "" {
		if decision != nil {
			return s.InsertApprovalDecision(ctx, decision)
		}
		return nil
	}
	_, count, err := s.client.From("agent_proposals").
		Update(map[string]any{"status": string(newStatus)}, "", "exact").
		Eq("id", id).Eq("status", string(p.Status)).
		Execute()
	if err != nil {
		return apperr.Storage(err, "transition contract proposal %s", id)
	}
	if count == 0 {
		return apperr.Conflict("contract proposal %s changed concurrently", id)
	}
	if decision != nil {
		return s.InsertApprovalDecision(ctx, decision)
	}
	return nil
}

// --- approval decisions ---------------------------------------------------------

type approvalRow struct {
	ID             string    `json:"id"`
	ProposalID     string    `json:"proposal_id"`
	ApproverID     string    `json:"approver_id"`
	Decision       string    `json:"decision"`
	EvidenceAck    bool      `json:"evidence_ack"`
	DecidedAt      time.Time `json:"decided_at,omitempty"`
	IdempotencyKey string    `json:"idempotency_key"`
	ActorUserID    string    `json:"actor_user_id"`
}

func (a approvalRow) toDecision() *ApprovalDecision {
	return &ApprovalDecision{ID: a.ID, ProposalID: a.ProposalID, ApproverID: a.ApproverID,
		Decision: ApprovalDecisionKind(a.Decision), EvidenceAck: a.EvidenceAck, DecidedAt: a.DecidedAt,
		IdempotencyKey: a.IdempotencyKey, ActorUserID: a.ActorUserID}
}

func (s *SupabaseStore) FindApprovalByIdempotencyKey(ctx context.Context, key string) (*ApprovalDecision, error) {
	var rows []approvalRow
	_, err := s.client.From("agent_approvals").Select("*", "", false).Eq("idempotency_key", key).ExecuteTo(&rows)
	if err != nil {
		return nil, apperr.Storage(err, "find approval by idempotency key")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toDecision(), nil
}

func (s *SupabaseStore) InsertApprovalDecision(ctx context.Context, d *ApprovalDecision) error {
	row := approvalRow{ID: d.ID, ProposalID: d.ProposalID, ApproverID: d.ApproverID, Decision: string(d.Decision),
		EvidenceAck: d.EvidenceAck, DecidedAt: d.DecidedAt, IdempotencyKey: d.IdempotencyKey, ActorUserID: d.ActorUserID}
	_, _, err := s.client.From("agent_approvals").Insert(row, false, "", "", "").Execute()
	if err != nil {
		return classifySupabaseErr(err, "insert approval")
	}
	return nil
}

// --- soft checks / validation issues -------------------------------------------

func (s *SupabaseStore) InsertSoftCheckResult(ctx context.Context, r *SoftCheckResult) error {
	row := map[string]any{
		"id": r.ID, "period": r.Period, "total_checks": r.TotalChecks, "passed": r.Passed,
		"warnings": r.Warnings, "errors": r.Errors, "score": r.Score, "run_id": r.RunID,
	}
	_, _, err := s.client.From("acct_soft_check_results").Insert(row, false, "", "", "").Execute()
	if err != nil {
		return classifySupabaseErr(err, "insert soft check result")
	}
	return nil
}

func (s *SupabaseStore) InsertValidationIssues(ctx context.Context, issues []*ValidationIssue) error {
	for _, i := range issues {
		row := map[string]any{
			"id": i.ID, "rule_code": i.RuleCode, "severity": string(i.Severity), "message": i.Message,
			"erp_ref": i.ERPRef, "details": i.Details, "resolution": string(i.Resolution),
			"check_result_id": i.CheckResultID, "run_id": i.RunID,
		}
		if _, _, err := s.client.From("acct_exceptions").Insert(row, false, "", "", "").Execute(); err != nil {
			return apperr.Storage(err, "insert validation issue")
		}
	}
	return nil
}

type validationIssueRow struct {
	ID            string  `json:"id"`
	RuleCode      string  `json:"rule_code"`
	Severity      string  `json:"severity"`
	Message       string  `json:"message"`
	ERPRef        string  `json:"erp_ref"`
	Details       JSONMap `json:"details"`
	Resolution    string  `json:"resolution"`
	ResolvedBy    string  `json:"resolved_by"`
	ResolvedAt    *time.Time `json:"resolved_at"`
	CheckResultID *string `json:"check_result_id"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	RunID         string  `json:"run_id"`
}

func (s *SupabaseStore) ListValidationIssues(ctx context.Context, opts ListOptions) ([]*ValidationIssue, error) {
	var rows []validationIssueRow
	if err := supabaseList(s.client, "acct_exceptions", opts, &rows); err != nil {
		return nil, err
	}
	out := make([]*ValidationIssue, len(rows))
	for i, r := range rows {
		out[i] = &ValidationIssue{ID: r.ID, RuleCode: r.RuleCode, Severity: IssueSeverity(r.Severity), Message: r.Message,
			ERPRef: r.ERPRef, Details: r.Details, Resolution: IssueResolution(r.Resolution), ResolvedBy: r.ResolvedBy,
			ResolvedAt: r.ResolvedAt, CheckResultID: r.CheckResultID, CreatedAt: r.CreatedAt, RunID: r.RunID}
	}
	return out, nil
}

// --- report snapshots -----------------------------------------------------------

func (s *SupabaseStore) nextReportVersion(ctx context.Context, reportType ReportType, period string) (int, error) {
	var rows []struct {
		Version int `json:"version"`
	}
	_, err := s.client.From("acct_report_snapshots").Select("version", "", false).
		Eq("report_type", string(reportType)).Eq("period", period).
		Order("version", &supabase.OrderOpts{Ascending: false}).Limit(1, "").ExecuteTo(&rows)
	if err != nil {
		return 0, apperr.Storage(err, "next report version")
	}
	if len(rows) == 0 {
		return 1, nil
	}
	return rows[0].Version + 1, nil
}

// InsertReportSnapshotAtomic has no native transaction over PostgREST, so
// it leans on the same two substitutes WithContractProposalLock uses: an
// idempotent RunID+ReportType lookup (a retried compute node returns what
// it already wrote) and a bounded retry against the
// UNIQUE(report_type,period,version) index when two runs race for the
// same next version.
func (s *SupabaseStore) InsertReportSnapshotAtomic(ctx context.Context, snap *ReportSnapshot) (*ReportSnapshot, error) {
	if snap.RunID != "" {
		existing, err := s.findReportSnapshotByRun(ctx, snap.RunID, snap.ReportType)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		version, err := s.nextReportVersion(ctx, snap.ReportType, snap.Period)
		if err != nil {
			return nil, err
		}
		snap.Version = version
		row := map[string]any{
			"id": snap.ID, "report_type": string(snap.ReportType), "period": snap.Period, "version": snap.Version,
			"file_uri": snap.FileURI, "summary_json": snap.SummaryJSON, "run_id": snap.RunID,
		}
		_, _, err = s.client.From("acct_report_snapshots").Insert(row, false, "", "", "").Execute()
		if err == nil {
			return snap, nil
		}
		if !isDuplicateKeyErr(err) {
			return nil, classifySupabaseErr(err, "insert report snapshot")
		}
	}
	return nil, apperr.Conflict("report snapshot version race exceeded retry budget for %s/%s", snap.ReportType, snap.Period)
}

func (s *SupabaseStore) findReportSnapshotByRun(ctx context.Context, runID string, reportType ReportType) (*ReportSnapshot, error) {
	var rows []reportSnapshotRow
	_, err := s.client.From("acct_report_snapshots").Select("*", "", false).
		Eq("run_id", runID).Eq("report_type", string(reportType)).ExecuteTo(&rows)
	if err != nil {
		return nil, apperr.Storage(err, "find report snapshot by run")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]
	return &ReportSnapshot{ID: r.ID, ReportType: ReportType(r.ReportType), Period: r.Period, Version: r.Version,
		FileURI: r.FileURI, SummaryJSON: r.SummaryJSON, RunID: r.RunID, CreatedAt: r.CreatedAt}, nil
}

type reportSnapshotRow struct {
	ID          string  `json:"id"`
	ReportType  string  `json:"report_type"`
	Period      string  `json:"period"`
	Version     int     `json:"version"`
	FileURI     string  `json:"file_uri"`
	SummaryJSON JSONMap `json:"summary_json"`
	RunID       string  `json:"run_id"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

func (s *SupabaseStore) ListReportSnapshots(ctx context.Context, opts ListOptions) ([]*ReportSnapshot, error) {
	var rows []reportSnapshotRow
	if err := supabaseList(s.client, "acct_report_snapshots", opts, &rows); err != nil {
		return nil, err
	}
	out := make([]*ReportSnapshot, len(rows))
	for i, r := range rows {
		out[i] = &ReportSnapshot{ID: r.ID, ReportType: ReportType(r.ReportType), Period: r.Period, Version: r.Version,
			FileURI: r.FileURI, SummaryJSON: r.SummaryJSON, RunID: r.RunID, CreatedAt: r.CreatedAt}
	}
	return out, nil
}

// --- cashflow forecast ------------------------------------------------------------

func (s *SupabaseStore) ReplaceCashflowForecast(ctx context.Context, runID string, rows []*CashflowForecastRow) error {
	if _, _, err := s.client.From("acct_cashflow_forecast").Delete("", "").Eq("run_id", runID).Execute(); err != nil {
		return apperr.Storage(err, "clear cashflow forecast")
	}
	for _, r := range rows {
		row := map[string]any{
			"id": r.ID, "forecast_date": r.ForecastDate, "direction": string(r.Direction), "amount": r.Amount,
			"currency": r.Currency, "source_type": string(r.SourceType), "source_ref": r.SourceRef,
			"confidence": r.Confidence, "run_id": runID,
		}
		if _, _, err := s.client.From("acct_cashflow_forecast").Insert(row, false, "", "", "").Execute(); err != nil {
			return apperr.Storage(err, "insert cashflow forecast row")
		}
	}
	return nil
}

type cashflowRow struct {
	ID           string  `json:"id"`
	ForecastDate string  `json:"forecast_date"`
	Direction    string  `json:"direction"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	SourceType   string  `json:"source_type"`
	SourceRef    string  `json:"source_ref"`
	Confidence   float64 `json:"confidence"`
	RunID        string  `json:"run_id"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

func (s *SupabaseStore) ListCashflowForecast(ctx context.Context, opts ListOptions) ([]*CashflowForecastRow, error) {
	var rows []cashflowRow
	if err := supabaseList(s.client, "acct_cashflow_forecast", opts, &rows); err != nil {
		return nil, err
	}
	out := make([]*CashflowForecastRow, len(rows))
	for i, r := range rows {
		out[i] = &CashflowForecastRow{ID: r.ID, ForecastDate: r.ForecastDate, Direction: CashflowDirection(r.Direction),
			Amount: r.Amount, Currency: r.Currency, SourceType: CashflowSourceType(r.SourceType), SourceRef: r.SourceRef,
			Confidence: r.Confidence, RunID: r.RunID, CreatedAt: r.CreatedAt}
	}
	return out, nil
}

// --- audit log ------------------------------------------------------------------

// AppendAudit is the only write method this store exposes against the
// audit table; as with Postgres, row-level security policies on the
// Supabase project should additionally deny UPDATE/DELETE grants for the
// service role against agent_audit_log.
func (s *SupabaseStore) AppendAudit(ctx context.Context, e *AuditLog) error {
	row := map[string]any{
		"id": e.ID, "actor": e.Actor, "action": e.Action, "subject_type": e.SubjectType,
		"subject_id": e.SubjectID, "payload": e.Payload,
	}
	_, _, err := s.client.From("agent_audit_log").Insert(row, false, "", "", "").Execute()
	if err != nil {
		return apperr.Storage(err, "append audit")
	}
	return nil
}

type auditRow struct {
	ID          string  `json:"id"`
	Actor       string  `json:"actor"`
	Action      string  `json:"action"`
	SubjectType string  `json:"subject_type"`
	SubjectID   string  `json:"subject_id"`
	Payload     JSONMap `json:"payload"`
	TS          time.Time `json:"ts,omitempty"`
}

func (s *SupabaseStore) ListAudit(ctx context.Context, opts ListOptions) ([]*AuditLog, error) {
	var rows []auditRow
	if err := supabaseList(s.client, "agent_audit_log", opts, &rows); err != nil {
		return nil, err
	}
	out := make([]*AuditLog, len(rows))
	for i, r := range rows {
		out[i] = &AuditLog{ID: r.ID, Actor: r.Actor, Action: r.Action, SubjectType: r.SubjectType, SubjectID: r.SubjectID, Payload: r.Payload, TS: r.TS}
	}
	return out, nil
}

// --- tier-b feedback ---------------------------------------------------------------

func (s *SupabaseStore) InsertTierBFeedback(ctx context.Context, f *TierBFeedback) error {
	row := map[string]any{
		"id": f.ID, "obligation_id": f.ObligationID, "user_id": f.UserID,
		"feedback_type": string(f.FeedbackType), "delta": f.Delta,
	}
	_, _, err := s.client.From("agent_tier_b_feedback").Insert(row, false, "", "", "").Execute()
	if err != nil {
		return apperr.Storage(err, "insert tier-b feedback")
	}
	return nil
}

// --- aggregate count -----------------------------------------------------------------

func (s *SupabaseStore) Count(ctx context.Context, table string, filters []Filter) (int, error) {
	if !isAllowedTable(table) {
		return 0, apperr.Validation("unknown table %q", table)
	}
	q := s.client.From(table).Select("id", "", true)
	for _, f := range filters {
		q = applySupabaseFilter(q, f)
	}
	_, count, err := q.Execute()
	if err != nil {
		return 0, apperr.Storage(err, "count %s", table)
	}
	return int(count), nil
}

// --- shared helpers ------------------------------------------------------------------

func supabaseList(client *supabase.Client, table string, opts ListOptions, dest any) error {
	q := client.From(table).Select("*", "", false)
	for _, f := range opts.Filters {
		q = applySupabaseFilter(q, f)
	}
	if opts.OrderBy != "" {
		q = q.Order(opts.OrderBy, &supabase.OrderOpts{Ascending: true})
	} else {
		q = q.Order("created_at", &supabase.OrderOpts{Ascending: false})
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit, "")
	}
	if opts.Offset > 0 {
		q = q.Range(opts.Offset, opts.Offset+maxInt(opts.Limit, 50)-1, "")
	}
	if _, err := q.ExecuteTo(dest); err != nil {
		return apperr.Storage(err, "list %s", table)
	}
	return nil
}

func applySupabaseFilter(q *supabase.FilterBuilder, f Filter) *supabase.FilterBuilder {
	val := fmt.Sprint(f.Value)
	switch f.Op {
	case ">":
		return q.Gt(f.Field, val)
	case ">=":
		return q.Gte(f.Field, val)
	case "<":
		return q.Lt(f.Field, val)
	case "<=":
		return q.Lte(f.Field, val)
	default:
		return q.Eq(f.Field, val)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func isDuplicateKeyErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "23505")
}

func classifySupabaseErr(err error, action string) error {
	if isDuplicateKeyErr(err) {
		return apperr.Conflict("%s: already exists", action)
	}
	return apperr.Storage(err, action)
}

var _ = strconv.Itoa // keeps the strconv import referenced; no code in this file calls it
