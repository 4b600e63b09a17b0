package store

import (
	"context"
	"sync"
	"time"

	"github.com/openclaw/acct-agent/internal/apperr"
)

// MemStore is an in-memory Store implementation used by workflow,
// dispatcher, and approval-engine tests — the package-level equivalent of
// the teacher's hand-rolled Mock* test doubles (e.g.
// internal/federation/handshake_test.go's MockTrustAttestationLedger).
// Outside tests it is also the "memory" database backend of cmd/api and
// cmd/worker.
type MemStore struct {
	mu sync.Mutex

	runs          map[string]*Run
	vouchers      map[string]*Voucher
	voucherByKey  map[string]string // (voucher_no, source) -> id
	bankTxs       map[string]*BankTransaction
	bankTxByRef   map[string]string
	proposals     map[string]*JournalProposal
	lines         map[string][]*JournalLine
	contracts     map[string]*ContractProposal
	approvals     map[string]*ApprovalDecision
	issues        []*ValidationIssue
	checkResults  []*SoftCheckResult
	snapshots     []*ReportSnapshot
	cashflow      map[string][]*CashflowForecastRow
	audit         []*AuditLog
	tierBFeedback []*TierBFeedback
}

func NewMemStore() *MemStore {
	return &MemStore{
		runs:         make(map[string]*Run),
		vouchers:     make(map[string]*Voucher),
		voucherByKey: make(map[string]string),
		bankTxs:      make(map[string]*BankTransaction),
		bankTxByRef:  make(map[string]string),
		proposals:    make(map[string]*JournalProposal),
		lines:        make(map[string][]*JournalLine),
		contracts:    make(map[string]*ContractProposal),
		approvals:    make(map[string]*ApprovalDecision),
		cashflow:     make(map[string][]*CashflowForecastRow),
	}
}

func (m *MemStore) InsertRun(ctx context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *MemStore) FindRunByIdempotencyKey(ctx context.Context, key string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.IdempotencyKey == key {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemStore) GetRun(ctx context.Context, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, apperr.Storage(nil, "run %s not found", id)
	}
	cp := *r
	return &cp, nil
}

func (m *MemStore) UpdateRun(ctx context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return apperr.Storage(nil, "run %s not found", run.ID)
	}
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *MemStore) ListRuns(ctx context.Context, opts ListOptions) ([]*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		cp := *r
		out = append(out, &cp)
	}
	return applyListOptions(out, opts), nil
}

func voucherKey(voucherNo string, source VoucherSource) string {
	return string(source) + "::" + voucherNo
}

func (m *MemStore) InsertVoucherIfAbsent(ctx context.Context, v *Voucher) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := voucherKey(v.VoucherNo, v.Source)
	if _, exists := m.voucherByKey[key]; exists {
		return false, nil
	}
	if v.SyncedAt.IsZero() {
		v.SyncedAt = time.Now()
	}
	cp := *v
	m.vouchers[v.ID] = &cp
	m.voucherByKey[key] = v.ID
	return true, nil
}

func (m *MemStore) GetVoucher(ctx context.Context, id string) (*Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[id]
	if !ok {
		return nil, apperr.Storage(nil, "voucher %s not found", id)
	}
	cp := *v
	return &cp, nil
}

func (m *MemStore) ListVouchers(ctx context.Context, opts ListOptions) ([]*Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Voucher, 0, len(m.vouchers))
	for _, v := range m.vouchers {
		cp := *v
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemStore) UpdateVoucherClassification(ctx context.Context, voucherID, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[voucherID]
	if !ok {
		return apperr.Storage(nil, "voucher %s not found", voucherID)
	}
	v.ClassificationTag = tag
	return nil
}

func (m *MemStore) InsertBankTransactionIfAbsent(ctx context.Context, t *BankTransaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bankTxByRef[t.BankTxRef]; exists {
		return false, nil
	}
	if t.SyncedAt.IsZero() {
		t.SyncedAt = time.Now()
	}
	cp := *t
	m.bankTxs[t.ID] = &cp
	m.bankTxByRef[t.BankTxRef] = t.ID
	return true, nil
}

func (m *MemStore) ListBankTransactions(ctx context.Context, opts ListOptions) ([]*BankTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*BankTransaction, 0, len(m.bankTxs))
	for _, t := range m.bankTxs {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemStore) UpdateBankTransactionMatch(ctx context.Context, id string, status MatchStatus, matchedVoucherID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.bankTxs[id]
	if !ok {
		return apperr.Storage(nil, "bank tx %s not found", id)
	}
	t.MatchStatus = status
	t.MatchedVoucherID = matchedVoucherID
	return nil
}

func (m *MemStore) InsertJournalProposal(ctx context.Context, p *JournalProposal, lines []*JournalLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	cp := *p
	m.proposals[p.ID] = &cp
	linesCp := make([]*JournalLine, len(lines))
	for i, l := range lines {
		lcp := *l
		lcp.ProposalID = p.ID
		linesCp[i] = &lcp
	}
	m.lines[p.ID] = linesCp
	return nil
}

func (m *MemStore) GetJournalProposal(ctx context.Context, id string) (*JournalProposal, []*JournalLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return nil, nil, apperr.Storage(nil, "journal proposal %s not found", id)
	}
	cp := *p
	return &cp, m.lines[id], nil
}

func (m *MemStore) ListJournalProposals(ctx context.Context, opts ListOptions) ([]*JournalProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*JournalProposal, 0, len(m.proposals))
	for _, p := range m.proposals {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemStore) DecideJournalProposal(ctx context.Context, id string, status ProposalStatus, reviewedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return apperr.Storage(nil, "journal proposal %s not found", id)
	}
	p.Status = status
	p.ReviewedBy = reviewedBy
	now := time.Now()
	p.ReviewedAt = &now
	return nil
}

// WithJournalProposalLock mirrors WithContractProposalLock's coarse
// single-mutex stand-in for a row lock.
func (m *MemStore) WithJournalProposalLock(ctx context.Context, id string, fn func(p *JournalProposal) (*ApprovalDecision, ProposalStatus, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return apperr.Storage(nil, "journal proposal %s not found", id)
	}
	cp := *p
	decision, newStatus, err := fn(&cp)
	if err != nil {
		return err
	}
	if decision != nil {
		if decision.DecidedAt.IsZero() {
			decision.DecidedAt = time.Now()
		}
		dcp := *decision
		m.approvals[decision.ID] = &dcp
	}
	cp.Status = p.Status
	if newStatus != "" {
		cp.Status = newStatus
		if decision != nil {
			cp.ReviewedBy = decision.ApproverID
		}
		now := time.Now()
		cp.ReviewedAt = &now
	}
	*p = cp
	return nil
}

func (m *MemStore) InsertContractProposalIfAbsent(ctx context.Context, p *ContractProposal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.contracts {
		if existing.ProposalKey == p.ProposalKey {
			return false, nil
		}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	cp := *p
	m.contracts[p.ID] = &cp
	return true, nil
}

func (m *MemStore) GetContractProposal(ctx context.Context, id string) (*ContractProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.contracts[id]
	if !ok {
		return nil, apperr.Storage(nil, "contract proposal %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (m *MemStore) ListContractProposals(ctx context.Context, opts ListOptions) ([]*ContractProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ContractProposal, 0, len(m.contracts))
	for _, p := range m.contracts {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

// WithContractProposalLock takes the single package-wide mutex for the
// duration of fn — a coarser stand-in for Postgres's row-level lock,
// sufficient for exercising the maker-checker engine's single-writer
// invariant in tests.
func (m *MemStore) WithContractProposalLock(ctx context.Context, id string, fn func(p *ContractProposal) (*ApprovalDecision, ContractProposalStatus, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.contracts[id]
	if !ok {
		return apperr.Storage(nil, "contract proposal %s not found", id)
	}
	cp := *p
	decision, newStatus, err := fn(&cp)
	if err != nil {
		return err
	}
	if decision != nil {
		if decision.DecidedAt.IsZero() {
			decision.DecidedAt = time.Now()
		}
		dcp := *decision
		m.approvals[decision.ID] = &dcp
	}
	if newStatus != "" {
		p.Status = newStatus
	}
	return nil
}

func (m *MemStore) FindApprovalByIdempotencyKey(ctx context.Context, key string) (*ApprovalDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.approvals {
		if a.IdempotencyKey == key {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemStore) InsertApprovalDecision(ctx context.Context, d *ApprovalDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now()
	}
	cp := *d
	m.approvals[d.ID] = &cp
	return nil
}

func (m *MemStore) InsertSoftCheckResult(ctx context.Context, r *SoftCheckResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	cp := *r
	m.checkResults = append(m.checkResults, &cp)
	return nil
}

func (m *MemStore) InsertValidationIssues(ctx context.Context, issues []*ValidationIssue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, iss := range issues {
		if iss.CreatedAt.IsZero() {
			iss.CreatedAt = time.Now()
		}
		cp := *iss
		m.issues = append(m.issues, &cp)
	}
	return nil
}

func (m *MemStore) ListValidationIssues(ctx context.Context, opts ListOptions) ([]*ValidationIssue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ValidationIssue, len(m.issues))
	copy(out, m.issues)
	return out, nil
}

// InsertReportSnapshotAtomic holds m.mu for the whole version-then-insert
// sequence, which is this store's stand-in for a DB transaction, and
// returns the existing row when one already carries the same RunID and
// ReportType.
func (m *MemStore) InsertReportSnapshotAtomic(ctx context.Context, s *ReportSnapshot) (*ReportSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.RunID != "" {
		for _, existing := range m.snapshots {
			if existing.RunID == s.RunID && existing.ReportType == s.ReportType {
				cp := *existing
				return &cp, nil
			}
		}
	}

	max := 0
	for _, snap := range m.snapshots {
		if snap.ReportType == s.ReportType && snap.Period == s.Period && snap.Version > max {
			max = snap.Version
		}
	}
	s.Version = max + 1
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	cp := *s
	m.snapshots = append(m.snapshots, &cp)
	out := cp
	return &out, nil
}

func (m *MemStore) ListReportSnapshots(ctx context.Context, opts ListOptions) ([]*ReportSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ReportSnapshot, len(m.snapshots))
	copy(out, m.snapshots)
	return out, nil
}

func (m *MemStore) ReplaceCashflowForecast(ctx context.Context, runID string, rows []*CashflowForecastRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]*CashflowForecastRow, len(rows))
	for i, r := range rows {
		rcp := *r
		if rcp.CreatedAt.IsZero() {
			rcp.CreatedAt = time.Now()
		}
		cp[i] = &rcp
	}
	m.cashflow[runID] = cp
	return nil
}

func (m *MemStore) ListCashflowForecast(ctx context.Context, opts ListOptions) ([]*CashflowForecastRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*CashflowForecastRow
	for _, rows := range m.cashflow {
		out = append(out, rows...)
	}
	return out, nil
}

func (m *MemStore) AppendAudit(ctx context.Context, entry *AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.TS.IsZero() {
		entry.TS = time.Now()
	}
	cp := *entry
	m.audit = append(m.audit, &cp)
	return nil
}

func (m *MemStore) ListAudit(ctx context.Context, opts ListOptions) ([]*AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*AuditLog, len(m.audit))
	copy(out, m.audit)
	return out, nil
}

func (m *MemStore) InsertTierBFeedback(ctx context.Context, f *TierBFeedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	cp := *f
	m.tierBFeedback = append(m.tierBFeedback, &cp)
	return nil
}

func (m *MemStore) Count(ctx context.Context, table string, filters []Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch table {
	case "agent_runs":
		return len(m.runs), nil
	case "acct_vouchers":
		return len(m.vouchers), nil
	case "acct_exceptions":
		return len(m.issues), nil
	case "agent_approvals":
		return len(m.approvals), nil
	case "acct_journal_proposals":
		return len(m.proposals), nil
	case "agent_proposals":
		return len(m.contracts), nil
	default:
		return 0, nil
	}
}

func (m *MemStore) Ping(ctx context.Context) error { return nil }
func (m *MemStore) Close() error                   { return nil }

func applyListOptions(runs []*Run, opts ListOptions) []*Run {
	if opts.Limit <= 0 || opts.Limit >= len(runs) {
		return runs
	}
	return runs[:opts.Limit]
}
