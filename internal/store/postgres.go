package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/openclaw/acct-agent/internal/apperr"
)

// PostgresStore is the primary production Store backend, following the
// teacher's pattern of wrapping *sql.DB directly rather than an ORM.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres opens and pings a connection pool against dsn.
func OpenPostgres(dsn string, maxOpen, maxIdle int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *PostgresStore) Close() error                   { return s.db.Close() }

func toJSON(m JSONMap) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func fromJSON(b []byte) (JSONMap, error) {
	if len(b) == 0 {
		return JSONMap{}, nil
	}
	var m JSONMap
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// --- Runs -------------------------------------------------------------

func (s *PostgresStore) InsertRun(ctx context.Context, r *Run) error {
	cursorIn, err := toJSON(r.CursorIn)
	if err != nil {
		return apperr.Validation("encode cursor_in: %v", err)
	}
	stats, err := toJSON(r.Stats)
	if err != nil {
		return apperr.Validation("encode stats: %v", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_runs (id, run_type, trigger_type, status, idempotency_key, cursor_in, stats, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, r.ID, r.RunType, r.TriggerType, r.Status, r.IdempotencyKey, cursorIn, stats)
	if err != nil {
		return classifyWriteErr(err, "insert run")
	}
	return nil
}

func (s *PostgresStore) FindRunByIdempotencyKey(ctx context.Context, key string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_type, trigger_type, status, idempotency_key, cursor_in, cursor_out, stats, started_at, finished_at, created_at
		FROM agent_runs WHERE idempotency_key = $1
	`, key)
	return scanRun(row)
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_type, trigger_type, status, idempotency_key, cursor_in, cursor_out, stats, started_at, finished_at, created_at
		FROM agent_runs WHERE id = $1
	`, id)
	return scanRun(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var cursorIn, cursorOut, stats []byte
	var startedAt, finishedAt sql.NullTime
	err := row.Scan(&r.ID, &r.RunType, &r.TriggerType, &r.Status, &r.IdempotencyKey,
		&cursorIn, &cursorOut, &stats, &startedAt, &finishedAt, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage(err, "scan run")
	}
	r.CursorIn, err = fromJSON(cursorIn)
	if err != nil {
		return nil, apperr.Storage(err, "decode cursor_in")
	}
	r.CursorOut, err = fromJSON(cursorOut)
	if err != nil {
		return nil, apperr.Storage(err, "decode cursor_out")
	}
	r.Stats, err = fromJSON(stats)
	if err != nil {
		return nil, apperr.Storage(err, "decode stats")
	}
	if startedAt.Valid {
		r.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		r.FinishedAt = &finishedAt.Time
	}
	return &r, nil
}

func (s *PostgresStore) UpdateRun(ctx context.Context, r *Run) error {
	cursorOut, err := toJSON(r.CursorOut)
	if err != nil {
		return apperr.Validation("encode cursor_out: %v", err)
	}
	stats, err := toJSON(r.Stats)
	if err != nil {
		return apperr.Validation("encode stats: %v", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE agent_runs SET status=$2, cursor_out=$3, stats=$4, started_at=$5, finished_at=$6
		WHERE id=$1
	`, r.ID, r.Status, cursorOut, stats, r.StartedAt, r.FinishedAt)
	if err != nil {
		return apperr.Storage(err, "update run %s", r.ID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, opts ListOptions) ([]*Run, error) {
	query, args := buildListQuery("agent_runs",
		"id, run_type, trigger_type, status, idempotency_key, cursor_in, cursor_out, stats, started_at, finished_at, created_at",
		opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage(err, "list runs")
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Voucher mirrors ----------------------------------------------------

func (s *PostgresStore) InsertVoucherIfAbsent(ctx context.Context, v *Voucher) (bool, error) {
	raw, err := toJSON(v.RawPayload)
	if err != nil {
		return false, apperr.Validation("encode raw_payload: %v", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO acct_vouchers (
			id, erp_voucher_id, voucher_no, voucher_type, date, amount, currency,
			partner_name, partner_tax_code, has_attachment, source, type_hint,
			raw_payload, classification_tag, run_id, synced_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15, now())
		ON CONFLICT (voucher_no, source) DO NOTHING
	`, v.ID, v.ERPVoucherID, v.VoucherNo, v.VoucherType, v.Date, v.Amount, v.Currency,
		v.PartnerName, v.PartnerTaxCode, v.HasAttachment, v.Source, v.TypeHint,
		raw, v.ClassificationTag, v.RunID)
	if err != nil {
		return false, classifyWriteErr(err, "insert voucher")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Storage(err, "rows affected")
	}
	return n > 0, nil
}

func (s *PostgresStore) GetVoucher(ctx context.Context, id string) (*Voucher, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, erp_voucher_id, voucher_no, voucher_type, date, amount, currency,
			partner_name, partner_tax_code, has_attachment, source, type_hint,
			raw_payload, classification_tag, run_id, synced_at
		FROM acct_vouchers WHERE id=$1
	`, id)
	return scanVoucher(row)
}

func scanVoucher(row rowScanner) (*Voucher, error) {
	var v Voucher
	var raw []byte
	err := row.Scan(&v.ID, &v.ERPVoucherID, &v.VoucherNo, &v.VoucherType, &v.Date, &v.Amount, &v.Currency,
		&v.PartnerName, &v.PartnerTaxCode, &v.HasAttachment, &v.Source, &v.TypeHint,
		&raw, &v.ClassificationTag, &v.RunID, &v.SyncedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage(err, "scan voucher")
	}
	v.RawPayload, err = fromJSON(raw)
	if err != nil {
		return nil, apperr.Storage(err, "decode raw_payload")
	}
	return &v, nil
}

func (s *PostgresStore) ListVouchers(ctx context.Context, opts ListOptions) ([]*Voucher, error) {
	query, args := buildListQuery("acct_vouchers",
		"id, erp_voucher_id, voucher_no, voucher_type, date, amount, currency, partner_name, partner_tax_code, has_attachment, source, type_hint, raw_payload, classification_tag, run_id, synced_at",
		opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage(err, "list vouchers")
	}
	defer rows.Close()

	var out []*Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateVoucherClassification(ctx context.Context, voucherID, tag string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE acct_vouchers SET classification_tag=$2 WHERE id=$1`, voucherID, tag)
	if err != nil {
		return apperr.Storage(err, "update voucher classification %s", voucherID)
	}
	return nil
}

// --- Bank transaction mirrors -------------------------------------------

func (s *PostgresStore) InsertBankTransactionIfAbsent(ctx context.Context, t *BankTransaction) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO acct_bank_transactions (
			id, bank_tx_ref, bank_account, date, amount, currency, counterparty, memo,
			matched_voucher_id, match_status, run_id, synced_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11, now())
		ON CONFLICT (bank_tx_ref) DO NOTHING
	`, t.ID, t.BankTxRef, t.BankAccount, t.Date, t.Amount, t.Currency, t.Counterparty, t.Memo,
		t.MatchedVoucherID, t.MatchStatus, t.RunID)
	if err != nil {
		return false, classifyWriteErr(err, "insert bank transaction")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Storage(err, "rows affected")
	}
	return n > 0, nil
}

func (s *PostgresStore) ListBankTransactions(ctx context.Context, opts ListOptions) ([]*BankTransaction, error) {
	query, args := buildListQuery("acct_bank_transactions",
		"id, bank_tx_ref, bank_account, date, amount, currency, counterparty, memo, matched_voucher_id, match_status, run_id, synced_at",
		opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage(err, "list bank transactions")
	}
	defer rows.Close()

	var out []*BankTransaction
	for rows.Next() {
		var t BankTransaction
		var matched sql.NullString
		if err := rows.Scan(&t.ID, &t.BankTxRef, &t.BankAccount, &t.Date, &t.Amount, &t.Currency,
			&t.Counterparty, &t.Memo, &matched, &t.MatchStatus, &t.RunID, &t.SyncedAt); err != nil {
			return nil, apperr.Storage(err, "scan bank transaction")
		}
		if matched.Valid {
			v := matched.String
			t.MatchedVoucherID = &v
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateBankTransactionMatch(ctx context.Context, id string, status MatchStatus, matchedVoucherID *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE acct_bank_transactions SET match_status=$2, matched_voucher_id=$3 WHERE id=$1
	`, id, status, matchedVoucherID)
	if err != nil {
		return apperr.Storage(err, "update bank transaction match %s", id)
	}
	return nil
}

// --- Journal proposals ---------------------------------------------------

func (s *PostgresStore) InsertJournalProposal(ctx context.Context, p *JournalProposal, lines []*JournalLine) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage(err, "begin tx")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO acct_journal_proposals (id, voucher_id, description, confidence, reasoning, status, created_by, run_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now())
	`, p.ID, p.VoucherID, p.Description, p.Confidence, p.Reasoning, p.Status, p.CreatedBy, p.RunID)
	if err != nil {
		return classifyWriteErr(err, "insert journal proposal")
	}

	for _, l := range lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO acct_journal_lines (id, proposal_id, account_code, account_name, debit, credit)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, l.ID, p.ID, l.AccountCode, l.AccountName, l.Debit, l.Credit)
		if err != nil {
			return apperr.Storage(err, "insert journal line")
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Storage(err, "commit journal proposal")
	}
	return nil
}

func (s *PostgresStore) GetJournalProposal(ctx context.Context, id string) (*JournalProposal, []*JournalLine, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, voucher_id, description, confidence, reasoning, status, created_by, reviewed_by, reviewed_at, created_at, run_id
		FROM acct_journal_proposals WHERE id=$1
	`, id)
	var p JournalProposal
	var reviewedBy sql.NullString
	var reviewedAt sql.NullTime
	err := row.Scan(&p.ID, &p.VoucherID, &p.Description, &p.Confidence, &p.Reasoning, &p.Status,
		&p.CreatedBy, &reviewedBy, &reviewedAt, &p.CreatedAt, &p.RunID)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, apperr.Storage(err, "scan journal proposal")
	}
	p.ReviewedBy = reviewedBy.String
	if reviewedAt.Valid {
		p.ReviewedAt = &reviewedAt.Time
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, proposal_id, account_code, account_name, debit, credit FROM acct_journal_lines WHERE proposal_id=$1
	`, id)
	if err != nil {
		return nil, nil, apperr.Storage(err, "list journal lines")
	}
	defer rows.Close()

	var lines []*JournalLine
	for rows.Next() {
		var l JournalLine
		if err := rows.Scan(&l.ID, &l.ProposalID, &l.AccountCode, &l.AccountName, &l.Debit, &l.Credit); err != nil {
			return nil, nil, apperr.Storage(err, "scan journal line")
		}
		lines = append(lines, &l)
	}
	return &p, lines, rows.Err()
}

func (s *PostgresStore) ListJournalProposals(ctx context.Context, opts ListOptions) ([]*JournalProposal, error) {
	query, args := buildListQuery("acct_journal_proposals",
		"id, voucher_id, description, confidence, reasoning, status, created_by, reviewed_by, reviewed_at, created_at, run_id",
		opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage(err, "list journal proposals")
	}
	defer rows.Close()

	var out []*JournalProposal
	for rows.Next() {
		var p JournalProposal
		var reviewedBy sql.NullString
		var reviewedAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.VoucherID, &p.Description, &p.Confidence, &p.Reasoning, &p.Status,
			&p.CreatedBy, &reviewedBy, &reviewedAt, &p.CreatedAt, &p.RunID); err != nil {
			return nil, apperr.Storage(err, "scan journal proposal")
		}
		p.ReviewedBy = reviewedBy.String
		if reviewedAt.Valid {
			p.ReviewedAt = &reviewedAt.Time
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DecideJournalProposal(ctx context.Context, id string, status ProposalStatus, reviewedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE acct_journal_proposals SET status=$2, reviewed_by=$3, reviewed_at=now() WHERE id=$1
	`, id, status, reviewedBy)
	if err != nil {
		return apperr.Storage(err, "decide journal proposal %s", id)
	}
	return nil
}

// --- Contract proposals (maker-checker) ----------------------------------

func (s *PostgresStore) InsertContractProposalIfAbsent(ctx context.Context, p *ContractProposal) (bool, error) {
	details, err := toJSON(p.Details)
	if err != nil {
		return false, apperr.Validation("encode details: %v", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_proposals (
			id, case_id, obligation_id, proposal_type, title, summary, details, risk_level,
			confidence, status, created_by, tier, evidence_summary_hash, proposal_key, run_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15, now())
		ON CONFLICT (proposal_key) DO NOTHING
	`, p.ID, p.CaseID, p.ObligationID, p.ProposalType, p.Title, p.Summary, details, p.RiskLevel,
		p.Confidence, p.Status, p.CreatedBy, p.Tier, p.EvidenceSummaryHash, p.ProposalKey, p.RunID)
	if err != nil {
		return false, classifyWriteErr(err, "insert contract proposal")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Storage(err, "rows affected")
	}
	return n > 0, nil
}

func (s *PostgresStore) GetContractProposal(ctx context.Context, id string) (*ContractProposal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, obligation_id, proposal_type, title, summary, details, risk_level,
			confidence, status, created_by, tier, evidence_summary_hash, proposal_key, run_id, created_at
		FROM agent_proposals WHERE id=$1
	`, id)
	return scanContractProposal(row)
}

func scanContractProposal(row rowScanner) (*ContractProposal, error) {
	var p ContractProposal
	var obligationID sql.NullString
	var details []byte
	err := row.Scan(&p.ID, &p.CaseID, &obligationID, &p.ProposalType, &p.Title, &p.Summary, &details,
		&p.RiskLevel, &p.Confidence, &p.Status, &p.CreatedBy, &p.Tier, &p.EvidenceSummaryHash,
		&p.ProposalKey, &p.RunID, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage(err, "scan contract proposal")
	}
	if obligationID.Valid {
		p.ObligationID = &obligationID.String
	}
	p.Details, err = fromJSON(details)
	if err != nil {
		return nil, apperr.Storage(err, "decode details")
	}
	return &p, nil
}

func (s *PostgresStore) ListContractProposals(ctx context.Context, opts ListOptions) ([]*ContractProposal, error) {
	query, args := buildListQuery("agent_proposals",
		"id, case_id, obligation_id, proposal_type, title, summary, details, risk_level, confidence, status, created_by, tier, evidence_summary_hash, proposal_key, run_id, created_at",
		opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage(err, "list contract proposals")
	}
	defer rows.Close()

	var out []*ContractProposal
	for rows.Next() {
		p, err := scanContractProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// WithContractProposalLock opens a transaction, locks the proposal row
// with SELECT ... FOR UPDATE, runs fn, and persists the returned status
// when non-empty — this is how concurrent approvers serialize onto a
// single terminal transition (spec.md §4.6, §5).
func (s *PostgresStore) WithContractProposalLock(ctx context.Context, id string, fn func(p *ContractProposal) (*ApprovalDecision, ContractProposalStatus, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage(err, "begin tx")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, case_id, obligation_id, proposal_type, title, summary, details, risk_level,
			confidence, status, created_by, tier, evidence_summary_hash, proposal_key, run_id, created_at
		FROM agent_proposals WHERE id=$1 FOR UPDATE
	`, id)
	p, err := scanContractProposal(row)
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
	if decision != nil {
		if decision.DecidedAt.IsZero() {
			decision.DecidedAt = time.Now()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO agent_approvals (id, proposal_id, approver_id, decision, evidence_ack, decided_at, idempotency_key, actor_user_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, decision.ID, decision.ProposalID, decision.ApproverID, decision.Decision, decision.EvidenceAck,
			decision.DecidedAt, decision.IdempotencyKey, decision.ActorUserID); err != nil {
			return classifyWriteErr(err, "insert approval")
		}
	}
	if newStatus != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE agent_proposals SET status=$2 WHERE id=$1`, id, newStatus); err != nil {
			return apperr.Storage(err, "transition contract proposal %s", id)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Storage(err, "commit proposal transition")
	}
	return nil
}

// WithJournalProposalLock mirrors WithContractProposalLock for the
// journal-proposal maker-checker path.
func (s *PostgresStore) WithJournalProposalLock(ctx context.Context, id string, fn func(p *JournalProposal) (*ApprovalDecision, ProposalStatus, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage(err, "begin tx")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, voucher_id, description, confidence, reasoning, status, created_by, reviewed_by, reviewed_at, created_at, run_id
		FROM acct_journal_proposals WHERE id=$1 FOR UPDATE
	`, id)
	var p JournalProposal
	var reviewedBy sql.NullString
	var reviewedAt sql.NullTime
	err = row.Scan(&p.ID, &p.VoucherID, &p.Description, &p.Confidence, &p.Reasoning, &p.Status,
		&p.CreatedBy, &reviewedBy, &reviewedAt, &p.CreatedAt, &p.RunID)
	if err == sql.ErrNoRows {
		return apperr.Validation("journal proposal %s not found", id)
	}
	if err != nil {
		return apperr.Storage(err, "scan journal proposal %s", id)
	}
	p.ReviewedBy = reviewedBy.String
	if reviewedAt.Valid {
		p.ReviewedAt = &reviewedAt.Time
	}

	decision, newStatus, err := fn(&p)
	if err != nil {
		return err
	}
	if decision != nil {
		if decision.DecidedAt.IsZero() {
			decision.DecidedAt = time.Now()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO agent_approvals (id, proposal_id, approver_id, decision, evidence_ack, decided_at, idempotency_key, actor_user_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, decision.ID, decision.ProposalID, decision.ApproverID, decision.Decision, decision.EvidenceAck,
			decision.DecidedAt, decision.IdempotencyKey, decision.ActorUserID); err != nil {
			return classifyWriteErr(err, "insert approval")
		}
		p.ReviewedBy = decision.ApproverID
	}
	if newStatus != "" {
		if _, err := tx.ExecContext(ctx, `
			UPDATE acct_journal_proposals SET status=$2, reviewed_by=$3, reviewed_at=now() WHERE id=$1
		`, id, newStatus, p.ReviewedBy); err != nil {
			return apperr.Storage(err, "transition journal proposal %s", id)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Storage(err, "commit proposal transition")
	}
	return nil
}

// --- Approval decisions ---------------------------------------------------

func (s *PostgresStore) FindApprovalByIdempotencyKey(ctx context.Context, key string) (*ApprovalDecision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, proposal_id, approver_id, decision, evidence_ack, decided_at, idempotency_key, actor_user_id
		FROM agent_approvals WHERE idempotency_key=$1
	`, key)
	var d ApprovalDecision
	err := row.Scan(&d.ID, &d.ProposalID, &d.ApproverID, &d.Decision, &d.EvidenceAck, &d.DecidedAt, &d.IdempotencyKey, &d.ActorUserID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage(err, "scan approval")
	}
	return &d, nil
}

func (s *PostgresStore) InsertApprovalDecision(ctx context.Context, d *ApprovalDecision) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_approvals (id, proposal_id, approver_id, decision, evidence_ack, decided_at, idempotency_key, actor_user_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, d.ID, d.ProposalID, d.ApproverID, d.Decision, d.EvidenceAck, d.DecidedAt, d.IdempotencyKey, d.ActorUserID)
	if err != nil {
		return classifyWriteErr(err, "insert approval")
	}
	return nil
}

// --- Soft checks / validation issues ---------------------------------------

func (s *PostgresStore) InsertSoftCheckResult(ctx context.Context, r *SoftCheckResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO acct_soft_check_results (id, period, total_checks, passed, warnings, errors, score, run_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now())
	`, r.ID, r.Period, r.TotalChecks, r.Passed, r.Warnings, r.Errors, r.Score, r.RunID)
	if err != nil {
		return classifyWriteErr(err, "insert soft check result")
	}
	return nil
}

func (s *PostgresStore) InsertValidationIssues(ctx context.Context, issues []*ValidationIssue) error {
	if len(issues) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage(err, "begin tx")
	}
	defer tx.Rollback()

	for _, i := range issues {
		details, err := toJSON(i.Details)
		if err != nil {
			return apperr.Validation("encode issue details: %v", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO acct_exceptions (id, rule_code, severity, message, erp_ref, details, resolution, check_result_id, created_at, run_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now(), $9)
		`, i.ID, i.RuleCode, i.Severity, i.Message, i.ERPRef, details, i.Resolution, i.CheckResultID, i.RunID)
		if err != nil {
			return apperr.Storage(err, "insert validation issue")
		}
	}
	if err := tx.Commit(); err != nil {
		return apperr.Storage(err, "commit validation issues")
	}
	return nil
}

func (s *PostgresStore) ListValidationIssues(ctx context.Context, opts ListOptions) ([]*ValidationIssue, error) {
	query, args := buildListQuery("acct_exceptions",
		"id, rule_code, severity, message, erp_ref, details, resolution, resolved_by, resolved_at, check_result_id, created_at, run_id",
		opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage(err, "list validation issues")
	}
	defer rows.Close()

	var out []*ValidationIssue
	for rows.Next() {
		var i ValidationIssue
		var details []byte
		var resolvedBy sql.NullString
		var resolvedAt sql.NullTime
		var checkResultID sql.NullString
		if err := rows.Scan(&i.ID, &i.RuleCode, &i.Severity, &i.Message, &i.ERPRef, &details,
			&i.Resolution, &resolvedBy, &resolvedAt, &checkResultID, &i.CreatedAt, &i.RunID); err != nil {
			return nil, apperr.Storage(err, "scan validation issue")
		}
		i.Details, err = fromJSON(details)
		if err != nil {
			return nil, apperr.Storage(err, "decode issue details")
		}
		i.ResolvedBy = resolvedBy.String
		if resolvedAt.Valid {
			i.ResolvedAt = &resolvedAt.Time
		}
		if checkResultID.Valid {
			i.CheckResultID = &checkResultID.String
		}
		out = append(out, &i)
	}
	return out, rows.Err()
}

// --- Report snapshots -------------------------------------------------------

// InsertReportSnapshotAtomic assigns the next version and inserts the row
// inside one transaction (spec.md §4.2, §4.3). A pg_advisory_xact_lock
// keyed on (report_type, period) serializes concurrent attempts for the
// same key even before any row for that key exists, which a plain
// SELECT...FOR UPDATE can't do (there's nothing to lock yet) — the same
// single-winner guarantee WithContractProposalLock gets from locking an
// existing row, generalized to the empty case. The lock releases on
// commit or rollback. A RunID+ReportType lookup short-circuits retries of
// the same compute node so they replay the prior snapshot instead of
// minting a new version.
func (s *PostgresStore) InsertReportSnapshotAtomic(ctx context.Context, snap *ReportSnapshot) (*ReportSnapshot, error) {
	if snap.RunID != "" {
		existing, err := s.findReportSnapshotByRun(ctx, snap.RunID, snap.ReportType)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	summary, err := toJSON(snap.SummaryJSON)
	if err != nil {
		return nil, apperr.Validation("encode summary_json: %v", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Storage(err, "begin tx")
	}
	defer tx.Rollback()

	lockKey := string(snap.ReportType) + "|" + snap.Period
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return nil, apperr.Storage(err, "lock report version")
	}

	var version sql.NullInt64
	if err := tx.QueryRowContext(ctx, `
		SELECT MAX(version) FROM acct_report_snapshots WHERE report_type=$1 AND period=$2
	`, snap.ReportType, snap.Period).Scan(&version); err != nil {
		return nil, apperr.Storage(err, "next report version")
	}
	snap.Version = 1
	if version.Valid {
		snap.Version = int(version.Int64) + 1
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO acct_report_snapshots (id, report_type, period, version, file_uri, summary_json, run_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7, now())
	`, snap.ID, snap.ReportType, snap.Period, snap.Version, snap.FileURI, summary, snap.RunID); err != nil {
		return nil, classifyWriteErr(err, "insert report snapshot")
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Storage(err, "commit report snapshot")
	}
	return snap, nil
}

func (s *PostgresStore) findReportSnapshotByRun(ctx context.Context, runID string, reportType ReportType) (*ReportSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, report_type, period, version, file_uri, summary_json, run_id, created_at
		FROM acct_report_snapshots WHERE run_id=$1 AND report_type=$2
	`, runID, reportType)
	var r ReportSnapshot
	var summary []byte
	var fileURI sql.NullString
	err := row.Scan(&r.ID, &r.ReportType, &r.Period, &r.Version, &fileURI, &summary, &r.RunID, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage(err, "find report snapshot by run")
	}
	r.FileURI = fileURI.String
	r.SummaryJSON, err = fromJSON(summary)
	if err != nil {
		return nil, apperr.Storage(err, "decode summary_json")
	}
	return &r, nil
}

func (s *PostgresStore) ListReportSnapshots(ctx context.Context, opts ListOptions) ([]*ReportSnapshot, error) {
	query, args := buildListQuery("acct_report_snapshots",
		"id, report_type, period, version, file_uri, summary_json, run_id, created_at", opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage(err, "list report snapshots")
	}
	defer rows.Close()

	var out []*ReportSnapshot
	for rows.Next() {
		var r ReportSnapshot
		var summary []byte
		var fileURI sql.NullString
		if err := rows.Scan(&r.ID, &r.ReportType, &r.Period, &r.Version, &fileURI, &summary, &r.RunID, &r.CreatedAt); err != nil {
			return nil, apperr.Storage(err, "scan report snapshot")
		}
		r.FileURI = fileURI.String
		r.SummaryJSON, err = fromJSON(summary)
		if err != nil {
			return nil, apperr.Storage(err, "decode summary_json")
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// --- Cashflow forecast -------------------------------------------------------

// ReplaceCashflowForecast deletes rows for runID, if any, and inserts the
// fresh set in the same transaction — forecasts are regenerated per run,
// never mutated in place (spec.md §3).
func (s *PostgresStore) ReplaceCashflowForecast(ctx context.Context, runID string, rows []*CashflowForecastRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage(err, "begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM acct_cashflow_forecast WHERE run_id=$1`, runID); err != nil {
		return apperr.Storage(err, "clear cashflow forecast")
	}
	for _, r := range rows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO acct_cashflow_forecast (id, forecast_date, direction, amount, currency, source_type, source_ref, confidence, run_id, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())
		`, r.ID, r.ForecastDate, r.Direction, r.Amount, r.Currency, r.SourceType, r.SourceRef, r.Confidence, runID)
		if err != nil {
			return apperr.Storage(err, "insert cashflow forecast row")
		}
	}
	if err := tx.Commit(); err != nil {
		return apperr.Storage(err, "commit cashflow forecast")
	}
	return nil
}

func (s *PostgresStore) ListCashflowForecast(ctx context.Context, opts ListOptions) ([]*CashflowForecastRow, error) {
	query, args := buildListQuery("acct_cashflow_forecast",
		"id, forecast_date, direction, amount, currency, source_type, source_ref, confidence, run_id, created_at", opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage(err, "list cashflow forecast")
	}
	defer rows.Close()

	var out []*CashflowForecastRow
	for rows.Next() {
		var r CashflowForecastRow
		if err := rows.Scan(&r.ID, &r.ForecastDate, &r.Direction, &r.Amount, &r.Currency, &r.SourceType,
			&r.SourceRef, &r.Confidence, &r.RunID, &r.CreatedAt); err != nil {
			return nil, apperr.Storage(err, "scan cashflow forecast row")
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// --- Audit log ---------------------------------------------------------------

// AppendAudit is the single write path into the audit table. The table
// also carries BEFORE UPDATE/DELETE triggers (see migrations) that raise
// even if a caller somehow obtained direct SQL access.
func (s *PostgresStore) AppendAudit(ctx context.Context, e *AuditLog) error {
	payload, err := toJSON(e.Payload)
	if err != nil {
		return apperr.Validation("encode audit payload: %v", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_audit_log (id, actor, action, subject_type, subject_id, payload, ts)
		VALUES ($1,$2,$3,$4,$5,$6, now())
	`, e.ID, e.Actor, e.Action, e.SubjectType, e.SubjectID, payload)
	if err != nil {
		return apperr.Storage(err, "append audit")
	}
	return nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, opts ListOptions) ([]*AuditLog, error) {
	query, args := buildListQuery("agent_audit_log", "id, actor, action, subject_type, subject_id, payload, ts", opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage(err, "list audit log")
	}
	defer rows.Close()

	var out []*AuditLog
	for rows.Next() {
		var e AuditLog
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.SubjectType, &e.SubjectID, &payload, &e.TS); err != nil {
			return nil, apperr.Storage(err, "scan audit entry")
		}
		e.Payload, err = fromJSON(payload)
		if err != nil {
			return nil, apperr.Storage(err, "decode audit payload")
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// --- Tier-B feedback -----------------------------------------------------

func (s *PostgresStore) InsertTierBFeedback(ctx context.Context, f *TierBFeedback) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_tier_b_feedback (id, obligation_id, user_id, feedback_type, delta, created_at)
		VALUES ($1,$2,$3,$4,$5, now())
	`, f.ID, f.ObligationID, f.UserID, f.FeedbackType, f.Delta)
	if err != nil {
		return apperr.Storage(err, "insert tier-b feedback")
	}
	return nil
}

// --- Aggregate count ----------------------------------------------------

func (s *PostgresStore) Count(ctx context.Context, table string, filters []Filter) (int, error) {
	if !isAllowedTable(table) {
		return 0, apperr.Validation("unknown table %q", table)
	}
	where, args := buildWhere(filters)
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", table, where)
	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, apperr.Storage(err, "count %s", table)
	}
	return n, nil
}

// --- query building helpers -----------------------------------------------

var allowedTables = map[string]bool{
	"agent_runs": true, "acct_vouchers": true, "acct_bank_transactions": true,
	"acct_journal_proposals": true, "agent_proposals": true, "agent_approvals": true,
	"acct_exceptions": true, "acct_soft_check_results": true, "acct_report_snapshots": true,
	"acct_cashflow_forecast": true, "agent_audit_log": true, "agent_tier_b_feedback": true,
}

func isAllowedTable(t string) bool { return allowedTables[t] }

func buildWhere(filters []Filter) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}
	var clauses []string
	var args []any
	for _, f := range filters {
		args = append(args, f.Value)
		clauses = append(clauses, fmt.Sprintf("%s %s $%d", f.Field, f.Op, len(args)))
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func buildListQuery(table, columns string, opts ListOptions) (string, []any) {
	where, args := buildWhere(opts.Filters)
	q := fmt.Sprintf("SELECT %s FROM %s%s", columns, table, where)
	if opts.OrderBy != "" {
		q += " ORDER BY " + opts.OrderBy
	} else {
		q += " ORDER BY created_at DESC"
	}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return q, args
}

// classifyWriteErr maps a unique-violation (23505) to ConflictError and
// everything else to StorageError, matching spec.md §7's taxonomy.
func classifyWriteErr(err error, action string) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "23505") || strings.Contains(err.Error(), "duplicate key") {
		return apperr.Conflict("%s: already exists", action)
	}
	return apperr.Storage(err, action)
}
