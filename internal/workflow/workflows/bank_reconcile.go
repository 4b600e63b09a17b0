package workflows

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/openclaw/acct-agent/internal/erpclient"
	"github.com/openclaw/acct-agent/internal/store"
	"github.com/openclaw/acct-agent/internal/workflow"
)

const (
	matchThreshold  = 0.85 // θ, spec.md §4.3.1
	matchMargin     = 0.05
	candidateAmtTol = 0.01
	anomalyAmtTol   = 0.05
)

type bankTx struct {
	ref          string
	bankAccount  string
	date         string
	amount       float64
	currency     string
	counterparty string
	memo         string
}

func bankTxFromRecord(r erpclient.Record) bankTx {
	currency := rstr(r, "currency")
	if currency == "" {
		currency = "VND"
	}
	return bankTx{
		ref:          firstNonEmpty(rstr(r, "tx_ref"), rstr(r, "bank_tx_ref")),
		bankAccount:  rstr(r, "bank_account"),
		date:         rstr(r, "date"),
		amount:       rfloat(r, "amount"),
		currency:     currency,
		counterparty: firstNonEmpty(rstr(r, "counterparty"), rstr(r, "memo")),
		memo:         rstr(r, "memo"),
	}
}

func amountProximity(txAmount, voucherAmount float64) float64 {
	denom := math.Max(math.Abs(txAmount), 1)
	ratio := math.Abs(txAmount-voucherAmount) / denom
	p := 1 - ratio
	if p < 0 {
		return 0
	}
	return p
}

func dateProximity(txDate, voucherDate string) float64 {
	t1, ok1 := parseDate(txDate)
	t2, ok2 := parseDate(voucherDate)
	if !ok1 || !ok2 {
		return 0
	}
	deltaDays := math.Abs(t1.Sub(t2).Hours() / 24)
	return math.Exp(-deltaDays / 7)
}

func partnerNameSimilarity(a, b string) float64 {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	sim := 1 - float64(dist)/float64(maxLen)
	if sim < 0 {
		return 0
	}
	return sim
}

// voucherKeyOf mirrors the store's (voucher_no, source) uniqueness key.
func voucherKeyOf(voucherNo string, source store.VoucherSource) string {
	return string(source) + "::" + voucherNo
}

func amountWithinTolerance(txAmount, voucherAmount, tol float64) bool {
	denom := math.Max(math.Abs(txAmount), 1)
	return math.Abs(txAmount-voucherAmount)/denom <= tol
}

// matchResult is the outcome of scoring one bank transaction against the
// voucher pool, per spec.md §4.3.1.
type matchResult struct {
	status     store.MatchStatus
	voucherID  *string
}

func reconcileOne(tx bankTx, vouchers []*store.Voucher) matchResult {
	type scored struct {
		voucher *store.Voucher
		score   float64
	}
	var candidates []scored
	anomalyCandidate := false

	for _, v := range vouchers {
		if v.Currency != tx.currency {
			continue
		}
		if amountWithinTolerance(tx.amount, v.Amount, anomalyAmtTol) {
			anomalyCandidate = true
		}
		if !amountWithinTolerance(tx.amount, v.Amount, candidateAmtTol) {
			continue
		}
		score := 0.6*amountProximity(tx.amount, v.Amount) +
			0.3*dateProximity(tx.date, v.Date) +
			0.1*partnerNameSimilarity(tx.counterparty, v.PartnerName)
		candidates = append(candidates, scored{voucher: v, score: score})
	}

	if len(candidates) == 0 {
		if anomalyCandidate {
			return matchResult{status: store.MatchAnomaly}
		}
		return matchResult{status: store.MatchUnmatched}
	}

	best, runnerUp := candidates[0], -1.0
	for _, c := range candidates[1:] {
		if c.score > best.score {
			runnerUp = best.score
			best = c
		} else if c.score > runnerUp {
			runnerUp = c.score
		}
	}
	if runnerUp < 0 {
		runnerUp = 0
	}

	if best.score >= matchThreshold && (best.score-runnerUp) >= matchMargin {
		id := best.voucher.ID
		return matchResult{status: store.MatchMatched, voucherID: &id}
	}
	if anomalyCandidate {
		return matchResult{status: store.MatchAnomaly}
	}
	return matchResult{status: store.MatchUnmatched}
}

// BuildBankReconcile implements the bank_reconcile run_type (spec.md §4.3,
// §4.3.1): match bank txs to vouchers, mirroring + classifying each tx.
func BuildBankReconcile(d Deps) *workflow.Workflow {
	fetch := func(ctx context.Context, s workflow.State) workflow.State {
		txs, err := d.ERP.GetBankTransactions(ctx, 0)
		if err != nil {
			return workflow.WithError(fmt.Sprintf("fetch bank transactions: %v", err))
		}
		vouchers, err := d.ERP.GetVouchers(ctx, 0)
		if err != nil {
			return workflow.WithError(fmt.Sprintf("fetch vouchers: %v", err))
		}
		return workflow.State{
			"bank_txs": txs,
			"vouchers": vouchers,
			"has_data": len(txs) > 0,
		}
	}

	guard := func(s workflow.State) bool {
		hasData, _ := workflow.Get[bool](s, "has_data")
		return !hasData
	}

	compute := func(ctx context.Context, s workflow.State) workflow.State {
		txRecords, _ := workflow.Get[[]erpclient.Record](s, "bank_txs")
		voucherRecords, _ := workflow.Get[[]erpclient.Record](s, "vouchers")
		runID, _ := workflow.Get[string](s, "run_id")

		// Mirror the voucher pool first so reconciliation scores against
		// persisted rows (idempotent with journal_suggestion's own mirror).
		// Vouchers already mirrored by an earlier run keep their original
		// id so matched_voucher_id always points at a real row.
		existing, err := d.Store.ListVouchers(ctx, store.ListOptions{Limit: 10000})
		if err != nil {
			return workflow.WithError(fmt.Sprintf("list existing vouchers: %v", err))
		}
		existingByKey := make(map[string]*store.Voucher, len(existing))
		for _, v := range existing {
			existingByKey[voucherKeyOf(v.VoucherNo, v.Source)] = v
		}

		voucherPool := make([]*store.Voucher, 0, len(voucherRecords))
		for _, rec := range voucherRecords {
			v := voucherFromRecord(rec, runID)
			if prior, ok := existingByKey[voucherKeyOf(v.VoucherNo, v.Source)]; ok {
				voucherPool = append(voucherPool, prior)
				continue
			}
			if _, err := d.Store.InsertVoucherIfAbsent(ctx, v); err != nil {
				return workflow.WithError(fmt.Sprintf("mirror voucher %s: %v", v.VoucherNo, err))
			}
			voucherPool = append(voucherPool, v)
		}

		// Score transactions against voucherPool in chunks of
		// AnomalyChunkSize (SPEC_FULL.md §9): voucherPool is read-only
		// once built, so chunks scheduled onto the pooled mapper never
		// share mutable state with each other.
		chunkSize := d.Config.AnomalyChunkSize
		items := make([]any, len(txRecords))
		for i, rec := range txRecords {
			items[i] = rec
		}
		chunks := workflow.Chunk(items, chunkSize)
		chunkAny := make([]any, len(chunks))
		for i, c := range chunks {
			chunkAny[i] = c
		}

		chunkResults := mapperFor(d.Config).Map(chunkAny, func(item any) any {
			chunk := item.([]any)
			rows := make([]*store.BankTransaction, 0, len(chunk))
			for _, c := range chunk {
				rec := c.(erpclient.Record)
				tx := bankTxFromRecord(rec)
				result := reconcileOne(tx, voucherPool)
				rows = append(rows, &store.BankTransaction{
					ID:               newID(),
					BankTxRef:        tx.ref,
					BankAccount:      tx.bankAccount,
					Date:             tx.date,
					Amount:           tx.amount,
					Currency:         tx.currency,
					Counterparty:     tx.counterparty,
					Memo:             tx.memo,
					MatchedVoucherID: result.voucherID,
					MatchStatus:      result.status,
					RunID:            runID,
				})
			}
			return rows
		})

		matched, anomalies, unmatched, mirrored := 0, 0, 0, 0
		for _, cr := range chunkResults {
			for _, row := range cr.([]*store.BankTransaction) {
				// InsertBankTransactionIfAbsent dedups on bank_tx_ref; a
				// rerun with identical inputs scores the same result and
				// finds the row already mirrored, so this stays idempotent
				// without a follow-up update (spec.md §4.3.1: "rerunning
				// MUST yield the same match set").
				inserted, err := d.Store.InsertBankTransactionIfAbsent(ctx, row)
				if err != nil {
					return workflow.WithError(fmt.Sprintf("mirror bank tx %s: %v", row.BankTxRef, err))
				}
				if inserted {
					mirrored++
				}
				switch row.MatchStatus {
				case store.MatchMatched:
					matched++
				case store.MatchAnomaly:
					anomalies++
				default:
					unmatched++
				}
			}
		}

		return workflow.State{
			"flow_stats": map[string]any{
				"transactions_mirrored": mirrored,
				"matched":               matched,
				"anomalies":             anomalies,
				"unmatched":             unmatched,
				"total_transactions":    len(txRecords),
			},
		}
	}

	return &workflow.Workflow{Name: "bank_reconcile", Fetch: fetch, Guard: guard, Compute: compute}
}
