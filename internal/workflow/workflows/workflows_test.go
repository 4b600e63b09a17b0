package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/acct-agent/internal/config"
	"github.com/openclaw/acct-agent/internal/erpclient"
	"github.com/openclaw/acct-agent/internal/store"
	"github.com/openclaw/acct-agent/internal/workflow"
)

// erpFixture serves canned JSON bodies from an httptest server, keyed by
// path — the same shape as erpclient's own test server in client_test.go.
func erpFixture(t *testing.T, routes map[string]any) (*erpclient.Client, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(body))
	}))
	cfg := config.ERPClientConfig{
		BaseURL:          srv.URL,
		MaxAttempts:      1,
		TimeoutSeconds:   5,
		RetryBaseSeconds: 0.01,
		RetryMaxSeconds:  0.05,
	}
	return erpclient.New(cfg, nil), srv.Close
}

var testWorkflowConfig = config.WorkflowConfig{
	BankReconcileThreshold: 0.85,
	CashflowHorizonDays:    30,
	AnomalyChunkSize:       100,
	UseParallelMap:         false,
}

func runWorkflow(t *testing.T, w *workflow.Workflow, initial workflow.State) workflow.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.Run(ctx, initial)
}

func TestJournalSuggestion_ClassifiesAndProposes(t *testing.T) {
	erp, closeFn := erpFixture(t, map[string]any{
		"/vouchers": []map[string]any{
			{"voucher_id": "V1", "voucher_no": "HD001", "voucher_type": "sell_invoice", "amount": 1_000_000.0, "currency": "VND", "has_attachment": true},
			{"voucher_id": "V2", "voucher_no": "HD002", "voucher_type": "buy_invoice", "amount": 500_000.0, "currency": "VND", "has_attachment": false},
		},
	})
	defer closeFn()

	st := store.NewMemStore()
	d := NewDeps(erp, st, testWorkflowConfig)
	w := BuildJournalSuggestion(d)

	out := runWorkflow(t, w, workflow.State{"run_id": "run-1"})
	require.Empty(t, out.Errors())

	stats, _ := workflow.Get[map[string]any](out, "flow_stats")
	assert.Equal(t, 2, stats["proposals_created"])

	proposals, err := st.ListJournalProposals(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, proposals, 2)
	for _, p := range proposals {
		assert.Equal(t, store.JournalProposalPending, p.Status)
		_, lines, err := st.GetJournalProposal(context.Background(), p.ID)
		require.NoError(t, err)
		require.Len(t, lines, 2)
	}
}

func TestJournalSuggestion_SkipsAlreadyMirroredVouchers(t *testing.T) {
	erp, closeFn := erpFixture(t, map[string]any{
		"/vouchers": []map[string]any{
			{"voucher_id": "V1", "voucher_no": "HD001", "voucher_type": "receipt", "amount": 200_000.0, "currency": "VND"},
		},
	})
	defer closeFn()

	st := store.NewMemStore()
	d := NewDeps(erp, st, testWorkflowConfig)
	w := BuildJournalSuggestion(d)

	first := runWorkflow(t, w, workflow.State{"run_id": "run-1"})
	require.Empty(t, first.Errors())
	second := runWorkflow(t, w, workflow.State{"run_id": "run-2"})
	require.Empty(t, second.Errors())

	stats, _ := workflow.Get[map[string]any](second, "flow_stats")
	assert.Equal(t, 1, stats["skipped_existing"])
	assert.Equal(t, 0, stats["proposals_created"])
}

func TestVoucherIngest_BuiltinFixtures(t *testing.T) {
	st := store.NewMemStore()
	d := NewDeps(nil, st, testWorkflowConfig)
	w := BuildVoucherIngest(d)

	out := runWorkflow(t, w, workflow.State{"run_id": "run-1", "payload": map[string]any{}})
	require.Empty(t, out.Errors())

	stats, _ := workflow.Get[map[string]any](out, "flow_stats")
	assert.Equal(t, len(builtinFixtures), stats["count_new_vouchers"])

	again := runWorkflow(t, w, workflow.State{"run_id": "run-2", "payload": map[string]any{}})
	stats2, _ := workflow.Get[map[string]any](again, "flow_stats")
	assert.Equal(t, 0, stats2["count_new_vouchers"])
	assert.Equal(t, len(builtinFixtures), stats2["skipped_existing"])
}

func TestSoftChecks_DetectsAllFourRuleKinds(t *testing.T) {
	erp, closeFn := erpFixture(t, map[string]any{
		"/journals": []map[string]any{
			{"journal_id": "J1", "debit_total": 5_000_000.0, "credit_total": 5_000_000.0},
			{"journal_id": "J2", "debit_total": 5_000_000.0, "credit_total": 4_000_000.0},
		},
		"/invoices": []map[string]any{
			{"invoice_id": "I1", "status": "unpaid", "due_date": "2020-01-01"},
			{"invoice_id": "I2", "status": "unpaid", "due_date": "2020-02-01"},
		},
	})
	defer closeFn()

	st := store.NewMemStore()
	ctx := context.Background()
	_, err := st.InsertVoucherIfAbsent(ctx, &store.Voucher{ID: "v1", VoucherNo: "DUP1", Source: store.VoucherSourceERPX, HasAttachment: false})
	require.NoError(t, err)
	_, err = st.InsertVoucherIfAbsent(ctx, &store.Voucher{ID: "v2", VoucherNo: "DUP1", Source: store.VoucherSourceOCRUpload, HasAttachment: false})
	require.NoError(t, err)

	d := NewDeps(erp, st, testWorkflowConfig)
	w := BuildSoftChecks(d)

	out := runWorkflow(t, w, workflow.State{"run_id": "run-1", "period": "2025-01"})
	require.Empty(t, out.Errors())

	issues, err := st.ListValidationIssues(ctx, store.ListOptions{})
	require.NoError(t, err)

	counts := map[string]int{}
	for _, iss := range issues {
		counts[iss.RuleCode]++
	}
	assert.GreaterOrEqual(t, counts[ruleMissingAttachment], 2)
	assert.GreaterOrEqual(t, counts[ruleJournalImbalanced], 1)
	assert.GreaterOrEqual(t, counts[ruleOverdueInvoice], 2)
	assert.GreaterOrEqual(t, counts[ruleDuplicateVoucher], 1)

	results, err := st.ListReportSnapshots(ctx, store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, results) // soft_checks writes SoftCheckResult, not report snapshots

	stats, _ := workflow.Get[map[string]any](out, "flow_stats")
	assert.Less(t, stats["score"].(float64), 1.0)
}

func TestBankReconcile_MatchesWithinThresholdAndFlagsAnomaly(t *testing.T) {
	today := time.Now().UTC().Format("2006-01-02")
	erp, closeFn := erpFixture(t, map[string]any{
		"/bank_transactions": []map[string]any{
			{"tx_ref": "TX1", "date": today, "amount": 1_000_000.0, "currency": "VND", "counterparty": "CONG TY TNHH ABC"},
			{"tx_ref": "TX2", "date": today, "amount": 2_000_000.0, "currency": "VND", "counterparty": "nobody matches"},
		},
		"/vouchers": []map[string]any{
			{"voucher_id": "V1", "voucher_no": "HD001", "voucher_type": "sell_invoice", "date": today, "amount": 1_000_000.0, "currency": "VND", "partner_name": "CONG TY TNHH ABC", "has_attachment": true},
			{"voucher_id": "V2", "voucher_no": "HD002", "voucher_type": "sell_invoice", "date": today, "amount": 2_050_000.0, "currency": "VND", "partner_name": "someone else", "has_attachment": true},
		},
	})
	defer closeFn()

	st := store.NewMemStore()
	d := NewDeps(erp, st, testWorkflowConfig)
	w := BuildBankReconcile(d)

	out := runWorkflow(t, w, workflow.State{"run_id": "run-1"})
	require.Empty(t, out.Errors())

	txs, err := st.ListBankTransactions(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	byRef := map[string]*store.BankTransaction{}
	for _, tx := range txs {
		byRef[tx.BankTxRef] = tx
	}
	require.Contains(t, byRef, "TX1")
	assert.Equal(t, store.MatchMatched, byRef["TX1"].MatchStatus)
	require.NotNil(t, byRef["TX1"].MatchedVoucherID)

	// TX2 is within 5% of V2's amount but not within the 1% candidate band
	// tight enough to clear the match threshold, so it must not silently
	// unmatch — it should be flagged anomaly per spec.md §4.3.1.
	require.Contains(t, byRef, "TX2")
	assert.Equal(t, store.MatchAnomaly, byRef["TX2"].MatchStatus)
}

func TestBankReconcile_IsIdempotentAcrossReruns(t *testing.T) {
	today := time.Now().UTC().Format("2006-01-02")
	erp, closeFn := erpFixture(t, map[string]any{
		"/bank_transactions": []map[string]any{
			{"tx_ref": "TX1", "date": today, "amount": 1_000_000.0, "currency": "VND", "counterparty": "CONG TY TNHH ABC"},
		},
		"/vouchers": []map[string]any{
			{"voucher_id": "V1", "voucher_no": "HD001", "voucher_type": "sell_invoice", "date": today, "amount": 1_000_000.0, "currency": "VND", "partner_name": "CONG TY TNHH ABC", "has_attachment": true},
		},
	})
	defer closeFn()

	st := store.NewMemStore()
	d := NewDeps(erp, st, testWorkflowConfig)
	w := BuildBankReconcile(d)

	first := runWorkflow(t, w, workflow.State{"run_id": "run-1"})
	require.Empty(t, first.Errors())
	second := runWorkflow(t, w, workflow.State{"run_id": "run-2"})
	require.Empty(t, second.Errors())

	txs, err := st.ListBankTransactions(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, store.MatchMatched, txs[0].MatchStatus)
}

func TestCashflowForecast_ProjectsUnpaidInvoicesWithinHorizon(t *testing.T) {
	due := time.Now().UTC().AddDate(0, 0, 10).Format("2006-01-02")
	erp, closeFn := erpFixture(t, map[string]any{
		"/invoices": []map[string]any{
			{"invoice_id": "I1", "status": "unpaid", "due_date": due, "amount": 3_000_000.0, "type": "sell", "currency": "VND"},
		},
		"/bank_transactions": []map[string]any{},
	})
	defer closeFn()

	st := store.NewMemStore()
	d := NewDeps(erp, st, testWorkflowConfig)
	w := BuildCashflowForecast(d)

	out := runWorkflow(t, w, workflow.State{"run_id": "run-1", "period": "2025-01"})
	require.Empty(t, out.Errors())

	rows, err := st.ListCashflowForecast(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, store.CashflowInflow, rows[0].Direction)
	assert.Equal(t, 3_000_000.0, rows[0].Amount)
}

func TestTaxReport_WritesVersionedSnapshotsPerPeriod(t *testing.T) {
	erp, closeFn := erpFixture(t, map[string]any{
		"/invoices": []map[string]any{
			{"invoice_id": "I1", "type": "sell", "amount": 1_000_000.0, "vat_amount": 100_000.0},
		},
		"/vouchers": []map[string]any{
			{"voucher_id": "V1", "voucher_type": "sell_invoice", "amount": 1_000_000.0},
		},
	})
	defer closeFn()

	st := store.NewMemStore()
	d := NewDeps(erp, st, testWorkflowConfig)
	w := BuildTaxReport(d)

	out1 := runWorkflow(t, w, workflow.State{"run_id": "run-1", "period": "2025-01"})
	require.Empty(t, out1.Errors())
	out2 := runWorkflow(t, w, workflow.State{"run_id": "run-2", "period": "2025-01"})
	require.Empty(t, out2.Errors())

	snapshots, err := st.ListReportSnapshots(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, snapshots, 4) // 2 report types x 2 runs

	versionsByType := map[store.ReportType][]int{}
	for _, s := range snapshots {
		versionsByType[s.ReportType] = append(versionsByType[s.ReportType], s.Version)
	}
	assert.ElementsMatch(t, []int{1, 2}, versionsByType[store.ReportVATList])
	assert.ElementsMatch(t, []int{1, 2}, versionsByType[store.ReportTrialBalance])
}

func TestVoucherClassify_TagsFromTypeHint(t *testing.T) {
	st := store.NewMemStore()
	ctx := context.Background()
	_, err := st.InsertVoucherIfAbsent(ctx, &store.Voucher{
		ID: "v1", VoucherNo: "PC0001", Source: store.VoucherSourceBuiltinFixture,
		TypeHint: "cash_disbursement", VoucherType: store.VoucherPayment,
	})
	require.NoError(t, err)

	d := NewDeps(nil, st, testWorkflowConfig)
	w := BuildVoucherClassify(d)

	out := runWorkflow(t, w, workflow.State{"run_id": "run-1"})
	require.Empty(t, out.Errors())

	v, err := st.GetVoucher(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "disbursement", v.ClassificationTag)
}

// TestVoucherClassify_ParallelMapperMatchesSequential pins down that
// UseParallelMap changes only the scheduling, not the outcome: every
// voucher still gets tagged exactly once.
func TestVoucherClassify_ParallelMapperMatchesSequential(t *testing.T) {
	st := store.NewMemStore()
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		_, err := st.InsertVoucherIfAbsent(ctx, &store.Voucher{
			ID: newID(), VoucherNo: fmt.Sprintf("PC%04d", i), Source: store.VoucherSourceBuiltinFixture,
			TypeHint: "cash_receipt", VoucherType: store.VoucherReceipt,
		})
		require.NoError(t, err)
	}

	cfg := testWorkflowConfig
	cfg.UseParallelMap = true
	d := NewDeps(nil, st, cfg)
	w := BuildVoucherClassify(d)

	out := runWorkflow(t, w, workflow.State{"run_id": "run-1"})
	require.Empty(t, out.Errors())

	stats, _ := workflow.Get[map[string]any](out, "flow_stats")
	assert.Equal(t, 20, stats["vouchers_tagged"])

	vouchers, err := st.ListVouchers(ctx, store.ListOptions{Limit: 100})
	require.NoError(t, err)
	for _, v := range vouchers {
		assert.Equal(t, "receipt", v.ClassificationTag)
	}
}

// TestTaxReport_RetryOfSameRunIsIdempotent pins down spec.md §4.2/§4.3: a
// retried compute node for the same run_id must not mint a second version.
func TestTaxReport_RetryOfSameRunIsIdempotent(t *testing.T) {
	erp, closeFn := erpFixture(t, map[string]any{
		"/invoices": []map[string]any{
			{"invoice_id": "I1", "type": "sell", "amount": 1_000_000.0, "vat_amount": 100_000.0},
		},
		"/vouchers": []map[string]any{
			{"voucher_id": "V1", "voucher_type": "sell_invoice", "amount": 1_000_000.0},
		},
	})
	defer closeFn()

	st := store.NewMemStore()
	d := NewDeps(erp, st, testWorkflowConfig)
	w := BuildTaxReport(d)

	first := runWorkflow(t, w, workflow.State{"run_id": "run-1", "period": "2025-02"})
	require.Empty(t, first.Errors())
	second := runWorkflow(t, w, workflow.State{"run_id": "run-1", "period": "2025-02"})
	require.Empty(t, second.Errors())

	snapshots, err := st.ListReportSnapshots(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, snapshots, 2) // one per report type, not four
	for _, s := range snapshots {
		assert.Equal(t, 1, s.Version)
	}
}
