package workflows

import (
	"context"
	"fmt"

	"github.com/openclaw/acct-agent/internal/erpclient"
	"github.com/openclaw/acct-agent/internal/store"
	"github.com/openclaw/acct-agent/internal/workflow"
)

const defaultVATRate = 0.08

// BuildTaxReport implements the tax_report run_type (spec.md §4.3):
// compute VAT in/out/payable and trial-balance debit/credit totals, then
// write versioned snapshots (original_source
// src/openclaw_agent/flows/tax_report.py).
func BuildTaxReport(d Deps) *workflow.Workflow {
	fetch := func(ctx context.Context, s workflow.State) workflow.State {
		period, _ := workflow.Get[string](s, "period")
		invoices, err := d.ERP.GetInvoices(ctx, period)
		if err != nil {
			return workflow.WithError(fmt.Sprintf("fetch invoices: %v", err))
		}
		vouchers, err := d.ERP.GetVouchers(ctx, 0)
		if err != nil {
			return workflow.WithError(fmt.Sprintf("fetch vouchers: %v", err))
		}
		return workflow.State{
			"invoices": invoices,
			"vouchers": vouchers,
			"period":   period,
			"has_data": len(invoices)+len(vouchers) > 0,
		}
	}

	guard := func(s workflow.State) bool {
		hasData, _ := workflow.Get[bool](s, "has_data")
		return !hasData
	}

	compute := func(ctx context.Context, s workflow.State) workflow.State {
		invoices, _ := workflow.Get[[]erpclient.Record](s, "invoices")
		vouchers, _ := workflow.Get[[]erpclient.Record](s, "vouchers")
		period, _ := workflow.Get[string](s, "period")
		runID, _ := workflow.Get[string](s, "run_id")

		vat := summarizeVAT(invoices, period)
		tb := summarizeTrialBalance(vouchers, period)

		// Each snapshot is versioned and inserted atomically, and is
		// idempotent per (run_id, report_type): a dispatcher retry of this
		// whole compute node after a mid-flight failure replays the prior
		// snapshot for a node that already committed instead of minting a
		// second version for the same run.
		vatSnap, err := d.Store.InsertReportSnapshotAtomic(ctx, &store.ReportSnapshot{
			ID:          newID(),
			ReportType:  store.ReportVATList,
			Period:      period,
			SummaryJSON: vat,
			RunID:       runID,
		})
		if err != nil {
			return workflow.WithError(fmt.Sprintf("insert vat_list snapshot: %v", err))
		}

		tbSnap, err := d.Store.InsertReportSnapshotAtomic(ctx, &store.ReportSnapshot{
			ID:          newID(),
			ReportType:  store.ReportTrialBalance,
			Period:      period,
			SummaryJSON: tb,
			RunID:       runID,
		})
		if err != nil {
			return workflow.WithError(fmt.Sprintf("insert trial_balance snapshot: %v", err))
		}

		return workflow.State{
			"flow_stats": map[string]any{
				"period":            period,
				"vat_summary":       vat,
				"trial_balance":     tb,
				"vat_list_version":  vatSnap.Version,
				"trial_bal_version": tbSnap.Version,
				"snapshots_created": 2,
			},
		}
	}

	return &workflow.Workflow{Name: "tax_report", Fetch: fetch, Guard: guard, Compute: compute}
}

func summarizeVAT(invoices []erpclient.Record, period string) store.JSONMap {
	var revenue, vatOut, purchase, vatIn float64
	sellCount, buyCount := 0, 0

	for _, inv := range invoices {
		amount := rfloat(inv, "amount")
		vat := amount * defaultVATRate
		if _, hasVAT := inv["vat_amount"]; hasVAT {
			vat = rfloat(inv, "vat_amount")
		}
		invType := firstNonEmpty(rstr(inv, "type"), rstr(inv, "invoice_type"), "sell")
		if isSellSide(invType) {
			revenue += amount
			vatOut += vat
			sellCount++
		} else {
			purchase += amount
			vatIn += vat
			buyCount++
		}
	}

	return store.JSONMap{
		"period":         period,
		"sell_invoices":  sellCount,
		"buy_invoices":   buyCount,
		"total_revenue":  revenue,
		"total_vat_out":  vatOut,
		"total_purchase": purchase,
		"total_vat_in":   vatIn,
		"vat_payable":    vatOut - vatIn,
	}
}

func summarizeTrialBalance(vouchers []erpclient.Record, period string) store.JSONMap {
	var totalDebit, totalCredit float64
	for _, v := range vouchers {
		amt := rfloat(v, "amount")
		switch rstr(v, "voucher_type") {
		case string(store.VoucherSellInvoice), string(store.VoucherReceipt):
			totalDebit += amt
		default:
			totalCredit += amt
		}
	}
	return store.JSONMap{
		"period":        period,
		"total_debit":   totalDebit,
		"total_credit":  totalCredit,
		"balance":       totalDebit - totalCredit,
		"voucher_count": len(vouchers),
	}
}
