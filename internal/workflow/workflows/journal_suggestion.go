package workflows

import (
	"context"
	"fmt"

	"github.com/openclaw/acct-agent/internal/erpclient"
	"github.com/openclaw/acct-agent/internal/store"
	"github.com/openclaw/acct-agent/internal/workflow"
)

// accountMapping is one entry of the simplified chart-of-accounts rule
// table (original_source src/openclaw_agent/flows/journal_suggestion.py:
// _ACCOUNT_MAP). Account names kept in Vietnamese, matching the teacher
// system's ledger.
type accountMapping struct {
	debitCode, debitName   string
	creditCode, creditName string
	baseConfidence         float64
}

var accountRuleTable = map[store.VoucherType]accountMapping{
	store.VoucherSellInvoice: {"131", "Phai thu khach hang", "511", "Doanh thu ban hang", 0.92},
	store.VoucherBuyInvoice:  {"621", "Chi phi NVL truc tiep", "331", "Phai tra nguoi ban", 0.88},
	store.VoucherReceipt:     {"111", "Tien mat", "131", "Phai thu khach hang", 0.95},
	store.VoucherPayment:     {"331", "Phai tra nguoi ban", "112", "Tien gui ngan hang", 0.90},
	store.VoucherOther:       {"642", "Chi phi QLDN", "111", "Tien mat", 0.55},
}

type classification struct {
	debitCode, debitName   string
	creditCode, creditName string
	confidence             float64
	reasoning              string
}

// classifyVoucher applies the rule table and lowers confidence when the
// voucher has no supporting attachment.
func classifyVoucher(v *store.Voucher) classification {
	mapping, ok := accountRuleTable[v.VoucherType]
	if !ok {
		mapping = accountRuleTable[store.VoucherOther]
	}
	confidence := mapping.baseConfidence
	if !v.HasAttachment {
		confidence *= 0.8
	}
	return classification{
		debitCode:  mapping.debitCode,
		debitName:  mapping.debitName,
		creditCode: mapping.creditCode,
		creditName: mapping.creditName,
		confidence: confidence,
		reasoning: fmt.Sprintf(
			"voucher type %q -> debit %s (%s), credit %s (%s); rule-based classification",
			v.VoucherType, mapping.debitCode, mapping.debitName, mapping.creditCode, mapping.creditName,
		),
	}
}

func voucherFromRecord(r erpclient.Record, runID string) *store.Voucher {
	erpID := firstNonEmpty(rstr(r, "voucher_id"), rstr(r, "erp_voucher_id"))
	currency := rstr(r, "currency")
	if currency == "" {
		currency = "VND"
	}
	return &store.Voucher{
		ID:            newID(),
		ERPVoucherID:  erpID,
		VoucherNo:     rstr(r, "voucher_no"),
		VoucherType:   store.VoucherType(firstNonEmpty(rstr(r, "voucher_type"), "other")),
		Date:          rstr(r, "date"),
		Amount:        rfloat(r, "amount"),
		Currency:      currency,
		PartnerName:   rstr(r, "partner_name"),
		Description:   rstr(r, "description"),
		HasAttachment: rbool(r, "has_attachment"),
		Source:        store.VoucherSourceERPX,
		RunID:         runID,
	}
}

// BuildJournalSuggestion implements the journal_suggestion run_type
// (spec.md §4.3): for each new voucher, mirror + classify by the rule
// table, then write a pending proposal with its debit/credit lines.
func BuildJournalSuggestion(d Deps) *workflow.Workflow {
	fetch := func(ctx context.Context, s workflow.State) workflow.State {
		vouchers, err := d.ERP.GetVouchers(ctx, 0)
		if err != nil {
			return workflow.WithError(fmt.Sprintf("fetch vouchers: %v", err))
		}
		return workflow.State{"vouchers": vouchers, "has_data": len(vouchers) > 0}
	}

	guard := func(s workflow.State) bool {
		hasData, _ := workflow.Get[bool](s, "has_data")
		return !hasData
	}

	compute := func(ctx context.Context, s workflow.State) workflow.State {
		records, _ := workflow.Get[[]erpclient.Record](s, "vouchers")
		runID, _ := workflow.Get[string](s, "run_id")

		created, skipped := 0, 0
		for _, rec := range records {
			v := voucherFromRecord(rec, runID)
			inserted, err := d.Store.InsertVoucherIfAbsent(ctx, v)
			if err != nil {
				return workflow.WithError(fmt.Sprintf("mirror voucher %s: %v", v.VoucherNo, err))
			}
			if !inserted {
				skipped++
				continue
			}

			cl := classifyVoucher(v)
			description := v.Description
			if description == "" {
				description = fmt.Sprintf("journal entry for %s", firstNonEmpty(v.VoucherNo, v.ERPVoucherID))
			}
			proposal := &store.JournalProposal{
				ID:          newID(),
				VoucherID:   v.ID,
				Description: description,
				Confidence:  cl.confidence,
				Reasoning:   cl.reasoning,
				Status:      store.JournalProposalPending,
				CreatedBy:   "system:journal_suggestion",
				RunID:       runID,
			}
			lines := []*store.JournalLine{
				{ID: newID(), AccountCode: cl.debitCode, AccountName: cl.debitName, Debit: v.Amount, Credit: 0},
				{ID: newID(), AccountCode: cl.creditCode, AccountName: cl.creditName, Debit: 0, Credit: v.Amount},
			}
			if err := d.Store.InsertJournalProposal(ctx, proposal, lines); err != nil {
				return workflow.WithError(fmt.Sprintf("insert proposal for voucher %s: %v", v.VoucherNo, err))
			}
			created++
		}

		return workflow.State{
			"flow_stats": map[string]any{
				"proposals_created": created,
				"skipped_existing":  skipped,
				"total_vouchers":    len(records),
			},
		}
	}

	return &workflow.Workflow{Name: "journal_suggestion", Fetch: fetch, Guard: guard, Compute: compute}
}
