package workflows

import (
	"context"
	"fmt"
	"strings"

	"github.com/openclaw/acct-agent/internal/store"
	"github.com/openclaw/acct-agent/internal/workflow"
)

// classifyResult carries one item's outcome back out of the mapper — a
// bare error return can't be fanned in from concurrent goroutines without
// a wrapper.
type classifyResult struct {
	tagged bool
	err    error
}

// classificationTag derives a free-text tag from (voucher_type, type_hint,
// description) — spec.md §4.3's voucher_classify rule. Kept deliberately
// small; it augments journal_suggestion's debit/credit mapping rather than
// replacing it.
func classificationTag(v *store.Voucher) string {
	desc := strings.ToLower(v.Description)
	switch {
	case strings.Contains(desc, "luong") || strings.Contains(desc, "salary"):
		return "payroll"
	case strings.Contains(desc, "thue") || strings.Contains(desc, "tax") || strings.Contains(desc, "vat"):
		return "tax"
	case v.TypeHint == "invoice_vat":
		return "trade_invoice"
	case v.TypeHint == "cash_disbursement":
		return "disbursement"
	case v.TypeHint == "cash_receipt":
		return "receipt"
	default:
		return string(v.VoucherType)
	}
}

// BuildVoucherClassify implements the voucher_classify run_type: assigns a
// classification_tag to every fetched voucher mirror.
func BuildVoucherClassify(d Deps) *workflow.Workflow {
	fetch := func(ctx context.Context, s workflow.State) workflow.State {
		vouchers, err := d.Store.ListVouchers(ctx, store.ListOptions{Limit: 500})
		if err != nil {
			return workflow.WithError(fmt.Sprintf("list vouchers: %v", err))
		}
		return workflow.State{"vouchers": vouchers, "has_data": len(vouchers) > 0}
	}

	guard := func(s workflow.State) bool {
		hasData, _ := workflow.Get[bool](s, "has_data")
		return !hasData
	}

	compute := func(ctx context.Context, s workflow.State) workflow.State {
		vouchers, _ := workflow.Get[[]*store.Voucher](s, "vouchers")

		items := make([]any, len(vouchers))
		for i, v := range vouchers {
			items[i] = v
		}

		// Per-item classification, run through the pooled mapper when
		// UseParallelMap is set (SPEC_FULL.md §9): each item's write is
		// independent of every other, so fan-out is safe.
		results := mapperFor(d.Config).Map(items, func(item any) any {
			v := item.(*store.Voucher)
			tag := classificationTag(v)
			if tag == v.ClassificationTag {
				return classifyResult{}
			}
			if err := d.Store.UpdateVoucherClassification(ctx, v.ID, tag); err != nil {
				return classifyResult{err: fmt.Errorf("classify voucher %s: %w", v.ID, err)}
			}
			return classifyResult{tagged: true}
		})

		tagged := 0
		for _, r := range results {
			res := r.(classifyResult)
			if res.err != nil {
				return workflow.WithError(res.err.Error())
			}
			if res.tagged {
				tagged++
			}
		}
		return workflow.State{"flow_stats": map[string]any{"vouchers_tagged": tagged, "total_vouchers": len(vouchers)}}
	}

	return &workflow.Workflow{Name: "voucher_classify", Fetch: fetch, Guard: guard, Compute: compute}
}
