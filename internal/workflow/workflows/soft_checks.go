package workflows

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/openclaw/acct-agent/internal/erpclient"
	"github.com/openclaw/acct-agent/internal/store"
	"github.com/openclaw/acct-agent/internal/workflow"
)

const (
	ruleMissingAttachment = "MISSING_ATTACHMENT"
	ruleJournalImbalanced = "JOURNAL_IMBALANCED"
	ruleOverdueInvoice    = "OVERDUE_INVOICE"
	ruleDuplicateVoucher  = "DUPLICATE_VOUCHER"
)

type journalRecord struct {
	id          string
	debitTotal  float64
	creditTotal float64
}

func journalFromRecord(r erpclient.Record) journalRecord {
	return journalRecord{
		id:          firstNonEmpty(rstr(r, "journal_id"), rstr(r, "id")),
		debitTotal:  rfloat(r, "debit_total"),
		creditTotal: rfloat(r, "credit_total"),
	}
}

// evalSoftChecks runs the spec.md §4.3.2 rule table over one fetched
// batch, returning the issues raised and the total number of distinct
// (entity, rule) evaluations attempted (the scoring denominator).
func evalSoftChecks(vouchers []*store.Voucher, journals []erpclient.Record, invoices []erpclient.Record) ([]*store.ValidationIssue, int) {
	var issues []*store.ValidationIssue
	totalChecks := 0

	for _, v := range vouchers {
		totalChecks++
		if !v.HasAttachment {
			issues = append(issues, &store.ValidationIssue{
				ID:       newID(),
				RuleCode: ruleMissingAttachment,
				Severity: store.SeverityWarning,
				Message:  fmt.Sprintf("voucher %s has no supporting attachment", firstNonEmpty(v.VoucherNo, v.ID)),
				ERPRef:   v.VoucherNo,
			})
		}
	}

	for _, jr := range journals {
		totalChecks++
		j := journalFromRecord(jr)
		maxTotal := math.Max(j.debitTotal, j.creditTotal)
		if maxTotal > 0 && math.Abs(j.debitTotal-j.creditTotal) > 0.01*maxTotal {
			issues = append(issues, &store.ValidationIssue{
				ID:       newID(),
				RuleCode: ruleJournalImbalanced,
				Severity: store.SeverityError,
				Message:  fmt.Sprintf("journal %s is imbalanced: debit=%.2f credit=%.2f", j.id, j.debitTotal, j.creditTotal),
				ERPRef:   j.id,
			})
		}
	}

	cutoff := today()
	for _, inv := range invoices {
		totalChecks++
		status := rstr(inv, "status")
		due, ok := parseDate(rstr(inv, "due_date"))
		if status == "unpaid" && ok && due.Before(cutoff) {
			invID := firstNonEmpty(rstr(inv, "invoice_id"), rstr(inv, "id"))
			issues = append(issues, &store.ValidationIssue{
				ID:       newID(),
				RuleCode: ruleOverdueInvoice,
				Severity: store.SeverityWarning,
				Message:  fmt.Sprintf("invoice %s is unpaid and overdue since %s", invID, rstr(inv, "due_date")),
				ERPRef:   invID,
			})
		}
	}

	// DUPLICATE_VOUCHER: every pair of distinct vouchers sharing voucher_no
	// within the fetched set counts as one evaluated check and, if
	// triggered, one issue — deterministic ordering by id ascending.
	sorted := make([]*store.Voucher, len(vouchers))
	copy(sorted, vouchers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[i].VoucherNo == "" || sorted[i].VoucherNo != sorted[j].VoucherNo {
				continue
			}
			totalChecks++
			issues = append(issues, &store.ValidationIssue{
				ID:       newID(),
				RuleCode: ruleDuplicateVoucher,
				Severity: store.SeverityWarning,
				Message:  fmt.Sprintf("vouchers %s and %s share voucher_no %q", sorted[i].ID, sorted[j].ID, sorted[i].VoucherNo),
				ERPRef:   sorted[i].VoucherNo,
			})
		}
	}

	return issues, totalChecks
}

// BuildSoftChecks implements the soft_checks run_type (spec.md §4.3,
// §4.3.2).
func BuildSoftChecks(d Deps) *workflow.Workflow {
	fetch := func(ctx context.Context, s workflow.State) workflow.State {
		period, _ := workflow.Get[string](s, "period")

		vouchers, err := d.Store.ListVouchers(ctx, store.ListOptions{Limit: 1000})
		if err != nil {
			return workflow.WithError(fmt.Sprintf("list vouchers: %v", err))
		}
		journals, err := d.ERP.GetJournals(ctx, 0)
		if err != nil {
			return workflow.WithError(fmt.Sprintf("fetch journals: %v", err))
		}
		var invoices []erpclient.Record
		if period != "" {
			invoices, err = d.ERP.GetInvoices(ctx, period)
			if err != nil {
				return workflow.WithError(fmt.Sprintf("fetch invoices: %v", err))
			}
		}

		hasData := len(vouchers) > 0 || len(journals) > 0 || len(invoices) > 0
		return workflow.State{
			"vouchers": vouchers,
			"journals": journals,
			"invoices": invoices,
			"period":   period,
			"has_data": hasData,
		}
	}

	guard := func(s workflow.State) bool {
		hasData, _ := workflow.Get[bool](s, "has_data")
		return !hasData
	}

	compute := func(ctx context.Context, s workflow.State) workflow.State {
		vouchers, _ := workflow.Get[[]*store.Voucher](s, "vouchers")
		journals, _ := workflow.Get[[]erpclient.Record](s, "journals")
		invoices, _ := workflow.Get[[]erpclient.Record](s, "invoices")
		period, _ := workflow.Get[string](s, "period")
		runID, _ := workflow.Get[string](s, "run_id")

		issues, totalChecks := evalSoftChecks(vouchers, journals, invoices)
		for _, iss := range issues {
			iss.RunID = runID
			iss.Resolution = store.ResolutionOpen
		}

		if err := d.Store.InsertValidationIssues(ctx, issues); err != nil {
			return workflow.WithError(fmt.Sprintf("insert validation issues: %v", err))
		}

		passed := totalChecks - len(issues)
		score := 1.0
		if totalChecks > 0 {
			score = float64(passed) / float64(totalChecks)
		}

		warnings, errs := 0, 0
		for _, iss := range issues {
			switch iss.Severity {
			case store.SeverityWarning:
				warnings++
			case store.SeverityError, store.SeverityCritical:
				errs++
			}
		}

		result := &store.SoftCheckResult{
			ID:          newID(),
			Period:      period,
			TotalChecks: totalChecks,
			Passed:      passed,
			Warnings:    warnings,
			Errors:      errs,
			Score:       score,
			RunID:       runID,
		}
		if err := d.Store.InsertSoftCheckResult(ctx, result); err != nil {
			return workflow.WithError(fmt.Sprintf("insert soft check result: %v", err))
		}

		return workflow.State{
			"flow_stats": map[string]any{
				"total_checks": totalChecks,
				"issues_found": len(issues),
				"score":        score,
			},
		}
	}

	return &workflow.Workflow{Name: "soft_checks", Fetch: fetch, Guard: guard, Compute: compute}
}
