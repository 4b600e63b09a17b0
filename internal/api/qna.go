package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/openclaw/acct-agent/internal/apperr"
	"github.com/openclaw/acct-agent/internal/store"
)

type qnaBody struct {
	Question string `json:"question"`
}

type qnaAnswer struct {
	Answer     string   `json:"answer"`
	UsedModels []string `json:"used_models,omitempty"`
}

var (
	periodRe      = regexp.MustCompile(`\b(20\d{2})[-/](\d{1,2})\b`)
	voucherNoRe   = regexp.MustCompile(`\b\d{4,}\b`)
	anomalyWords  = []string{"anomaly", "anomalies", "bất thường"}
	cashflowWords = []string{"cashflow", "cash flow", "dòng tiền"}
	journalWords  = []string{"why", "explain", "vì sao", "hạch toán"}
	voucherWords  = []string{"voucher", "vouchers", "chứng từ"}
)

// AnswerQuestion implements POST /agent/v1/qna: a small set of templated
// questions routed by keyword match (voucher counts, journal
// explanations, anomaly summaries, cashflow summaries), with a fallback
// for anything else. Grounded on the dispatcher-era idea of never
// failing a request outright — an unrecognized question still gets a
// 200 with a helpful answer, not a 400.
func AnswerQuestion(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body qnaBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, apperr.Validation("malformed request body: %v", err))
			return
		}
		question := strings.TrimSpace(body.Question)
		if question == "" {
			writeError(w, apperr.Validation("question is required"))
			return
		}

		ctx := r.Context()
		lower := strings.ToLower(question)

		var (
			answer *qnaAnswer
			err    error
		)
		switch {
		case containsAny(lower, journalWords) && voucherNoRe.MatchString(question):
			answer, err = answerJournalExplanation(ctx, st, voucherNoRe.FindString(question))
		case containsAny(lower, voucherWords):
			answer, err = answerVoucherCount(ctx, st, extractPeriod(question))
		case containsAny(lower, anomalyWords):
			answer, err = answerAnomalySummary(ctx, st)
		case containsAny(lower, cashflowWords):
			answer, err = answerCashflowSummary(ctx, st)
		default:
			answer = &qnaAnswer{Answer: "I can answer questions about voucher counts, journal entry reasoning, anomaly counts, and cashflow forecasts. Try rephrasing with one of those topics."}
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, answer)
	}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// extractPeriod pulls a YYYY-MM out of free text, defaulting to the
// current month when none is present.
func extractPeriod(question string) string {
	if m := periodRe.FindStringSubmatch(question); m != nil {
		month := m[2]
		if len(month) == 1 {
			month = "0" + month
		}
		return m[1] + "-" + month
	}
	return time.Now().Format("2006-01")
}

func answerVoucherCount(ctx context.Context, st store.Store, period string) (*qnaAnswer, error) {
	vouchers, err := st.ListVouchers(ctx, store.ListOptions{Limit: maxListLimit})
	if err != nil {
		return nil, err
	}
	count := 0
	for _, v := range vouchers {
		if strings.HasPrefix(v.Date, period) {
			count++
		}
	}
	return &qnaAnswer{
		Answer:     fmt.Sprintf("%d vouchers were ingested in %s.", count, period),
		UsedModels: []string{"Voucher"},
	}, nil
}

func answerJournalExplanation(ctx context.Context, st store.Store, voucherNo string) (*qnaAnswer, error) {
	vouchers, err := st.ListVouchers(ctx, store.ListOptions{Limit: maxListLimit, Filters: []store.Filter{{Field: "voucher_no", Op: "=", Value: voucherNo}}})
	if err != nil {
		return nil, err
	}
	var v *store.Voucher
	for _, candidate := range vouchers {
		if candidate.VoucherNo == voucherNo {
			v = candidate
			break
		}
	}
	if v == nil {
		return &qnaAnswer{Answer: fmt.Sprintf("No voucher numbered %s was found.", voucherNo)}, nil
	}

	proposals, err := st.ListJournalProposals(ctx, store.ListOptions{Limit: maxListLimit, Filters: []store.Filter{{Field: "voucher_id", Op: "=", Value: v.ID}}})
	if err != nil {
		return nil, err
	}
	var p *store.JournalProposal
	for _, candidate := range proposals {
		if candidate.VoucherID == v.ID {
			p = candidate
			break
		}
	}
	if p == nil {
		return &qnaAnswer{Answer: fmt.Sprintf("Voucher %s has no journal proposal yet.", voucherNo)}, nil
	}

	_, lines, err := st.GetJournalProposal(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	var legs []string
	for _, l := range lines {
		if l.Debit > 0 {
			legs = append(legs, fmt.Sprintf("debit %s (%s) %.0f", l.AccountCode, l.AccountName, l.Debit))
		} else {
			legs = append(legs, fmt.Sprintf("credit %s (%s) %.0f", l.AccountCode, l.AccountName, l.Credit))
		}
	}
	answer := fmt.Sprintf("Voucher %s (%s, %.0f %s) was suggested as: %s. %s (confidence %.2f)",
		voucherNo, v.VoucherType, v.Amount, v.Currency, strings.Join(legs, "; "), p.Reasoning, p.Confidence)
	return &qnaAnswer{Answer: answer, UsedModels: []string{"Voucher", "JournalProposal", "JournalLine"}}, nil
}

func answerAnomalySummary(ctx context.Context, st store.Store) (*qnaAnswer, error) {
	issues, err := st.ListValidationIssues(ctx, store.ListOptions{Limit: maxListLimit})
	if err != nil {
		return nil, err
	}
	open, critical := 0, 0
	for _, issue := range issues {
		if issue.Resolution == store.ResolutionOpen {
			open++
		}
		if issue.Severity == store.SeverityCritical {
			critical++
		}
	}
	return &qnaAnswer{
		Answer:     fmt.Sprintf("There are %d open validation issues, %d of them critical.", open, critical),
		UsedModels: []string{"ValidationIssue"},
	}, nil
}

func answerCashflowSummary(ctx context.Context, st store.Store) (*qnaAnswer, error) {
	rows, err := st.ListCashflowForecast(ctx, store.ListOptions{Limit: maxListLimit})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &qnaAnswer{Answer: "No cashflow forecast has been generated yet."}, nil
	}
	var inflow, outflow float64
	for _, row := range rows {
		switch row.Direction {
		case store.CashflowInflow:
			inflow += row.Amount
		case store.CashflowOutflow:
			outflow += row.Amount
		}
	}
	return &qnaAnswer{
		Answer:     fmt.Sprintf("Forecast projects %.0f inflow and %.0f outflow across %d rows, net %.0f.", inflow, outflow, len(rows), inflow-outflow),
		UsedModels: []string{"CashflowForecastRow"},
	}, nil
}
