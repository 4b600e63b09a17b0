package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/openclaw/acct-agent/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// parseListOptions builds store.ListOptions from query params shared by
// every listing endpoint (spec.md §4.7): an equality filter per name in
// fields (using the query param's own name as the column name), plus
// limit/offset with the teacher's pagination defaults.
func parseListOptions(r *http.Request, fields ...string) store.ListOptions {
	q := r.URL.Query()
	opts := store.ListOptions{Limit: defaultListLimit}

	for _, f := range fields {
		if v := q.Get(f); v != "" {
			opts.Filters = append(opts.Filters, store.Filter{Field: f, Op: "=", Value: v})
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			if n > maxListLimit {
				n = maxListLimit
			}
			opts.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			opts.Offset = n
		}
	}
	if v := q.Get("order_by"); v != "" {
		opts.OrderBy = v
	}
	return opts
}

// ListContractProposals implements GET /agent/v1/contract/proposals.
func ListContractProposals(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := parseListOptions(r, "status", "case_id", "risk_level", "run_id")
		rows, err := st.ListContractProposals(r.Context(), opts)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": rows})
	}
}

// GetContractProposal implements GET /agent/v1/contract/proposals/{id}.
func GetContractProposal(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := st.GetContractProposal(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// ListJournalProposals implements GET /agent/v1/journal/proposals.
func ListJournalProposals(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := parseListOptions(r, "status", "voucher_id", "run_id")
		rows, err := st.ListJournalProposals(r.Context(), opts)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": rows})
	}
}

// GetJournalProposal implements GET /agent/v1/journal/proposals/{id},
// including its debit/credit lines.
func GetJournalProposal(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, lines, err := st.GetJournalProposal(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"proposal": p, "lines": lines})
	}
}

// ListVouchers implements GET /agent/v1/vouchers.
func ListVouchers(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := parseListOptions(r, "voucher_type", "source", "run_id", "classification_tag")
		rows, err := st.ListVouchers(r.Context(), opts)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": rows})
	}
}

// ListBankTransactions implements GET /agent/v1/bank-transactions.
func ListBankTransactions(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := parseListOptions(r, "bank_account", "match_status", "run_id")
		rows, err := st.ListBankTransactions(r.Context(), opts)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": rows})
	}
}

// ListValidationIssues implements GET /agent/v1/validation-issues.
func ListValidationIssues(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := parseListOptions(r, "severity", "resolution", "rule_code", "run_id")
		rows, err := st.ListValidationIssues(r.Context(), opts)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": rows})
	}
}

// ListReportSnapshots implements GET /agent/v1/reports.
func ListReportSnapshots(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := parseListOptions(r, "report_type", "period", "run_id")
		rows, err := st.ListReportSnapshots(r.Context(), opts)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": rows})
	}
}

// ListCashflowForecast implements GET /agent/v1/cashflow-forecast.
func ListCashflowForecast(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := parseListOptions(r, "direction", "source_type", "run_id")
		rows, err := st.ListCashflowForecast(r.Context(), opts)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": rows})
	}
}

// ListAudit implements GET /agent/v1/audit (spec.md §4.2: read-only,
// append-only log with no mutation endpoints on this interface).
func ListAudit(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := parseListOptions(r, "actor", "action", "subject_type", "subject_id")
		rows, err := st.ListAudit(r.Context(), opts)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": rows})
	}
}
