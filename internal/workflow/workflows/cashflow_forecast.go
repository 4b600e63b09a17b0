package workflows

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/openclaw/acct-agent/internal/erpclient"
	"github.com/openclaw/acct-agent/internal/store"
	"github.com/openclaw/acct-agent/internal/workflow"
)

const forecastHorizonDays = 30

// BuildCashflowForecast implements the cashflow_forecast run_type
// (spec.md §4.3): project 30-day inflow/outflow from unpaid-invoice due
// dates, plus recurring-counterparty detection from recent bank txs
// (original_source src/openclaw_agent/flows/cashflow_forecast.py).
func BuildCashflowForecast(d Deps) *workflow.Workflow {
	fetch := func(ctx context.Context, s workflow.State) workflow.State {
		period, _ := workflow.Get[string](s, "period")
		invoices, err := d.ERP.GetInvoices(ctx, period)
		if err != nil {
			return workflow.WithError(fmt.Sprintf("fetch invoices: %v", err))
		}
		bankTxs, err := d.ERP.GetBankTransactions(ctx, 0)
		if err != nil {
			return workflow.WithError(fmt.Sprintf("fetch bank transactions: %v", err))
		}
		return workflow.State{
			"invoices": invoices,
			"bank_txs": bankTxs,
			"has_data": len(invoices)+len(bankTxs) > 0,
		}
	}

	guard := func(s workflow.State) bool {
		hasData, _ := workflow.Get[bool](s, "has_data")
		return !hasData
	}

	compute := func(ctx context.Context, s workflow.State) workflow.State {
		invoices, _ := workflow.Get[[]erpclient.Record](s, "invoices")
		bankTxs, _ := workflow.Get[[]erpclient.Record](s, "bank_txs")
		runID, _ := workflow.Get[string](s, "run_id")

		rows := buildCashflowRows(invoices, bankTxs, runID)
		if err := d.Store.ReplaceCashflowForecast(ctx, runID, rows); err != nil {
			return workflow.WithError(fmt.Sprintf("replace cashflow forecast: %v", err))
		}

		var totalIn, totalOut float64
		for _, r := range rows {
			if r.Direction == store.CashflowInflow {
				totalIn += r.Amount
			} else {
				totalOut += r.Amount
			}
		}

		return workflow.State{
			"flow_stats": map[string]any{
				"forecast_items": len(rows),
				"total_inflow":   totalIn,
				"total_outflow":  totalOut,
				"net":            totalIn - totalOut,
				"horizon_days":   forecastHorizonDays,
			},
		}
	}

	return &workflow.Workflow{Name: "cashflow_forecast", Fetch: fetch, Guard: guard, Compute: compute}
}

func buildCashflowRows(invoices, bankTxs []erpclient.Record, runID string) []*store.CashflowForecastRow {
	cutoff := today().AddDate(0, 0, forecastHorizonDays)
	now := today()
	var rows []*store.CashflowForecastRow

	for _, inv := range invoices {
		if rstr(inv, "status") != "unpaid" {
			continue
		}
		due, ok := parseDate(rstr(inv, "due_date"))
		if !ok || due.After(cutoff) {
			continue
		}
		forecastDate := due
		if now.After(due) {
			forecastDate = now
		}

		invType := firstNonEmpty(rstr(inv, "type"), rstr(inv, "invoice_type"), "sell")
		direction, sourceType := store.CashflowOutflow, store.CashflowSourcePayable
		if isSellSide(invType) {
			direction, sourceType = store.CashflowInflow, store.CashflowSourceReceivable
		}

		confidence := 0.6
		if !now.After(due) {
			confidence = 0.8
		}

		rows = append(rows, &store.CashflowForecastRow{
			ID:           newID(),
			ForecastDate: forecastDate.Format("2006-01-02"),
			Direction:    direction,
			Amount:       rfloat(inv, "amount"),
			Currency:     firstNonEmpty(rstr(inv, "currency"), "VND"),
			SourceType:   sourceType,
			SourceRef:    firstNonEmpty(rstr(inv, "invoice_id"), rstr(inv, "id")),
			Confidence:   confidence,
			RunID:        runID,
		})
	}

	rows = append(rows, recurringForecastRows(bankTxs, runID, now)...)
	return rows
}

// recurringForecastRows implements the Python source's recurrence
// heuristic (flows/cashflow_forecast.py): group bank txs by counterparty,
// and when the same rounded amount recurs two or more times, project one
// more occurrence 15 days out.
func recurringForecastRows(bankTxs []erpclient.Record, runID string, now time.Time) []*store.CashflowForecastRow {
	type bucket struct {
		counterparty string
		rounded      float64
	}
	counts := map[bucket]int{}
	for _, tx := range bankTxs {
		cp := firstNonEmpty(rstr(tx, "counterparty"), rstr(tx, "memo"), "unknown")
		amt := rfloat(tx, "amount")
		counts[bucket{counterparty: cp, rounded: math.Round(amt)}]++
	}

	// Deterministic iteration order for reproducible forecasts.
	keys := make([]bucket, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].counterparty != keys[j].counterparty {
			return keys[i].counterparty < keys[j].counterparty
		}
		return keys[i].rounded < keys[j].rounded
	})

	var rows []*store.CashflowForecastRow
	for _, k := range keys {
		if counts[k] < 2 || k.rounded == 0 {
			continue
		}
		direction := store.CashflowOutflow
		if k.rounded > 0 {
			direction = store.CashflowInflow
		}
		ref := k.counterparty
		if len(ref) > 128 {
			ref = ref[:128]
		}
		rows = append(rows, &store.CashflowForecastRow{
			ID:           newID(),
			ForecastDate: now.AddDate(0, 0, 15).Format("2006-01-02"),
			Direction:    direction,
			Amount:       math.Abs(k.rounded),
			Currency:     "VND",
			SourceType:   store.CashflowSourceRecurring,
			SourceRef:    ref,
			Confidence:   0.5,
			RunID:        runID,
		})
	}
	return rows
}
