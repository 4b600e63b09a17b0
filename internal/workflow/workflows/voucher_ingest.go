package workflows

import (
	"context"
	"fmt"

	"github.com/openclaw/acct-agent/internal/store"
	"github.com/openclaw/acct-agent/internal/workflow"
)

// builtinFixtures mirrors the Python source's VN_FIXTURES demo documents
// (original_source src/openclaw_agent/flows/voucher_ingest.py), used when
// the ingest payload names no real source and no documents are supplied.
var builtinFixtures = []map[string]any{
	{
		"invoice_no":      "0000123",
		"issue_date":      "2025-01-15",
		"buyer_name":      "CONG TY CP XYZ",
		"buyer_tax_code":  "0318765432",
		"total_amount":    11_000_000.0,
		"currency":        "VND",
		"doc_type":        "invoice_vat",
		"description":     "Ban hang hoa theo hop dong 01/2025",
	},
	{
		"doc_no":      "PC0001",
		"issue_date":  "2025-01-20",
		"payee":       "Nguyen Van A",
		"description": "Chi tien tiep khach",
		"amount":      2_500_000.0,
		"currency":    "VND",
		"doc_type":    "cash_disbursement",
	},
	{
		"doc_no":      "PT0001",
		"issue_date":  "2025-01-22",
		"payer":       "Tran Thi B",
		"description": "Thu tien thanh toan hoa don",
		"amount":      5_000_000.0,
		"currency":    "VND",
		"doc_type":    "cash_receipt",
	},
}

func normalizeDocument(doc map[string]any) *store.Voucher {
	docType, _ := doc["doc_type"].(string)

	getStr := func(k string) string {
		v, _ := doc[k].(string)
		return v
	}
	getFloat := func(k string) float64 {
		switch n := doc[k].(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
		return 0
	}

	voucherNo := firstNonEmpty(getStr("invoice_no"), getStr("doc_no"))
	amount := getFloat("total_amount")
	if amount == 0 {
		amount = getFloat("amount")
	}

	var voucherType store.VoucherType
	var partnerName, partnerTaxCode string
	switch docType {
	case "invoice_vat":
		partnerName = firstNonEmpty(getStr("buyer_name"), getStr("seller_name"))
		partnerTaxCode = firstNonEmpty(getStr("buyer_tax_code"), getStr("seller_tax_code"))
		voucherType = store.VoucherSellInvoice
	case "cash_disbursement":
		partnerName = getStr("payee")
		voucherType = store.VoucherPayment
	case "cash_receipt":
		partnerName = getStr("payer")
		voucherType = store.VoucherReceipt
	default:
		partnerName = getStr("partner_name")
		partnerTaxCode = getStr("partner_tax_code")
		voucherType = store.VoucherOther
	}

	currency := getStr("currency")
	if currency == "" {
		currency = "VND"
	}

	return &store.Voucher{
		ID:             newID(),
		VoucherNo:      voucherNo,
		VoucherType:    voucherType,
		Date:           getStr("issue_date"),
		Amount:         amount,
		Currency:       currency,
		PartnerName:    partnerName,
		PartnerTaxCode: partnerTaxCode,
		Description:    getStr("description"),
		HasAttachment:  false,
		Source:         store.VoucherSourceBuiltinFixture,
		TypeHint:       docType,
		RawPayload:     store.JSONMap(doc),
	}
}

// documentsFromPayload implements spec.md §4.3's ingest fetch rule:
// documents come from {payload, builtin_fixtures, object_store drop path}.
// Only payload and the builtin set are wired here. A `file_uri` (what the
// object-store poller dispatches) is not read: a run whose payload lacks
// source "payload" ingests the builtin fixtures.
func documentsFromPayload(payload map[string]any) ([]map[string]any, string) {
	source, _ := payload["source"].(string)
	if source == "" {
		source = "builtin_fixtures"
	}
	if source == "payload" {
		if raw, ok := payload["documents"].([]any); ok {
			docs := make([]map[string]any, 0, len(raw))
			for _, d := range raw {
				if m, ok := d.(map[string]any); ok {
					docs = append(docs, m)
				}
			}
			return docs, source
		}
		return nil, source
	}
	return builtinFixtures, "builtin_fixtures"
}

// BuildVoucherIngest implements the voucher_ingest run_type (spec.md §4.3):
// normalize documents from {payload, builtin fixtures} into voucher rows,
// idempotent by (voucher_no, source).
func BuildVoucherIngest(d Deps) *workflow.Workflow {
	fetch := func(ctx context.Context, s workflow.State) workflow.State {
		payload, ok := workflow.Get[map[string]any](s, "payload")
		if !ok {
			payload = s
		}
		docs, source := documentsFromPayload(payload)
		return workflow.State{"documents": docs, "source": source, "has_data": len(docs) > 0}
	}

	guard := func(s workflow.State) bool {
		hasData, _ := workflow.Get[bool](s, "has_data")
		return !hasData
	}

	compute := func(ctx context.Context, s workflow.State) workflow.State {
		docs, _ := workflow.Get[[]map[string]any](s, "documents")
		source, _ := workflow.Get[string](s, "source")
		runID, _ := workflow.Get[string](s, "run_id")

		created, skipped := 0, 0
		for _, doc := range docs {
			v := normalizeDocument(doc)
			v.RunID = runID
			switch source {
			case "builtin_fixtures":
				v.Source = store.VoucherSourceBuiltinFixture
			case "payload":
				v.Source = store.VoucherSourcePayload
			default:
				v.Source = store.VoucherSourceOCRUpload
			}
			inserted, err := d.Store.InsertVoucherIfAbsent(ctx, v)
			if err != nil {
				return workflow.WithError(fmt.Sprintf("insert voucher %s: %v", v.VoucherNo, err))
			}
			if inserted {
				created++
			} else {
				skipped++
			}
		}

		return workflow.State{
			"flow_stats": map[string]any{
				"count_new_vouchers": created,
				"skipped_existing":   skipped,
				"total_documents":    len(docs),
			},
		}
	}

	return &workflow.Workflow{Name: "voucher_ingest", Fetch: fetch, Guard: guard, Compute: compute}
}
