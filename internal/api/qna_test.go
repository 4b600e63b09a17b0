package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/acct-agent/internal/store"
)

func postQuestion(t *testing.T, baseURL, question string) qnaAnswer {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"question": question})
	resp, err := http.Post(baseURL+"/agent/v1/qna", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out qnaAnswer
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestAnswerQuestion_VoucherCount(t *testing.T) {
	srv, st, _ := newTestRouter(t)
	defer srv.Close()

	_, err := st.InsertVoucherIfAbsent(context.Background(), &store.Voucher{
		ID: "v-1", VoucherNo: "0000123", Date: "2026-07-15", VoucherType: store.VoucherSellInvoice,
	})
	require.NoError(t, err)

	out := postQuestion(t, srv.URL, "How many vouchers were ingested in 2026-07?")
	assert.Contains(t, out.Answer, "1 vouchers")
}

func TestAnswerQuestion_EmptyQuestionIsRejected(t *testing.T) {
	srv, _, _ := newTestRouter(t)
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"question": ""})
	resp, err := http.Post(srv.URL+"/agent/v1/qna", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnswerQuestion_FallbackForUnknownQuestion(t *testing.T) {
	srv, _, _ := newTestRouter(t)
	defer srv.Close()

	out := postQuestion(t, srv.URL, "What's the weather like today?")
	assert.NotEmpty(t, out.Answer)
}

func TestAnswerQuestion_CashflowSummaryNoData(t *testing.T) {
	srv, _, _ := newTestRouter(t)
	defer srv.Close()

	out := postQuestion(t, srv.URL, "Summarize the cashflow forecast")
	assert.Contains(t, out.Answer, "No cashflow forecast")
}
