package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/acct-agent/internal/store"
)

func TestListVouchers_ReturnsInsertedItems(t *testing.T) {
	srv, st, _ := newTestRouter(t)
	defer srv.Close()

	_, err := st.InsertVoucherIfAbsent(context.Background(), &store.Voucher{ID: "v-1", VoucherNo: "1", Date: "2026-07-01"})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/agent/v1/vouchers")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string][]store.Voucher
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Len(t, out["items"], 1)
}

func TestListGraphs_ListsRegisteredWorkflow(t *testing.T) {
	srv, _, _ := newTestRouter(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/agent/v1/graphs")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string][]graphDescriptor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out["items"], 1)
	assert.Equal(t, "soft_checks", out["items"][0].Name)
}

func TestGetGraph_UnknownNameIs400(t *testing.T) {
	srv, _, _ := newTestRouter(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/agent/v1/graphs/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
