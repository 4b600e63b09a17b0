package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/acct-agent/internal/approval"
	"github.com/openclaw/acct-agent/internal/config"
	"github.com/openclaw/acct-agent/internal/store"
	"github.com/openclaw/acct-agent/internal/workflow"
)

type recordingQueue struct {
	enqueued []string
}

func (q *recordingQueue) Enqueue(ctx context.Context, runID string) error {
	q.enqueued = append(q.enqueued, runID)
	return nil
}
func (q *recordingQueue) Close() error { return nil }

func newTestRouter(t *testing.T) (*httptest.Server, store.Store, *recordingQueue) {
	t.Helper()
	st := store.NewMemStore()
	reg := workflow.NewRegistry()
	reg.Register(&workflow.Workflow{
		Name:    "soft_checks",
		Fetch:   func(ctx context.Context, s workflow.State) workflow.State { return s },
		Compute: func(ctx context.Context, s workflow.State) workflow.State { return s },
	})
	q := &recordingQueue{}
	eng := approval.New(st)

	router := NewRouter(Deps{
		Store:    st,
		Queue:    q,
		Registry: reg,
		Approval: eng,
		Auth:     config.AuthConfig{Mode: "none"},
	})
	return httptest.NewServer(router), st, q
}

func TestCreateRun_UnknownRunType400(t *testing.T) {
	srv, _, _ := newTestRouter(t)
	defer srv.Close()

	body, _ := json.Marshal(map[string]any{"run_type": "nope", "payload": map[string]any{}})
	resp, err := http.Post(srv.URL+"/agent/v1/runs", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateRun_IdempotentReplaySamePayload(t *testing.T) {
	srv, _, q := newTestRouter(t)
	defer srv.Close()

	body, _ := json.Marshal(map[string]any{"run_type": "soft_checks", "payload": map[string]any{"period": "2026-07"}})

	req1, _ := http.NewRequest(http.MethodPost, srv.URL+"/agent/v1/runs", bytes.NewReader(body))
	req1.Header.Set("Idempotency-Key", "fixed-key")
	resp1, err := http.DefaultClient.Do(req1)
	require.NoError(t, err)
	var out1 map[string]any
	require.NoError(t, json.NewDecoder(resp1.Body).Decode(&out1))
	resp1.Body.Close()
	assert.Equal(t, http.StatusOK, resp1.StatusCode)

	req2, _ := http.NewRequest(http.MethodPost, srv.URL+"/agent/v1/runs", bytes.NewReader(body))
	req2.Header.Set("Idempotency-Key", "fixed-key")
	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	var out2 map[string]any
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&out2))
	resp2.Body.Close()

	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, out1["run_id"], out2["run_id"])
	assert.Len(t, q.enqueued, 1, "second replay must not enqueue a duplicate run")
}

func TestCreateRun_IdempotencyConflictDifferentPayload(t *testing.T) {
	srv, _, _ := newTestRouter(t)
	defer srv.Close()

	body1, _ := json.Marshal(map[string]any{"run_type": "soft_checks", "payload": map[string]any{"period": "2026-07"}})
	req1, _ := http.NewRequest(http.MethodPost, srv.URL+"/agent/v1/runs", bytes.NewReader(body1))
	req1.Header.Set("Idempotency-Key", "shared-key")
	resp1, err := http.DefaultClient.Do(req1)
	require.NoError(t, err)
	resp1.Body.Close()
	require.Equal(t, http.StatusOK, resp1.StatusCode)

	body2, _ := json.Marshal(map[string]any{"run_type": "soft_checks", "payload": map[string]any{"period": "2026-06"}})
	req2, _ := http.NewRequest(http.MethodPost, srv.URL+"/agent/v1/runs", bytes.NewReader(body2))
	req2.Header.Set("Idempotency-Key", "shared-key")
	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusConflict, resp2.StatusCode)
}

func TestGetRun_ReturnsPersistedRun(t *testing.T) {
	srv, st, _ := newTestRouter(t)
	defer srv.Close()

	run := &store.Run{ID: "run-1", RunType: "soft_checks", Status: store.RunQueued, IdempotencyKey: "k1"}
	require.NoError(t, st.InsertRun(context.Background(), run))

	resp, err := http.Get(srv.URL + "/agent/v1/runs/run-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out store.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "run-1", out.ID)
}
