package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAgentServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *AgentClient) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	return srv, NewAgentClient(srv.URL, "")
}

func TestFireCronJobs_FiresDueJobAndReschedules(t *testing.T) {
	var requests []map[string]any
	srv, agent := newTestAgentServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		requests = append(requests, body)
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
		w.WriteHeader(http.StatusOK)
	})
	_ = srv

	now := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	jobs, err := newCronJobs(map[string]ScheduleConfig{
		"nightly_soft_checks": {Cron: "0 2 * * *", RunType: "soft_checks", Payload: map[string]any{"as_of": "today"}},
	}, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	fireCronJobs(context.Background(), agent, jobs, now, noopLogger())

	require.Len(t, requests, 1)
	assert.Equal(t, "soft_checks", requests[0]["run_type"])
	assert.Equal(t, "schedule", requests[0]["trigger_type"])

	assert.True(t, jobs[0].nextFire.After(now))
}

func TestFireCronJobs_SkipsNotYetDueJob(t *testing.T) {
	var calls int
	_, agent := newTestAgentServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	now := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)
	jobs, err := newCronJobs(map[string]ScheduleConfig{
		"monthly_tax_report": {Cron: "0 2 1 * *", RunType: "tax_report"},
	}, now)
	require.NoError(t, err)

	fireCronJobs(context.Background(), agent, jobs, now, noopLogger())
	assert.Zero(t, calls)
}

func TestNewCronJobs_SkipsDisabled(t *testing.T) {
	disabled := false
	jobs, err := newCronJobs(map[string]ScheduleConfig{
		"off": {Cron: "0 2 * * *", RunType: "x", Enabled: &disabled},
	}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
