package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/acct-agent/internal/config"
	"github.com/openclaw/acct-agent/internal/store"
	"github.com/openclaw/acct-agent/internal/workflow"
)

func newTestDispatcher(t *testing.T, wf *workflow.Workflow) (*Dispatcher, store.Store) {
	t.Helper()
	st := store.NewMemStore()
	reg := workflow.NewRegistry()
	reg.Register(wf)
	d := New(st, reg, config.DispatchConfig{MaxAttempts: 3, RetryBaseSeconds: 0.01, RetryMaxSeconds: 0.02})
	return d, st
}

func insertQueuedRun(t *testing.T, st store.Store, runType string) *store.Run {
	t.Helper()
	run := &store.Run{
		ID:             "run-" + runType,
		RunType:        runType,
		TriggerType:    store.TriggerManual,
		Status:         store.RunQueued,
		IdempotencyKey: "idem-" + runType,
		CursorIn:       store.JSONMap{"seed": 1},
	}
	require.NoError(t, st.InsertRun(context.Background(), run))
	return run
}

func TestDispatch_SucceedsAndPersistsCursorOut(t *testing.T) {
	wf := &workflow.Workflow{
		Name: "always_ok",
		Fetch: func(ctx context.Context, s workflow.State) workflow.State {
			return s
		},
		Compute: func(ctx context.Context, s workflow.State) workflow.State {
			return workflow.State{"flow_stats": map[string]any{"ok": true}}
		},
	}
	d, st := newTestDispatcher(t, wf)
	run := insertQueuedRun(t, st, "always_ok")

	status, err := d.Dispatch(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunSuccess, status)

	persisted, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunSuccess, persisted.Status)
	assert.Equal(t, true, persisted.CursorOut["ok"])
	assert.NotNil(t, persisted.FinishedAt)
}

func TestDispatch_RetriesThenFails(t *testing.T) {
	attempts := 0
	wf := &workflow.Workflow{
		Name: "always_fails",
		Fetch: func(ctx context.Context, s workflow.State) workflow.State {
			return s
		},
		Compute: func(ctx context.Context, s workflow.State) workflow.State {
			attempts++
			return workflow.WithError("boom")
		},
	}
	d, st := newTestDispatcher(t, wf)
	run := insertQueuedRun(t, st, "always_fails")

	status, err := d.Dispatch(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, status)
	assert.Equal(t, 3, attempts)

	persisted, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, persisted.Status)
	assert.Equal(t, "boom", persisted.Stats["error"])
}

func TestDispatch_UnknownRunTypeFailsImmediately(t *testing.T) {
	d, st := newTestDispatcher(t, &workflow.Workflow{Name: "noop", Fetch: func(ctx context.Context, s workflow.State) workflow.State { return s }, Compute: func(ctx context.Context, s workflow.State) workflow.State { return s }})
	run := insertQueuedRun(t, st, "mystery_type")

	status, err := d.Dispatch(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, status)
}

func TestDispatch_AlreadyTerminalRunIsANoOp(t *testing.T) {
	wf := &workflow.Workflow{
		Name:  "never_called",
		Fetch: func(ctx context.Context, s workflow.State) workflow.State { return s },
		Compute: func(ctx context.Context, s workflow.State) workflow.State {
			t := s["unused"]
			_ = t
			panic("compute must not run for a terminal run")
		},
	}
	d, st := newTestDispatcher(t, wf)
	run := insertQueuedRun(t, st, "never_called")
	run.Status = store.RunSuccess
	require.NoError(t, st.UpdateRun(context.Background(), run))

	status, err := d.Dispatch(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunSuccess, status)
}

// TestDispatch_IdempotentRunCreation covers spec.md §8 property 1: creating
// a run twice with the same idempotency_key must not create two rows, and
// dispatching the resolved row is itself safe to call more than once.
func TestDispatch_IdempotentRunCreation(t *testing.T) {
	wf := &workflow.Workflow{
		Name:    "idem_flow",
		Fetch:   func(ctx context.Context, s workflow.State) workflow.State { return s },
		Compute: func(ctx context.Context, s workflow.State) workflow.State { return workflow.State{"flow_stats": map[string]any{"n": 1}} },
	}
	d, st := newTestDispatcher(t, wf)
	run := insertQueuedRun(t, st, "idem_flow")

	existing, err := st.FindRunByIdempotencyKey(context.Background(), run.IdempotencyKey)
	require.NoError(t, err)
	require.NotNil(t, existing)
	assert.Equal(t, run.ID, existing.ID)

	status1, err := d.Dispatch(context.Background(), run.ID)
	require.NoError(t, err)
	status2, err := d.Dispatch(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, status1, status2)
	assert.Equal(t, store.RunSuccess, status2)
}

func TestMemQueue_EnqueueDrivesDispatch(t *testing.T) {
	done := make(chan struct{})
	wf := &workflow.Workflow{
		Name:  "queued_flow",
		Fetch: func(ctx context.Context, s workflow.State) workflow.State { return s },
		Compute: func(ctx context.Context, s workflow.State) workflow.State {
			close(done)
			return workflow.State{}
		},
	}
	d, st := newTestDispatcher(t, wf)
	run := insertQueuedRun(t, st, "queued_flow")

	q := NewMemQueue(d, 2, 10)
	defer q.Close()

	require.NoError(t, q.Enqueue(context.Background(), run.ID))
	<-done
}
