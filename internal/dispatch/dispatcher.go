// Package dispatch implements the run dispatcher (spec.md §4.4): resolve a
// queued run's workflow, execute it, and transition the run to a terminal
// status, with retry/backoff on workflow or unexpected failure.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/openclaw/acct-agent/internal/apperr"
	"github.com/openclaw/acct-agent/internal/config"
	"github.com/openclaw/acct-agent/internal/logging"
	"github.com/openclaw/acct-agent/internal/metrics"
	"github.com/openclaw/acct-agent/internal/store"
	"github.com/openclaw/acct-agent/internal/workflow"
)

// Dispatcher resolves run_type -> *workflow.Workflow and drives one run
// through to a terminal status. Safe for concurrent use by multiple queue
// workers; each call opens its own logical unit of work against Store.
type Dispatcher struct {
	store    store.Store
	registry *workflow.Registry
	log      *slog.Logger

	maxAttempts      int
	retryBaseSeconds float64
	retryMaxSeconds  float64
}

func New(st store.Store, reg *workflow.Registry, cfg config.DispatchConfig) *Dispatcher {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	base, max := cfg.RetryBaseSeconds, cfg.RetryMaxSeconds
	if base <= 0 {
		base = 1
	}
	if max <= 0 {
		max = 30
	}
	return &Dispatcher{
		store:            st,
		registry:         reg,
		log:              logging.New("dispatch"),
		maxAttempts:      maxAttempts,
		retryBaseSeconds: base,
		retryMaxSeconds:  max,
	}
}

func backoffDelay(attempt int, base, max float64) time.Duration {
	raw := base * float64(int(1)<<uint(attempt-1))
	if raw > max {
		raw = max
	}
	jitter := 0.5 + rand.Float64()
	return time.Duration(raw * jitter * float64(time.Second))
}

// Dispatch implements spec.md §4.4's public contract: dispatch(run_id) ->
// terminal_status. It blocks for the lifetime of the run's retry loop; the
// caller (a queue worker) is expected to run it on its own goroutine.
func (d *Dispatcher) Dispatch(ctx context.Context, runID string) (store.RunStatus, error) {
	run, err := d.store.GetRun(ctx, runID)
	if err != nil {
		return "", apperr.Storage(err, "load run %s", runID)
	}

	if run.Status != store.RunQueued && run.Status != store.RunRunning {
		return run.Status, nil // no-op: already terminal
	}

	now := time.Now()
	run.Status = store.RunRunning
	run.StartedAt = &now
	if run.Stats == nil {
		run.Stats = store.JSONMap{}
	}
	if err := d.store.UpdateRun(ctx, run); err != nil {
		return "", apperr.Storage(err, "transition run %s to running", runID)
	}

	wf, ok := d.registry.Get(run.RunType)
	if !ok {
		return d.fail(ctx, run, fmt.Sprintf("unknown run_type %q", run.RunType), 0)
	}

	var lastErr string
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		run.Stats["attempts"] = attempt
		_ = d.store.UpdateRun(ctx, run)

		initial := workflow.State{"run_id": run.ID}
		for k, v := range run.CursorIn {
			initial[k] = v
		}

		final := wf.Run(ctx, initial)
		errs := final.Errors()
		if len(errs) == 0 {
			return d.succeed(ctx, run, final, attempt)
		}
		lastErr = errs[len(errs)-1]

		if attempt == d.maxAttempts {
			break
		}
		d.log.Warn("workflow attempt failed, retrying", "run_id", run.ID, "run_type", run.RunType, "attempt", attempt, "err", lastErr)
		select {
		case <-time.After(backoffDelay(attempt, d.retryBaseSeconds, d.retryMaxSeconds)):
		case <-ctx.Done():
			return d.fail(ctx, run, fmt.Sprintf("cancelled: %v", ctx.Err()), attempt)
		}
	}

	return d.fail(ctx, run, lastErr, d.maxAttempts)
}

func (d *Dispatcher) succeed(ctx context.Context, run *store.Run, final workflow.State, attempts int) (store.RunStatus, error) {
	now := time.Now()
	run.Status = store.RunSuccess
	run.FinishedAt = &now
	if stats, ok := workflow.Get[map[string]any](final, "flow_stats"); ok {
		run.CursorOut = store.JSONMap(stats)
		run.Stats["flow_stats"] = stats
	}
	run.Stats["attempts"] = attempts
	if err := d.store.UpdateRun(ctx, run); err != nil {
		return "", apperr.Storage(err, "persist success for run %s", run.ID)
	}
	metrics.RunsTotal.WithLabelValues(run.RunType, "success").Inc()
	metrics.RunAttempts.WithLabelValues(run.RunType).Observe(float64(attempts))
	return store.RunSuccess, nil
}

func (d *Dispatcher) fail(ctx context.Context, run *store.Run, reason string, attempts int) (store.RunStatus, error) {
	now := time.Now()
	run.Status = store.RunFailed
	run.FinishedAt = &now
	if run.Stats == nil {
		run.Stats = store.JSONMap{}
	}
	run.Stats["error"] = reason
	run.Stats["attempts"] = attempts
	if err := d.store.UpdateRun(ctx, run); err != nil {
		return "", apperr.Storage(err, "persist failure for run %s", run.ID)
	}
	d.log.Error("run failed", "run_id", run.ID, "run_type", run.RunType, "reason", reason)
	metrics.RunsTotal.WithLabelValues(run.RunType, "failed").Inc()
	if attempts > 0 {
		metrics.RunAttempts.WithLabelValues(run.RunType).Observe(float64(attempts))
	}
	return store.RunFailed, nil
}
