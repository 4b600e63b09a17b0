// Package workflow is the always-on DAG engine replacing the Python
// source's optional LangGraph-style "graph" runtime (SPEC_FULL.md §9:
// "the fallback is the spec" — there is no conditional-import branch
// here, sequential execution is simply how this engine works).
//
// Every workflow has the fixed shape fetch -> guard -> compute -> end
// (spec.md §4.3). Node bodies are pure functions State -> State; the
// engine merges partial state and never panics out to the caller —
// node-level failures are recorded into state["errors"] instead.
package workflow

import (
	"context"
	"fmt"
)

// Node is one step of a workflow's DAG.
type Node func(ctx context.Context, s State) State

// Guard inspects state and decides whether the graph should short-circuit
// straight to end (spec.md §4.3: "guard conditionally routes to end when
// fetched data is empty").
type Guard func(s State) (shouldEnd bool)

// Workflow is a compiled fetch -> guard -> compute -> end DAG.
type Workflow struct {
	Name    string
	Fetch   Node
	Guard   Guard
	Compute Node
}

// Run executes the workflow's fixed shape, merging each node's partial
// state into the state it was given, so keys of the initial state (such as
// run_id) stay visible to Compute. A panic in any node is recovered here
// and recorded into state["errors"], so a single workflow bug cannot crash
// the dispatcher's worker goroutine. The engine has no store dependency and
// opens no DB transaction; each store call a Compute node makes commits on
// its own.
func (w *Workflow) Run(ctx context.Context, initial State) (final State) {
	defer func() {
		if r := recover(); r != nil {
			final = initial.Merge(WithError(fmt.Sprintf("panic in workflow %s: %v", w.Name, r)))
		}
	}()

	state := initial.Merge(w.Fetch(ctx, initial))
	if len(state.Errors()) > 0 {
		return state
	}
	if w.Guard != nil && w.Guard(state) {
		return state
	}
	state = state.Merge(w.Compute(ctx, state))
	return state
}
