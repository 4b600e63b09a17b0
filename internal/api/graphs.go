package api

import (
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/openclaw/acct-agent/internal/apperr"
	"github.com/openclaw/acct-agent/internal/workflow"
)

// graphDescriptor mirrors a Workflow's fixed fetch -> guard -> compute ->
// end shape (spec.md §4.3) without exposing the Go closures themselves.
type graphDescriptor struct {
	Name  string   `json:"name"`
	Nodes []string `json:"nodes"`
}

func describe(name string, w *workflow.Workflow) graphDescriptor {
	nodes := []string{"fetch"}
	if w.Guard != nil {
		nodes = append(nodes, "guard")
	}
	nodes = append(nodes, "compute", "end")
	return graphDescriptor{Name: name, Nodes: nodes}
}

// ListGraphs implements GET /agent/v1/graphs (spec.md §4.7): every
// registered run_type's compiled DAG shape.
func ListGraphs(reg *workflow.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names := reg.Names()
		sort.Strings(names)
		out := make([]graphDescriptor, 0, len(names))
		for _, name := range names {
			wf, ok := reg.Get(name)
			if !ok {
				continue
			}
			out = append(out, describe(name, wf))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": out})
	}
}

// GetGraph implements GET /agent/v1/graphs/{name}.
func GetGraph(reg *workflow.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		wf, ok := reg.Get(name)
		if !ok {
			writeError(w, apperr.Validation("unknown graph %q", name))
			return
		}
		writeJSON(w, http.StatusOK, describe(name, wf))
	}
}
