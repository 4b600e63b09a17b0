package workflow

import "sync"

// Registry maps a run_type (spec.md §3) to its compiled Workflow —
// the Go counterpart of the Python source's SkillRegistry
// (openclaw_agent/kernel/registry.py).
type Registry struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
}

func NewRegistry() *Registry {
	return &Registry{workflows: make(map[string]*Workflow)}
}

func (r *Registry) Register(w *Workflow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[w.Name] = w
}

// Get returns (nil, false) for an unregistered run_type, which the
// dispatcher maps to a failed run with reason "unknown run_type"
// (spec.md §4.4 step 3).
func (r *Registry) Get(runType string) (*Workflow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workflows[runType]
	return w, ok
}

// Names lists every registered run_type, used by the GET /graphs
// introspection endpoint (spec.md §4.7).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.workflows))
	for n := range r.workflows {
		names = append(names, n)
	}
	return names
}
