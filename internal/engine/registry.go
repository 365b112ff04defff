package engine

import (
	"sync"

	"github.com/docflowio/docflow/orchestration"
)

// Registry holds the registered workflow programs and activity
// implementations. Registration happens at wiring time, before the
// runtime starts taking work; lookups happen on every turn.
type Registry struct {
	mu         sync.RWMutex
	programs   map[string]orchestration.Program
	activities map[string]orchestration.ActivityFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		programs:   make(map[string]orchestration.Program),
		activities: make(map[string]orchestration.ActivityFunc),
	}
}

// RegisterWorkflow registers a program under the given name. A second
// registration for the same name replaces the first.
func (r *Registry) RegisterWorkflow(name string, program orchestration.Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.programs[name] = program
}

// RegisterActivity registers an activity implementation under the given
// name.
func (r *Registry) RegisterActivity(name string, fn orchestration.ActivityFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities[name] = fn
}

// Program returns the program registered under name.
func (r *Registry) Program(name string) (orchestration.Program, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.programs[name]
	return p, ok
}

// Activity returns the activity implementation registered under name.
func (r *Registry) Activity(name string) (orchestration.ActivityFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.activities[name]
	return fn, ok
}
