package executor

import (
	"fmt"
	"sync"

	"github.com/taskfabric/taskfabric/internal/domain/strategy"
)

// Registry holds the executor for each execution mode.
type Registry struct {
	mu        sync.RWMutex
	executors map[strategy.Mode]Executor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[strategy.Mode]Executor)}
}

// Register installs the executor for a mode. Duplicate registration panics;
// executors are wired once at startup.
func (r *Registry) Register(mode strategy.Mode, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[mode]; exists {
		panic(fmt.Sprintf("executor: duplicate registration for mode %q", mode))
	}
	r.executors[mode] = e
}

// For returns the executor registered for the given mode.
func (r *Registry) For(mode strategy.Mode) (Executor, error) {
	r.mu.RLock()
	e, ok := r.executors[mode]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("executor: no executor for mode %q", mode)
	}
	return e, nil
}

// Modes returns all modes with a registered executor.
func (r *Registry) Modes() []strategy.Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	modes := make([]strategy.Mode, 0, len(r.executors))
	for m := range r.executors {
		modes = append(modes, m)
	}
	return modes
}
