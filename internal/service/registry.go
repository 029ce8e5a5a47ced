package service

import (
	"fmt"
	"sync"

	"github.com/taskfabric/taskfabric/internal/domain"
	"github.com/taskfabric/taskfabric/internal/domain/strategy"
	"github.com/taskfabric/taskfabric/internal/domain/task"
)

// taskEntry pairs a task with its own lock and completion signal, so
// independent tasks never contend with each other.
type taskEntry struct {
	mu   sync.Mutex
	t    *task.Task
	done chan struct{} // closed exactly once, when the task turns terminal
}

// RegistryService is the in-memory task table: the single source of truth
// for task state while a task is live. All mutations on one task happen
// under that task's own lock.
type RegistryService struct {
	mu    sync.RWMutex
	tasks map[string]*taskEntry
}

// NewRegistryService creates an empty task registry.
func NewRegistryService() *RegistryService {
	return &RegistryService{tasks: make(map[string]*taskEntry)}
}

// Add inserts a task. The task must have a unique ID.
func (s *RegistryService) Add(t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("task %s already registered: %w", t.ID, domain.ErrInvalidState)
	}
	s.tasks[t.ID] = &taskEntry{t: t, done: make(chan struct{})}
	return nil
}

func (s *RegistryService) entry(id string) (*taskEntry, error) {
	s.mu.RLock()
	e, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

// View returns the caller-facing snapshot of a task.
func (s *RegistryService) View(id string) (task.StatusView, error) {
	e, err := s.entry(id)
	if err != nil {
		return task.StatusView{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.t.View(), nil
}

// Update mutates a task under its lock. If the mutation moves the task to
// a terminal status, the done channel is closed to wake all waiters.
func (s *RegistryService) Update(id string, fn func(t *task.Task)) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	wasTerminal := e.t.Status.IsTerminal()
	fn(e.t)
	if !wasTerminal && e.t.Status.IsTerminal() {
		close(e.done)
	}
	return nil
}

// Done returns a channel closed when the task reaches a terminal status.
// This is the push-based completion signal batch execution waits on.
func (s *RegistryService) Done(id string) (<-chan struct{}, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	return e.done, nil
}

// Status returns the current status of a task without copying the rest.
func (s *RegistryService) Status(id string) (task.Status, error) {
	e, err := s.entry(id)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.t.Status, nil
}

// Snapshot returns a deep copy of the task, safe to hand to archival or
// serialization without holding the entry lock.
func (s *RegistryService) Snapshot(id string) (*task.Task, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cp := *e.t
	cp.Attempts = append([]task.Attempt(nil), e.t.Attempts...)
	cp.ModeHistory = append([]strategy.Mode(nil), e.t.ModeHistory...)
	cp.DependsOn = append([]string(nil), e.t.DependsOn...)
	if e.t.Context != nil {
		cp.Context = make(map[string]string, len(e.t.Context))
		for k, v := range e.t.Context {
			cp.Context[k] = v
		}
	}
	if e.t.Result != nil {
		r := *e.t.Result
		cp.Result = &r
	}
	return &cp, nil
}

// Len returns the number of registered tasks.
func (s *RegistryService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}
