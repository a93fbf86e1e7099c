// Package registry maps textual function references to callables
// registered at startup. Tasks and schedules store only the reference
// string; nothing is resolved by reflection or import machinery.
package registry

import (
	"context"
	"sync"

	"gorq/internal/domain"
)

// Func is a task body. Kwargs may be nil.
type Func func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Hook receives the completed task after it reaches a terminal state.
type Hook func(t domain.Task)

// Table is the capability table. Safe for concurrent use.
type Table struct {
	mu    sync.RWMutex
	funcs map[string]Func
	hooks map[string]Hook
}

func New() *Table {
	return &Table{funcs: make(map[string]Func), hooks: make(map[string]Hook)}
}

// Register binds a task function to a reference string, replacing any
// previous binding.
func (t *Table) Register(ref string, fn Func) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.funcs[ref] = fn
}

// RegisterHook binds a completion hook to a reference string.
func (t *Table) RegisterHook(ref string, h Hook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks[ref] = h
}

// Resolve returns the task function for ref, or a ResolutionError.
func (t *Table) Resolve(ref string) (Func, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.funcs[ref]
	if !ok {
		return nil, &domain.ResolutionError{Ref: ref}
	}
	return fn, nil
}

// ResolveHook returns the hook for ref, or a ResolutionError.
func (t *Table) ResolveHook(ref string) (Hook, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.hooks[ref]
	if !ok {
		return nil, &domain.ResolutionError{Ref: ref}
	}
	return h, nil
}
