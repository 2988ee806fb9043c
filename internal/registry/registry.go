// Package registry maps job function references to invocable
// handlers. The orchestration engine only depends on the Resolve
// interface; host applications decide how names are bound.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrFunctionNotFound is returned when a function reference cannot be
// resolved.
var ErrFunctionNotFound = errors.New("function not found")

// JobFunc is the callable form of a job. It receives the build's
// context (carrying the active execution for progress and log
// reporting) plus the resolved positional and keyword arguments, and
// returns the build's result value.
type JobFunc func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Registry resolves function references to callables.
type Registry interface {
	// Resolve maps a job's declared function reference to an invocable
	// handle, or fails with ErrFunctionNotFound.
	Resolve(name string) (JobFunc, error)
}

// Lister enumerates registered function names, for discovery and
// autocompletion surfaces.
type Lister interface {
	// Names returns all registered names, sorted.
	Names() []string
	// Autocomplete returns the registered names starting with prefix.
	Autocomplete(prefix string) []string
}

// MapRegistry is a thread-safe name-indexed Registry populated by the
// host application.
type MapRegistry struct {
	mu    sync.RWMutex
	funcs map[string]JobFunc
}

var (
	_ Registry = (*MapRegistry)(nil)
	_ Lister   = (*MapRegistry)(nil)
)

// NewMapRegistry returns an empty registry.
func NewMapRegistry() *MapRegistry {
	return &MapRegistry{funcs: make(map[string]JobFunc)}
}

// Register binds name to fn, replacing any previous binding.
func (r *MapRegistry) Register(name string, fn JobFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Resolve returns the function bound to name.
func (r *MapRegistry) Resolve(name string) (JobFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFunctionNotFound, name)
	}
	return fn, nil
}

// Names returns the registered function names, sorted.
func (r *MapRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Autocomplete returns the registered names starting with prefix.
func (r *MapRegistry) Autocomplete(prefix string) []string {
	var out []string
	for _, name := range r.Names() {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out
}
