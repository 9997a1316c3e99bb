package cursor

import (
	"sort"
	"sync"
)

// Registry tracks the live cursors of the process by id, for diagnostics.
// Sessions register the cursors they open and unregister them on close.
type Registry struct {
	mu      sync.RWMutex
	cursors map[string]*Cursor
}

var defaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{cursors: make(map[string]*Cursor)}
}

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds c under its id.
func (r *Registry) Register(c *Cursor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors[c.id] = c
}

// Unregister removes the cursor with the given id. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cursors, id)
}

// Lookup returns the cursor with the given id.
func (r *Registry) Lookup(id string) (*Cursor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cursors[id]
	return c, ok
}

// Len returns the number of live cursors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cursors)
}

// IDs returns the ids of the live cursors, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.cursors))
	for id := range r.cursors {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
