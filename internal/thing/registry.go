package thing

import (
	"fmt"
	"slices"
	"sync"
)

// Registry holds the things served by one process, in registration order.
//
// All public methods are thread-safe.
type Registry struct {
	mu     sync.RWMutex
	things map[string]*Thing
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{things: make(map[string]*Thing)}
}

// Add registers t. Returns ErrThingExists for a duplicate ID.
func (r *Registry) Add(t *Thing) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.things[t.id]; exists {
		return fmt.Errorf("%w: %s", ErrThingExists, t.id)
	}
	r.things[t.id] = t
	r.order = append(r.order, t.id)
	return nil
}

// Get returns the thing with the given ID.
func (r *Registry) Get(id string) (*Thing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.things[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrThingNotFound, id)
	}
	return t, nil
}

// List returns all things in registration order.
func (r *Registry) List() []*Thing {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Thing, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.things[id])
	}
	return out
}

// Remove unregisters and closes the thing with the given ID.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	t, ok := r.things[id]
	if ok {
		delete(r.things, id)
		r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrThingNotFound, id)
	}
	t.Close()
	return nil
}

// Len returns the number of registered things.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.things)
}

// Close closes every registered thing in reverse registration order.
func (r *Registry) Close() {
	things := r.List()
	for i := len(things) - 1; i >= 0; i-- {
		things[i].Close()
	}
}
