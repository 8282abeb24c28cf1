package registry

import (
	"sort"
	"sync"

	"github.com/arthur-debert/formulary/pkg/errors"
)

// LoadFunc produces the item for a name on a cache miss.
type LoadFunc[T any] func(name string) (T, error)

// entry is one name's slot. ready is closed once item or err is set.
type entry[T any] struct {
	ready chan struct{}
	item  T
	err   error
}

// Registry caches items by name. Concurrent loads of the same name share
// one call to the LoadFunc. Failed loads are not cached.
type Registry[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]
	load    LoadFunc[T]
}

// New creates a registry. load may be nil, in which case only registered
// items can be found.
func New[T any](load LoadFunc[T]) *Registry[T] {
	return &Registry[T]{
		entries: make(map[string]*entry[T]),
		load:    load,
	}
}

// Register stores item under name, replacing a cached or in-flight entry.
func (r *Registry[T]) Register(name string, item T) error {
	if name == "" {
		return errors.New(errors.ErrInvalidInput, "registry name cannot be empty")
	}
	e := &entry[T]{ready: make(chan struct{}), item: item}
	close(e.ready)

	r.mu.Lock()
	r.entries[name] = e
	r.mu.Unlock()
	return nil
}

// Get returns the item for name, loading it on first use.
func (r *Registry[T]) Get(name string) (T, error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		if r.load == nil {
			r.mu.Unlock()
			var zero T
			return zero, errors.Newf(errors.ErrNotFound, "%q is not registered", name)
		}
		e = &entry[T]{ready: make(chan struct{})}
		r.entries[name] = e
		r.mu.Unlock()

		e.item, e.err = r.load(name)
		if e.err != nil {
			r.mu.Lock()
			if r.entries[name] == e {
				delete(r.entries, name)
			}
			r.mu.Unlock()
		}
		close(e.ready)
	} else {
		r.mu.Unlock()
	}

	<-e.ready
	return e.item, e.err
}

// Cached reports whether name has a loaded item, without loading it.
func (r *Registry[T]) Cached(name string) bool {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return false
	}
	<-e.ready
	return e.err == nil
}

// Names lists the cached names, sorted.
func (r *Registry[T]) Names() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.Unlock()

	sort.Strings(names)
	return names
}
