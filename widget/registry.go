package widget

import (
	"sort"
	"sync"
)

// Registry tracks the live widgets by id.
type Registry struct {
	mu      sync.RWMutex
	widgets map[string]*Factory
}

func NewRegistry() *Registry {
	return &Registry{widgets: make(map[string]*Factory)}
}

// Add registers f and calls its OnCreate. It reports false if the id is
// taken.
func (r *Registry) Add(f *Factory) bool {
	r.mu.Lock()
	if _, ok := r.widgets[f.cfg.ID]; ok {
		r.mu.Unlock()
		return false
	}
	r.widgets[f.cfg.ID] = f
	r.mu.Unlock()

	f.OnCreate()
	return true
}

func (r *Registry) Get(id string) (*Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.widgets[id]
	return f, ok
}

// Remove unregisters the widget and calls its OnDestroy.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	f, ok := r.widgets[id]
	delete(r.widgets, id)
	r.mu.Unlock()

	if ok {
		f.OnDestroy()
	}
	return ok
}

// IDs returns the sorted ids of the live widgets.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.widgets))
	for id := range r.widgets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close destroys every widget.
func (r *Registry) Close() {
	for _, id := range r.IDs() {
		r.Remove(id)
	}
}
