package component

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fmzchao/studio/common/logger"
)

// Registry holds the process-global component set, registered once at
// startup
type Registry struct {
	mu         sync.RWMutex
	components map[string]Component
	log        *logger.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		components: make(map[string]Component),
		log:        log,
	}
}

// Register adds a component; duplicate ids are rejected
func (r *Registry) Register(c Component) error {
	if c.ID() == "" {
		return fmt.Errorf("component with empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.components[c.ID()]; exists {
		return fmt.Errorf("component already registered: %s", c.ID())
	}
	r.components[c.ID()] = c
	r.log.Debug("component registered", "component_id", c.ID())
	return nil
}

// Get returns the component for id
func (r *Registry) Get(id string) (Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[id]
	return c, ok
}

// List returns the registered component ids, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.components))
	for id := range r.components {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
