package metadata

import (
	"sort"
	"sync"
)

// Registry holds the current definitions by name.
type Registry struct {
	mu             sync.RWMutex
	types          map[string]*TypeDefinition
	conditionTypes []ConditionTypeDefinition
}

func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]*TypeDefinition),
	}
}

// GetType returns the type with the given name, or nil.
func (r *Registry) GetType(name string) *TypeDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[name]
}

// AllTypes returns all registered types sorted by name.
func (r *Registry) AllTypes() []*TypeDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]*TypeDefinition, 0, len(r.types))
	for _, t := range r.types {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })
	return types
}

// Definitions returns a snapshot of the registry content.
func (r *Registry) Definitions() *Definitions {
	types := r.AllTypes()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &Definitions{
		Types:          types,
		ConditionTypes: append([]ConditionTypeDefinition(nil), r.conditionTypes...),
	}
}

// Load replaces all definitions in the registry.
func (r *Registry) Load(defs *Definitions) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.types = make(map[string]*TypeDefinition, len(defs.Types))
	for _, t := range defs.Types {
		r.types[t.Name] = t
	}
	r.conditionTypes = append([]ConditionTypeDefinition(nil), defs.ConditionTypes...)
}

// Add registers or replaces one type.
func (r *Registry) Add(t *TypeDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[t.Name] = t
}
