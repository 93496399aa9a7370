// Package registry implements the Schema Registry, §4.I: the process-
// owned holder of the live entity and configuration vectors, replaced
// atomically by the coordinator and read by everything else through a
// single-writer/many-reader lock. The lock discipline generalizes the
// teacher's dialect registry (internal/dialect.RegisterDialect/
// GetDialect, a sync.RWMutex guarding a map) from an open map of
// generators to an ordered pair of entity/config vectors.
package registry

import (
	"sync"

	"contentd/internal/entities"
	"contentd/internal/errs"
	"contentd/internal/loader"
)

// Registry owns the live entity and configuration vectors.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*entities.Entity
	order    []string // entity ids in declaration order, for Enumerate
	configs  map[string]*loader.Configuration
}

// New builds an empty Registry. Replace must be called to populate it.
func New() *Registry {
	return &Registry{
		entities: map[string]*entities.Entity{},
		configs:  map[string]*loader.Configuration{},
	}
}

// Replace performs whole-vector replacement under the write lock. This
// is the only mutating entry point, restricted by convention to the
// hot-reload coordinator.
func (r *Registry) Replace(ents []*entities.Entity, configs []*loader.Configuration) error {
	if err := entities.ValidateSet(ents); err != nil {
		return errs.New(errs.Conflict, err.Error(), nil)
	}

	entMap := make(map[string]*entities.Entity, len(ents))
	order := make([]string, 0, len(ents))
	for _, e := range ents {
		entMap[e.ID] = e
		order = append(order, e.ID)
	}
	cfgMap := make(map[string]*loader.Configuration, len(configs))
	for _, c := range configs {
		cfgMap[c.ID] = c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities = entMap
	r.order = order
	r.configs = cfgMap
	return nil
}

// Entity looks up an entity by id. Readers take a short-lived shared
// guard; this call never suspends.
func (r *Registry) Entity(id string) (*entities.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "unknown entity "+id, nil)
	}
	return e, nil
}

// Entities enumerates all entities in declaration order.
func (r *Registry) Entities() []*entities.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entities.Entity, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entities[id])
	}
	return out
}

// Configuration looks up a configuration by id.
func (r *Registry) Configuration(id string) (*loader.Configuration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.configs[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "unknown configuration "+id, nil)
	}
	return c, nil
}

// ConfigString, ConfigBool, ConfigInt, ConfigFloat extract a typed
// value at a dotted path within configuration id, per §4.I.
func (r *Registry) ConfigString(id, path string) (string, error) {
	c, err := r.Configuration(id)
	if err != nil {
		return "", err
	}
	return c.GetString(path)
}

func (r *Registry) ConfigBool(id, path string) (bool, error) {
	c, err := r.Configuration(id)
	if err != nil {
		return false, err
	}
	return c.GetBool(path)
}

func (r *Registry) ConfigInt(id, path string) (int, error) {
	c, err := r.Configuration(id)
	if err != nil {
		return 0, err
	}
	return c.GetInt(path)
}

func (r *Registry) ConfigFloat(id, path string) (float64, error) {
	c, err := r.Configuration(id)
	if err != nil {
		return 0, err
	}
	return c.GetFloat(path)
}

// EntityCount and ConfigCount back the count-check bootstrap, §4.I.
func (r *Registry) EntityCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

func (r *Registry) ConfigCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.configs)
}

// NeedsBootstrapReload implements the count-check bootstrap: compares
// the number of declaration files on disk (onDiskEntities +
// onDiskConfigs) to the in-memory vector sizes, forcing a full reload
// on any mismatch (new instance, restored backup, migrated data).
func (r *Registry) NeedsBootstrapReload(onDiskEntities, onDiskConfigs int) bool {
	return onDiskEntities != r.EntityCount() || onDiskConfigs != r.ConfigCount()
}
