package driver

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
)

// Registry maps every alias of a driver tag to one canonical model.DriverType
// and a Factory, the way the teacher's kernel dispatches on a closed set of
// tagged states via a map rather than a type switch or runtime class lookup.
type Registry struct {
	mu        sync.RWMutex
	aliases   map[string]model.DriverType
	factories map[model.DriverType]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		aliases:   make(map[string]model.DriverType),
		factories: make(map[model.DriverType]Factory),
	}
}

// Register associates a canonical driver tag and its aliases with a Factory.
// Called from each driver subpackage's init().
func (r *Registry) Register(canonical model.DriverType, aliases []string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[canonical] = factory
	r.aliases[normalizeTag(string(canonical))] = canonical
	for _, alias := range aliases {
		r.aliases[normalizeTag(alias)] = canonical
	}
}

// Resolve folds an arbitrary type-tag spelling to its canonical DriverType.
func (r *Registry) Resolve(tag string) (model.DriverType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	canonical, ok := r.aliases[normalizeTag(tag)]
	return canonical, ok
}

// Create resolves tag and constructs a fresh Driver instance. Returns
// model.ErrDriverNotImplemented wrapped with the tag when no factory is
// registered for the resolved canonical type.
func (r *Registry) Create(tag string) (Driver, error) {
	canonical, ok := r.Resolve(tag)
	if !ok {
		return nil, fmt.Errorf("unknown driver tag %q", tag)
	}

	r.mu.RLock()
	factory, ok := r.factories[canonical]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrDriverNotImplemented, canonical)
	}

	return factory(), nil
}

// RegisteredTypes returns every canonical driver type with a factory.
func (r *Registry) RegisteredTypes() []model.DriverType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]model.DriverType, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	return types
}

func normalizeTag(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	tag = strings.ReplaceAll(tag, "-", "")
	tag = strings.ReplaceAll(tag, "_", "")
	tag = strings.ReplaceAll(tag, "/", "")
	return tag
}

// Default is the process-wide registry every driver subpackage registers
// into from its init(). cmd/gateway blank-imports each driver subpackage so
// these init() calls run before engine startup.
var Default = NewRegistry()

// Register registers canonical/aliases/factory into the Default registry.
func Register(canonical model.DriverType, aliases []string, factory Factory) {
	Default.Register(canonical, aliases, factory)
}
