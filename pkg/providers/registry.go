package providers

import (
	"sort"
	"sync"

	"github.com/openfroyo/froyodeploy/pkg/engine"
)

// Registry maps target kinds to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[engine.ProviderKind]Adapter
}

// NewRegistry creates a registry holding adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[engine.ProviderKind]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// DefaultRegistry holds the three built-in targets.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewContainerClusterAdapter(),
		NewVirtualMachineAdapter(),
		NewManagedPlatformAdapter(),
	)
}

// Register adds or replaces the adapter of a.Kind().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Kind()] = a
}

// For returns the adapter of kind. Unknown kinds are a ConfigValidationError.
func (r *Registry) For(kind engine.ProviderKind) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[kind]
	if !ok {
		return nil, invalid(kind, "no adapter for target %q", kind)
	}
	return a, nil
}

// Kinds lists the registered kinds in order.
func (r *Registry) Kinds() []engine.ProviderKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]engine.ProviderKind, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
