package generate

import (
	"fmt"
	"sync"

	"storyloom/internal/domain"
)

// ProviderRegistry routes model requests to the provider that serves them.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

// NewProviderRegistry creates an empty provider registry
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider. Registration order matters for ForModel lookups
// when multiple providers claim a model.
func (r *ProviderRegistry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[p.Name()]; !exists {
		r.order = append(r.order, p.Name())
	}
	r.providers[p.Name()] = p
}

// Get returns the provider with the given name
func (r *ProviderRegistry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("provider %q: %w", name, domain.ErrNotFound)
	}
	return p, nil
}

// ForModel returns the first registered provider that supports the model
func (r *ProviderRegistry) ForModel(model string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		if p := r.providers[name]; p.SupportsModel(model) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no provider supports model %q: %w", model, domain.ErrNotFound)
}
