package llm

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
)

// AdapterFactory builds the adapter for one provider from its config and API key.
type AdapterFactory func(p ProviderConfig, apiKey string) (Adapter, error)

// Registry maps model ids to provider adapters.
// Adapters are constructed on first use of their provider and then shared by every model of
// that provider, so a missing key only disables the provider it belongs to.
type Registry struct {
	catalog   *Catalog
	factory   AdapterFactory
	lookupEnv func(string) (string, bool)

	mu       sync.Mutex
	adapters map[string]Adapter
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithFactory replaces the default OpenAI-compatible adapter factory.
func WithFactory(f AdapterFactory) RegistryOption {
	return func(r *Registry) { r.factory = f }
}

// WithEnv replaces os.LookupEnv for credential lookup.
func WithEnv(lookup func(string) (string, bool)) RegistryOption {
	return func(r *Registry) { r.lookupEnv = lookup }
}

// NewRegistry creates a registry over catalog.
func NewRegistry(catalog *Catalog, opts ...RegistryOption) *Registry {
	r := &Registry{
		catalog:   catalog,
		lookupEnv: os.LookupEnv,
		adapters:  make(map[string]Adapter),
		factory: func(p ProviderConfig, apiKey string) (Adapter, error) {
			return NewOpenAIAdapter(p, apiKey, http.DefaultClient)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the adapter serving modelID.
// Fails with ErrUnsupportedModel for unknown ids and ErrMissingCredential when the provider
// has no API key configured.
func (r *Registry) Resolve(modelID string) (Adapter, ModelConfig, error) {
	model, ok := r.catalog.Model(modelID)
	if !ok {
		return nil, ModelConfig{}, fmt.Errorf("%w: %s", ErrUnsupportedModel, modelID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if adapter, exists := r.adapters[model.Provider]; exists {
		return adapter, model, nil
	}

	provider, ok := r.catalog.Provider(model.Provider)
	if !ok {
		return nil, model, fmt.Errorf("%w: provider %s for model %s", ErrUnsupportedModel, model.Provider, modelID)
	}

	apiKey, _ := r.lookupEnv(provider.APIKeyEnv)
	adapter, err := r.factory(provider, apiKey)
	if err != nil {
		// Not cached: the next request tries again.
		log.Printf("ERROR [AdapterRegistry] Failed to construct adapter for provider '%s': %v", provider.Name, err)
		return nil, model, err
	}

	r.adapters[provider.Name] = adapter
	log.Printf("[AdapterRegistry] Constructed adapter for provider: %s", provider.Name)
	return adapter, model, nil
}

// HasCredential reports whether the provider's API key variable is set and non-empty.
func (r *Registry) HasCredential(provider string) bool {
	p, ok := r.catalog.Provider(provider)
	if !ok {
		return false
	}
	v, ok := r.lookupEnv(p.APIKeyEnv)
	return ok && v != ""
}

// Models returns the catalog's models in declaration order.
func (r *Registry) Models() []ModelConfig {
	out := make([]ModelConfig, len(r.catalog.Models))
	copy(out, r.catalog.Models)
	return out
}

// Providers returns the catalog's providers in declaration order.
func (r *Registry) Providers() []ProviderConfig {
	out := make([]ProviderConfig, len(r.catalog.Providers))
	copy(out, r.catalog.Providers)
	return out
}
