package ai

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownProvider is returned when no adapter is registered under an id.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrUnsupportedModel is returned when the adapter does not serve a model.
	ErrUnsupportedModel = errors.New("unsupported model")
)

// Registry maps provider ids to adapters. It is built once at process start
// from configuration and handed to the engine; lookups are safe for
// concurrent use.
type Registry struct {
	mutex     sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a registry holding the given adapters.
func NewRegistry(providers ...Provider) *Registry {
	registry := &Registry{providers: make(map[string]Provider)}
	for _, provider := range providers {
		registry.Register(provider)
	}
	return registry
}

// Register adds or replaces the adapter registered under provider.Name().
func (registry *Registry) Register(provider Provider) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	registry.providers[provider.Name()] = provider
}

// Supports reports whether an adapter is registered for providerID and
// accepts model.
func (registry *Registry) Supports(providerID, model string) bool {
	_, err := registry.Lookup(providerID, model)
	return err == nil
}

// Lookup returns the adapter that serves model on providerID.
func (registry *Registry) Lookup(providerID, model string) (Provider, error) {
	registry.mutex.RLock()
	provider, exists := registry.providers[providerID]
	registry.mutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, providerID)
	}
	if !provider.Supports(model) {
		return nil, fmt.Errorf("%w: %q on %q", ErrUnsupportedModel, model, providerID)
	}
	return provider, nil
}

// Provider returns the adapter registered under providerID.
func (registry *Registry) Provider(providerID string) (Provider, bool) {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	provider, exists := registry.providers[providerID]
	return provider, exists
}

// Capabilities describes every registered adapter, sorted by provider id.
func (registry *Registry) Capabilities() []Capability {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()

	capabilities := make([]Capability, 0, len(registry.providers))
	for name, provider := range registry.providers {
		if describer, ok := provider.(Describer); ok {
			capability := describer.Capability()
			capability.ProviderID = name
			capabilities = append(capabilities, capability)
			continue
		}
		capabilities = append(capabilities, Capability{ProviderID: name})
	}

	sort.Slice(capabilities, func(indexA, indexB int) bool {
		return capabilities[indexA].ProviderID < capabilities[indexB].ProviderID
	})
	return capabilities
}
