package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[string]Provider)}
}

func (r *ProviderRegistry) Register(provider Provider) error {
	if provider == nil {
		return fmt.Errorf("core: provider is nil")
	}
	id := strings.TrimSpace(provider.ID())
	if id == "" {
		return fmt.Errorf("core: provider id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("core: provider already registered: %s", id)
	}
	r.providers[id] = provider
	return nil
}

func (r *ProviderRegistry) Get(providerID string) (Provider, bool) {
	id := strings.TrimSpace(providerID)
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	provider, ok := r.providers[id]
	r.mu.RUnlock()
	return provider, ok
}

func (r *ProviderRegistry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.providers))
	for id := range r.providers {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	providers := make([]Provider, 0, len(keys))
	for _, id := range keys {
		providers = append(providers, r.providers[id])
	}
	return providers
}

// Resolve returns the provider or a not found error.
func (r *ProviderRegistry) Resolve(providerID string) (Provider, error) {
	provider, ok := r.Get(providerID)
	if !ok {
		return nil, NewProviderNotFoundError(providerID)
	}
	return provider, nil
}

func Supports(provider Provider, capability Capability) bool {
	if provider == nil {
		return false
	}
	for _, candidate := range provider.Capabilities() {
		if candidate == capability {
			return true
		}
	}
	return false
}

func BalanceProviders(providers []Provider) []BalanceProvider {
	out := make([]BalanceProvider, 0, len(providers))
	for _, provider := range providers {
		if !Supports(provider, CapabilityBalances) {
			continue
		}
		if typed, ok := provider.(BalanceProvider); ok {
			out = append(out, typed)
		}
	}
	return out
}

