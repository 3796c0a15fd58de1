package providers

import (
	"errors"
	"fmt"
	"sync"

	"llm_relay/internal/models"
)

// Registry maps a model's provider name to a configured Provider
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces the provider for name
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Resolve returns the provider serving model. Models without a provider use openai.
func (r *Registry) Resolve(model *models.Model) (Provider, error) {
	name := model.Provider
	if name == "" {
		name = models.ProviderOpenAI
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, name)
	}
	return p, nil
}

// Close closes every registered provider
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	r.providers = make(map[string]Provider)
	return errors.Join(errs...)
}
