package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds the configured providers by id.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// BuildRegistry creates a provider for every config entry.
func BuildRegistry(cfgs []ProviderConfig) (*Registry, error) {
	r := NewRegistry()
	for _, c := range cfgs {
		p, err := FromConfig(c)
		if err != nil {
			return nil, err
		}
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := p.ID()
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("provider %q already registered", id)
	}
	r.providers[id] = p
	return nil
}

func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("provider %q not found", id)
	}
	return p, nil
}

// Resolve returns the provider serving ref and the model id to send it.
func (r *Registry) Resolve(ref ModelRef) (Provider, string, error) {
	ref, err := ParseModelRef(string(ref))
	if err != nil {
		return nil, "", err
	}
	p, err := r.Get(ref.Provider())
	if err != nil {
		return nil, "", fmt.Errorf("%w (configured: %s)", err, strings.Join(r.IDs(), ", "))
	}
	return p, ref.Model(), nil
}

// IDs returns the registered provider ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
