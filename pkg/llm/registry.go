package llm

import (
	"sync"

	"github.com/copilotz/copilotz/pkg/models"
)

// Registry maps provider enums to constructed client adapters. It is
// populated at startup and read-only during runs.
type Registry struct {
	mu      sync.RWMutex
	clients map[models.Provider]Client
}

// NewRegistry returns an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[models.Provider]Client)}
}

// Register binds a client to a provider enum, replacing any previous
// binding.
func (r *Registry) Register(provider models.Provider, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[provider] = client
}

// Get returns the client for a provider.
func (r *Registry) Get(provider models.Provider) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[provider]
	return client, ok
}

// Close releases every registered client. The first error is returned;
// remaining clients are still closed.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for provider, client := range r.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.clients, provider)
	}
	return firstErr
}
