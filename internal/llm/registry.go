package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/soyeahso/callpilot/internal/config"
	"github.com/soyeahso/callpilot/internal/logging"
	"github.com/soyeahso/callpilot/internal/resilience"
)

// Registry manages LLM provider clients and resolves provider names to clients.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client // provider name → client
	aliases  map[string]string // model alias → provider name
	order    []string          // primary first, then fallbacks
	fallback string            // default provider name
	log      *logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		aliases: make(map[string]string),
		log:     log.Sub("llm.registry"),
	}
}

// Register adds a client under the given provider name. Registration order
// is the failover order.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[name]; !exists {
		r.order = append(r.order, name)
	}
	r.clients[name] = client
	r.log.Info().Str("provider", name).Msg("registered LLM provider")
}

// Alias maps a model name/alias to a provider.
// e.g., Alias("gpt-4o", "openai") means "gpt-4o" resolves to the "openai" provider.
func (r *Registry) Alias(model, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[model] = provider
}

// SetFallback sets the default provider used when no model/provider match is found.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// Resolve returns the Client for the given model reference.
// Resolution order: exact provider name → alias → fallback.
func (r *Registry) Resolve(model string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.clients[model]; ok {
		return c, nil
	}
	if provider, ok := r.aliases[model]; ok {
		if c, ok := r.clients[provider]; ok {
			return c, nil
		}
	}
	if r.fallback != "" {
		if c, ok := r.clients[r.fallback]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no LLM provider for model %q", model)
}

// Chain returns the registered clients in failover order.
func (r *Registry) Chain() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Client, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.clients[name])
	}
	return out
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewClient builds the raw client for one configured provider.
func NewClient(name string, entry config.ProviderEntry) (Client, error) {
	switch name {
	case "gemini":
		return NewGeminiClient(entry.APIKey, entry.Model, entry.Endpoint), nil
	case "openai":
		return NewOpenAIClient(entry.APIKey, entry.Model, entry.Endpoint), nil
	case "ollama":
		return NewOllamaClient(entry.Endpoint, entry.Model), nil
	case "mock":
		return &MockClient{}, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", name)
	}
}

// NewRegistryFromConfig registers the primary provider followed by each
// fallback. Every client is wrapped in a circuit breaker.
func NewRegistryFromConfig(cfg config.LLMConfig, log *logging.Logger) (*Registry, error) {
	reg := NewRegistry(log)

	names := append([]string{cfg.Provider}, cfg.Fallbacks...)
	for _, name := range names {
		if name == "" {
			continue
		}
		client, err := NewClient(name, cfg.Providers[name])
		if err != nil {
			return nil, err
		}
		reg.Register(name, Guard(client, resilience.Config{}, log))
		if model := cfg.Providers[name].Model; model != "" {
			reg.Alias(model, name)
		}
	}
	if len(reg.order) == 0 {
		return nil, fmt.Errorf("no LLM provider configured")
	}
	reg.SetFallback(reg.order[0])
	return reg, nil
}
