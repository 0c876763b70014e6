package llm

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/bizagent/internal/config"
	"github.com/soyeahso/bizagent/internal/logging"
)

// ProviderError is returned when a completion provider fails.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP-like status code (401, 429, 500, etc.)
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Registry maps model references to provider clients. A reference is
// looked up as a provider name, then as a model alias, then falls back to
// the default provider.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client
	aliases  map[string]string
	fallback string
	log      *logging.Logger
}

func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		aliases: make(map[string]string),
		log:     log.Sub("llm.registry"),
	}
}

func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	r.clients[name] = client
	r.mu.Unlock()
	r.log.Info().Str("provider", name).Msg("registered completion provider")
}

// Alias routes requests for model to provider.
func (r *Registry) Alias(model, provider string) {
	r.mu.Lock()
	r.aliases[model] = provider
	r.mu.Unlock()
}

// SetFallback names the provider for models nothing else matches.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	r.fallback = provider
	r.mu.Unlock()
}

func (r *Registry) Resolve(model string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range []string{model, r.aliases[model], r.fallback} {
		if c, ok := r.clients[name]; ok && name != "" {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no completion provider for model %q", model)
}

// List returns the registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.clients))
}

// NewRegistryFromConfig builds a Registry holding the configured provider.
// Every OpenAI-compatible endpoint shares one client implementation; "ollama"
// only changes the default base URL. The primary model and fallbacks resolve
// to the provider.
func NewRegistryFromConfig(cfg config.ProviderConfig, log *logging.Logger) *Registry {
	reg := NewRegistry(log)

	name := strings.ToLower(strings.TrimSpace(cfg.Name))
	if name == "" {
		name = "openai"
	}
	baseURL := cfg.BaseURL
	if name == "ollama" && (baseURL == "" || baseURL == defaultOpenAIBaseURL) {
		baseURL = "http://localhost:11434/v1"
	}

	client := NewOpenAIClient(OpenAIConfig{
		Name:    name,
		APIKey:  cfg.APIKey,
		BaseURL: baseURL,
		Model:   cfg.Model,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	})
	reg.Register(name, client)
	reg.SetFallback(name)

	if cfg.Model != "" {
		reg.Alias(cfg.Model, name)
	}
	for _, m := range cfg.Fallbacks {
		reg.Alias(m, name)
	}
	return reg
}
