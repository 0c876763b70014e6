package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/soyeahso/bizagent/internal/llm"
	"github.com/soyeahso/bizagent/internal/logging"
)

// Registry maps tool names to tools. Registration order is preserved for
// schema export so the provider always sees the catalog in the same order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
	log   *logging.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		tools: make(map[string]Tool),
		log:   log.Sub("tools"),
	}
}

// Register adds a tool. A second tool with the same name replaces the first
// and logs a warning.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		r.log.Warn().Str("tool", name).Msg("tool already registered, overwriting")
	} else {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
	r.log.Debug().Str("tool", name).Msg("registered tool")
}

// Unregister removes a tool. It returns false if the name was unknown.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[name]; !ok {
		return false
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// All returns the registered tools in registration order.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.tools[n])
	}
	return out
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Schemas returns every tool schema in registration order.
func (r *Registry) Schemas() []Schema {
	tools := r.All()
	out := make([]Schema, 0, len(tools))
	for _, t := range tools {
		out = append(out, t.Schema())
	}
	return out
}

// Definitions returns provider-ready tool definitions.
func (r *Registry) Definitions() []llm.ToolDefinition {
	schemas := r.Schemas()
	out := make([]llm.ToolDefinition, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, s.Definition())
	}
	return out
}

// Execute validates args and runs the named tool. Unknown tools wrap
// ErrToolNotFound; missing arguments return *MissingParameterError. A panic
// inside the tool is recovered and returned as an error.
func (r *Registry) Execute(ctx context.Context, name string, args Args) (res Result, err error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if args == nil {
		args = Args{}
	}
	if err := t.ValidateArgs(args); err != nil {
		return nil, err
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Str("tool", name).Interface("panic", p).Msg("tool panicked")
			res, err = nil, fmt.Errorf("tool %s panicked: %v", name, p)
		}
	}()

	r.log.Debug().Str("tool", name).Msg("executing tool")
	return t.Execute(ctx, args)
}
