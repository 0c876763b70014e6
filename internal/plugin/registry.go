package plugin

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/soyeahso/bizagent/internal/hooks"
	"github.com/soyeahso/bizagent/internal/logging"
)

// ErrDuplicate is returned when a plugin id is registered twice.
var ErrDuplicate = errors.New("plugin already registered")

// Registry runs plugins through Init and Close in a fixed order.
type Registry struct {
	mu      sync.Mutex
	plugins []Plugin
	// plugins[:ready] have been initialized and are owed a Close.
	ready int
	hooks *hooks.Manager
	log   *logging.Logger
}

// NewRegistry creates a registry whose plugins share hm.
func NewRegistry(hm *hooks.Manager, log *logging.Logger) *Registry {
	return &Registry{hooks: hm, log: log.Sub("plugins")}
}

// Register appends p. It is not initialized until InitAll.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.ID()
	if slices.ContainsFunc(r.plugins, func(q Plugin) bool { return q.ID() == id }) {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	r.plugins = append(r.plugins, p)
	r.log.Debug().Str("id", id).Msg("plugin registered")
	return nil
}

// InitAll initializes pending plugins in registration order and stops at the
// first failure. Whatever initialized before the failure is still closed by
// CloseAll.
func (r *Registry) InitAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.plugins[r.ready:] {
		id := p.ID()
		r.log.Debug().Str("id", id).Msg("initializing plugin")
		if err := p.Init(ctx, API{Hooks: r.hooks, Log: r.log.Sub(id)}); err != nil {
			return fmt.Errorf("init plugin %s: %w", id, err)
		}
		r.ready++
	}
	return nil
}

// CloseAll closes initialized plugins newest first and joins their errors.
// Calling it again is a no-op until the next InitAll.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for ; r.ready > 0; r.ready-- {
		p := r.plugins[r.ready-1]
		if err := p.Close(); err != nil {
			r.log.Error().Err(err).Str("id", p.ID()).Msg("plugin close error")
			errs = append(errs, fmt.Errorf("close plugin %s: %w", p.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// List returns plugin ids in registration order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.plugins))
	for i, p := range r.plugins {
		ids[i] = p.ID()
	}
	return ids
}
