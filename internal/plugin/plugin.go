// Package plugin manages optional extensions that live alongside the agent:
// hook subscribers and background workers with their own resources.
package plugin

import (
	"context"

	"github.com/soyeahso/bizagent/internal/hooks"
	"github.com/soyeahso/bizagent/internal/logging"
)

// Plugin is an extension with an explicit lifecycle.
type Plugin interface {
	// ID returns a unique identifier (e.g., "amqp-events").
	ID() string

	// Init subscribes hooks and acquires resources. ctx bounds any
	// background work the plugin starts.
	Init(ctx context.Context, api API) error

	// Close releases what Init acquired.
	Close() error
}

// API is what a plugin gets to work with.
type API struct {
	Hooks *hooks.Manager
	Log   *logging.Logger
}

// Func adapts plain functions to a Plugin. Either function may be nil.
type Func struct {
	Name    string
	OnInit  func(ctx context.Context, api API) error
	OnClose func() error
}

func (f Func) ID() string { return f.Name }

func (f Func) Init(ctx context.Context, api API) error {
	if f.OnInit == nil {
		return nil
	}
	return f.OnInit(ctx, api)
}

func (f Func) Close() error {
	if f.OnClose == nil {
		return nil
	}
	return f.OnClose()
}
