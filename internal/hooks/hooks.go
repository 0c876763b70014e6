// Package hooks dispatches lifecycle events (confirmations, transactions,
// sessions, gateway start/stop) to registered handlers.
package hooks

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/soyeahso/bizagent/internal/logging"
)

// Event names.
const (
	EventConfirmationCreated = "confirmation_created"
	EventConfirmationExpired = "confirmation_expired"
	EventTransactionDone     = "transaction_completed"
	EventTransactionCanceled = "transaction_cancelled"
	EventSessionCleared      = "session_cleared"
	EventGatewayStart        = "gateway_start"
	EventGatewayStop         = "gateway_stop"
)

// Payload carries event data to hook handlers.
type Payload struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler handles one event. A returned error is logged and does not stop
// the remaining handlers.
type Handler func(ctx context.Context, p Payload) error

type namedHandler struct {
	name    string
	handler Handler
}

// Manager holds handlers per event. A nil *Manager emits nothing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	log      *logging.Logger
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On subscribes handler to event under name. Names are used by Off and in logs.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.mu.Unlock()
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// Off removes every handler registered for event under name.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = slices.DeleteFunc(m.handlers[event], func(h namedHandler) bool {
		return h.name == name
	})
}

// Count returns the number of handlers subscribed to event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// Emit runs the handlers of event in registration order on the caller's
// goroutine. Handlers may subscribe or unsubscribe while it runs; the set
// is fixed when Emit starts.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	m.mu.RLock()
	handlers := slices.Clone(m.handlers[event])
	m.mu.RUnlock()

	p := Payload{Event: event, Data: data}
	for _, h := range handlers {
		if err := m.call(ctx, h, p); err != nil {
			m.log.Warn().
				Err(err).
				Str("event", event).
				Str("handler", h.name).
				Msg("hook handler error")
		}
	}
}

// call runs one handler, turning a panic into an error.
func (m *Manager) call(ctx context.Context, h namedHandler, p Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.handler(ctx, p)
}
