package tools

import (
	"time"

	"github.com/soyeahso/bizagent/internal/hooks"
	"github.com/soyeahso/bizagent/internal/logging"
)

// Deps are the collaborators and settings the built-in tools need.
// Nil stores fall back to in-memory implementations.
type Deps struct {
	Weather         WeatherConfig
	Search          SearchConfig
	Bizum           BizumOptions
	ConfirmationTTL time.Duration

	Contacts      ContactStore
	Transactions  TransactionStore
	Confirmations ConfirmationStore
	Signer        Signer
	Hooks         *hooks.Manager
	Log           *logging.Logger
}

// Builtins is the fixed set of tools shipped with the agent.
type Builtins struct {
	Calculator *Calculator
	Weather    *Weather
	Search     *Search
	Contacts   *Contacts
	Bizum      *Bizum
}

// Builtin constructs every built-in tool once.
func Builtin(d Deps) Builtins {
	if d.Log == nil {
		d.Log = logging.New(nil, "silent")
	}
	if d.Contacts == nil {
		d.Contacts = NewMemoryContactStore()
	}
	if d.Transactions == nil {
		d.Transactions = NewMemoryTransactionStore()
	}
	if d.Confirmations == nil {
		d.Confirmations = NewMemoryConfirmationStore()
	}

	dir := NewDirectory(d.Contacts)
	mgr := NewConfirmationManager(d.Confirmations, d.ConfirmationTTL, d.Log)
	return Builtins{
		Calculator: NewCalculator(),
		Weather:    NewWeather(d.Weather),
		Search:     NewSearch(d.Search),
		Contacts:   NewContacts(dir),
		Bizum:      NewBizum(d.Bizum, mgr, d.Transactions, dir, d.Signer, d.Hooks, d.Log),
	}
}

// List returns the tools in registration order.
func (b Builtins) List() []Tool {
	return []Tool{b.Calculator, b.Weather, b.Search, b.Bizum, b.Contacts}
}

// NewDefaultRegistry builds the built-in tools and registers them.
func NewDefaultRegistry(d Deps) (*Registry, Builtins) {
	if d.Log == nil {
		d.Log = logging.New(nil, "silent")
	}
	b := Builtin(d)
	reg := NewRegistry(d.Log)
	for _, t := range b.List() {
		reg.Register(t)
	}
	return reg, b
}
