package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/bizagent/internal/agent"
	"github.com/soyeahso/bizagent/internal/cache"
	"github.com/soyeahso/bizagent/internal/config"
	"github.com/soyeahso/bizagent/internal/events"
	"github.com/soyeahso/bizagent/internal/hooks"
	"github.com/soyeahso/bizagent/internal/llm"
	"github.com/soyeahso/bizagent/internal/logging"
	"github.com/soyeahso/bizagent/internal/metrics"
	"github.com/soyeahso/bizagent/internal/plugin"
	"github.com/soyeahso/bizagent/internal/store"
	"github.com/soyeahso/bizagent/internal/tools"
)

// app holds the collaborators a command works with.
type app struct {
	cfg      config.Config
	log      *logging.Logger
	hooks    *hooks.Manager
	metrics  *metrics.Metrics
	sessions agent.SessionStore
	tools    *tools.Registry
	builtins tools.Builtins
	runner   *agent.Runner
	plugins  *plugin.Registry

	closers []func() error
}

type appOptions struct {
	// metrics registers the Prometheus collectors.
	metrics bool
	// events connects the AMQP publisher when one is configured.
	events bool
	// sweep evicts expired confirmations in the background.
	sweep bool
}

// loadConfig reads and validates the config file.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	return cfg, validate(cfg)
}

func validate(cfg config.Config) error {
	issues := config.Validate(&cfg)
	if len(issues) == 0 {
		return nil
	}
	for _, issue := range issues {
		log.Error().Str("path", issue.Path).Msg(issue.Message)
	}
	return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
}

// newApp wires storage, tools, the provider and the runner from cfg.
func newApp(ctx context.Context, cfg config.Config, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, log: log, hooks: hooks.NewManager(log)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var (
		contacts      tools.ContactStore
		transactions  tools.TransactionStore
		confirmations tools.ConfirmationStore
	)

	switch cfg.Storage.Driver {
	case "memory":
		a.sessions = agent.NewMemorySessionStore(cfg.Session.MaxHistory)
		log.Debug().Msg("using in-memory storage")
	default:
		if err := paths.EnsureDirs(); err != nil {
			return nil, err
		}
		dbPath := paths.DatabasePath(cfg.Storage)
		db, err := store.Open(dbPath, log)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.sessions = store.NewSQLiteSessionStore(db, cfg.Session.MaxHistory)
		contacts = store.NewSQLiteContactStore(db)
		transactions = store.NewSQLiteTransactionStore(db)
		log.Debug().Str("path", dbPath).Msg("using SQLite storage")
	}

	if cfg.Bizum.PendingStore == "redis" {
		rs, err := cache.NewRedisConfirmationStore(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.KeyPrefix,
		}, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rs.Close)
		confirmations = rs
	}

	if opts.metrics {
		a.metrics = metrics.New()
	}

	deps := tools.Deps{
		Weather: tools.WeatherConfig{
			APIKey:  cfg.Tools.Weather.APIKey,
			BaseURL: cfg.Tools.Weather.BaseURL,
			Timeout: time.Duration(cfg.Tools.Weather.TimeoutSeconds) * time.Second,
		},
		Search: tools.SearchConfig{
			APIKey:   cfg.Tools.Search.APIKey,
			EngineID: cfg.Tools.Search.EngineID,
			BaseURL:  cfg.Tools.Search.BaseURL,
			Timeout:  time.Duration(cfg.Tools.Search.TimeoutSeconds) * time.Second,
		},
		Bizum: tools.BizumOptions{
			MinAmount:       cfg.Bizum.MinAmount,
			MaxAmount:       cfg.Bizum.MaxAmount,
			HistoryLimit:    cfg.Bizum.HistoryLimit,
			MaxStored:       cfg.Bizum.MaxStored,
			ResolveContacts: cfg.Bizum.ResolveContacts,
		},
		ConfirmationTTL: cfg.Bizum.ConfirmationTTL(),
		Contacts:        contacts,
		Transactions:    transactions,
		Confirmations:   confirmations,
		Hooks:           a.hooks,
		Log:             log,
	}
	// a nil *JWTSigner must not end up inside the interface
	if signer := tools.NewJWTSigner(cfg.Bizum.SigningSecret); signer != nil {
		deps.Signer = signer
	}
	a.tools, a.builtins = tools.NewDefaultRegistry(deps)

	providers := llm.NewRegistryFromConfig(cfg.Provider, log)
	client := agent.NewFailoverClient(providers, cfg.Provider.Model, cfg.Provider.Fallbacks, a.metrics, log)

	a.runner = agent.NewRunner(
		agent.RunnerConfig{
			AgentName:     cfg.Agent.Name,
			Description:   cfg.Agent.Description,
			Model:         cfg.Provider.Model,
			MaxIterations: cfg.Agent.MaxIterations,
			MaxTokens:     cfg.Provider.MaxTokens,
			Temperature:   cfg.Provider.Temperature,
			ExtraPrompt:   cfg.Agent.ExtraPrompt,
			WordDelay:     cfg.Agent.WordDelay(),
			ActiveWindow:  cfg.Session.ActiveWindow(),
		},
		client,
		a.sessions,
		a.tools,
		log,
	).WithMetrics(a.metrics).WithHooks(a.hooks)

	a.plugins = plugin.NewRegistry(a.hooks, log)
	a.closers = append(a.closers, a.plugins.CloseAll)
	for _, p := range a.extensions(opts) {
		if err := a.plugins.Register(p); err != nil {
			return nil, err
		}
	}
	if err := a.plugins.InitAll(ctx); err != nil {
		return nil, err
	}

	return a, nil
}

// extensions lists the plugins opts asks for.
func (a *app) extensions(opts appOptions) []plugin.Plugin {
	var out []plugin.Plugin
	if a.metrics != nil {
		out = append(out, plugin.Func{
			Name: "metrics",
			OnInit: func(_ context.Context, api plugin.API) error {
				a.metrics.Observe(api.Hooks)
				return nil
			},
		})
	}
	if opts.events && a.cfg.Events.AMQP.URL != "" {
		out = append(out, events.NewPlugin(events.AMQPConfig{
			URL:   a.cfg.Events.AMQP.URL,
			Queue: a.cfg.Events.AMQP.Queue,
		}))
	}
	if opts.sweep {
		var stop context.CancelFunc
		out = append(out, plugin.Func{
			Name: "confirmation-sweeper",
			OnInit: func(ctx context.Context, _ plugin.API) error {
				ctx, stop = context.WithCancel(ctx)
				go a.builtins.Bizum.Confirmations().RunSweeper(ctx, sweepInterval)
				return nil
			},
			OnClose: func() error {
				stop()
				return nil
			},
		})
	}
	return out
}

// Close releases stores and connections in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// withApp loads config, wires the app and runs fn with it.
func withApp(ctx context.Context, opts appOptions, fn func(*app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
