package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/soyeahso/bizagent/internal/config"
	"github.com/soyeahso/bizagent/internal/gateway"
	"github.com/soyeahso/bizagent/internal/logging"
	"github.com/spf13/cobra"
)

// sweepInterval is how often expired confirmations are evicted.
const sweepInterval = time.Minute

func newGatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Manage the bizagent gateway server",
	}

	cmd.AddCommand(newGatewayRunCmd())
	return cmd
}

func newGatewayRunCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the HTTP and WebSocket gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}

			// the long-running server logs per the config file
			root, closer, err := logging.NewWithOptions(logging.Options{
				Level:        cfg.Logging.Level,
				ConsoleStyle: cfg.Logging.ConsoleStyle,
				File:         cfg.Logging.File,
			})
			if err != nil {
				return err
			}
			defer closer.Close()
			log = root

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := validate(cfg); err != nil {
				return err
			}

			a, err := newApp(ctx, cfg, appOptions{metrics: cfg.Metrics.Enabled, events: true, sweep: true})
			if err != nil {
				return err
			}
			defer a.Close()

			// Load raw config for RPC access
			raw, err := config.LoadRaw(paths.Config)
			if err != nil {
				raw = make(map[string]any)
			}

			opts := []gateway.ServerOption{
				gateway.WithConfigRaw(raw),
				gateway.WithHooks(a.hooks),
				gateway.WithRunner(a.runner),
				gateway.WithBizum(a.builtins.Bizum),
			}
			if a.metrics != nil {
				opts = append(opts, gateway.WithMetrics(a.metrics))
			}

			log.Info().
				Str("provider", cfg.Provider.Name).
				Str("model", cfg.Provider.Model).
				Str("storage", cfg.Storage.Driver).
				Str("pendingStore", cfg.Bizum.PendingStore).
				Int("tools", a.tools.Len()).
				Strs("plugins", a.plugins.List()).
				Msg("agent ready")
			if cfg.Provider.APIKey == "" && cfg.Provider.Name != "ollama" {
				log.Warn().Msg("provider.apiKey is empty, completion calls will be rejected")
			}

			return gateway.New(cfg, log, opts...).Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")

	return cmd
}
