package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/soyeahso/bizagent/internal/config"
	"github.com/soyeahso/bizagent/internal/llm"
	"github.com/soyeahso/bizagent/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show bizagent status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "bizagent %s (commit %s)\n\n", version.Version, version.Commit)

			// Show paths
			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "Config:  not found (using defaults)")
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "Gateway: port=%d bind=%s auth=%s\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode)

			registry := llm.NewRegistryFromConfig(cfg.Provider, log)
			key := "set"
			if cfg.Provider.APIKey == "" {
				key = "missing"
			}
			fmt.Fprintf(out, "LLM:     provider=%s model=%s apiKey=%s\n", strings.Join(registry.List(), ","), cfg.Provider.Model, key)
			if len(cfg.Provider.Fallbacks) > 0 {
				fmt.Fprintf(out, "         fallbacks=%s\n", strings.Join(cfg.Provider.Fallbacks, ","))
			}
			fmt.Fprintf(out, "Agent:   name=%s maxIterations=%d\n", cfg.Agent.Name, cfg.Agent.MaxIterations)

			storage := cfg.Storage.Driver
			if storage == "sqlite" {
				storage += " (" + paths.DatabasePath(cfg.Storage) + ")"
			}
			fmt.Fprintf(out, "Storage: %s\n", storage)
			fmt.Fprintf(out, "Session: maxHistory=%d active=%s prune=%s\n",
				cfg.Session.MaxHistory, cfg.Session.ActiveWindow(), cfg.Session.PruneAfter())

			pending := cfg.Bizum.PendingStore
			if pending == "redis" {
				pending += " (" + cfg.Redis.Addr + ")"
			}
			fmt.Fprintf(out, "Bizum:   limits=%g-%g€ ttl=%s pending=%s signed=%v\n",
				cfg.Bizum.MinAmount, cfg.Bizum.MaxAmount, cfg.Bizum.ConfirmationTTL(), pending, cfg.Bizum.SigningSecret != "")

			events := "(disabled)"
			if cfg.Events.AMQP.URL != "" {
				events = "amqp queue=" + cfg.Events.AMQP.Queue
			}
			fmt.Fprintf(out, "Events:  %s\n", events)
			if cfg.Metrics.Enabled {
				fmt.Fprintf(out, "Metrics: %s\n", cfg.Metrics.Path)
			}

			// Validation
			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}
