package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/soyeahso/bizagent/internal/domain"
	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage conversation sessions",
	}

	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsHistoryCmd())
	cmd.AddCommand(newSessionsClearCmd())
	cmd.AddCommand(newSessionsDeleteCmd())
	cmd.AddCommand(newSessionsPruneCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	var active bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recent activity first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, appOptions{}, func(a *app) error {
				list := a.runner.Sessions
				if active {
					list = a.runner.ActiveSessions
				}
				sessions, err := list(ctx)
				if err != nil {
					return err
				}
				return printSessions(cmd.OutOrStdout(), sessions)
			})
		},
	}

	cmd.Flags().BoolVar(&active, "active", false, "only sessions active within session.activeWindowMinutes")
	return cmd
}

func newSessionsHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <user-id>",
		Short: "Print a user's conversation history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, appOptions{}, func(a *app) error {
				history, err := a.runner.History(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(history) == 0 {
					fmt.Fprintln(out, "No history")
					return nil
				}
				for _, h := range history {
					fmt.Fprintf(out, "[%s] %s: %s\n", h.Timestamp.Local().Format(time.DateTime), h.Role, h.Content)
				}
				return nil
			})
		},
	}
}

func newSessionsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <user-id>",
		Short: "Empty a user's history but keep the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, appOptions{}, func(a *app) error {
				if err := a.runner.ClearHistory(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared history for %s\n", args[0])
				return nil
			})
		},
	}
}

func newSessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <user-id>",
		Short: "Remove a user's session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, appOptions{}, func(a *app) error {
				ok, err := a.runner.DeleteSession(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("session not found: " + args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
				return nil
			})
		},
	}
}

func newSessionsPruneCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete sessions idle longer than the given age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, appOptions{}, func(a *app) error {
				age := olderThan
				if age <= 0 {
					age = a.cfg.Session.PruneAfter()
				}
				n, err := a.runner.PruneSessions(ctx, time.Now().Add(-age))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d session(s) idle for more than %s\n", n, age)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "idle age (default session.pruneAfterHours)")
	return cmd
}

func printSessions(w io.Writer, sessions []domain.SessionSummary) error {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tMESSAGES\tLAST ACTIVITY\tSTATUS")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.UserID, s.MessageCount, s.LastActivity.Local().Format(time.DateTime), s.Status)
	}
	return tw.Flush()
}
