package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/soyeahso/bizagent/internal/agent"
	"github.com/spf13/cobra"
)

func newMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Send messages to the agent",
	}

	cmd.AddCommand(newMessageSendCmd())
	return cmd
}

func newMessageSendCmd() *cobra.Command {
	var (
		userID       string
		systemPrompt string
		stream       bool
		confirm      bool
	)

	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send a message to the agent and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, appOptions{events: true}, func(a *app) error {
				req := agent.Request{
					Message:      strings.Join(args, " "),
					UserID:       userID,
					SystemPrompt: systemPrompt,
				}
				out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

				var (
					user           string
					confirmationID string
				)
				if stream {
					final, err := printStream(out, errOut, a.runner.ProcessMessageStream(ctx, req))
					if err != nil {
						return err
					}
					user, confirmationID = final.UserID, final.ConfirmationID
				} else {
					res, err := a.runner.ProcessMessage(ctx, req)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, res.Response)
					printUsage(errOut, res.UserID, res.Iterations, res.ToolsUsed)
					user, confirmationID = res.UserID, res.ConfirmationID
				}

				if confirmationID == "" {
					return nil
				}
				if confirm {
					return printResult(out, a.builtins.Bizum.Confirm(ctx, user, confirmationID, true, ""))
				}
				fmt.Fprintf(errOut, "\nconfirm with: bizagent bizum confirm %s --user %s\n", confirmationID, user)
				if a.cfg.Bizum.PendingStore != "redis" {
					fmt.Fprintln(errOut, "note: pending confirmations are held in memory and end with this process; use --confirm, the gateway, or a redis pending store")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id (generated when empty)")
	cmd.Flags().StringVar(&systemPrompt, "system", "", "replace the system prompt")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream the response")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm a proposed Bizum right away")

	return cmd
}

// printStream writes content events as they arrive and reports tool and
// confirmation events on errOut. It returns the terminal event, carrying the
// confirmation id when a Bizum was proposed.
func printStream(out, errOut io.Writer, events <-chan agent.Event) (agent.Event, error) {
	var (
		printed        bool
		confirmationID string
	)
	for evt := range events {
		switch evt.Type {
		case agent.EventToolExecution:
			fmt.Fprintf(errOut, "[tools: %s]\n", strings.Join(evt.Tools, ", "))
		case agent.EventConfirmation:
			confirmationID = evt.ConfirmationID
			fmt.Fprintf(errOut, "[bizum pending: %.2f€ to %s, id=%s]\n", evt.Amount, evt.Recipient, evt.ConfirmationID)
		case agent.EventContent:
			printed = true
			fmt.Fprint(out, evt.Content)
		case agent.EventError:
			fmt.Fprintln(out)
			return evt, errors.New(evt.Error)
		case agent.EventComplete:
			if !printed {
				fmt.Fprint(out, evt.Response)
			}
			fmt.Fprintln(out)
			evt.ConfirmationID = confirmationID
			printUsage(errOut, evt.UserID, evt.Iterations, evt.ToolsUsed)
			return evt, nil
		}
	}
	return agent.Event{}, agent.ErrStreamEnded
}

func printUsage(w io.Writer, userID string, iterations int, toolsUsed []string) {
	fmt.Fprintf(w, "\n[user=%s iterations=%d tools=%s]\n", userID, iterations, strings.Join(toolsUsed, ","))
}
