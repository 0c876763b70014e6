package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/soyeahso/bizagent/internal/tools"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newBizumCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bizum",
		Short: "Confirm Bizum proposals and inspect transactions",
	}

	cmd.AddCommand(newBizumConfirmCmd())
	cmd.AddCommand(newBizumHistoryCmd())
	cmd.AddCommand(newBizumVerifyCmd())
	return cmd
}

func newBizumConfirmCmd() *cobra.Command {
	var (
		userID    string
		cancel    bool
		signature string
	)

	cmd := &cobra.Command{
		Use:   "confirm <confirmation-id>",
		Short: "Confirm (or cancel) a pending Bizum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			ctx := cmd.Context()
			return withApp(ctx, appOptions{events: true}, func(a *app) error {
				res := a.builtins.Bizum.Confirm(ctx, userID, args[0], !cancel, signature)
				if err := printResult(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if !res.Success() {
					return errors.New("confirmation failed")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user that owns the confirmation")
	cmd.Flags().BoolVar(&cancel, "cancel", false, "cancel instead of confirming")
	cmd.Flags().StringVar(&signature, "signature", "", "client signature to store with the transaction")

	return cmd
}

func newBizumHistoryCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show a user's most recent transactions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			ctx := cmd.Context()
			return withApp(ctx, appOptions{}, func(a *app) error {
				res, err := a.builtins.Bizum.History(ctx, userID)
				if err != nil {
					return err
				}
				if !res.Success() {
					return printResult(cmd.OutOrStdout(), res)
				}
				return printTransactions(cmd.OutOrStdout(), res)
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id")
	return cmd
}

func newBizumVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <signature>",
		Short: "Check a transaction signature against bizum.signingSecret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			signer := tools.NewJWTSigner(cfg.Bizum.SigningSecret)
			if signer == nil {
				return errors.New("bizum.signingSecret is not configured")
			}
			id, err := signer.Verify(args[0])
			if err != nil {
				return fmt.Errorf("invalid signature: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "valid signature for transaction %s\n", id)
			return nil
		},
	}
}

func newContactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Inspect a user's contact book",
	}

	var userID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List a user's contacts, favorites first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			ctx := cmd.Context()
			return withApp(ctx, appOptions{}, func(a *app) error {
				contacts, err := a.builtins.Contacts.Directory().ListAll(ctx, userID)
				if err != nil {
					return err
				}
				tools.SortContacts(contacts)

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tPHONE\tALIAS\tFAVORITE")
				for _, c := range contacts {
					fav := ""
					if c.Favorite {
						fav = "★"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Phone, c.Alias, fav)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().StringVar(&userID, "user", "", "user id")

	cmd.AddCommand(list)
	return cmd
}

// printResult writes a tool result as YAML.
func printResult(w io.Writer, res tools.Result) error {
	data, err := yaml.Marshal(map[string]any(res))
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func printTransactions(w io.Writer, res tools.Result) error {
	list, _ := res["transactions"].([]map[string]any)
	if len(list) == 0 {
		fmt.Fprintln(w, res["message"])
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tTIME\tTYPE\tAMOUNT\tRECIPIENT\tCONCEPT\tSTATUS")
	for _, tx := range list {
		fmt.Fprintf(tw, "%v\t%v\t%v\t%v\t%v\t%v\t%v\n",
			tx["date"], tx["time"], tx["type"], tx["amount"], tx["recipient"], tx["concept"], tx["status"])
	}
	return tw.Flush()
}
