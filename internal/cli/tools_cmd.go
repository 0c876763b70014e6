package cli

import (
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tools offered to the model",
	}

	var verbose bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered tools in registration order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, appOptions{}, func(a *app) error {
				out := cmd.OutOrStdout()
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, s := range a.tools.Schemas() {
					fmt.Fprintf(tw, "%s\t%s\n", s.Name, s.Description)
					if !verbose {
						continue
					}
					names := make([]string, 0, len(s.Parameters.Properties))
					for name := range s.Parameters.Properties {
						names = append(names, name)
					}
					slices.Sort(names)
					for _, name := range names {
						p := s.Parameters.Properties[name]
						req := ""
						if slices.Contains(s.Parameters.Required, name) {
							req = " (required)"
						}
						line := fmt.Sprintf("  %s: %s%s", name, p.Type, req)
						if len(p.Enum) > 0 {
							line += " [" + strings.Join(p.Enum, "|") + "]"
						}
						fmt.Fprintf(tw, "%s\t%s\n", line, p.Description)
					}
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().BoolVarP(&verbose, "verbose", "v", false, "show parameters")

	cmd.AddCommand(list)
	return cmd
}
