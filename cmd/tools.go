package cmd

import (
	"fmt"

	"satchel/internal/backend"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// newToolsCmd groups tool-cache maintenance: listing cached installs and
// re-acquiring a tool at its declared version.
func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Manage the external tool cache",
	}
	cmd.AddCommand(newToolsListCmd())
	cmd.AddCommand(newToolsUpgradeCmd())
	return cmd
}

func newToolsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached tool installs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, _, _ := newServices()

			installed, err := registry.List()
			if err != nil {
				return err
			}
			if len(installed) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tools cached.")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Tool", "Version", "Platform", "Path"})
			for _, tool := range installed {
				t.AppendRow(table.Row{tool.Name, tool.Version, tool.Platform, tool.Path})
			}
			t.Render()
			return nil
		},
	}
}

func newToolsUpgradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade <tool>",
		Short: "Re-acquire a cached tool",
		Long: `Discards the cached install of the named tool and acquires it
afresh at the version its backend declares.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, _, _ := newServices()

			spec, ok := backend.ToolSpec(args[0])
			if !ok {
				return fmt.Errorf("no backend declares a tool named %q", args[0])
			}

			path, err := registry.Upgrade(cmd.Context(), spec)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Upgraded %s to %s (%s).\n", spec.Name, spec.Version, path)
			return nil
		},
	}
}
