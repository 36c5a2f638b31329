package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newVersionCmd prints the running build's version.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of satchel",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "satchel version %s\n", rootCmd.Version)
		},
	}
}
