package cmd

import (
	"satchel/internal/backend"
	"satchel/internal/pipeline"

	"github.com/spf13/cobra"
)

// newPopulateCmd installs app code and dependencies into the project tree.
func newPopulateCmd() *cobra.Command {
	flags := &pipelineFlags{}
	cmd := &cobra.Command{
		Use:   "populate [platform [format]]",
		Short: "Install app code into the project tree",
		Long: `Copies each app's sources and declared dependencies into its generated
project tree, scaffolding first if the tree does not exist yet.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipelineVerb(cmd, args, pipeline.VerbPopulate, flags, backend.Options{}, nil)
		},
	}
	flags.register(cmd)
	return cmd
}
