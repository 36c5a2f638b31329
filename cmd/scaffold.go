package cmd

import (
	"satchel/internal/backend"
	"satchel/internal/pipeline"

	"github.com/spf13/cobra"
)

// newScaffoldCmd generates the platform project tree for each app.
func newScaffoldCmd() *cobra.Command {
	flags := &pipelineFlags{}
	cmd := &cobra.Command{
		Use:   "scaffold [platform [format]]",
		Short: "Generate the platform project tree",
		Long: `Generates the platform-specific project tree for each app from its
template. The tree is created under build/ and later stages mutate it in
place.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipelineVerb(cmd, args, pipeline.VerbScaffold, flags, backend.Options{}, nil)
		},
	}
	flags.register(cmd)
	return cmd
}
