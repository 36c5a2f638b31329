package cmd

import (
	"satchel/internal/backend"
	"satchel/internal/pipeline"

	"github.com/spf13/cobra"
)

// newCompileCmd builds the app inside its project tree.
func newCompileCmd() *cobra.Command {
	flags := &pipelineFlags{}
	cmd := &cobra.Command{
		Use:   "compile [platform [format]]",
		Short: "Compile the app in its project tree",
		Long: `Compiles each app inside its project tree, running any missing earlier
stages first. The compiled artefact stays in the tree for execute and
package.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipelineVerb(cmd, args, pipeline.VerbCompile, flags, backend.Options{}, nil)
		},
	}
	flags.register(cmd)
	return cmd
}
