package cmd

import (
	"fmt"

	"satchel/internal/backend"
	"satchel/internal/pipeline"

	"github.com/spf13/cobra"
)

// newExecuteCmd runs a compiled app, optionally in test or debug mode.
func newExecuteCmd() *cobra.Command {
	flags := &pipelineFlags{}
	var testMode, debugMode bool

	cmd := &cobra.Command{
		Use:   "execute [platform [format]]",
		Short: "Run the compiled app",
		Long: `Runs each compiled app, building it first if needed. In test mode the
app's test suite runs instead, and the verdict comes from the output, not
the exit code alone. A test run never marks the tree package-ready.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if testMode && debugMode {
				return fmt.Errorf("--test and --debug are mutually exclusive")
			}
			mode := backend.ModeNormal
			if testMode {
				mode = backend.ModeTest
			}
			if debugMode {
				mode = backend.ModeDebug
			}
			return runPipelineVerb(cmd, args, pipeline.VerbExecute, flags, backend.Options{},
				func(req *pipeline.Request) {
					req.Mode = mode
				})
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&testMode, "test", false, "run the app's test suite")
	cmd.Flags().BoolVar(&debugMode, "debug", false, "run the app with debug instrumentation")
	return cmd
}
