package cmd

import (
	"satchel/internal/backend"
	"satchel/internal/pipeline"

	"github.com/spf13/cobra"
)

// newPackageCmd produces the distributable artefact.
func newPackageCmd() *cobra.Command {
	flags := &pipelineFlags{}
	var format, identity string
	var adhocSign, noNotarize bool

	cmd := &cobra.Command{
		Use:   "package [platform [output-format]]",
		Short: "Produce the distributable artefact",
		Long: `Signs and packages each compiled app into a distributable artefact,
running any missing earlier stages first. Without a signing identity the
app is ad-hoc signed, which other machines will not trust.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := backend.Options{
				Identity:     identity,
				AdhocSign:    adhocSign,
				SkipNotarize: noNotarize,
			}
			return runPipelineVerb(cmd, args, pipeline.VerbPackage, flags, opts,
				func(req *pipeline.Request) {
					req.PackageFormat = format
				})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&format, "format", "", "packaging format (default: the app's packaging_format, then zip)")
	cmd.Flags().StringVar(&identity, "identity", "", "signing identity to use")
	cmd.Flags().BoolVar(&adhocSign, "adhoc-sign", false, "sign with an ad-hoc identity")
	cmd.Flags().BoolVar(&noNotarize, "no-notarize", false, "skip notarization")
	return cmd
}
