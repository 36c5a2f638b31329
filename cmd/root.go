package cmd

import (
	"context"
	"errors"
	"os"

	"satchel/internal/backend"
	"satchel/internal/backend/macos"
	"satchel/internal/config"
	"satchel/internal/process"
	"satchel/internal/scaffold"
	"satchel/internal/tools"
	"satchel/pkg/logging"

	"github.com/spf13/cobra"
)

// Exit codes, distinguishing who has to act on a failure.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeUserError indicates bad configuration or arguments.
	ExitCodeUserError = 1
	// ExitCodeEnvError indicates a broken environment: missing tool,
	// failed download, unsupported host.
	ExitCodeEnvError = 2
	// ExitCodeToolFailure indicates a wrapped external tool failed.
	ExitCodeToolFailure = 3
	// ExitCodeCancelled indicates a user-initiated interrupt.
	ExitCodeCancelled = 130
)

// VerbosityEnv overrides the log level when the flag is not given.
const VerbosityEnv = "SATCHEL_VERBOSITY"

var verbosity string

// rootCmd is the entry point when satchel is called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "satchel",
	Short: "Package applications as native distributable artefacts",
	Long: `satchel converts an application codebase into a distributable
native artefact: it generates the platform scaffold, installs your code
into it, compiles, runs, signs and packages the result.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := verbosity
		if !cmd.Flags().Changed("verbosity") {
			if env := os.Getenv(VerbosityEnv); env != "" {
				level = env
			}
		}
		logging.Init(logging.ParseLevel(level), os.Stderr)
		return nil
	},
}

// SetVersion sets the version for the root command. It is called from the
// main package to inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the running build's version.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the CLI and exits with a semantic exit code.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "satchel version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps the error taxonomy onto exit codes so scripts can tell
// a config mistake from a broken environment from a failing build tool.
func getExitCode(err error) int {
	if errors.Is(err, process.ErrCancelled) || errors.Is(err, context.Canceled) {
		return ExitCodeCancelled
	}

	var invocation *process.ToolInvocationError
	if errors.As(err, &invocation) {
		return ExitCodeToolFailure
	}

	var download *tools.DownloadFailedError
	var integrity *tools.IntegrityFailedError
	var unsupportedHost *tools.UnsupportedPlatformError
	var missingTool *tools.MissingToolError
	if errors.As(err, &download) || errors.As(err, &integrity) ||
		errors.As(err, &unsupportedHost) || errors.As(err, &missingTool) {
		return ExitCodeEnvError
	}

	// Config mistakes, unsupported targets, template mismatches and
	// anything unclassified are on the user.
	return ExitCodeUserError
}

// loadProject reads the descriptor from the working directory.
func loadProject() (*config.ProjectDescriptor, string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, "", err
	}
	descriptor, err := config.Load(dir)
	if err != nil {
		return nil, "", err
	}
	return descriptor, dir, nil
}

// newTarget assembles the shared services a command operates with.
func newServices() (*tools.Registry, *process.Runner, *scaffold.Provisioner) {
	runner := process.NewRunner()
	registry := tools.NewRegistry(tools.DefaultRoot(), runner)
	templates := &scaffold.Provisioner{ToolVersion: GetVersion()}
	return registry, runner, templates
}

func init() {
	rootCmd.PersistentFlags().StringVar(&verbosity, "verbosity", "info",
		"log level: debug, info, warn, or error")

	backend.Register(macos.New())

	rootCmd.AddCommand(newNewCmd())
	rootCmd.AddCommand(newScaffoldCmd())
	rootCmd.AddCommand(newPopulateCmd())
	rootCmd.AddCommand(newCompileCmd())
	rootCmd.AddCommand(newExecuteCmd())
	rootCmd.AddCommand(newPackageCmd())
	rootCmd.AddCommand(newToolsCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}
