package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"satchel/internal/backend"
	"satchel/internal/pipeline"
	"satchel/internal/process"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// pipelineFlags are shared by every lifecycle verb.
type pipelineFlags struct {
	apps     []string
	parallel int
	force    bool
}

func (f *pipelineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.apps, "app", "a", nil,
		"app to build (repeatable; default: all apps in the project)")
	cmd.Flags().IntVar(&f.parallel, "parallel", 0,
		"maximum concurrent app builds (default: number of CPUs)")
	cmd.Flags().BoolVar(&f.force, "force", false,
		"re-run the verb's stage even if it already completed")
}

// runPipelineVerb loads the project, assembles a pipeline and executes the
// verb. The positional arguments select [platform [format]]. Interrupts
// cancel the run, killing any child process trees.
func runPipelineVerb(cmd *cobra.Command, args []string, verb pipeline.Verb, flags *pipelineFlags, opts backend.Options, configure func(*pipeline.Request)) error {
	descriptor, projectDir, err := loadProject()
	if err != nil {
		return err
	}

	registry, runner, templates := newServices()
	p := &pipeline.Pipeline{
		Descriptor:  descriptor,
		ProjectDir:  projectDir,
		Tools:       registry,
		Runner:      runner,
		Templates:   templates,
		ToolVersion: GetVersion(),
		Parallel:    flags.parallel,
		Force:       flags.force,
		Options:     opts,
	}

	req := &pipeline.Request{Verb: verb, Apps: flags.apps}
	if len(args) > 0 {
		req.Platform = args[0]
	}
	if len(args) > 1 {
		req.Format = args[1]
	}
	if configure != nil {
		configure(req)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spin := startSpinner(string(verb))
	results, err := p.Run(ctx, req)
	stopSpinner(spin)
	if err != nil {
		return err
	}

	for _, r := range results {
		writeResult(cmd.OutOrStdout(), r)
	}

	return pipeline.Failed(results)
}

// writeResult prints one app's terminal state. When a wrapped tool failed,
// its captured output is replayed verbatim ahead of the verdict line so the
// user sees the tool's own diagnostics, not just an exit code.
func writeResult(w io.Writer, r pipeline.AppResult) {
	switch r.State {
	case pipeline.StateSucceeded:
		if r.Artefact != "" {
			fmt.Fprintf(w, "[%s] %s: %s\n", r.App, r.State, r.Artefact)
		} else {
			fmt.Fprintf(w, "[%s] %s\n", r.App, r.State)
		}
	default:
		var invocation *process.ToolInvocationError
		if errors.As(r.Err, &invocation) && invocation.Output != "" {
			fmt.Fprintln(w, strings.TrimRight(invocation.Output, "\n"))
		}
		fmt.Fprintf(w, "[%s] %s: %v\n", r.App, r.State, r.Err)
	}
}

// startSpinner shows progress on an interactive terminal. Log output goes
// to stderr, so the spinner and the logs do not fight over the same line.
func startSpinner(suffix string) *spinner.Spinner {
	info, err := os.Stdout.Stat()
	if err != nil || info.Mode()&os.ModeCharDevice == 0 {
		return nil
	}
	s := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
	s.Suffix = " " + suffix
	s.Start()
	return s
}

func stopSpinner(s *spinner.Spinner) {
	if s != nil {
		s.Stop()
	}
}
