// Package process runs external tools on behalf of the pipeline. It streams
// and captures their output, decodes it defensively, filters noise, and
// classifies success or failure with configurable patterns so that tools
// with unreliable exit codes still produce a trustworthy verdict.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"satchel/pkg/logging"
)

// Outcome is the classified result of a tool invocation.
type Outcome int

const (
	// OutcomeSucceeded means the invocation completed successfully, either by
	// exit code or because a success pattern matched.
	OutcomeSucceeded Outcome = iota
	// OutcomeFailed means the invocation failed, either by exit code or
	// because a failure pattern matched.
	OutcomeFailed
	// OutcomeCancelled means the invocation was interrupted by the user.
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Invocation describes a single external process execution. It exists only
// for the duration of a Run call.
type Invocation struct {
	// Args is the command line; Args[0] is the executable.
	Args []string
	// Dir is the working directory; empty means the current directory.
	Dir string
	// Env is an overlay applied on top of the current environment.
	Env map[string]string

	// Interactive passes the invoking terminal's stdin/stdout/stderr through
	// unmodified. Classification and filtering are unavailable in this mode.
	Interactive bool

	// Success and Failure classify the run independent of exit code. A
	// failure match always wins over a success match. When either matches on
	// a still-running stream, the child process tree is terminated; this is
	// how indefinite streams (device logs) are ended by a marker line.
	Success []*regexp.Regexp
	Failure []*regexp.Regexp

	// Filters suppress matching lines from display. They do not affect
	// capture or classification.
	Filters []*regexp.Regexp

	// Display receives the (filtered) output lines as they stream. Nil
	// suppresses display entirely; capture is unaffected.
	Display io.Writer
}

// Result reports the terminal state of an invocation.
type Result struct {
	ExitCode int
	Output   string
	Outcome  Outcome
}

// ToolInvocationError reports that a wrapped tool failed. The captured
// output is carried verbatim so it can be surfaced to the user.
type ToolInvocationError struct {
	Tool     string
	ExitCode int
	Output   string
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("%s failed (exit code %d)", e.Tool, e.ExitCode)
}

// ErrCancelled reports a user-initiated interruption. It is not an error in
// the taxonomy sense; callers treat it as a distinct terminal state.
var ErrCancelled = errors.New("cancelled by user")

// Runner executes invocations. The zero value is usable.
type Runner struct{}

// NewRunner returns a Runner.
func NewRunner() *Runner {
	return &Runner{}
}

// Run executes the invocation and returns its classified result. An error is
// returned only when the process could not be started at all; a process that
// ran and failed is reported through Result.Outcome.
func (r *Runner) Run(ctx context.Context, inv *Invocation) (*Result, error) {
	if len(inv.Args) == 0 {
		return nil, fmt.Errorf("invocation has no command line")
	}
	if inv.Interactive && (len(inv.Success) > 0 || len(inv.Failure) > 0 || len(inv.Filters) > 0) {
		return nil, fmt.Errorf("patterns cannot be applied to an interactive invocation")
	}

	logging.Debug("Process", "Running: %s", strings.Join(inv.Args, " "))
	if inv.Dir != "" {
		logging.Debug("Process", "Working directory: %s", inv.Dir)
	}

	if inv.Interactive {
		return r.runInteractive(ctx, inv)
	}
	return r.runCaptured(ctx, inv)
}

// RunChecked is Run plus error conversion: a Failed outcome becomes a
// *ToolInvocationError and a Cancelled outcome becomes ErrCancelled.
func (r *Runner) RunChecked(ctx context.Context, inv *Invocation) (*Result, error) {
	result, err := r.Run(ctx, inv)
	if err != nil {
		return nil, err
	}
	switch result.Outcome {
	case OutcomeCancelled:
		return result, ErrCancelled
	case OutcomeFailed:
		return result, &ToolInvocationError{
			Tool:     inv.Args[0],
			ExitCode: result.ExitCode,
			Output:   result.Output,
		}
	}
	return result, nil
}

func (r *Runner) command(ctx context.Context, inv *Invocation) *exec.Cmd {
	cmd := exec.CommandContext(ctx, inv.Args[0], inv.Args[1:]...)
	cmd.Dir = inv.Dir
	if len(inv.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range inv.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}
	// The child gets its own process group so that cancellation can
	// terminate the whole tree, not just the direct child.
	configureProcessGroup(cmd)
	cmd.Cancel = func() error {
		return terminateTree(cmd)
	}
	cmd.WaitDelay = killGracePeriod
	return cmd
}

func (r *Runner) runInteractive(ctx context.Context, inv *Invocation) (*Result, error) {
	cmd := r.command(ctx, inv)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	return r.finish(ctx, inv, cmd, err, "", classifier{})
}

func (r *Runner) runCaptured(ctx context.Context, inv *Invocation) (*Result, error) {
	cmd := r.command(ctx, inv)

	// stdout and stderr are interleaved into one stream, the way a user
	// would see them in a terminal.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		if ctx.Err() != nil {
			return &Result{ExitCode: -1, Outcome: OutcomeCancelled}, nil
		}
		return nil, fmt.Errorf("unable to start %s: %w", inv.Args[0], err)
	}

	cls := classifier{success: inv.Success, failure: inv.Failure}

	var captured strings.Builder
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := decodeLine(scanner.Bytes())
			captured.WriteString(line)
			captured.WriteByte('\n')

			if inv.Display != nil && !suppressed(line, inv.Filters) {
				fmt.Fprintln(inv.Display, line)
			}

			if cls.observe(line) {
				// A terminal pattern matched while the stream is still
				// running; end the child so the run can conclude.
				_ = terminateTree(cmd)
			}
		}
		// Keep draining so the writer side can never block, even if the
		// scanner bailed out on an oversized line.
		_, _ = io.Copy(io.Discard, pr)
	}()

	err := cmd.Wait()
	pw.Close()
	wg.Wait()
	pr.Close()

	return r.finish(ctx, inv, cmd, err, captured.String(), cls)
}

func (r *Runner) finish(ctx context.Context, inv *Invocation, cmd *exec.Cmd, runErr error, output string, cls classifier) (*Result, error) {
	result := &Result{Output: output}

	switch {
	case runErr == nil:
		result.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else if ctx.Err() == nil {
			// Not an exit status and not a cancellation: the process could
			// not be run at all.
			return nil, fmt.Errorf("unable to run %s: %w", inv.Args[0], runErr)
		} else {
			result.ExitCode = -1
		}
	}

	switch {
	case ctx.Err() != nil:
		result.Outcome = OutcomeCancelled
	case cls.failed:
		result.Outcome = OutcomeFailed
	case cls.succeeded:
		result.Outcome = OutcomeSucceeded
	case result.ExitCode == 0:
		result.Outcome = OutcomeSucceeded
	default:
		result.Outcome = OutcomeFailed
	}

	logging.Debug("Process", "%s: exit code %d, outcome %s", inv.Args[0], result.ExitCode, result.Outcome)
	return result, nil
}

func suppressed(line string, filters []*regexp.Regexp) bool {
	for _, f := range filters {
		if f.MatchString(line) {
			return true
		}
	}
	return false
}

// classifier tracks pattern matches across the output stream.
type classifier struct {
	success []*regexp.Regexp
	failure []*regexp.Regexp

	succeeded bool
	failed    bool
}

// observe scans one line; it reports true when a terminal pattern matched
// and streaming should stop.
func (c *classifier) observe(line string) bool {
	for _, p := range c.failure {
		if p.MatchString(line) {
			c.failed = true
			return true
		}
	}
	for _, p := range c.success {
		if p.MatchString(line) {
			c.succeeded = true
			return true
		}
	}
	return false
}
