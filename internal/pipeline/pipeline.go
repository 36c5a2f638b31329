// Package pipeline maps lifecycle verbs onto backend operations. It owns
// stage ordering, prerequisite synthesis, completion markers and the
// multi-app concurrency bound; it never branches on platform names.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"

	"satchel/internal/backend"
	"satchel/internal/config"
	"satchel/internal/process"
	"satchel/internal/scaffold"
	"satchel/internal/tools"
	"satchel/pkg/logging"

	"golang.org/x/sync/errgroup"
)

// Verb is a user intent, mapped onto a target stage.
type Verb string

const (
	VerbScaffold Verb = "scaffold"
	VerbPopulate Verb = "populate"
	VerbCompile  Verb = "compile"
	VerbExecute  Verb = "execute"
	VerbPackage  Verb = "package"
)

// State is the terminal state of one app's pipeline run.
type State int

const (
	StateSucceeded State = iota
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Pipeline drives backend operations for a loaded project.
type Pipeline struct {
	Descriptor *config.ProjectDescriptor
	// ProjectDir is the directory holding the descriptor; project trees
	// are created under its build/ subdirectory.
	ProjectDir string

	Tools     *tools.Registry
	Runner    *process.Runner
	Templates *scaffold.Provisioner

	// ToolVersion is recorded in stage completion markers.
	ToolVersion string
	// Parallel bounds concurrent per-app pipelines; zero defers to the
	// project's parallel key, then to the CPU count.
	Parallel int
	// Force re-runs the verb's own stage even when its marker says done.
	Force bool
	// Options flow through to the backend.
	Options backend.Options
}

// Request is one invocation of a verb over one or more apps.
type Request struct {
	Verb Verb
	// Apps selects which apps run; empty means every app in the project.
	Apps []string
	// Platform defaults to the host OS.
	Platform string
	// Format is the output format; empty selects the backend default, or a
	// per-app "format" key in the descriptor.
	Format string
	// Mode applies to the execute verb.
	Mode backend.Mode
	// PackageFormat applies to the package verb; empty falls back to the
	// app's packaging_format key, then to zip.
	PackageFormat string
}

// AppResult is the terminal state of one app's run.
type AppResult struct {
	App   string
	State State
	// Artefact is the compile or package product, when one was produced.
	Artefact string
	// Output is the captured output of an execute run.
	Output string
	Err    error
}

// Run executes the verb for every selected app. Per-app pipelines are
// independent: they run concurrently up to the parallelism bound, and one
// app failing does not cancel its siblings. The returned error is non-nil
// only when the run could not start at all; per-app failures are reported
// in the results.
func (p *Pipeline) Run(ctx context.Context, req *Request) ([]AppResult, error) {
	apps, err := p.selectApps(req.Apps)
	if err != nil {
		return nil, err
	}

	platform := req.Platform
	if platform == "" {
		platform = runtime.GOOS
	}

	results := make([]AppResult, len(apps))

	// Deliberately not errgroup.WithContext: a failing app must not
	// cancel its siblings.
	var g errgroup.Group
	g.SetLimit(p.concurrencyLimit())
	for i, app := range apps {
		g.Go(func() error {
			results[i] = p.runApp(ctx, app, platform, req)
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

// Failed reports whether any app in the results did not succeed, and
// returns the first error for exit-code mapping.
func Failed(results []AppResult) error {
	for _, r := range results {
		if r.State == StateCancelled {
			return process.ErrCancelled
		}
	}
	for _, r := range results {
		if r.State == StateFailed {
			return r.Err
		}
	}
	return nil
}

// concurrencyLimit is the per-app parallelism bound: the explicit setting,
// then the project-level parallel key, then the CPU count.
func (p *Pipeline) concurrencyLimit() int {
	if p.Parallel > 0 {
		return p.Parallel
	}
	if p.Descriptor != nil {
		if v, ok := p.Descriptor.Project.Settings["parallel"].(int); ok && v > 0 {
			return v
		}
	}
	return runtime.NumCPU()
}

func (p *Pipeline) selectApps(requested []string) ([]string, error) {
	if len(requested) == 0 {
		all := make([]string, 0, len(p.Descriptor.Apps))
		for name := range p.Descriptor.Apps {
			all = append(all, name)
		}
		sort.Strings(all)
		return all, nil
	}
	for _, name := range requested {
		if _, ok := p.Descriptor.Apps[name]; !ok {
			return nil, fmt.Errorf("project does not define an app named %q", name)
		}
	}
	return requested, nil
}

// runApp executes the verb's stage plan for one app. Backend selection
// happens before anything else so an unsupported target fails without
// touching the tool cache or the network.
func (p *Pipeline) runApp(ctx context.Context, app, platform string, req *Request) AppResult {
	result := AppResult{App: app}
	fail := func(err error) AppResult {
		if errors.Is(err, context.Canceled) || errors.Is(err, process.ErrCancelled) {
			result.State = StateCancelled
			result.Err = process.ErrCancelled
			return result
		}
		result.State = StateFailed
		result.Err = err
		logging.Error("Pipeline", err, "%s: %s failed", app, req.Verb)
		return result
	}

	formatHint := req.Format
	if formatHint == "" {
		formatHint = p.appFormatHint(app)
	}
	b, format, err := backend.Select(platform, formatHint)
	if err != nil {
		return fail(err)
	}

	cfg, err := p.Descriptor.Resolve(app, platform, format)
	if err != nil {
		return fail(err)
	}

	target := &backend.Target{
		Config:     cfg,
		ProjectDir: p.ProjectDir,
		Root:       filepath.Join(p.ProjectDir, "build", app, platform, format),
		Tools:      p.Tools,
		Runner:     p.Runner,
		Templates:  p.Templates,
		Options:    p.Options,
	}

	artefact, output, err := p.runStages(ctx, b, target, req)
	if err != nil {
		return fail(err)
	}

	result.State = StateSucceeded
	result.Artefact = artefact
	result.Output = output
	return result
}

// appFormatHint reads an app-level "format" key straight from the
// descriptor. It has to be read pre-resolution because the resolved view
// depends on the format itself.
func (p *Pipeline) appFormatHint(app string) string {
	desc, ok := p.Descriptor.Apps[app]
	if !ok || desc.Settings == nil {
		return ""
	}
	if f, ok := desc.Settings["format"].(string); ok {
		return f
	}
	return ""
}
