package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"satchel/internal/backend"
	"satchel/internal/process"
	"satchel/pkg/logging"
)

// Stage is one step in the build lifecycle. Stages are totally ordered:
// scaffold < populate < compile; execute and package both require compile.
type Stage string

const (
	StageScaffold Stage = "scaffold"
	StagePopulate Stage = "populate"
	StageCompile  Stage = "compile"
)

// markerStages is the ordered prerequisite chain recorded by completion
// markers in the project tree.
var markerStages = []Stage{StageScaffold, StagePopulate, StageCompile}

// stagesDir holds completion markers inside a project tree.
const stagesDir = ".satchel/stages"

// marker is the payload of a stage completion file.
type marker struct {
	Stage       string `json:"stage"`
	ToolVersion string `json:"tool_version"`
	CompletedAt string `json:"completed_at"`
}

// prerequisites returns the marker stages a verb depends on, including the
// verb's own stage when it is marker-backed.
func prerequisites(verb Verb) []Stage {
	switch verb {
	case VerbScaffold:
		return markerStages[:1]
	case VerbPopulate:
		return markerStages[:2]
	case VerbCompile, VerbExecute, VerbPackage:
		return markerStages
	default:
		return nil
	}
}

// runStages synthesizes missing prerequisite stages in order, exactly once,
// short-circuiting on the first failure, then runs the verb's own
// non-marker operation when it has one. Markers are written only for stages
// that actually finished.
func (p *Pipeline) runStages(ctx context.Context, b backend.Backend, target *backend.Target, req *Request) (artefact, output string, err error) {
	stages := prerequisites(req.Verb)
	if len(stages) == 0 {
		return "", "", fmt.Errorf("unknown verb %q", req.Verb)
	}
	last := stages[len(stages)-1]

	for _, stage := range stages {
		if p.markerPresent(target, stage) {
			// Force re-runs only the last marker stage of the plan;
			// earlier completed prerequisites stay completed.
			if !(p.Force && stage == last) {
				logging.Debug("Pipeline", "%s: %s already done, skipping", target.Config.AppName, stage)
				continue
			}
		}
		if err := ctx.Err(); err != nil {
			return "", "", err
		}

		a, err := p.runStage(ctx, b, target, stage)
		if err != nil {
			return "", "", fmt.Errorf("%s stage: %w", stage, err)
		}
		if a != "" {
			artefact = a
		}
		if err := p.writeMarker(target, stage); err != nil {
			return "", "", err
		}
	}

	switch req.Verb {
	case VerbExecute:
		output, err = p.execute(ctx, b, target, req.Mode)
		if err != nil {
			return "", "", fmt.Errorf("execute stage: %w", err)
		}
	case VerbPackage:
		artefact, err = b.Package(ctx, target, p.packageFormat(target, req))
		if err != nil {
			return "", "", fmt.Errorf("package stage: %w", err)
		}
	}
	return artefact, output, nil
}

func (p *Pipeline) runStage(ctx context.Context, b backend.Backend, target *backend.Target, stage Stage) (string, error) {
	switch stage {
	case StageScaffold:
		return "", b.Scaffold(ctx, target)
	case StagePopulate:
		return "", b.Populate(ctx, target)
	case StageCompile:
		return b.Compile(ctx, target)
	default:
		return "", fmt.Errorf("unknown stage %q", stage)
	}
}

// execute runs the app. In test mode the verdict comes from the process
// supervisor's output classification, never the exit code alone, and no
// completion marker is involved: a test run never advances the
// package-ready state.
func (p *Pipeline) execute(ctx context.Context, b backend.Backend, target *backend.Target, mode backend.Mode) (string, error) {
	result, err := b.Execute(ctx, target, mode)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}

	switch result.Outcome {
	case process.OutcomeCancelled:
		return "", process.ErrCancelled
	case process.OutcomeFailed:
		return "", &process.ToolInvocationError{
			Tool:     target.Config.AppName,
			ExitCode: result.ExitCode,
			Output:   result.Output,
		}
	}
	return result.Output, nil
}

// packageFormat decides the distributable format: the explicit flag, then
// the app's packaging_format key, then zip as the universal fallback.
func (p *Pipeline) packageFormat(target *backend.Target, req *Request) string {
	if req.PackageFormat != "" {
		return req.PackageFormat
	}
	if f, ok := target.Config.GetString("packaging_format"); ok {
		return f
	}
	return "zip"
}

func (p *Pipeline) markerPath(target *backend.Target, stage Stage) string {
	return filepath.Join(target.Root, filepath.FromSlash(stagesDir), string(stage))
}

func (p *Pipeline) markerPresent(target *backend.Target, stage Stage) bool {
	_, err := os.Stat(p.markerPath(target, stage))
	return err == nil
}

func (p *Pipeline) writeMarker(target *backend.Target, stage Stage) error {
	path := p.markerPath(target, stage)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(marker{
		Stage:       string(stage),
		ToolVersion: p.ToolVersion,
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
