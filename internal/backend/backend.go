// Package backend defines the capability interface implemented once per
// platform/output-format pair, and the registry the pipeline selects
// implementations from. The pipeline never branches on platform names;
// adding a platform means registering a new backend.
package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"satchel/internal/config"
	"satchel/internal/process"
	"satchel/internal/scaffold"
	"satchel/internal/tools"
)

// Mode selects how an app is executed.
type Mode int

const (
	// ModeNormal runs the app as a user would.
	ModeNormal Mode = iota
	// ModeTest runs the app's test suite; the verdict comes from output
	// classification, not the exit code.
	ModeTest
	// ModeDebug runs the app with a debugger attached or debug
	// instrumentation enabled.
	ModeDebug
)

func (m Mode) String() string {
	switch m {
	case ModeTest:
		return "test"
	case ModeDebug:
		return "debug"
	default:
		return "normal"
	}
}

// Target bundles everything a backend operates with: the resolved
// configuration for one (app, platform, format) triple, the project tree
// the stages mutate, and the shared services.
type Target struct {
	// Config is the effective configuration for this app and target.
	Config *config.EffectiveConfig
	// ProjectDir is the directory holding the descriptor; source paths in
	// the configuration are relative to it.
	ProjectDir string
	// Root is the ProjectTree root directory. Stages mutate it in place.
	Root string
	// Tools acquires and verifies external tools.
	Tools *tools.Registry
	// Runner supervises external processes.
	Runner *process.Runner
	// Templates provisions scaffolds.
	Templates *scaffold.Provisioner
	// Options carries per-invocation tuning from the command line.
	Options Options
}

// Options are the user-facing knobs a single invocation can set.
type Options struct {
	// Identity is the signing identity to use, when the backend signs.
	Identity string
	// AdhocSign forces ad-hoc signing even when an identity is configured.
	AdhocSign bool
	// SkipNotarize disables notarization for backends that support it.
	SkipNotarize bool
}

// Backend is the capability set one platform/output-format implementation
// provides. Operations are invoked in stage order by the pipeline; each
// operates on the Target's project tree.
type Backend interface {
	// Platform names the platform this backend targets.
	Platform() string
	// Formats lists the output formats this backend can package.
	Formats() []string
	// DefaultFormat is the format used when the user names none.
	DefaultFormat() string
	// Tools lists the external tools the backend drives, for cache
	// maintenance commands.
	Tools() []tools.Spec

	// Scaffold generates the project tree from a template.
	Scaffold(ctx context.Context, target *Target) error
	// Populate installs the app's code and dependencies into the tree.
	Populate(ctx context.Context, target *Target) error
	// Compile builds the tree into a runnable artefact and returns its path.
	Compile(ctx context.Context, target *Target) (string, error)
	// Execute runs the compiled app in the given mode.
	Execute(ctx context.Context, target *Target, mode Mode) (*process.Result, error)
	// Package produces the distributable artefact for the format.
	Package(ctx context.Context, target *Target, format string) (string, error)
}

// UnsupportedTargetError reports a (platform, format) pair no registered
// backend serves. Selection happens before any tool acquisition, so an
// unsupported target fails without touching the network or the cache.
type UnsupportedTargetError struct {
	Platform string
	Format   string
}

func (e *UnsupportedTargetError) Error() string {
	if e.Format == "" {
		return fmt.Sprintf("platform %q is not supported", e.Platform)
	}
	return fmt.Sprintf("output format %q is not supported on platform %q", e.Format, e.Platform)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Backend{}
)

// Register makes a backend selectable. Backends register themselves from
// init or from an explicit wiring point in main.
func Register(b Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[b.Platform()] = b
}

// Platforms lists the registered platform names, sorted.
func Platforms() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToolSpec finds a tool declared by any registered backend.
func ToolSpec(name string) (tools.Spec, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, b := range registry {
		for _, spec := range b.Tools() {
			if spec.Name == name {
				return spec, true
			}
		}
	}
	return tools.Spec{}, false
}

// Select resolves the backend for a (platform, format) pair. An empty
// format selects the backend's default; the resolved format is returned
// alongside the backend.
func Select(platform, format string) (Backend, string, error) {
	registryMu.RLock()
	b, ok := registry[platform]
	registryMu.RUnlock()
	if !ok {
		return nil, "", &UnsupportedTargetError{Platform: platform}
	}

	if format == "" {
		return b, b.DefaultFormat(), nil
	}
	for _, f := range b.Formats() {
		if f == format {
			return b, format, nil
		}
	}
	return nil, "", &UnsupportedTargetError{Platform: platform, Format: format}
}
