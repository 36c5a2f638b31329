package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"satchel/internal/process"
	"satchel/pkg/logging"

	goversion "github.com/hashicorp/go-version"
	"golang.org/x/sync/errgroup"
)

// Registry verifies, acquires and upgrades external tools against an on-disk
// cache. The cache is shared between invocations and potentially between
// concurrent processes; every mutation is staged in a temporary location and
// atomically published, so a half-written entry is never observable.
type Registry struct {
	// Root is the cache root directory.
	Root string

	runner *process.Runner
}

// NewRegistry returns a registry over the given cache root.
func NewRegistry(root string, runner *process.Runner) *Registry {
	if root == "" {
		root = DefaultRoot()
	}
	if runner == nil {
		runner = process.NewRunner()
	}
	return &Registry{Root: root, runner: runner}
}

// Resolve returns the executable path that would be used for the spec
// without verifying or installing anything. Resolution order: the per-tool
// environment override first (strictly takes precedence), then the cache
// entry for name+version+host.
func (r *Registry) Resolve(spec Spec) string {
	if override, ok := spec.Override(); ok {
		return override
	}
	if spec.System {
		if path, err := exec.LookPath(spec.BinaryName()); err == nil {
			return path
		}
		return spec.BinaryName()
	}
	return filepath.Join(installDir(r.Root, spec), spec.BinaryName())
}

// Verify checks the state of a tool install: absent, wrong version, or ok.
// The verification invocation runs through the process supervisor and its
// output is parsed for a version; a spec without a verify pattern passes on
// existence alone.
func (r *Registry) Verify(ctx context.Context, spec Spec) (Status, error) {
	binary := r.Resolve(spec)
	if _, err := os.Stat(binary); err != nil {
		return StatusAbsent, nil
	}

	if spec.VerifyPattern == nil {
		return StatusOK, nil
	}

	result, err := r.runner.Run(ctx, &process.Invocation{
		Args: append([]string{binary}, spec.VerifyArgs...),
	})
	if err != nil {
		return StatusAbsent, nil
	}
	if result.Outcome != process.OutcomeSucceeded {
		// A binary that exists but cannot report its version is treated as
		// a corrupt install.
		return StatusWrongVersion, nil
	}

	m := spec.VerifyPattern.FindStringSubmatch(result.Output)
	if m == nil || len(m) < 2 {
		return StatusWrongVersion, nil
	}

	got, err := goversion.NewVersion(m[1])
	if err != nil {
		return StatusWrongVersion, nil
	}
	// A plain version is an equality constraint, so exact specs and ranges
	// go through the same check.
	want, err := goversion.NewConstraint(spec.Version)
	if err != nil {
		return StatusWrongVersion, fmt.Errorf("tool %s declares unparseable version %q: %w", spec.Name, spec.Version, err)
	}
	if !want.Check(got) {
		logging.Debug("Tools", "%s reports version %s, want %s", spec.Name, got, spec.Version)
		return StatusWrongVersion, nil
	}
	return StatusOK, nil
}

// Ensure verifies the tool and acquires it when absent or stale, returning
// the executable path. A per-tool environment override is honored as-is and
// never triggers acquisition, even when it reports an unexpected version;
// the override is the user's explicit instruction.
func (r *Registry) Ensure(ctx context.Context, spec Spec) (string, error) {
	if override, ok := spec.Override(); ok {
		logging.Info("Tools", "Using %s override: %s", spec.Name, override)
		if _, err := os.Stat(override); err != nil {
			return "", fmt.Errorf("%s points at %s, which does not exist", spec.EnvVar(), override)
		}
		return override, nil
	}

	if spec.System {
		path, err := exec.LookPath(spec.BinaryName())
		if err != nil {
			return "", &MissingToolError{Tool: spec.Name}
		}
		return path, nil
	}

	status, err := r.Verify(ctx, spec)
	if err != nil {
		return "", err
	}
	if status == StatusOK {
		return r.Resolve(spec), nil
	}
	return r.Acquire(ctx, spec)
}

// EnsureAll resolves a set of tools concurrently. Tools have no ordering
// dependency on each other, so verification and acquisition parallelize
// freely.
func (r *Registry) EnsureAll(ctx context.Context, specs []Spec) (map[string]string, error) {
	paths := make([]string, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, spec := range specs {
		g.Go(func() error {
			path, err := r.Ensure(gctx, spec)
			if err != nil {
				return err
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byName := make(map[string]string, len(specs))
	for i, spec := range specs {
		byName[spec.Name] = paths[i]
	}
	return byName, nil
}

// Upgrade discards the cached install for the spec and acquires it afresh.
func (r *Registry) Upgrade(ctx context.Context, spec Spec) (string, error) {
	if _, ok := spec.Override(); ok {
		return "", fmt.Errorf("%s is overridden by %s and is not managed by satchel", spec.Name, spec.EnvVar())
	}
	if spec.System {
		return "", fmt.Errorf("%s ships with the host OS and is not managed by satchel", spec.Name)
	}

	install := Installed{
		Name:     spec.Name,
		Version:  spec.Version,
		Platform: HostPlatform(),
		Path:     installDir(r.Root, spec),
	}
	if err := r.Discard(install); err != nil {
		return "", err
	}
	logging.Info("Tools", "Upgrading %s to %s", spec.Name, spec.Version)
	return r.Acquire(ctx, spec)
}

// Discard removes one cached install. The next Ensure for that tool
// acquires it afresh.
func (r *Registry) Discard(i Installed) error {
	if err := os.RemoveAll(i.Path); err != nil {
		return fmt.Errorf("unable to remove cached %s: %w", i.Name, err)
	}
	return nil
}

// List enumerates the cached tool installs under the registry root.
func (r *Registry) List() ([]Installed, error) {
	var installed []Installed

	names, err := os.ReadDir(r.Root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		if !name.IsDir() || name.Name() == stagingDirName {
			continue
		}
		versions, err := os.ReadDir(filepath.Join(r.Root, name.Name()))
		if err != nil {
			continue
		}
		for _, version := range versions {
			if !version.IsDir() {
				continue
			}
			platforms, err := os.ReadDir(filepath.Join(r.Root, name.Name(), version.Name()))
			if err != nil {
				continue
			}
			for _, platform := range platforms {
				if !platform.IsDir() {
					continue
				}
				installed = append(installed, Installed{
					Name:     name.Name(),
					Version:  version.Name(),
					Platform: platform.Name(),
					Path:     filepath.Join(r.Root, name.Name(), version.Name(), platform.Name()),
				})
			}
		}
	}
	return installed, nil
}
