package macos

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"satchel/internal/backend"
	"satchel/internal/process"
	"satchel/pkg/logging"

	"golang.org/x/sync/errgroup"
)

// adhocIdentity is codesign's marker for an ad-hoc signature.
const adhocIdentity = "-"

// signBundle signs everything inside the bundle depth-first, then the
// bundle itself. Nested components must carry a valid signature before the
// structure enclosing them is sealed, so groups of siblings are signed in
// parallel but groups run deepest-first.
func (b *Backend) signBundle(ctx context.Context, target *backend.Target, identity string) error {
	bundle := b.bundlePath(target)
	codesign, err := target.Tools.Ensure(ctx, codesignTool)
	if err != nil {
		return err
	}

	if identity == adhocIdentity {
		logging.Info("macOS", "Signing %s with an ad-hoc identity...", target.Config.AppName)
	} else {
		logging.Info("macOS", "Signing %s with identity %q...", target.Config.AppName, identity)
	}

	groups, err := signGroups(bundle)
	if err != nil {
		return err
	}

	for _, group := range groups {
		g, gctx := errgroup.WithContext(ctx)
		for _, path := range group {
			g.Go(func() error {
				return b.sign(gctx, target, codesign, path, identity)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	// The enclosing bundle is sealed last.
	return b.sign(ctx, target, codesign, bundle, identity)
}

// signGroups collects the paths inside the bundle that need their own
// signature and orders them for depth-first signing: entries are grouped by
// parent directory, and groups are emitted in reverse lexicographic order
// of that directory, so nested components always precede what contains
// them. Entries within one group share no parent-child relation and sign
// in parallel.
func signGroups(bundle string) ([][]string, error) {
	byDir := map[string][]string{}

	err := filepath.WalkDir(bundle, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == bundle {
			return nil
		}

		if d.IsDir() {
			if strings.HasSuffix(d.Name(), ".framework") || strings.HasSuffix(d.Name(), ".app") {
				byDir[filepath.Dir(path)] = append(byDir[filepath.Dir(path)], path)
				return filepath.SkipDir
			}
			return nil
		}

		if !needsSignature(path, d) {
			return nil
		}
		byDir[filepath.Dir(path)] = append(byDir[filepath.Dir(path)], path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	dirs := make([]string, 0, len(byDir))
	for dir := range byDir {
		dirs = append(dirs, dir)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))

	groups := make([][]string, 0, len(dirs))
	for _, dir := range dirs {
		sort.Strings(byDir[dir])
		groups = append(groups, byDir[dir])
	}
	return groups, nil
}

// needsSignature reports whether a regular file must carry its own
// signature: dynamic libraries and standalone executables do, data files
// are covered by the enclosing bundle's seal.
func needsSignature(path string, d fs.DirEntry) bool {
	switch {
	case strings.HasSuffix(path, ".dylib"), strings.HasSuffix(path, ".so"):
		return true
	}
	info, err := d.Info()
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}

// sign runs codesign over one path.
func (b *Backend) sign(ctx context.Context, target *backend.Target, codesign, path, identity string) error {
	args := []string{codesign, "--sign", identity, "--force"}
	if identity != adhocIdentity {
		args = append(args, "--timestamp", "--options", "runtime")
	}
	if entitlements := b.entitlementsFile(target); entitlements != "" && path == b.bundlePath(target) {
		args = append(args, "--entitlements", entitlements)
	}
	args = append(args, path)

	logging.Debug("macOS", "Signing %s", path)
	_, err := target.Runner.RunChecked(ctx, &process.Invocation{Args: args})
	return err
}

// entitlementsFile is the bundle's entitlements plist, when the template
// provided one.
func (b *Backend) entitlementsFile(target *backend.Target) string {
	path := filepath.Join(b.bundlePath(target), "Contents", "Resources", "Entitlements.plist")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
