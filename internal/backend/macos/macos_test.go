//go:build !windows

package macos

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"satchel/internal/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPopulateInstallsSources(t *testing.T) {
	cfg := testConfig(t, "demo")
	target := testTarget(t, cfg)

	// Lay out the project: descriptor dir with sources, tree under build/.
	projectDir := t.TempDir()
	target.ProjectDir = projectDir
	target.Root = filepath.Join(projectDir, "build", "demo", Platform, FormatApp)

	srcDir := filepath.Join(projectDir, "src", "demo")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "main.go"), []byte("package main\n"), 0o644))

	b := New()
	require.NoError(t, b.Populate(context.Background(), target))

	installed := filepath.Join(b.bundlePath(target), "Contents", "Resources", "app", "demo", "main.go")
	assert.FileExists(t, installed)

	// Re-populating replaces, never accumulates.
	require.NoError(t, os.Remove(filepath.Join(srcDir, "main.go")))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "app.go"), []byte("package main\n"), 0o644))
	require.NoError(t, b.Populate(context.Background(), target))
	assert.NoFileExists(t, installed)
	assert.FileExists(t, filepath.Join(b.bundlePath(target), "Contents", "Resources", "app", "demo", "app.go"))
}

func TestPopulateMissingSource(t *testing.T) {
	cfg := testConfig(t, "demo")
	target := testTarget(t, cfg)
	target.ProjectDir = t.TempDir()

	err := New().Populate(context.Background(), target)
	require.ErrorContains(t, err, "does not exist")
}

func TestCompileCommandDefaultsToGoBuild(t *testing.T) {
	cfg := testConfig(t, "demo")
	target := testTarget(t, cfg)
	target.ProjectDir = "/work/project"

	b := New()
	argv, dir, err := b.compileCommand(target)
	require.NoError(t, err)
	assert.Equal(t, "go", argv[0])
	assert.Contains(t, argv, "./demo")
	assert.Equal(t, filepath.Join("/work/project", "src"), dir)
}

func TestBundleLayout(t *testing.T) {
	cfg := testConfig(t, "demo")
	target := testTarget(t, cfg)

	b := New()
	assert.Equal(t, filepath.Join(target.Root, "demo.app"), b.bundlePath(target))
	assert.Equal(t, filepath.Join(target.Root, "demo.app", "Contents", "MacOS", "demo"), b.binaryPath(target))
}

func TestPopulateDoesNotClobberConfiguredSources(t *testing.T) {
	cfg := testConfig(t, "demo")
	target := testTarget(t, cfg)
	target.ProjectDir = t.TempDir()
	target.Root = filepath.Join(target.ProjectDir, "build", "demo", Platform, FormatApp)

	for _, dir := range []string{"src/demo", "tests/demo", "src/extra"} {
		require.NoError(t, os.MkdirAll(filepath.Join(target.ProjectDir, dir), 0o755))
	}

	// Sources shares a backing array with a spare element, as slices built
	// by layered merging do. Populate must not write through it.
	backing := []string{"src/demo", "src/extra"}
	cfg.Sources = backing[:1]
	cfg.TestSources = []string{"tests/demo"}

	require.NoError(t, New().Populate(context.Background(), target))
	assert.Equal(t, []string{"src/demo", "src/extra"}, backing)
}

func TestPackageChecksToolsBeforeTouchingBundle(t *testing.T) {
	cfg := testConfig(t, "demo")
	target := testTarget(t, cfg)
	target.Options.AdhocSign = true

	// An empty PATH makes every system tool absent.
	t.Setenv("PATH", t.TempDir())

	_, err := New().Package(context.Background(), target, PackageZip)
	var missing *tools.MissingToolError
	require.ErrorAs(t, err, &missing)
	assert.NoDirExists(t, filepath.Join(target.Root, "dist"))
}

func TestDeclaredTools(t *testing.T) {
	byName := map[string]tools.Spec{}
	for _, spec := range New().Tools() {
		byName[spec.Name] = spec
	}

	goSpec, ok := byName["go"]
	require.True(t, ok)
	assert.False(t, goSpec.System)
	assert.Equal(t, goVersion, goSpec.Version)
	assert.Contains(t, goSpec.URLs, "darwin-arm64")

	assert.True(t, byName["codesign"].System)
	assert.True(t, byName["hdiutil"].System)
}
