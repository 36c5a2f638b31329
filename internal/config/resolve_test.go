package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const layeredDescriptor = `
project:
  name: Hello World
  bundle: com.example
  version: "1.2.3"
  requires: [base-lib]
  icon: project-icon
  theme: plain
apps:
  hello:
    description: A demo app
    sources: [src/hello]
    requires: [app-lib]
    icon: app-icon
    platforms:
      macos:
        requires: [macos-lib]
        theme: aqua
        formats:
          app:
            requires: [app-format-lib]
            icon: format-icon
      linux:
        requires: [linux-lib]
  sidekick:
    description: Companion app
    sources: [src/sidekick]
    version: "2.0.0"
`

func loadLayered(t *testing.T) *ProjectDescriptor {
	t.Helper()
	dir := writeDescriptor(t, layeredDescriptor)
	descriptor, err := Load(dir)
	require.NoError(t, err)
	return descriptor
}

func TestResolveCumulativeKeysConcatenate(t *testing.T) {
	descriptor := loadLayered(t)

	ec, err := descriptor.Resolve("hello", "macos", "app")
	require.NoError(t, err)

	// Least-specific to most-specific, order preserved, no de-duplication.
	assert.Equal(t, []string{"base-lib", "app-lib", "macos-lib", "app-format-lib"}, ec.Requires)
	assert.Equal(t, []string{"src/hello"}, ec.Sources)
}

func TestResolveNonCumulativeMostSpecificWins(t *testing.T) {
	descriptor := loadLayered(t)

	ec, err := descriptor.Resolve("hello", "macos", "app")
	require.NoError(t, err)

	icon, ok := ec.GetString("icon")
	require.True(t, ok)
	assert.Equal(t, "format-icon", icon)

	theme, ok := ec.GetString("theme")
	require.True(t, ok)
	assert.Equal(t, "aqua", theme)
}

func TestResolveFallsThroughAbsentLayers(t *testing.T) {
	descriptor := loadLayered(t)

	// linux has no formats section and no icon override.
	ec, err := descriptor.Resolve("hello", "linux", "appimage")
	require.NoError(t, err)

	icon, ok := ec.GetString("icon")
	require.True(t, ok)
	assert.Equal(t, "app-icon", icon)
	assert.Equal(t, []string{"base-lib", "app-lib", "linux-lib"}, ec.Requires)
}

func TestResolveUnknownKeyIsAbsentNotError(t *testing.T) {
	descriptor := loadLayered(t)

	ec, err := descriptor.Resolve("hello", "macos", "app")
	require.NoError(t, err)

	_, ok := ec.Get("no_such_key")
	assert.False(t, ok)
}

func TestResolveIsIdempotent(t *testing.T) {
	descriptor := loadLayered(t)

	first, err := descriptor.Resolve("hello", "macos", "app")
	require.NoError(t, err)
	second, err := descriptor.Resolve("hello", "macos", "app")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestResolveAppVersionOverride(t *testing.T) {
	descriptor := loadLayered(t)

	ec, err := descriptor.Resolve("sidekick", "macos", "app")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", ec.Version)

	ec, err = descriptor.Resolve("hello", "macos", "app")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", ec.Version)
}

func TestResolveUnknownApp(t *testing.T) {
	descriptor := loadLayered(t)

	_, err := descriptor.Resolve("missing", "macos", "app")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestDerivedNames(t *testing.T) {
	dir := writeDescriptor(t, `
project:
  name: Hello World
  bundle: com.example
  version: "1.0"
apps:
  hello_world:
    description: demo
    sources: [src/hello_world]
`)
	descriptor, err := Load(dir)
	require.NoError(t, err)

	ec, err := descriptor.Resolve("hello_world", "macos", "app")
	require.NoError(t, err)

	assert.Equal(t, "hello_world", ec.ModuleName())
	assert.Equal(t, "hello-world", ec.BundleName())
	assert.Equal(t, "com.example.hello-world", ec.FullBundleID())
	assert.Equal(t, "hello_world", ec.FormalName())
}

func TestTemplateContext(t *testing.T) {
	descriptor := loadLayered(t)

	ec, err := descriptor.Resolve("hello", "macos", "app")
	require.NoError(t, err)

	ctx := ec.TemplateContext()
	assert.Equal(t, "hello", ctx["AppName"])
	assert.Equal(t, "com.example.hello", ctx["BundleID"])
	assert.Equal(t, "macos", ctx["Platform"])
	// Settings flow through without clobbering the derived keys.
	assert.Equal(t, "format-icon", ctx["icon"])
}
