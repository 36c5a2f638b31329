package backend

import (
	"context"
	"testing"

	"satchel/internal/process"
	"satchel/internal/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	platform string
	formats  []string
	tools    []tools.Spec
}

func (s *stubBackend) Platform() string       { return s.platform }
func (s *stubBackend) Formats() []string      { return s.formats }
func (s *stubBackend) DefaultFormat() string  { return s.formats[0] }
func (s *stubBackend) Tools() []tools.Spec    { return s.tools }
func (s *stubBackend) Scaffold(context.Context, *Target) error { return nil }
func (s *stubBackend) Populate(context.Context, *Target) error { return nil }
func (s *stubBackend) Compile(context.Context, *Target) (string, error) {
	return "", nil
}
func (s *stubBackend) Execute(context.Context, *Target, Mode) (*process.Result, error) {
	return nil, nil
}
func (s *stubBackend) Package(context.Context, *Target, string) (string, error) {
	return "", nil
}

func TestSelect(t *testing.T) {
	Register(&stubBackend{platform: "testos", formats: []string{"app", "archive"}})

	b, format, err := Select("testos", "")
	require.NoError(t, err)
	assert.Equal(t, "testos", b.Platform())
	assert.Equal(t, "app", format, "empty format selects the default")

	b, format, err = Select("testos", "archive")
	require.NoError(t, err)
	assert.NotNil(t, b)
	assert.Equal(t, "archive", format)
}

func TestSelectUnknownPlatform(t *testing.T) {
	_, _, err := Select("beos", "")
	var unsupported *UnsupportedTargetError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "beos", unsupported.Platform)
}

func TestSelectUnknownFormat(t *testing.T) {
	Register(&stubBackend{platform: "testos2", formats: []string{"app"}})

	_, _, err := Select("testos2", "floppy")
	var unsupported *UnsupportedTargetError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "testos2", unsupported.Platform)
	assert.Equal(t, "floppy", unsupported.Format)
}

func TestPlatformsSorted(t *testing.T) {
	Register(&stubBackend{platform: "zeta", formats: []string{"app"}})
	Register(&stubBackend{platform: "alpha", formats: []string{"app"}})

	names := Platforms()
	require.GreaterOrEqual(t, len(names), 2)
	assert.IsIncreasing(t, names)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "normal", ModeNormal.String())
	assert.Equal(t, "test", ModeTest.String())
	assert.Equal(t, "debug", ModeDebug.String())
}

func TestToolSpecLookup(t *testing.T) {
	Register(&stubBackend{
		platform: "toolos",
		formats:  []string{"app"},
		tools:    []tools.Spec{{Name: "widgetc", Version: "1.4.0"}},
	})

	spec, ok := ToolSpec("widgetc")
	require.True(t, ok)
	assert.Equal(t, "1.4.0", spec.Version)

	_, ok = ToolSpec("no-such-tool")
	assert.False(t, ok)
}
