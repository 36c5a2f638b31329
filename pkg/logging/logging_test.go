package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelWarn, &buf)

	Debug("Test", "debug message")
	Info("Test", "info message")
	Warn("Test", "warn message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
}

func TestErrorIncludesCause(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelInfo, &buf)

	Error("Test", errors.New("boom"), "operation failed")

	out := buf.String()
	assert.Contains(t, out, "operation failed")
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "subsystem=Test")
}

func TestFormattedMessage(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelInfo, &buf)

	Info("Test", "built %d artefacts for %s", 3, "macos")

	assert.Contains(t, buf.String(), "built 3 artefacts for macos")
}
