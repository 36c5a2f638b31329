package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"satchel/internal/config"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCmd(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})
	return cmd
}

func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
	return dir
}

func TestRunNewCreatesLoadableProject(t *testing.T) {
	dir := inTempDir(t)

	require.NoError(t, runNew(newTestCmd(t), "my-app", "com.example", "A test app", ""))

	projectDir := filepath.Join(dir, "my-app")
	assert.FileExists(t, filepath.Join(projectDir, config.DescriptorFileName))
	assert.FileExists(t, filepath.Join(projectDir, "src", "my_app", "main.go"))

	descriptor, err := config.Load(projectDir)
	require.NoError(t, err)
	assert.Equal(t, "my-app", descriptor.Project.Name)
	assert.Equal(t, "com.example", descriptor.Project.Bundle)

	cfg, err := descriptor.Resolve("my-app", "macos", "app")
	require.NoError(t, err)
	assert.Equal(t, []string{"src/my_app"}, cfg.Sources)
	assert.Equal(t, "A test app", cfg.Description)
}

func TestRunNewRejectsBadInputs(t *testing.T) {
	inTempDir(t)

	assert.Error(t, runNew(newTestCmd(t), "1bad", "com.example", "", ""))
	assert.Error(t, runNew(newTestCmd(t), "app", "nodots", "", ""))
}

func TestRunNewRefusesExistingDirectory(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "taken"), 0o755))

	assert.Error(t, runNew(newTestCmd(t), "taken", "com.example", "", ""))
}

func TestRunNewRecordsTemplate(t *testing.T) {
	dir := inTempDir(t)

	require.NoError(t, runNew(newTestCmd(t), "tpl-app", "com.example", "", "https://example.com/tpl.git"))

	descriptor, err := config.Load(filepath.Join(dir, "tpl-app"))
	require.NoError(t, err)
	cfg, err := descriptor.Resolve("tpl-app", "macos", "app")
	require.NoError(t, err)

	template, ok := cfg.GetString("template")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/tpl.git", template)
}
