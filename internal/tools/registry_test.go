//go:build !windows

package tools

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"satchel/internal/process"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeToolArchive builds a tar.gz containing a single shell script that
// reports the given version.
func fakeToolArchive(t *testing.T, name, version string) []byte {
	t.Helper()

	script := "#!/bin/sh\necho \"" + name + " version " + version + "\"\n"

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     name,
		Mode:     0o755,
		Size:     int64(len(script)),
		Typeflag: tar.TypeReg,
	}))
	_, err := tw.Write([]byte(script))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func serveArchive(t *testing.T, path string, body []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func fakeSpec(t *testing.T, server *httptest.Server, name, version string) Spec {
	t.Helper()
	return Spec{
		Name:    name,
		Version: version,
		URLs: map[string]string{
			HostPlatform(): server.URL + "/" + name + ".tar.gz",
		},
		VerifyArgs:    []string{"--version"},
		VerifyPattern: regexp.MustCompile(name + ` version (\S+)`),
	}
}

func TestAcquireInstallsAndVerifies(t *testing.T) {
	archive := fakeToolArchive(t, "widgetc", "1.4.0")
	server := serveArchive(t, "/widgetc.tar.gz", archive)

	root := t.TempDir()
	registry := NewRegistry(root, process.NewRunner())
	spec := fakeSpec(t, server, "widgetc", "1.4.0")
	spec.SHA256 = sha256Hex(archive)

	status, err := registry.Verify(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, StatusAbsent, status)

	path, err := registry.Acquire(context.Background(), spec)
	require.NoError(t, err)
	assert.FileExists(t, path)

	status, err = registry.Verify(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)
}

func TestVerifyReportsWrongVersion(t *testing.T) {
	archive := fakeToolArchive(t, "widgetc", "1.0.0")
	server := serveArchive(t, "/widgetc.tar.gz", archive)

	root := t.TempDir()
	registry := NewRegistry(root, process.NewRunner())

	// Install 1.0.0 under the 2.0.0 cache key by lying about the version.
	install := fakeSpec(t, server, "widgetc", "2.0.0")
	_, err := registry.Acquire(context.Background(), install)
	require.NoError(t, err)

	status, err := registry.Verify(context.Background(), install)
	require.NoError(t, err)
	assert.Equal(t, StatusWrongVersion, status)
}

func TestIntegrityFailureDiscardsPartialState(t *testing.T) {
	archive := fakeToolArchive(t, "widgetc", "1.4.0")
	server := serveArchive(t, "/widgetc.tar.gz", archive)

	root := t.TempDir()
	registry := NewRegistry(root, process.NewRunner())
	spec := fakeSpec(t, server, "widgetc", "1.4.0")
	spec.SHA256 = "0000000000000000000000000000000000000000000000000000000000000000"

	_, err := registry.Acquire(context.Background(), spec)
	var integrity *IntegrityFailedError
	require.ErrorAs(t, err, &integrity)

	// Nothing half-written may be visible to a later verify.
	status, err := registry.Verify(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, StatusAbsent, status)

	// A clean re-acquire succeeds.
	spec.SHA256 = sha256Hex(archive)
	_, err = registry.Acquire(context.Background(), spec)
	require.NoError(t, err)
}

func TestDownloadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	registry := NewRegistry(t.TempDir(), process.NewRunner())
	spec := fakeSpec(t, server, "widgetc", "1.4.0")

	_, err := registry.Acquire(context.Background(), spec)
	var download *DownloadFailedError
	require.ErrorAs(t, err, &download)
}

func TestUnsupportedPlatform(t *testing.T) {
	registry := NewRegistry(t.TempDir(), process.NewRunner())
	spec := Spec{
		Name:    "widgetc",
		Version: "1.0.0",
		URLs:    map[string]string{"plan9-mips": "http://example.invalid/widgetc"},
	}

	_, err := registry.Acquire(context.Background(), spec)
	var unsupported *UnsupportedPlatformError
	require.ErrorAs(t, err, &unsupported)
}

func TestOverrideBypassesAcquisition(t *testing.T) {
	dir := t.TempDir()
	fake := filepath.Join(dir, "mytool")
	require.NoError(t, os.WriteFile(fake, []byte("#!/bin/sh\necho mytool version 9.9.9\n"), 0o755))

	spec := Spec{Name: "mytool", Version: "1.0.0"}
	t.Setenv(spec.EnvVar(), fake)

	registry := NewRegistry(t.TempDir(), process.NewRunner())
	path, err := registry.Ensure(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, fake, path)
}

func TestSystemToolResolvedOnPath(t *testing.T) {
	registry := NewRegistry(t.TempDir(), process.NewRunner())

	// sh is present on every unix host this suite runs on.
	path, err := registry.Ensure(context.Background(), Spec{Name: "sh", System: true})
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))

	_, err = registry.Ensure(context.Background(), Spec{Name: "no-such-tool-xyzzy", System: true})
	var missing *MissingToolError
	require.ErrorAs(t, err, &missing)

	_, err = registry.Upgrade(context.Background(), Spec{Name: "sh", System: true})
	require.Error(t, err)
}

func TestOverrideEnvVarName(t *testing.T) {
	spec := Spec{Name: "build-tool"}
	assert.Equal(t, "SATCHEL_TOOL_BUILD_TOOL", spec.EnvVar())
}

func TestConcurrentAcquisitionDoesNotCorruptCache(t *testing.T) {
	archive := fakeToolArchive(t, "widgetc", "1.4.0")
	server := serveArchive(t, "/widgetc.tar.gz", archive)

	root := t.TempDir()
	spec := fakeSpec(t, server, "widgetc", "1.4.0")

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			registry := NewRegistry(root, process.NewRunner())
			_, errs[i] = registry.Acquire(context.Background(), spec)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}

	registry := NewRegistry(root, process.NewRunner())
	status, err := registry.Verify(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)
}

func TestEnsureAllAndList(t *testing.T) {
	archiveA := fakeToolArchive(t, "toola", "1.0.0")
	archiveB := fakeToolArchive(t, "toolb", "2.0.0")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/toola.tar.gz":
			_, _ = w.Write(archiveA)
		case "/toolb.tar.gz":
			_, _ = w.Write(archiveB)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	root := t.TempDir()
	registry := NewRegistry(root, process.NewRunner())

	specs := []Spec{
		fakeSpec(t, server, "toola", "1.0.0"),
		fakeSpec(t, server, "toolb", "2.0.0"),
	}

	paths, err := registry.EnsureAll(context.Background(), specs)
	require.NoError(t, err)
	assert.Len(t, paths, 2)
	assert.FileExists(t, paths["toola"])
	assert.FileExists(t, paths["toolb"])

	installed, err := registry.List()
	require.NoError(t, err)
	require.Len(t, installed, 2)
	names := []string{installed[0].Name, installed[1].Name}
	assert.ElementsMatch(t, []string{"toola", "toolb"}, names)
}

func TestUpgradeReinstalls(t *testing.T) {
	archive := fakeToolArchive(t, "widgetc", "1.4.0")
	server := serveArchive(t, "/widgetc.tar.gz", archive)

	root := t.TempDir()
	registry := NewRegistry(root, process.NewRunner())
	spec := fakeSpec(t, server, "widgetc", "1.4.0")

	path, err := registry.Acquire(context.Background(), spec)
	require.NoError(t, err)

	// Sabotage the cached binary, then upgrade.
	require.NoError(t, os.WriteFile(path, []byte("broken"), 0o755))

	path, err = registry.Upgrade(context.Background(), spec)
	require.NoError(t, err)

	status, err := registry.Verify(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)
}

func TestVerifyAcceptsVersionRange(t *testing.T) {
	dir := t.TempDir()
	fake := filepath.Join(dir, "rangetool")
	require.NoError(t, os.WriteFile(fake, []byte("#!/bin/sh\necho rangetool version 1.5.0\n"), 0o755))

	spec := Spec{
		Name:          "rangetool",
		Version:       ">= 1.0, < 2.0",
		VerifyArgs:    []string{"--version"},
		VerifyPattern: regexp.MustCompile(`rangetool version (\S+)`),
	}
	t.Setenv(spec.EnvVar(), fake)

	registry := NewRegistry(t.TempDir(), process.NewRunner())
	status, err := registry.Verify(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)

	spec.Version = ">= 2.0"
	status, err = registry.Verify(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, StatusWrongVersion, status)
}
