// Package tools describes, verifies, downloads, caches and upgrades the
// external tool dependencies that platform backends build with.
package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/adrg/xdg"
)

// CacheRootEnv overrides the root directory of the on-disk tool cache.
const CacheRootEnv = "SATCHEL_CACHE_ROOT"

// toolEnvPrefix is the prefix for per-tool executable overrides; setting
// SATCHEL_TOOL_<NAME> points directly at a pre-installed binary and bypasses
// acquisition entirely.
const toolEnvPrefix = "SATCHEL_TOOL_"

// Status is the verification state of a tool install.
type Status int

const (
	// StatusAbsent means the tool is not installed at the expected location.
	StatusAbsent Status = iota
	// StatusWrongVersion means a binary exists but reports a version that
	// does not satisfy the spec.
	StatusWrongVersion
	// StatusOK means the tool is installed and its version checks out.
	StatusOK
)

func (s Status) String() string {
	switch s {
	case StatusAbsent:
		return "absent"
	case StatusWrongVersion:
		return "wrong version"
	case StatusOK:
		return "ok"
	default:
		return "unknown"
	}
}

// Spec declares one external tool dependency. Specs are declared statically
// per backend; resolution happens lazily on first use per invocation, and the
// install is cached on disk keyed by name, version and host platform.
type Spec struct {
	// Name identifies the tool; it is also the cache key component.
	Name string
	// Version is the version to install and expect. Verification accepts
	// any go-version constraint string, e.g. "1.4.0" or ">= 1.2, < 2.0".
	Version string
	// URLs maps "<os>-<arch>" host platforms to download locations. A host
	// with no entry is unsupported for this tool.
	URLs map[string]string
	// SHA256 is the expected digest of the download; empty skips the check.
	SHA256 string
	// Binary is the executable's path relative to the install directory;
	// empty defaults to Name.
	Binary string
	// VerifyArgs invoke the tool so its version can be read, e.g.
	// ["--version"].
	VerifyArgs []string
	// VerifyPattern extracts the version from the verification output; it
	// must carry exactly one capture group.
	VerifyPattern *regexp.Regexp
	// System marks a tool that ships with the host OS. System tools are
	// resolved on PATH and never downloaded; a missing one is an
	// environment problem the user has to fix.
	System bool
}

// BinaryName is the executable path relative to the install root.
func (s Spec) BinaryName() string {
	if s.Binary != "" {
		return s.Binary
	}
	return s.Name
}

// EnvVar is the environment variable that overrides this tool with an exact
// pre-installed executable.
func (s Spec) EnvVar() string {
	name := strings.ToUpper(strings.ReplaceAll(s.Name, "-", "_"))
	return toolEnvPrefix + name
}

// Override returns the per-tool executable override, if set. An override
// strictly takes precedence over anything the cache or auto-detection would
// produce.
func (s Spec) Override() (string, bool) {
	return os.LookupEnv(s.EnvVar())
}

// HostPlatform is the "<os>-<arch>" key for the running host.
func HostPlatform() string {
	return runtime.GOOS + "-" + runtime.GOARCH
}

// SourceURL is the acquisition source for the running host.
func (s Spec) SourceURL() (string, error) {
	url, ok := s.URLs[HostPlatform()]
	if !ok {
		return "", &UnsupportedPlatformError{Tool: s.Name, Platform: HostPlatform()}
	}
	return url, nil
}

// DefaultRoot is the tool cache root: SATCHEL_CACHE_ROOT when set, otherwise
// a satchel-private directory under the user cache home.
func DefaultRoot() string {
	if root := os.Getenv(CacheRootEnv); root != "" {
		return filepath.Join(root, "tools")
	}
	return filepath.Join(xdg.CacheHome, "satchel", "tools")
}

// installDir is the cache location for a spec on this host.
func installDir(root string, s Spec) string {
	return filepath.Join(root, s.Name, s.Version, HostPlatform())
}

// Installed describes one cached tool install, for maintenance listings.
type Installed struct {
	Name     string
	Version  string
	Platform string
	Path     string
}

func (i Installed) String() string {
	return fmt.Sprintf("%s %s (%s)", i.Name, i.Version, i.Platform)
}
