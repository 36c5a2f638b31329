// Package scaffold fetches project templates and renders them into a
// project tree. Templates come from a local directory or a remote git
// repository; remote fetches land in a satchel-private cache so repeated
// provisioning is cheap and never collides with unrelated tooling.
package scaffold

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"satchel/internal/tools"
	"satchel/pkg/logging"

	"github.com/adrg/xdg"
)

// Request describes one provisioning run.
type Request struct {
	// Source is a local directory or a remote git URL.
	Source string
	// Branch is the template branch to fetch. Empty means "pick for me":
	// a branch named after the running tool version, then the repository
	// default.
	Branch string
	// Context carries the values substituted into filenames and contents.
	Context map[string]interface{}
	// Dest is the directory the rendered tree is written into.
	Dest string
}

// Provisioner renders templates into project trees.
type Provisioner struct {
	// CacheRoot is where remote templates are cached; empty selects the
	// user cache home.
	CacheRoot string
	// ToolVersion is the running tool's version, used as a branch
	// fallback so templates can track tool releases.
	ToolVersion string
}

// DefaultCacheRoot is the template cache location when none is configured.
// It lives under the same root as the tool cache, so one override variable
// relocates all persisted state.
func DefaultCacheRoot() string {
	if root := os.Getenv(tools.CacheRootEnv); root != "" {
		return filepath.Join(root, "templates")
	}
	return filepath.Join(xdg.CacheHome, "satchel", "templates")
}

func (p *Provisioner) cacheRoot() string {
	if p.CacheRoot != "" {
		return p.CacheRoot
	}
	return DefaultCacheRoot()
}

// isRemote reports whether the source needs a git fetch rather than a
// local copy.
func isRemote(source string) bool {
	return strings.Contains(source, "://") || strings.HasPrefix(source, "git@")
}

// Provision materializes the template into req.Dest and returns the root of
// the rendered tree. Re-provisioning with an identical request and context
// produces a byte-identical tree.
func (p *Provisioner) Provision(ctx context.Context, req *Request) (string, error) {
	if req.Source == "" {
		return "", fmt.Errorf("provisioning request has no template source")
	}
	if req.Dest == "" {
		return "", fmt.Errorf("provisioning request has no destination")
	}

	source := req.Source
	if isRemote(source) {
		cached, err := p.fetch(ctx, req.Source, req.Branch)
		if err != nil {
			return "", err
		}
		source = cached
	} else {
		if _, err := os.Stat(source); err != nil {
			return "", fmt.Errorf("template %s does not exist", source)
		}
		logging.Debug("Scaffold", "Using local template %s", source)
	}

	if err := os.MkdirAll(req.Dest, 0o755); err != nil {
		return "", fmt.Errorf("unable to create %s: %w", req.Dest, err)
	}

	if err := renderTree(source, req.Dest, req.Context); err != nil {
		return "", err
	}
	return req.Dest, nil
}
