package scaffold

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"satchel/pkg/logging"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/google/uuid"
)

// fetch shallow-clones the template repository into the cache and returns
// the cached worktree. The cache key is the source URL plus the branch that
// actually got checked out, so different branches of one template coexist.
func (p *Provisioner) fetch(ctx context.Context, source, branch string) (string, error) {
	for _, candidate := range p.branchCandidates(branch) {
		dest := p.cachePath(source, candidate.label)
		if _, err := os.Stat(dest); err == nil {
			logging.Debug("Scaffold", "Template %s@%s already cached", source, candidate.label)
			return dest, nil
		}

		err := p.clone(ctx, source, candidate.ref, dest)
		if err == nil {
			logging.Info("Scaffold", "Fetched template %s@%s", source, candidate.label)
			return dest, nil
		}
		if branchMissing(err) {
			logging.Debug("Scaffold", "Template branch %s not found, trying next candidate", candidate.label)
			continue
		}
		return "", fmt.Errorf("unable to fetch template %s: %w", source, err)
	}
	return "", fmt.Errorf("template %s has no branch matching the request or this tool version", source)
}

// branchMissing reports whether a clone failed only because the requested
// branch does not exist on the remote, which is the signal to fall back to
// the next candidate.
func branchMissing(err error) bool {
	var noRefSpec git.NoMatchingRefSpecError
	return errors.Is(err, plumbing.ErrReferenceNotFound) ||
		errors.Is(err, git.ErrBranchNotFound) ||
		errors.Is(err, transport.ErrEmptyRemoteRepository) ||
		errors.As(err, &noRefSpec)
}

type branchCandidate struct {
	// label names the candidate in the cache key; ref is the reference to
	// clone, empty for the repository default.
	label string
	ref   plumbing.ReferenceName
}

// branchCandidates is the fallback order: the requested branch, a branch
// named after the running tool version, the repository default.
func (p *Provisioner) branchCandidates(requested string) []branchCandidate {
	var candidates []branchCandidate
	if requested != "" {
		candidates = append(candidates, branchCandidate{
			label: requested,
			ref:   plumbing.NewBranchReferenceName(requested),
		})
	}
	if p.ToolVersion != "" {
		versioned := "v" + p.ToolVersion
		if versioned != requested {
			candidates = append(candidates, branchCandidate{
				label: versioned,
				ref:   plumbing.NewBranchReferenceName(versioned),
			})
		}
	}
	candidates = append(candidates, branchCandidate{label: "default"})
	return candidates
}

// cachePath keys cache entries by source digest and branch label so URLs
// with path separators or credentials never leak into directory names.
func (p *Provisioner) cachePath(source, label string) string {
	digest := sha1.Sum([]byte(source))
	return filepath.Join(p.cacheRoot(), hex.EncodeToString(digest[:])+"@"+label)
}

// clone stages a shallow single-branch clone and atomically publishes it at
// dest. A crash mid-clone leaves debris only in the staging area.
func (p *Provisioner) clone(ctx context.Context, source string, ref plumbing.ReferenceName, dest string) error {
	staging := filepath.Join(p.cacheRoot(), "tmp", uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("unable to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	opts := &git.CloneOptions{
		URL:          source,
		Depth:        1,
		SingleBranch: true,
	}
	if ref != "" {
		opts.ReferenceName = ref
	}
	if _, err := git.PlainCloneContext(ctx, staging, false, opts); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("unable to create template cache: %w", err)
	}
	if err := os.Rename(staging, dest); err != nil {
		if _, statErr := os.Stat(dest); statErr == nil {
			// Concurrent fetch published first.
			return nil
		}
		return fmt.Errorf("unable to publish template into the cache: %w", err)
	}
	return nil
}
