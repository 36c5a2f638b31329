package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"satchel/pkg/logging"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

// stagingDirName holds in-flight acquisitions under the cache root. Entries
// are published into the cache by an atomic rename, so a crash mid-download
// leaves debris only here, never a half-valid install.
const stagingDirName = "tmp"

// Acquire downloads, checks and unpacks the tool into the cache, returning
// the executable path. Concurrent acquisitions of the same tool are safe:
// each stages under a unique directory and the first atomic publish wins.
func (r *Registry) Acquire(ctx context.Context, spec Spec) (string, error) {
	if spec.System {
		return "", &MissingToolError{Tool: spec.Name}
	}
	url, err := spec.SourceURL()
	if err != nil {
		return "", err
	}

	staging := filepath.Join(r.Root, stagingDirName, uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", fmt.Errorf("unable to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	logging.Info("Tools", "Downloading %s %s...", spec.Name, spec.Version)

	archive, err := r.download(ctx, spec, url, staging)
	if err != nil {
		return "", err
	}

	unpacked := filepath.Join(staging, "unpacked")
	if err := unpack(archive, unpacked); err != nil {
		// An archive that cannot be read is a corrupt download.
		return "", &IntegrityFailedError{Tool: spec.Name, URL: url, Want: spec.SHA256, Got: "unreadable archive: " + err.Error()}
	}

	binary := filepath.Join(unpacked, spec.BinaryName())
	if _, err := os.Stat(binary); err != nil {
		return "", &IntegrityFailedError{Tool: spec.Name, URL: url, Want: spec.BinaryName(), Got: "archive without expected binary"}
	}
	if err := os.Chmod(binary, 0o755); err != nil {
		return "", fmt.Errorf("unable to mark %s executable: %w", binary, err)
	}

	dest := installDir(r.Root, spec)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("unable to create cache directory: %w", err)
	}
	if err := os.Rename(unpacked, dest); err != nil {
		if _, statErr := os.Stat(dest); statErr == nil {
			// A concurrent invocation published first; its install is just
			// as good as ours.
			logging.Debug("Tools", "%s %s already published by a concurrent acquisition", spec.Name, spec.Version)
		} else {
			return "", fmt.Errorf("unable to publish %s into the cache: %w", spec.Name, err)
		}
	}

	logging.Info("Tools", "Installed %s %s", spec.Name, spec.Version)
	return filepath.Join(dest, spec.BinaryName()), nil
}

// download fetches the tool archive into the staging directory and checks
// its digest. Any partial or corrupt file stays in staging, which the caller
// discards.
func (r *Registry) download(ctx context.Context, spec Spec, url, staging string) (string, error) {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", &DownloadFailedError{Tool: spec.Name, URL: url, Err: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", &DownloadFailedError{Tool: spec.Name, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", &DownloadFailedError{Tool: spec.Name, URL: url, Err: fmt.Errorf("status code %d", resp.StatusCode)}
	}

	archive := filepath.Join(staging, filepath.Base(url))
	out, err := os.Create(archive)
	if err != nil {
		return "", fmt.Errorf("unable to create download file: %w", err)
	}

	digest := sha256.New()
	_, copyErr := io.Copy(io.MultiWriter(out, digest), resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		return "", &DownloadFailedError{Tool: spec.Name, URL: url, Err: copyErr}
	}
	if closeErr != nil {
		return "", fmt.Errorf("unable to finish download file: %w", closeErr)
	}

	if spec.SHA256 != "" {
		got := hex.EncodeToString(digest.Sum(nil))
		if got != spec.SHA256 {
			return "", &IntegrityFailedError{Tool: spec.Name, URL: url, Want: spec.SHA256, Got: got}
		}
	}

	return archive, nil
}
