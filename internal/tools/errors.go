package tools

import "fmt"

// DownloadFailedError reports a network failure while acquiring a tool. It is
// retryable by re-invocation; no automatic retry loop masks a persistently
// broken network.
type DownloadFailedError struct {
	Tool string
	URL  string
	Err  error
}

func (e *DownloadFailedError) Error() string {
	return fmt.Sprintf("unable to download %s from %s: %v; is your computer offline?", e.Tool, e.URL, e.Err)
}

func (e *DownloadFailedError) Unwrap() error { return e.Err }

// IntegrityFailedError reports a corrupt or partial download. The partial
// file is always discarded before this error is returned, so a later verify
// can never mistake it for a valid install.
type IntegrityFailedError struct {
	Tool string
	URL  string
	Want string
	Got  string
}

func (e *IntegrityFailedError) Error() string {
	return fmt.Sprintf("downloaded %s failed its integrity check (expected sha256 %s, got %s)", e.Tool, e.Want, e.Got)
}

// MissingToolError reports a system tool that could not be found on PATH.
// System tools ship with the host OS and cannot be acquired, so this is an
// environment problem for the user to resolve.
type MissingToolError struct {
	Tool string
}

func (e *MissingToolError) Error() string {
	return fmt.Sprintf("%s was not found on this machine; install it and re-run", e.Tool)
}

// UnsupportedPlatformError reports that a tool has no acquisition source for
// the host OS/architecture.
type UnsupportedPlatformError struct {
	Tool     string
	Platform string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("%s is not available for %s", e.Tool, e.Platform)
}
