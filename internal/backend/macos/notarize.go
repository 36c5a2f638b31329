package macos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"satchel/internal/backend"
	"satchel/internal/process"
	"satchel/pkg/logging"

	"github.com/cenkalti/backoff/v5"
)

// notarizationStateFile records an in-flight submission inside the project
// tree. An interrupted run resumes polling with the stored id instead of
// submitting the artefact a second time.
const notarizationStateFile = ".satchel/notarization.json"

// notaryClient is the remote notarization service. Production use shells
// out to notarytool; tests substitute a fake.
type notaryClient interface {
	// Submit uploads the artefact and returns an opaque submission id.
	Submit(ctx context.Context, artefact string) (string, error)
	// Status reports the state of a submission: "Accepted", "Invalid", or
	// "In Progress".
	Status(ctx context.Context, id string) (string, error)
}

// notarizationRejectedError is terminal: the service examined the artefact
// and refused it. Re-running will submit afresh.
type notarizationRejectedError struct {
	ID string
}

func (e *notarizationRejectedError) Error() string {
	return fmt.Sprintf("notarization submission %s was rejected; check the notary log for details", e.ID)
}

type notarizationState struct {
	SubmissionID string `json:"submission_id"`
	Artefact     string `json:"artefact"`
	SubmittedAt  string `json:"submitted_at"`
}

// notarize submits the artefact to the notarization service and polls
// until it reaches a terminal state. The submission id is persisted before
// polling begins, so cancellation between submit and acceptance is
// recoverable.
func (b *Backend) notarize(ctx context.Context, target *backend.Target, artefact string) error {
	client := b.notary
	if client == nil {
		xcrun, err := target.Tools.Ensure(ctx, xcrunTool)
		if err != nil {
			return err
		}
		profile, _ := target.Config.GetString("notary_profile")
		if profile == "" {
			profile = "satchel"
		}
		client = &notarytoolClient{runner: target.Runner, xcrun: xcrun, profile: profile}
	}

	statePath := filepath.Join(target.Root, notarizationStateFile)

	state, err := loadNotarizationState(statePath, artefact)
	if err != nil {
		return err
	}
	if state == nil {
		logging.Info("macOS", "Submitting %s for notarization...", filepath.Base(artefact))
		id, err := client.Submit(ctx, artefact)
		if err != nil {
			return fmt.Errorf("unable to submit %s for notarization: %w", filepath.Base(artefact), err)
		}
		state = &notarizationState{
			SubmissionID: id,
			Artefact:     artefact,
			SubmittedAt:  time.Now().UTC().Format(time.RFC3339),
		}
		if err := saveNotarizationState(statePath, state); err != nil {
			return err
		}
	} else {
		logging.Info("macOS", "Resuming notarization of %s (submission %s)...",
			filepath.Base(artefact), state.SubmissionID)
	}

	if err := pollNotarization(ctx, client, state.SubmissionID); err != nil {
		var rejected *notarizationRejectedError
		if errors.As(err, &rejected) {
			// The submission is settled; the next run must resubmit a
			// fixed artefact, not resume a dead submission.
			_ = os.Remove(statePath)
		}
		return err
	}

	// Terminal success: the submission is settled, drop the resume state.
	if err := os.Remove(statePath); err != nil && !os.IsNotExist(err) {
		return err
	}

	logging.Info("macOS", "Notarization of %s accepted", filepath.Base(artefact))
	return b.staple(ctx, target, artefact)
}

// pollNotarization waits for the submission to settle, backing off between
// status checks so a slow service is never polled in a tight loop.
func pollNotarization(ctx context.Context, client notaryClient, id string) error {
	operation := func() (string, error) {
		status, err := client.Status(ctx, id)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		switch status {
		case "Accepted":
			return status, nil
		case "Invalid", "Rejected":
			return "", backoff.Permanent(&notarizationRejectedError{ID: id})
		default:
			return "", fmt.Errorf("submission %s still in progress", id)
		}
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 2 * time.Second
	expo.MaxInterval = time.Minute

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxElapsedTime(time.Hour),
	)
	return err
}

// staple attaches the notarization ticket to the artefact so offline
// machines can validate it.
func (b *Backend) staple(ctx context.Context, target *backend.Target, artefact string) error {
	xcrun, err := target.Tools.Ensure(ctx, xcrunTool)
	if err != nil {
		return err
	}
	// Tickets staple to bundles and disk images, not zip archives.
	if filepath.Ext(artefact) == ".zip" {
		return nil
	}
	_, err = target.Runner.RunChecked(ctx, &process.Invocation{
		Args: []string{xcrun, "stapler", "staple", artefact},
	})
	return err
}

func loadNotarizationState(path, artefact string) (*notarizationState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state notarizationState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("notarization state %s is corrupt: %w", path, err)
	}
	if state.Artefact != artefact || state.SubmissionID == "" {
		// Stale state from a different artefact; start over.
		return nil, nil
	}
	return &state, nil
}

func saveNotarizationState(path string, state *notarizationState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// notarytoolClient drives xcrun notarytool with JSON output.
type notarytoolClient struct {
	runner  *process.Runner
	xcrun   string
	profile string
}

func (c *notarytoolClient) Submit(ctx context.Context, artefact string) (string, error) {
	result, err := c.runner.RunChecked(ctx, &process.Invocation{
		Args: []string{
			c.xcrun, "notarytool", "submit", artefact,
			"--keychain-profile", c.profile,
			"--output-format", "json",
		},
	})
	if err != nil {
		return "", err
	}

	var response struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(result.Output), &response); err != nil || response.ID == "" {
		return "", fmt.Errorf("notarytool returned no submission id: %s", result.Output)
	}
	return response.ID, nil
}

func (c *notarytoolClient) Status(ctx context.Context, id string) (string, error) {
	result, err := c.runner.RunChecked(ctx, &process.Invocation{
		Args: []string{
			c.xcrun, "notarytool", "info", id,
			"--keychain-profile", c.profile,
			"--output-format", "json",
		},
	})
	if err != nil {
		return "", err
	}

	var response struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(result.Output), &response); err != nil || response.Status == "" {
		return "", fmt.Errorf("notarytool returned no status: %s", result.Output)
	}
	return response.Status, nil
}
