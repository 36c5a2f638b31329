package cmd

import (
	"fmt"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"
)

// githubRepoSlug is the GitHub repository checked for newer releases.
const githubRepoSlug = "satchel-dev/satchel"

// newSelfUpdateCmd updates the satchel binary itself from GitHub releases.
func newSelfUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "self-update",
		Short: "Update satchel to the latest version",
		Long: `Checks for the latest release of satchel on GitHub and replaces the
current binary if a newer version is found.`,
		Args: cobra.NoArgs,
		RunE: runSelfUpdate,
	}
}

func runSelfUpdate(cmd *cobra.Command, args []string) error {
	currentVersion := rootCmd.Version
	// Development builds are not releases; there is nothing meaningful to
	// compare against.
	if currentVersion == "" || currentVersion == "dev" {
		return fmt.Errorf("cannot self-update a development version")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Current version: %s\n", currentVersion)
	fmt.Fprintln(cmd.OutOrStdout(), "Checking for updates...")

	updater, err := selfupdate.NewUpdater(selfupdate.Config{})
	if err != nil {
		return fmt.Errorf("failed to create updater: %w", err)
	}

	latest, found, err := updater.DetectLatest(cmd.Context(), selfupdate.ParseSlug(githubRepoSlug))
	if err != nil {
		return fmt.Errorf("error detecting latest version: %w", err)
	}
	if !found {
		return fmt.Errorf("latest release for %s could not be found", githubRepoSlug)
	}

	if !latest.GreaterThan(currentVersion) {
		fmt.Fprintln(cmd.OutOrStdout(), "Current version is the latest.")
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Found newer version: %s (published at %s)\n", latest.Version(), latest.PublishedAt)

	exe, err := selfupdate.ExecutablePath()
	if err != nil {
		return fmt.Errorf("could not locate executable path: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Updating %s to version %s...\n", exe, latest.Version())
	if err := updater.UpdateTo(cmd.Context(), latest, exe); err != nil {
		return fmt.Errorf("update failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Successfully updated to version %s\n", latest.Version())
	return nil
}
