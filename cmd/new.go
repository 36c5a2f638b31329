package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"satchel/internal/config"

	"github.com/spf13/cobra"
)

// newNewCmd bootstraps a fresh project: a descriptor and a source stub.
// It has no pipeline involvement; all inputs come from flags.
func newNewCmd() *cobra.Command {
	var name, bundle, description, template string

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a new project",
		Long: `Creates a new project in a directory named after the app: a descriptor
file and a minimal source stub. The project is immediately buildable with
the lifecycle verbs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNew(cmd, name, bundle, description, template)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "app name (required)")
	cmd.Flags().StringVar(&bundle, "bundle", "", "reversed-domain bundle identifier (required)")
	cmd.Flags().StringVar(&description, "description", "", "one-line app description")
	cmd.Flags().StringVar(&template, "template", "", "project template repository or directory")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("bundle")
	return cmd
}

func runNew(cmd *cobra.Command, name, bundle, description, template string) error {
	if !config.IsValidAppName(name) {
		return fmt.Errorf("%q is not a valid app name; use letters, digits, hyphens and underscores, starting with a letter", name)
	}
	if !config.IsValidBundle(bundle) {
		return fmt.Errorf("%q is not a valid bundle identifier; use a reversed domain name like com.example", bundle)
	}
	if description == "" {
		description = "My first satchel app"
	}

	projectDir := name
	if _, err := os.Stat(projectDir); err == nil {
		return fmt.Errorf("directory %s already exists", projectDir)
	}

	moduleName := strings.ReplaceAll(name, "-", "_")
	sourceDir := filepath.Join(projectDir, "src", moduleName)
	if err := os.MkdirAll(sourceDir, 0o755); err != nil {
		return err
	}

	descriptor := descriptorStub(name, bundle, description, moduleName, template)
	if err := os.WriteFile(filepath.Join(projectDir, config.DescriptorFileName), []byte(descriptor), 0o644); err != nil {
		return err
	}

	stub := fmt.Sprintf("package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(%q)\n}\n", "Hello from "+name)
	if err := os.WriteFile(filepath.Join(sourceDir, "main.go"), []byte(stub), 0o644); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created project %s\n", projectDir)
	return nil
}

func descriptorStub(name, bundle, description, moduleName, template string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "project:\n")
	fmt.Fprintf(&b, "  name: %s\n", name)
	fmt.Fprintf(&b, "  bundle: %s\n", bundle)
	fmt.Fprintf(&b, "  version: 0.0.1\n")
	fmt.Fprintf(&b, "\napps:\n")
	fmt.Fprintf(&b, "  %s:\n", name)
	fmt.Fprintf(&b, "    description: %s\n", description)
	fmt.Fprintf(&b, "    sources:\n")
	fmt.Fprintf(&b, "      - src/%s\n", moduleName)
	if template != "" {
		fmt.Fprintf(&b, "    template: %s\n", template)
	}
	return b.String()
}
