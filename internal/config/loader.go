package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"satchel/pkg/logging"

	"gopkg.in/yaml.v3"
)

// Load reads and validates the project descriptor at projectDir. The
// descriptor is parsed fresh on every invocation; nothing is cached across
// runs.
func Load(projectDir string) (*ProjectDescriptor, error) {
	path := filepath.Join(projectDir, DescriptorFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &MalformedConfigError{Path: path, Err: fmt.Errorf("no %s found; is this a satchel project?", DescriptorFileName)}
		}
		return nil, &MalformedConfigError{Path: path, Err: err}
	}

	var descriptor ProjectDescriptor
	if err := yaml.Unmarshal(data, &descriptor); err != nil {
		return nil, newMalformedConfigError(path, err)
	}
	descriptor.Path = path

	if err := descriptor.validate(); err != nil {
		return nil, &MalformedConfigError{Path: path, Err: err}
	}

	logging.Debug("Config", "Loaded project descriptor from %s (%d apps)", path, len(descriptor.Apps))
	return &descriptor, nil
}

func (d *ProjectDescriptor) validate() error {
	if d.Project.Name == "" {
		return fmt.Errorf("project name is required")
	}
	if d.Project.Bundle == "" {
		return fmt.Errorf("project bundle identifier is required")
	}
	if !IsValidBundle(d.Project.Bundle) {
		return fmt.Errorf("%q is not a valid bundle identifier; it must be a reversed domain name with at least two dot-separated sections", d.Project.Bundle)
	}
	if d.Project.Version == "" {
		return fmt.Errorf("project version is required")
	}
	if _, err := ParseVersion(d.Project.Version); err != nil {
		return err
	}

	if len(d.Apps) == 0 {
		return fmt.Errorf("no apps defined; declare at least one app under the apps section")
	}

	for name, app := range d.Apps {
		if !IsValidAppName(name) {
			return fmt.Errorf("%q is not a valid app name; app names contain only letters, digits, '-' and '_', start with a letter, and cannot end with '-' or '_'", name)
		}
		if app == nil {
			return fmt.Errorf("app %q has an empty definition", name)
		}
		if app.Description == "" {
			return fmt.Errorf("app %q requires a description", name)
		}
		if len(app.Sources) == 0 {
			return fmt.Errorf("app %q requires at least one source path", name)
		}
		// Apps may override the project version in their own layer.
		if v, ok := app.Settings["version"].(string); ok {
			if _, err := ParseVersion(v); err != nil {
				return fmt.Errorf("app %q: %w", name, err)
			}
		}
	}

	return nil
}
