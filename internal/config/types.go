package config

import (
	"fmt"
	"regexp"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// DescriptorFileName is the name of the project descriptor file that must
// exist at the project root.
const DescriptorFileName = "satchel.yaml"

// CumulativeKeys are the configuration keys whose values concatenate across
// layers (least-specific first) instead of overriding.
var CumulativeKeys = []string{"requires", "sources", "test_requires", "test_sources"}

// ProjectDescriptor is the root configuration entity loaded from
// satchel.yaml. It is immutable once loaded for a given invocation and is
// reloaded on every run.
type ProjectDescriptor struct {
	Project ProjectConfig             `yaml:"project"`
	Apps    map[string]*AppDescriptor `yaml:"apps"`

	// Path is the location the descriptor was loaded from.
	Path string `yaml:"-"`
}

// ProjectConfig holds the project-level configuration layer.
type ProjectConfig struct {
	Name    string `yaml:"name"`
	Bundle  string `yaml:"bundle"`
	Version string `yaml:"version"`

	Requires     []string `yaml:"requires"`
	Sources      []string `yaml:"sources"`
	TestRequires []string `yaml:"test_requires"`
	TestSources  []string `yaml:"test_sources"`

	Settings map[string]interface{} `yaml:",inline"`
}

// AppDescriptor identifies one distributable unit within a project and holds
// the app-level configuration layer, including any nested platform layers.
type AppDescriptor struct {
	Description string `yaml:"description"`

	Requires     []string `yaml:"requires"`
	Sources      []string `yaml:"sources"`
	TestRequires []string `yaml:"test_requires"`
	TestSources  []string `yaml:"test_sources"`

	Platforms map[string]*PlatformConfig `yaml:"platforms"`

	Settings map[string]interface{} `yaml:",inline"`
}

// PlatformConfig holds the platform-level configuration layer for one app.
type PlatformConfig struct {
	Requires     []string `yaml:"requires"`
	Sources      []string `yaml:"sources"`
	TestRequires []string `yaml:"test_requires"`
	TestSources  []string `yaml:"test_sources"`

	Formats map[string]*FormatConfig `yaml:"formats"`

	Settings map[string]interface{} `yaml:",inline"`
}

// FormatConfig holds the output-format-level configuration layer.
type FormatConfig struct {
	Requires     []string `yaml:"requires"`
	Sources      []string `yaml:"sources"`
	TestRequires []string `yaml:"test_requires"`
	TestSources  []string `yaml:"test_sources"`

	Settings map[string]interface{} `yaml:",inline"`
}

// Valid app names start with a letter and contain only letters, digits,
// hyphens and underscores. Valid bundles are reversed domain names with at
// least two dot-separated sections.
var (
	appNameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)
	bundleRe  = regexp.MustCompile(`^[a-zA-Z0-9-]+(\.[a-zA-Z0-9-]+)+$`)
)

// IsValidAppName reports whether name is acceptable as an app name.
func IsValidAppName(name string) bool {
	return appNameRe.MatchString(name) && !strings.HasSuffix(name, "-") && !strings.HasSuffix(name, "_")
}

// IsValidBundle reports whether bundle is acceptable as a bundle identifier.
func IsValidBundle(bundle string) bool {
	return bundleRe.MatchString(bundle)
}

// ParseVersion parses a version string, requiring it to be well ordered
// (comparable with other versions of the same scheme).
func ParseVersion(v string) (*goversion.Version, error) {
	parsed, err := goversion.NewVersion(v)
	if err != nil {
		return nil, fmt.Errorf("version %q is not a well-ordered version string: %w", v, err)
	}
	return parsed, nil
}
