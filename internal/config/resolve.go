package config

import (
	"fmt"
	"strings"
)

// EffectiveConfig is the fully resolved configuration for one
// (app, platform, output format) triple. It is derived on every call to
// Resolve and never cached, so repeated invocations in one process are
// guaranteed to be reproducible.
type EffectiveConfig struct {
	ProjectName string
	AppName     string
	Bundle      string
	Version     string
	Description string

	Platform string
	Format   string

	// Cumulative keys, concatenated least-specific to most-specific with
	// order preserved and no de-duplication.
	Requires     []string
	Sources      []string
	TestRequires []string
	TestSources  []string

	// settings is the merged view of all non-cumulative keys; most-specific
	// layer wins.
	settings map[string]interface{}
}

// Resolve materializes the effective configuration for the named app on the
// given platform and output format. It is a pure function of the descriptor
// contents and its arguments. Platform and format sections that are not
// declared in the descriptor simply contribute nothing; whether the pair is
// actually buildable is the backend registry's concern.
func (d *ProjectDescriptor) Resolve(appName, platform, format string) (*EffectiveConfig, error) {
	app, ok := d.Apps[appName]
	if !ok {
		names := make([]string, 0, len(d.Apps))
		for name := range d.Apps {
			names = append(names, name)
		}
		return nil, fmt.Errorf("project does not define an app named %q (apps: %s)", appName, strings.Join(names, ", "))
	}

	var platformCfg *PlatformConfig
	var formatCfg *FormatConfig
	if app.Platforms != nil {
		platformCfg = app.Platforms[platform]
	}
	if platformCfg != nil && platformCfg.Formats != nil {
		formatCfg = platformCfg.Formats[format]
	}

	ec := &EffectiveConfig{
		ProjectName: d.Project.Name,
		AppName:     appName,
		Bundle:      d.Project.Bundle,
		Version:     d.Project.Version,
		Description: app.Description,
		Platform:    platform,
		Format:      format,
		settings:    make(map[string]interface{}),
	}

	// Non-cumulative keys: apply least-specific first so that more specific
	// layers overwrite. This is equivalent to a most-specific-first lookup
	// that takes the first defined value.
	mergeSettings(ec.settings, d.Project.Settings)
	mergeSettings(ec.settings, app.Settings)
	if platformCfg != nil {
		mergeSettings(ec.settings, platformCfg.Settings)
	}
	if formatCfg != nil {
		mergeSettings(ec.settings, formatCfg.Settings)
	}

	// Cumulative keys concatenate least-specific to most-specific.
	pc := platformCfg.cumulative()
	fc := formatCfg.cumulative()
	ec.Requires = concatLayers(d.Project.Requires, app.Requires, pc.requires, fc.requires)
	ec.Sources = concatLayers(d.Project.Sources, app.Sources, pc.sources, fc.sources)
	ec.TestRequires = concatLayers(d.Project.TestRequires, app.TestRequires, pc.testRequires, fc.testRequires)
	ec.TestSources = concatLayers(d.Project.TestSources, app.TestSources, pc.testSources, fc.testSources)

	// An app layer may override scalar project fields.
	if v, ok := ec.GetString("version"); ok {
		ec.Version = v
	}

	return ec, nil
}

func mergeSettings(dst map[string]interface{}, src map[string]interface{}) {
	for k, v := range src {
		dst[k] = v
	}
}

func concatLayers(layers ...[]string) []string {
	var out []string
	for _, layer := range layers {
		out = append(out, layer...)
	}
	return out
}

// cumulativeSet groups a layer's cumulative key values.
type cumulativeSet struct {
	requires     []string
	sources      []string
	testRequires []string
	testSources  []string
}

func (p *PlatformConfig) cumulative() cumulativeSet {
	if p == nil {
		return cumulativeSet{}
	}
	return cumulativeSet{p.Requires, p.Sources, p.TestRequires, p.TestSources}
}

func (f *FormatConfig) cumulative() cumulativeSet {
	if f == nil {
		return cumulativeSet{}
	}
	return cumulativeSet{f.Requires, f.Sources, f.TestRequires, f.TestSources}
}

// Get looks up a non-cumulative configuration key, walking layers from
// most-specific to least-specific. Unknown keys resolve to an explicit
// absent value rather than an error so backends can apply their own
// defaults.
func (ec *EffectiveConfig) Get(key string) (interface{}, bool) {
	v, ok := ec.settings[key]
	return v, ok
}

// GetString looks up a key and returns it as a string; absent or non-string
// values report false.
func (ec *EffectiveConfig) GetString(key string) (string, bool) {
	v, ok := ec.settings[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetBool looks up a key and returns it as a bool; absent or non-bool values
// report false.
func (ec *EffectiveConfig) GetBool(key string) (bool, bool) {
	v, ok := ec.settings[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// GetInt looks up a key and returns it as an int; absent or non-integer
// values report false.
func (ec *EffectiveConfig) GetInt(key string) (int, bool) {
	v, ok := ec.settings[key]
	if !ok {
		return 0, false
	}
	n, ok := v.(int)
	return n, ok
}

// ModuleName is the app name with hyphens replaced by underscores, suitable
// for use as a code module identifier.
func (ec *EffectiveConfig) ModuleName() string {
	return strings.ReplaceAll(ec.AppName, "-", "_")
}

// BundleName is the app name with underscores replaced by hyphens.
func (ec *EffectiveConfig) BundleName() string {
	return strings.ReplaceAll(ec.AppName, "_", "-")
}

// FullBundleID is the project bundle joined with the app's bundle name.
func (ec *EffectiveConfig) FullBundleID() string {
	return ec.Bundle + "." + ec.BundleName()
}

// FormalName is the display name for the app; it defaults to the app name
// when the descriptor does not override it.
func (ec *EffectiveConfig) FormalName() string {
	if name, ok := ec.GetString("formal_name"); ok {
		return name
	}
	return ec.AppName
}

// TemplateContext derives the rendering context handed to the template
// provisioner from the resolved configuration.
func (ec *EffectiveConfig) TemplateContext() map[string]interface{} {
	ctx := map[string]interface{}{
		"ProjectName": ec.ProjectName,
		"AppName":     ec.AppName,
		"FormalName":  ec.FormalName(),
		"ModuleName":  ec.ModuleName(),
		"BundleName":  ec.BundleName(),
		"Bundle":      ec.Bundle,
		"BundleID":    ec.FullBundleID(),
		"Version":     ec.Version,
		"Description": ec.Description,
		"Platform":    ec.Platform,
		"Format":      ec.Format,
	}
	for k, v := range ec.settings {
		if _, taken := ctx[k]; !taken {
			ctx[k] = v
		}
	}
	return ctx
}
