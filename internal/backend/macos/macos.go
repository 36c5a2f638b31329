// Package macos builds, runs, signs, notarizes and packages .app bundles
// for macOS. It is the reference platform backend.
package macos

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"satchel/internal/backend"
	"satchel/internal/process"
	"satchel/internal/scaffold"
	"satchel/internal/tools"
	"satchel/pkg/logging"
)

const (
	// Platform is the registry key for this backend.
	Platform = "macos"

	// FormatApp is the only output format: a .app bundle tree.
	FormatApp = "app"

	// defaultTemplate is the scaffold used when the descriptor names none.
	defaultTemplate = "https://github.com/satchel-dev/satchel-template-macos-app.git"
)

// Packaging formats for the package verb.
const (
	PackageZip = "zip"
	PackageDMG = "dmg"
)

// goVersion pins the toolchain apps are compiled with. Builds on different
// machines produce the same binary regardless of what go is on PATH.
const goVersion = "1.25.6"

// System tools the backend drives. They ship with macOS or the Xcode
// command line tools; satchel verifies presence, never installs them.
var (
	codesignTool = tools.Spec{Name: "codesign", System: true}
	xcrunTool    = tools.Spec{Name: "xcrun", System: true}
	dittoTool    = tools.Spec{Name: "ditto", System: true}
	hdiutilTool  = tools.Spec{Name: "hdiutil", System: true}
)

// goTool is acquired into the tool cache at the pinned version.
var goTool = tools.Spec{
	Name:    "go",
	Version: goVersion,
	URLs: map[string]string{
		"darwin-amd64": "https://go.dev/dl/go" + goVersion + ".darwin-amd64.tar.gz",
		"darwin-arm64": "https://go.dev/dl/go" + goVersion + ".darwin-arm64.tar.gz",
	},
	Binary:        filepath.Join("go", "bin", "go"),
	VerifyArgs:    []string{"version"},
	VerifyPattern: regexp.MustCompile(`go version go(\S+)`),
}

// exitMarker is printed by the wrapped app run so a captured log stream has
// an unambiguous end. The supervisor kills the stream when it appears.
var (
	exitMarkerZero    = regexp.MustCompile(`^>>>>>>>>>> EXIT 0 <<<<<<<<<<$`)
	exitMarkerNonZero = regexp.MustCompile(`^>>>>>>>>>> EXIT [^0].* <<<<<<<<<<$`)
)

// Backend implements backend.Backend for macOS .app bundles.
type Backend struct {
	// notary substitutes the notarization client, for tests.
	notary notaryClient
}

// New returns the macOS backend.
func New() *Backend {
	return &Backend{}
}

func (b *Backend) Platform() string      { return Platform }
func (b *Backend) Formats() []string     { return []string{FormatApp} }
func (b *Backend) DefaultFormat() string { return FormatApp }

// Tools lists every external tool this backend drives.
func (b *Backend) Tools() []tools.Spec {
	return []tools.Spec{goTool, codesignTool, xcrunTool, dittoTool, hdiutilTool}
}

// bundlePath is the .app root inside the project tree.
func (b *Backend) bundlePath(target *backend.Target) string {
	return filepath.Join(target.Root, target.Config.FormalName()+".app")
}

// binaryPath is the main executable inside the bundle.
func (b *Backend) binaryPath(target *backend.Target) string {
	return filepath.Join(b.bundlePath(target), "Contents", "MacOS", target.Config.AppName)
}

// Scaffold renders the app bundle template into the project tree.
func (b *Backend) Scaffold(ctx context.Context, target *backend.Target) error {
	source := defaultTemplate
	if t, ok := target.Config.GetString("template"); ok {
		source = t
	}
	branch, _ := target.Config.GetString("template_branch")

	logging.Info("macOS", "Generating application scaffold for %s...", target.Config.AppName)
	_, err := target.Templates.Provision(ctx, &scaffold.Request{
		Source:  source,
		Branch:  branch,
		Context: target.Config.TemplateContext(),
		Dest:    target.Root,
	})
	return err
}

// Populate copies the app's sources and test sources into the bundle's
// resource area, replacing whatever an earlier populate left there.
func (b *Backend) Populate(ctx context.Context, target *backend.Target) error {
	appDir := filepath.Join(b.bundlePath(target), "Contents", "Resources", "app")
	if err := os.RemoveAll(appDir); err != nil {
		return fmt.Errorf("unable to reset app sources: %w", err)
	}

	sources := make([]string, 0, len(target.Config.Sources)+len(target.Config.TestSources))
	sources = append(sources, target.Config.Sources...)
	sources = append(sources, target.Config.TestSources...)

	for _, source := range sources {
		src := source
		if !filepath.IsAbs(src) {
			src = filepath.Join(target.ProjectDir, src)
		}
		if _, err := os.Stat(src); err != nil {
			return fmt.Errorf("source %s does not exist", source)
		}
		dest := filepath.Join(appDir, filepath.Base(source))
		logging.Debug("macOS", "Installing %s", source)
		if err := scaffold.CopyTree(src, dest); err != nil {
			return fmt.Errorf("unable to install %s: %w", source, err)
		}
	}
	return nil
}

// Compile builds the app binary into the bundle. The descriptor may supply
// a build_command; otherwise the app module is built with the Go toolchain.
func (b *Backend) Compile(ctx context.Context, target *backend.Target) (string, error) {
	argv, dir, err := b.compileCommand(target)
	if err != nil {
		return "", err
	}

	toolPath, err := target.Tools.Ensure(ctx, goTool)
	if err != nil {
		return "", err
	}
	if argv[0] == goTool.Name {
		argv[0] = toolPath
	}

	if err := os.MkdirAll(filepath.Dir(b.binaryPath(target)), 0o755); err != nil {
		return "", err
	}

	logging.Info("macOS", "Building %s...", target.Config.AppName)
	if _, err := target.Runner.RunChecked(ctx, &process.Invocation{
		Args: argv,
		Dir:  dir,
	}); err != nil {
		return "", err
	}
	return b.bundlePath(target), nil
}

// compileCommand decides the build invocation and its working directory.
func (b *Backend) compileCommand(target *backend.Target) ([]string, string, error) {
	if custom, ok := target.Config.GetString("build_command"); ok {
		argv := strings.Fields(custom)
		if len(argv) == 0 {
			return nil, "", fmt.Errorf("build_command for %s is empty", target.Config.AppName)
		}
		return argv, target.Root, nil
	}

	if len(target.Config.Sources) == 0 {
		return nil, "", fmt.Errorf("app %s declares no sources to build", target.Config.AppName)
	}
	pkg := filepath.Join(target.ProjectDir, target.Config.Sources[0])
	return []string{"go", "build", "-o", b.binaryPath(target), "./" + filepath.Base(pkg)}, filepath.Dir(pkg), nil
}

// Execute runs the compiled app. The run is wrapped so the log stream ends
// with an exit marker the supervisor can classify on; in test mode the
// verdict comes from that classification, never the exit code alone.
func (b *Backend) Execute(ctx context.Context, target *backend.Target, mode backend.Mode) (*process.Result, error) {
	binary := b.binaryPath(target)
	if _, err := os.Stat(binary); err != nil {
		return nil, fmt.Errorf("app %s has not been compiled", target.Config.AppName)
	}

	env := map[string]string{}
	if mode == backend.ModeTest {
		env["SATCHEL_MAIN_MODULE"] = "tests." + target.Config.ModuleName()
	}
	if mode == backend.ModeDebug {
		env["SATCHEL_DEBUG"] = "1"
	}

	logging.Info("macOS", "Starting %s in %s mode...", target.Config.AppName, mode)

	// The wrapper echoes the marker so a captured stream terminates even
	// when the app leaves background noise running.
	wrapped := fmt.Sprintf(`%q "$@"; echo ">>>>>>>>>> EXIT $? <<<<<<<<<<"`, binary)
	return target.Runner.Run(ctx, &process.Invocation{
		Args:    []string{"/bin/sh", "-c", wrapped, "satchel-run"},
		Dir:     target.Root,
		Env:     env,
		Success: []*regexp.Regexp{exitMarkerZero},
		Failure: []*regexp.Regexp{exitMarkerNonZero},
		Display: os.Stdout,
	})
}

// Package signs the bundle, notarizes it unless disabled, and produces the
// distributable artefact in the requested packaging format.
func (b *Backend) Package(ctx context.Context, target *backend.Target, format string) (string, error) {
	switch format {
	case PackageZip, PackageDMG:
	default:
		return "", &backend.UnsupportedTargetError{Platform: Platform, Format: format}
	}

	identity := b.signingIdentity(target)

	// The full tool set is known up front, so acquire it in one parallel
	// pass before laying a hand on the bundle.
	required := []tools.Spec{codesignTool, dittoTool}
	if format == PackageDMG {
		required[1] = hdiutilTool
	}
	if identity != adhocIdentity && !target.Options.SkipNotarize {
		required = append(required, xcrunTool)
	}
	if _, err := target.Tools.EnsureAll(ctx, required); err != nil {
		return "", err
	}

	if err := b.signBundle(ctx, target, identity); err != nil {
		return "", err
	}

	artefact, err := b.artefact(ctx, target, format)
	if err != nil {
		return "", err
	}

	if identity != adhocIdentity && !target.Options.SkipNotarize {
		if err := b.notarize(ctx, target, artefact); err != nil {
			return "", err
		}
	}

	logging.Info("macOS", "Packaged %s", artefact)
	return artefact, nil
}

// signingIdentity picks the identity for this run. With nothing configured
// the bundle is ad-hoc signed, which the user is warned about: an ad-hoc
// signature does not pass Gatekeeper on other machines.
func (b *Backend) signingIdentity(target *backend.Target) string {
	if target.Options.AdhocSign {
		return adhocIdentity
	}
	if target.Options.Identity != "" {
		return target.Options.Identity
	}
	if identity, ok := target.Config.GetString("signing_identity"); ok {
		return identity
	}
	logging.Warn("macOS", "No signing identity configured; ad-hoc signing %s. "+
		"The app will run on this machine but other machines will not trust it.",
		target.Config.AppName)
	return adhocIdentity
}

// artefact builds the distributable file under dist/ in the project tree.
func (b *Backend) artefact(ctx context.Context, target *backend.Target, format string) (string, error) {
	distDir := filepath.Join(target.Root, "dist")
	if err := os.MkdirAll(distDir, 0o755); err != nil {
		return "", err
	}

	bundle := b.bundlePath(target)
	base := fmt.Sprintf("%s-%s", target.Config.FormalName(), target.Config.Version)

	switch format {
	case PackageZip:
		out := filepath.Join(distDir, base+".zip")
		ditto, err := target.Tools.Ensure(ctx, dittoTool)
		if err != nil {
			return "", err
		}
		if _, err := target.Runner.RunChecked(ctx, &process.Invocation{
			Args: []string{ditto, "-c", "-k", "--keepParent", bundle, out},
		}); err != nil {
			return "", err
		}
		return out, nil

	case PackageDMG:
		out := filepath.Join(distDir, base+".dmg")
		hdiutil, err := target.Tools.Ensure(ctx, hdiutilTool)
		if err != nil {
			return "", err
		}
		if _, err := target.Runner.RunChecked(ctx, &process.Invocation{
			Args: []string{
				hdiutil, "create", "-volname", target.Config.FormalName(),
				"-srcfolder", bundle, "-ov", "-format", "UDZO", out,
			},
		}); err != nil {
			return "", err
		}
		return out, nil
	}
	return "", &backend.UnsupportedTargetError{Platform: Platform, Format: format}
}
