// Package sdk loads the platform toolchain descriptions shipped with an
// engine SDK: the extender/build.yml file, its platform entries and the
// app manifest variants.
package sdk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/meganerd/extender/internal/archive"
	"github.com/meganerd/extender/internal/manifest"
	"github.com/meganerd/extender/internal/vars"
)

// BuildFile is the SDK relative path of the build descriptor.
const BuildFile = "extender/build.yml"

// ConfigurationError reports an SDK that is missing or malformed.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sdk: %s: %v", e.Msg, e.Err)
	}
	return "sdk: " + e.Msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// PlatformNotSupportedError reports a platform the SDK has no toolchain for.
type PlatformNotSupportedError struct {
	Platform  string
	Supported []string
}

func (e *PlatformNotSupportedError) Error() string {
	return fmt.Sprintf("sdk: platform %q is not supported (supported: %s)", e.Platform, strings.Join(e.Supported, ", "))
}

// Configuration is the decoded build descriptor.
type Configuration struct {
	Platforms map[string]*PlatformConfig `yaml:"platforms"`
	Context   map[string]any             `yaml:"context"`
	Main      string                     `yaml:"main"`
}

// SDK is a loaded SDK directory. It is immutable after Load.
type SDK struct {
	Dir     string
	config  *Configuration
	context vars.Context
}

// Load reads <dir>/extender/build.yml.
func Load(dir string) (*SDK, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, &ConfigurationError{Msg: "resolving sdk dir", Err: err}
	}
	path := filepath.Join(abs, BuildFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Msg: "reading " + BuildFile, Err: err}
	}
	return Parse(abs, data)
}

// Open loads an SDK from a directory or from a .tar.xz archive. Archives
// are extracted once into cacheDir/<archive name> and reused afterwards.
// The SDK root is the directory holding extender/build.yml, either the
// extraction dir itself or its single top level directory.
func Open(path, cacheDir string) (*SDK, error) {
	if !strings.HasSuffix(path, ".tar.xz") {
		return Load(path)
	}
	dst := filepath.Join(cacheDir, strings.TrimSuffix(filepath.Base(path), ".tar.xz"))
	if _, err := os.Stat(dst); errors.Is(err, os.ErrNotExist) {
		tmp := dst + ".tmp"
		if err := os.RemoveAll(tmp); err != nil {
			return nil, &ConfigurationError{Msg: "preparing sdk dir", Err: err}
		}
		if err := archive.UntarXZ(path, tmp); err != nil {
			os.RemoveAll(tmp)
			return nil, &ConfigurationError{Msg: "unpacking " + filepath.Base(path), Err: err}
		}
		if err := os.Rename(tmp, dst); err != nil {
			return nil, &ConfigurationError{Msg: "publishing sdk dir", Err: err}
		}
	}
	if _, err := os.Stat(filepath.Join(dst, BuildFile)); err == nil {
		return Load(dst)
	}
	entries, err := os.ReadDir(dst)
	if err != nil {
		return nil, &ConfigurationError{Msg: "reading sdk dir", Err: err}
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return Load(filepath.Join(dst, entries[0].Name()))
	}
	return nil, &ConfigurationError{Msg: filepath.Base(path) + " does not contain " + BuildFile}
}

// Parse decodes build descriptor data for the SDK rooted at dir.
func Parse(dir string, data []byte) (*SDK, error) {
	var cfg Configuration
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigurationError{Msg: "parsing " + BuildFile, Err: err}
	}
	if len(cfg.Platforms) == 0 {
		return nil, &ConfigurationError{Msg: BuildFile + " declares no platforms"}
	}
	ctx, err := vars.FromAny(cfg.Context)
	if err != nil {
		return nil, &ConfigurationError{Msg: "sdk context", Err: err}
	}
	for name, p := range cfg.Platforms {
		if p == nil {
			cfg.Platforms[name] = &PlatformConfig{}
		}
	}
	return &SDK{Dir: dir, config: &cfg, context: ctx}, nil
}

// Context returns a copy of the SDK wide base context.
func (s *SDK) Context() vars.Context { return s.context.Clone() }

// Main returns the engine entry point template.
func (s *SDK) Main() string { return s.config.Main }

// PlatformNames returns the platform entries declared by the SDK, sorted.
func (s *SDK) PlatformNames() []string {
	names := make([]string, 0, len(s.config.Platforms))
	for n := range s.config.Platforms {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Platform returns the merged configuration for platform: the "common"
// entry, then the OS entry, then the platform entry itself.
func (s *SDK) Platform(name string) (*Platform, error) {
	if _, ok := s.config.Platforms[name]; !ok || name == "common" {
		return nil, &PlatformNotSupportedError{Platform: name, Supported: s.PlatformNames()}
	}
	merged := &PlatformConfig{}
	ctx := vars.Context{}
	for _, alt := range Alternatives(name) {
		pc, ok := s.config.Platforms[alt]
		if !ok {
			continue
		}
		merged = merged.overlay(pc)
		altCtx, err := vars.FromAny(pc.Context)
		if err == nil {
			ctx, err = vars.Merge(ctx, altCtx)
		}
		if err != nil {
			return nil, &ConfigurationError{Msg: "platform " + alt + " context", Err: err}
		}
	}
	p, err := newPlatform(name, merged, ctx)
	if err != nil {
		return nil, &ConfigurationError{Msg: "platform " + name, Err: err}
	}
	return p, nil
}

// Variant loads extender/variants/<name>.appmanifest.
func (s *SDK) Variant(name string) (*manifest.AppManifest, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("invalid base variant %q", name)}
	}
	path := filepath.Join(s.Dir, "extender", "variants", name+".appmanifest")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("base variant %s not found", name)}
	}
	return manifest.ParseAppManifest(path)
}

// Alternatives returns the platform names whose settings apply to platform,
// from least to most specific: "common", the OS part of an "<arch>-<os>"
// name, and the platform itself.
func Alternatives(platform string) []string {
	alts := []string{"common"}
	if osName := OS(platform); osName != platform {
		alts = append(alts, osName)
	}
	return append(alts, platform)
}

// OS returns the OS part of an "<arch>-<os>" platform name, or the name
// itself.
func OS(platform string) string {
	if i := strings.LastIndexByte(platform, '-'); i >= 0 {
		return platform[i+1:]
	}
	return platform
}

// Arch returns the architecture part of an "<arch>-<os>" platform name, or
// "".
func Arch(platform string) string {
	if i := strings.LastIndexByte(platform, '-'); i >= 0 {
		return platform[:i]
	}
	return ""
}

// HostPlatform names the platform the service itself runs on.
func HostPlatform(goos, goarch string) string {
	arch := map[string]string{"amd64": "x86_64", "arm64": "arm64", "386": "x86"}[goarch]
	if arch == "" {
		arch = goarch
	}
	switch goos {
	case "darwin":
		return arch + "-macos"
	case "windows":
		return arch + "-win32"
	default:
		return arch + "-" + goos
	}
}
