// Package manifest parses extension and app manifests and validates their
// context values against whitelist patterns.
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/meganerd/extender/internal/vars"
)

const (
	ExtensionManifestName = "ext.manifest"
	AppManifestName       = "app.manifest"
)

// AllowedPlatforms lists every platform name a manifest may use.
var AllowedPlatforms = []string{
	"common",
	"ios", "armv7-ios", "arm64-ios", "x86_64-ios",
	"android", "armv7-android", "arm64-android",
	"osx", "x86-osx", "x86_64-osx", "arm64-osx",
	"linux", "x86-linux", "x86_64-linux", "arm64-linux",
	"win32", "x86-win32", "x86_64-win32",
	"web", "js-web", "wasm-web", "wasm_pthread-web",
	"nx64", "arm64-nx64",
	"ps4", "x86_64-ps4",
	"ps5", "x86_64-ps5",
}

// ParseError reports a manifest that could not be read or decoded. Line is
// zero when unknown.
type ParseError struct {
	File string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: error: %v", e.File, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Manifest is a parsed ext.manifest.
type Manifest struct {
	Path      string
	Name      string
	Platforms map[string]vars.Context
}

// AppManifest is a parsed app.manifest or base variant.
type AppManifest struct {
	Path      string
	Platforms map[string]vars.Context
	Context   vars.Context
}

type rawPlatform struct {
	Context map[string]any `yaml:"context"`
}

type rawManifest struct {
	Name      string                  `yaml:"name"`
	Platforms map[string]*rawPlatform `yaml:"platforms"`
	Context   map[string]any          `yaml:"context"`
}

// ParseManifest reads an extension manifest.
func ParseManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{File: path, Err: err}
	}
	return ParseManifestData(path, data)
}

// ParseManifestData decodes extension manifest data read from path.
func ParseManifestData(path string, data []byte) (*Manifest, error) {
	raw, err := decode(path, data)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw.Name) == "" {
		return nil, &ParseError{File: path, Err: fmt.Errorf("missing extension name")}
	}
	platforms, err := platformContexts(path, raw.Platforms)
	if err != nil {
		return nil, err
	}
	return &Manifest{Path: path, Name: raw.Name, Platforms: platforms}, nil
}

// ParseAppManifest reads an app manifest.
func ParseAppManifest(path string) (*AppManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{File: path, Err: err}
	}
	return ParseAppManifestData(path, data)
}

// ParseAppManifestData decodes app manifest data read from path. An empty
// document is a valid, empty app manifest.
func ParseAppManifestData(path string, data []byte) (*AppManifest, error) {
	raw, err := decode(path, data)
	if err != nil {
		return nil, err
	}
	platforms, err := platformContexts(path, raw.Platforms)
	if err != nil {
		return nil, err
	}
	ctx, err := vars.FromAny(raw.Context)
	if err != nil {
		return nil, &ParseError{File: path, Err: err}
	}
	return &AppManifest{Path: path, Platforms: platforms, Context: ctx}, nil
}

func decode(path string, data []byte) (*rawManifest, error) {
	if i := bytes.IndexByte(data, '\t'); i >= 0 {
		line := 1 + bytes.Count(data[:i], []byte("\n"))
		return nil, &ParseError{File: path, Line: line,
			Err: fmt.Errorf("manifest files are YAML files and cannot contain tabs, indentation should be done with spaces")}
	}
	var raw rawManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{File: path, Err: err}
	}
	return &raw, nil
}

func platformContexts(path string, raw map[string]*rawPlatform) (map[string]vars.Context, error) {
	out := make(map[string]vars.Context, len(raw))
	for name, p := range raw {
		if p == nil {
			out[name] = vars.Context{}
			continue
		}
		ctx, err := vars.FromAny(p.Context)
		if err != nil {
			return nil, &ParseError{File: path, Err: fmt.Errorf("platform %s: %w", name, err)}
		}
		out[name] = ctx
	}
	return out, nil
}

// PlatformNames returns the platform keys of m in sorted order.
func (m *Manifest) PlatformNames() []string {
	return sortedKeys(m.Platforms)
}

// CheckPlatforms reports the first platform key that is not in allowed.
func (m *Manifest) CheckPlatforms(allowed []string) error {
	ok := make(map[string]bool, len(allowed))
	for _, p := range allowed {
		ok[p] = true
	}
	for _, p := range m.PlatformNames() {
		if !ok[p] {
			return fmt.Errorf("extension %s contains invalid platform: %s, allowed platforms: %s",
				m.Name, p, strings.Join(allowed, ", "))
		}
	}
	return nil
}

// Context merges the contexts declared for each platform alternative, in
// order. Missing platforms contribute nothing.
func (m *Manifest) Context(alternatives []string) (vars.Context, error) {
	return mergePlatforms(m.Platforms, alternatives)
}

// PlatformContext merges the per-platform contexts of the app manifest.
func (a *AppManifest) PlatformContext(alternatives []string) (vars.Context, error) {
	if a == nil {
		return vars.Context{}, nil
	}
	return mergePlatforms(a.Platforms, alternatives)
}

// BaseVariant names the SDK variant the app manifest builds on, if any.
func (a *AppManifest) BaseVariant() string { return a.setting("baseVariant") }

// BuildArtifacts lists the requested extra artifacts.
func (a *AppManifest) BuildArtifacts() string { return a.setting("buildArtifacts") }

// DebugSourcePath is the remapped source path written into debug info.
func (a *AppManifest) DebugSourcePath() string { return a.setting("debugSourcePath") }

// WithSymbols reports whether symbol files should be produced. Defaults to
// true.
func (a *AppManifest) WithSymbols() bool { return a.flag("withSymbols", true) }

// Jetifier reports whether Android dependencies are jetified. Defaults to
// true.
func (a *AppManifest) Jetifier() bool { return a.flag("jetifier", true) }

func (a *AppManifest) setting(key string) string {
	if a == nil {
		return ""
	}
	return a.Context.String(key)
}

func (a *AppManifest) flag(key string, def bool) bool {
	if a == nil {
		return def
	}
	if _, ok := a.Context[key]; !ok {
		return def
	}
	return a.Context.Bool(key)
}

func mergePlatforms(platforms map[string]vars.Context, alternatives []string) (vars.Context, error) {
	out := vars.Context{}
	for _, alt := range alternatives {
		ctx, ok := platforms[alt]
		if !ok {
			continue
		}
		var err error
		if out, err = vars.MergeContexts(out, ctx); err != nil {
			return nil, fmt.Errorf("platform %s: %w", alt, err)
		}
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
