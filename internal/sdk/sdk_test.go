package sdk

import (
	"archive/tar"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ulikunitz/xz"

	"github.com/meganerd/extender/internal/vars"
)

const buildYML = `
context:
  dynamo_home: /sdk
main: "int main() { {{#symbols}}{{.}};{{/symbols}} }"
platforms:
  common:
    env:
      LANG: C
    context:
      defines: ["DM_COMMON"]
      flags: ["-g"]
  ios:
    context:
      defines: ["DM_PLATFORM_IOS"]
      frameworks: ["Foundation"]
    compileCmd: "clang -c {{src}} -o {{tgt}}"
    sourceRe: '(?i).*\.(cpp|c|mm|m)$'
    stlibRe: 'lib(.+)\.a$'
    shlibRe: '(.+)\.dylib$'
  arm64-ios:
    env:
      SDKROOT: /ios
    context:
      flags: ["-arch", "arm64"]
    linkCmds:
      - "clang {{#libs}}-l{{.}} {{/libs}}-o {{tgt}}"
  x86_64-linux:
    compileCmd: "gcc -c {{src}} -o {{tgt}}"
    sourceRe: '.*\.(cpp|c)$'
`

func writeSDK(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, BuildFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(buildYML), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestAlternatives(t *testing.T) {
	tests := []struct {
		platform string
		want     []string
	}{
		{"arm64-ios", []string{"common", "ios", "arm64-ios"}},
		{"wasm_pthread-web", []string{"common", "web", "wasm_pthread-web"}},
		{"linux", []string{"common", "linux"}},
	}
	for _, tt := range tests {
		t.Run(tt.platform, func(t *testing.T) {
			if got := Alternatives(tt.platform); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("want %v, got %v", tt.want, got)
			}
		})
	}
	if OS("x86_64-linux") != "linux" || Arch("x86_64-linux") != "x86_64" {
		t.Errorf("unexpected OS/Arch split for x86_64-linux")
	}
}

func TestPlatformMergesAlternatives(t *testing.T) {
	s, err := Load(writeSDK(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, err := s.Platform("arm64-ios")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := p.Context()
	if want := vars.List("DM_COMMON", "DM_PLATFORM_IOS"); !ctx["defines"].Equal(want) {
		t.Errorf("defines: want %#v, got %#v", want, ctx["defines"])
	}
	if want := vars.List("-g", "-arch", "arm64"); !ctx["flags"].Equal(want) {
		t.Errorf("flags: want %#v, got %#v", want, ctx["flags"])
	}
	if ctx.String("env.SDKROOT") != "/ios" || ctx.String("env.LANG") != "C" {
		t.Errorf("want env keys in context, got %s", ctx.Dump())
	}
	if p.Config.CompileCmd != "clang -c {{src}} -o {{tgt}}" {
		t.Errorf("want ios compileCmd inherited, got %q", p.Config.CompileCmd)
	}
	if got := p.LinkCommands(); len(got) != 1 {
		t.Errorf("want one link command, got %v", got)
	}
	if !p.IsSource("foo.MM") || p.IsSource("foo.h") {
		t.Error("sourceRe not applied")
	}
	if name, ok := p.StaticLibName("libextension.a"); !ok || name != "extension" {
		t.Errorf("want extension, got %q", name)
	}
}

func TestPlatformNotSupported(t *testing.T) {
	s, err := Load(writeSDK(t))
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"x86_64-ios", "common", "ios"} {
		_, err := s.Platform(name)
		if name == "ios" {
			if err != nil {
				t.Errorf("ios: unexpected error: %v", err)
			}
			continue
		}
		var pe *PlatformNotSupportedError
		if !errors.As(err, &pe) {
			t.Errorf("%s: want *PlatformNotSupportedError, got %v", name, err)
		}
	}
}

func TestLoadErrors(t *testing.T) {
	var ce *ConfigurationError
	if _, err := Load(t.TempDir()); !errors.As(err, &ce) {
		t.Errorf("want *ConfigurationError for missing build.yml, got %v", err)
	}
	if _, err := Parse("/sdk", []byte("platforms: {}\n")); !errors.As(err, &ce) {
		t.Errorf("want *ConfigurationError for empty platforms, got %v", err)
	}
	if _, err := Parse("/sdk", []byte("platforms:\n  linux: {compileCmd: cc, sourceRe: '('}\n")); err != nil {
		t.Errorf("parse should not compile regexes, got %v", err)
	}
}

func TestVariant(t *testing.T) {
	dir := writeSDK(t)
	s, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	var ce *ConfigurationError
	if _, err := s.Variant("headless"); !errors.As(err, &ce) {
		t.Errorf("want *ConfigurationError for missing variant, got %v", err)
	}
	if _, err := s.Variant("../../etc/passwd"); !errors.As(err, &ce) {
		t.Errorf("want *ConfigurationError for path variant, got %v", err)
	}

	path := filepath.Join(dir, "extender", "variants", "release.appmanifest")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("platforms:\n  common:\n    context:\n      excludeLibs: [profilerext]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	v, err := s.Variant("release")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := v.Platforms["common"].Strings("excludeLibs"); !reflect.DeepEqual(got, []string{"profilerext"}) {
		t.Errorf("want [profilerext], got %v", got)
	}
}

func TestOpenArchive(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "sdk-1.0.tar.xz")
	f, err := os.Create(src)
	if err != nil {
		t.Fatal(err)
	}
	xw, err := xz.NewWriter(f)
	if err != nil {
		t.Fatal(err)
	}
	tw := tar.NewWriter(xw)
	body := []byte(buildYML)
	if err := tw.WriteHeader(&tar.Header{Name: "defoldsdk/" + BuildFile, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(body); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := xw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	cache := filepath.Join(dir, "cache")
	for i := 0; i < 2; i++ {
		s, err := Open(src, cache)
		if err != nil {
			t.Fatalf("open %d: unexpected error: %v", i, err)
		}
		if want := filepath.Join(cache, "sdk-1.0", "defoldsdk"); s.Dir != want {
			t.Errorf("want dir %q, got %q", want, s.Dir)
		}
	}
}

func TestLibNames(t *testing.T) {
	s, err := Load(writeSDK(t))
	if err != nil {
		t.Fatal(err)
	}
	p, err := s.Platform("arm64-ios")
	if err != nil {
		t.Fatal(err)
	}
	got := LibNames([]string{"libz.a", "main.o", "libabc.a", "foo.dylib"}, p.StaticLibName)
	if want := []string{"abc", "z"}; !reflect.DeepEqual(got, want) {
		t.Errorf("want %v, got %v", want, got)
	}
	if got := LibNames([]string{"foo.dylib"}, p.SharedLibName); !reflect.DeepEqual(got, []string{"foo"}) {
		t.Errorf("want [foo], got %v", got)
	}
	if HostPlatform("darwin", "arm64") != "arm64-macos" || HostPlatform("linux", "amd64") != "x86_64-linux" {
		t.Error("unexpected host platform names")
	}
}
