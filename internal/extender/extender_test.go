package extender

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/meganerd/extender/internal/gradle"
	"github.com/meganerd/extender/internal/manifest"
	"github.com/meganerd/extender/internal/pods"
	"github.com/meganerd/extender/internal/process"
	"github.com/meganerd/extender/internal/sdk"
	"github.com/meganerd/extender/internal/tmpl"
)

// The toolchain is made of POSIX tools: objects are copies of the
// sources, archives and executables are empty files.
const buildYML = `
context:
  defines: ["DM_BASE"]
main: |
  {{#ext.symbols}}DM_EXT({{.}})
  {{/ext.symbols}}
  {{#symbols}}DM_SYM({{.}})
  {{/symbols}}
platforms:
  common:
    context:
      flags: []
      libs: []
    sourceRe: '(?i)\.(cpp|c)$'
    stlibRe: '^lib(.+)\.a$'
    shlibRe: '^lib(.+)\.so$'
    writeLibPattern: 'lib%s.a'
    writeExePattern: 'dmengine'
    zipContentPattern: '^(dmengine|classes\.dex)$'
    symbolsPattern: '^dmengine\.sym$'
    compileCmd: 'cp {{src}} {{tgt}}'
    libCmd: 'touch {{tgt}}'
    linkCmds:
      - 'echo link {{#ext.libs}}-l{{.}} {{/ext.libs}}'
      - 'echo jars {{#ext.jars}}{{.}} {{/ext.jars}}'
      - 'touch {{tgt}}'
    symbolCmd: 'touch {{src}}.sym'
    allowedLibs: ['z', 'c\+\+']
    allowedSymbols: ['\w+Ext']
  linux:
    context:
      defines: ["DM_PLATFORM_LINUX"]
  x86_64-linux:
    env:
      TOOLS: "{{dynamo_home}}/tools"
  arm64-linux:
    compileCmd: 'false {{src}}'
  x86_64-win32:
    context:
      flags: ["-I{{undefined_sdk_dir}}/include"]
  arm64-ios:
    context:
      frameworks: ["Foundation"]
  arm64-android:
    javaSourceRe: '\.java$'
    javacCmd: 'echo javac {{classPath}}'
    jarCmd: 'touch {{outputJar}}'
    dxCmd: 'touch {{classes_dex}}'
`

type recorder struct {
	*process.Executor
	mu   sync.Mutex
	cmds []process.Cmd
}

func (r *recorder) Exec(ctx context.Context, c process.Cmd) (string, error) {
	r.mu.Lock()
	r.cmds = append(r.cmds, c)
	r.mu.Unlock()
	return r.Executor.Exec(ctx, c)
}

func (r *recorder) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.cmds {
		out = append(out, c.Line)
	}
	return out
}

type fixture struct {
	sdk                *sdk.SDK
	job, upload, build string
	rec                *recorder
}

func newFixture(t *testing.T, s *sdk.SDK) *fixture {
	t.Helper()
	job := t.TempDir()
	f := &fixture{
		sdk:    s,
		job:    job,
		upload: filepath.Join(job, "upload"),
		build:  filepath.Join(job, "build"),
		rec:    &recorder{Executor: process.NewExecutor(job)},
	}
	if err := os.MkdirAll(f.upload, 0o755); err != nil {
		t.Fatal(err)
	}
	return f
}

func loadSDK(t *testing.T) *sdk.SDK {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, sdk.BuildFile), buildYML)
	s, err := sdk.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) write(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(f.upload, rel)
	writeFile(t, path, content)
	return path
}

// addStandardExtensions uploads "alpha" with two sources and "beta" with
// prebuilt libraries.
func (f *fixture) addStandardExtensions(t *testing.T) {
	f.write(t, "alpha/ext.manifest", `
name: "alpha"
platforms:
  x86_64-linux:
    context:
      defines: ["ALPHA_EXT"]
`)
	f.write(t, "alpha/src/alpha.cpp", "// alpha\n")
	f.write(t, "alpha/src/util.c", "// util\n")
	f.write(t, "alpha/include/alpha.h", "#pragma once\n")

	f.write(t, "beta/ext.manifest", `
name: "beta"
platforms:
  common:
    context:
      libs: ["z"]
`)
	f.write(t, "beta/src/beta.cpp", "// beta\n")
	f.write(t, "beta/lib/linux/libbar.a", "")
	f.write(t, "beta/lib/x86_64-linux/libfoo.so", "")
}

func (f *fixture) run(t *testing.T, platform string, opts ...func(*Options)) (*Extender, *Result, error) {
	t.Helper()
	o := Options{
		Platform:  platform,
		SDK:       f.sdk,
		UploadDir: f.upload,
		BuildDir:  f.build,
		Runner:    f.rec,
	}
	for _, fn := range opts {
		fn(&o)
	}
	e, err := New(o)
	if err != nil {
		t.Fatal(err)
	}
	res, err := e.Build(context.Background())
	return e, res, err
}

func (f *fixture) outputs(names ...string) []string {
	var out []string
	for _, n := range names {
		out = append(out, filepath.Join(f.build, n))
	}
	sort.Strings(out)
	return out
}

func TestBuild(t *testing.T) {
	f := newFixture(t, loadSDK(t))
	f.addStandardExtensions(t)

	e, res, err := f.run(t, "x86_64-linux")
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if e.State() != StateDone {
		t.Errorf("want %s, got %s", StateDone, e.State())
	}

	want := f.outputs("dmengine", "dmengine.sym", "libfoo.so")
	if !reflect.DeepEqual(res.Outputs, want) {
		t.Errorf("want outputs %v, got %v", want, res.Outputs)
	}

	main, err := os.ReadFile(filepath.Join(f.build, "main.cpp"))
	if err != nil {
		t.Fatal(err)
	}
	a, b := strings.Index(string(main), "DM_EXT(alpha)"), strings.Index(string(main), "DM_EXT(beta)")
	if a < 0 || b < a {
		t.Errorf("want both extensions registered in order, got %q", main)
	}

	if !strings.Contains(res.Log, "$ echo link -lalpha -lbeta -lbar\n") {
		t.Errorf("want discovered libs in link line, got log:\n%s", res.Log)
	}
	obj := filepath.Join(f.build, "util.c_1.o")
	if !strings.Contains(res.Log, "$ cp "+filepath.Join(f.upload, "alpha", "src", "util.c")+" "+obj) {
		t.Errorf("want %s compiled, got log:\n%s", obj, res.Log)
	}

	for _, c := range f.rec.cmds {
		if got, want := c.Env["TOOLS"], f.sdk.Dir+"/tools"; got != want {
			t.Errorf("%s: want TOOLS %q, got %q", c.Line, want, got)
		}
	}
}

func TestBuildPlatformWithoutArch(t *testing.T) {
	f := newFixture(t, loadSDK(t))
	f.addStandardExtensions(t)

	e, res, err := f.run(t, "linux")
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if got, want := e.platformDirs(), []string{"linux"}; !reflect.DeepEqual(got, want) {
		t.Errorf("want %q, got %q", want, got)
	}
	if !strings.Contains(res.Log, "$ echo link -lalpha -lbeta -lbar\n") {
		t.Errorf("want each lib linked once, got log:\n%s", res.Log)
	}
}

func TestBuildExcludedExtension(t *testing.T) {
	f := newFixture(t, loadSDK(t))
	f.addStandardExtensions(t)
	f.write(t, "app.manifest", `
platforms:
  x86_64-linux:
    context:
      excludeSymbols: ["beta"]
`)

	_, res, err := f.run(t, "x86_64-linux")
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	main, err := os.ReadFile(filepath.Join(f.build, "main.cpp"))
	if err != nil {
		t.Fatal(err)
	}
	if got := string(main); !strings.Contains(got, "DM_EXT(alpha)") || strings.Contains(got, "DM_EXT(beta)") {
		t.Errorf("unexpected main.cpp %q", got)
	}
	if strings.Contains(res.Log, "-lbar") || strings.Contains(res.Log, "beta.cpp") {
		t.Errorf("excluded extension was built:\n%s", res.Log)
	}
	want := f.outputs("dmengine", "dmengine.sym")
	if !reflect.DeepEqual(res.Outputs, want) {
		t.Errorf("want outputs %v, got %v", want, res.Outputs)
	}
}

func TestBuildExcludedContextSymbol(t *testing.T) {
	f := newFixture(t, loadSDK(t))
	f.write(t, "alpha/ext.manifest", `
name: "alpha"
platforms:
  common:
    context:
      symbols: ["AlphaExt", "AlphaDebugExt"]
`)
	f.write(t, "alpha/src/alpha.cpp", "// alpha\n")
	f.write(t, "app.manifest", `
platforms:
  x86_64-linux:
    context:
      excludeSymbols: ["AlphaDebugExt"]
`)

	if _, _, err := f.run(t, "x86_64-linux"); err != nil {
		t.Fatalf("build failed: %v", err)
	}
	main, err := os.ReadFile(filepath.Join(f.build, "main.cpp"))
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		line string
		want bool
	}{
		{"DM_EXT(alpha)", true},
		{"DM_SYM(AlphaExt)", true},
		{"DM_SYM(AlphaDebugExt)", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := strings.Contains(string(main), tt.line); got != tt.want {
				t.Errorf("want %q present %v, got main.cpp %q", tt.line, tt.want, main)
			}
		})
	}
}

func TestBuildLibraryArtifacts(t *testing.T) {
	f := newFixture(t, loadSDK(t))
	f.addStandardExtensions(t)
	f.write(t, "app.manifest", "context:\n  buildArtifacts: library\n")
	fp := &fakePods{}

	e, res, err := f.run(t, "arm64-ios", func(o *Options) { o.Pods = fp })
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if e.State() != StateDone {
		t.Errorf("want %s, got %s", StateDone, e.State())
	}
	want := f.outputs("libalpha.a", "libbeta.a")
	if !reflect.DeepEqual(res.Outputs, want) {
		t.Errorf("want outputs %v, got %v", want, res.Outputs)
	}
	if strings.Contains(res.Log, "echo link") {
		t.Errorf("want no link step, got log:\n%s", res.Log)
	}
	if fp.req.Platform != "" {
		t.Errorf("want no pod resolution, got %+v", fp.req)
	}
}

func TestBuildArtifactsSetting(t *testing.T) {
	tests := []struct {
		artifacts string
		library   bool
		err       string
	}{
		{"", false, ""},
		{"engine", false, ""},
		{"library", true, ""},
		{"engine, library", true, ""},
		{"plugins", false, `unsupported build artifact "plugins"`},
	}
	for _, tt := range tests {
		t.Run(tt.artifacts, func(t *testing.T) {
			got, err := libraryBuild(tt.artifacts)
			if tt.err != "" {
				if err == nil || err.Error() != tt.err {
					t.Fatalf("want %q, got %v", tt.err, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.library {
				t.Errorf("want %v, got %v", tt.library, got)
			}
		})
	}
}

func TestBuildDebugSourcePath(t *testing.T) {
	f := newFixture(t, loadSDK(t))
	f.addStandardExtensions(t)
	f.write(t, "app.manifest", "context:\n  debugSourcePath: /src/game\n")

	e, _, err := f.run(t, "x86_64-linux")
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	want := []string{
		"-fdebug-compilation-dir=/src/game",
		"-fdebug-prefix-map=" + f.upload + "=extensions",
		"-fdebug-prefix-map=" + f.build + "=generated",
	}
	for _, ext := range e.built {
		if got := ext.ctx.Strings("flags"); !reflect.DeepEqual(got, want) {
			t.Errorf("%s: want flags %q, got %q", ext.name, want, got)
		}
	}
}

func TestBuildWithoutExtensions(t *testing.T) {
	f := newFixture(t, loadSDK(t))
	e, res, err := f.run(t, "x86_64-linux")
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(e.built) != 0 {
		t.Errorf("want no extensions, got %d", len(e.built))
	}
	want := f.outputs("dmengine", "dmengine.sym")
	if !reflect.DeepEqual(res.Outputs, want) {
		t.Errorf("want outputs %v, got %v", want, res.Outputs)
	}
}

func TestBuildFailures(t *testing.T) {
	tests := []struct {
		name     string
		platform string
		setup    func(t *testing.T, f *fixture)
		state    State
		check    func(t *testing.T, err error)
	}{
		{
			name:     "unsupported platform",
			platform: "arm64-nx64",
			state:    StateInit,
			check: func(t *testing.T, err error) {
				var pe *sdk.PlatformNotSupportedError
				if !errors.As(err, &pe) {
					t.Errorf("want PlatformNotSupportedError, got %v", err)
				}
			},
		},
		{
			name:     "two app manifests",
			platform: "x86_64-linux",
			setup: func(t *testing.T, f *fixture) {
				f.write(t, "a/app.manifest", "platforms: {}\n")
				f.write(t, "b/app.manifest", "platforms: {}\n")
			},
			state: StateInit,
			check: wantMessage("only one app.manifest allowed"),
		},
		{
			name:     "unknown manifest platform",
			platform: "x86_64-linux",
			setup: func(t *testing.T, f *fixture) {
				f.write(t, "ext/ext.manifest", "name: \"ext\"\nplatforms:\n  amiga:\n    context: {}\n")
			},
			state: StateDiscoverExtensions,
			check: wantMessage("invalid platform: amiga"),
		},
		{
			name:     "duplicate extension",
			platform: "x86_64-linux",
			setup: func(t *testing.T, f *fixture) {
				f.write(t, "one/ext.manifest", "name: \"twin\"\n")
				f.write(t, "two/ext.manifest", "name: \"twin\"\n")
			},
			state: StateDiscoverExtensions,
			check: wantMessage("declared twice"),
		},
		{
			name:     "forbidden manifest field",
			platform: "x86_64-linux",
			setup: func(t *testing.T, f *fixture) {
				f.write(t, "ext/ext.manifest", "name: \"ext\"\nplatforms:\n  linux:\n    context:\n      bogus: [\"x\"]\n")
				f.write(t, "ext/src/ext.cpp", "")
			},
			state: StatePerExtensionBuild,
			check: func(t *testing.T, err error) {
				var ve *manifest.ValidationError
				if !errors.As(err, &ve) {
					t.Errorf("want ValidationError, got %v", err)
				}
			},
		},
		{
			name:     "no sources",
			platform: "x86_64-linux",
			setup: func(t *testing.T, f *fixture) {
				f.write(t, "ext/ext.manifest", "name: \"ext\"\n")
				f.write(t, "ext/include/ext.h", "")
			},
			state: StatePerExtensionBuild,
			check: wantMessage("ext: extension has no source"),
		},
		{
			name:     "context references a missing key",
			platform: "x86_64-win32",
			setup: func(t *testing.T, f *fixture) {
				f.write(t, "ext/ext.manifest", "name: \"ext\"\n")
				f.write(t, "ext/src/ext.c", "")
			},
			state: StatePerExtensionBuild,
			check: func(t *testing.T, err error) {
				var te *tmpl.TemplateError
				if !errors.As(err, &te) {
					t.Errorf("want TemplateError, got %v", err)
				}
			},
		},
		{
			name:     "unsupported build artifact",
			platform: "x86_64-linux",
			setup: func(t *testing.T, f *fixture) {
				f.write(t, "app.manifest", "context:\n  buildArtifacts: engine,plugins\n")
			},
			state: StateInit,
			check: wantMessage(`unsupported build artifact "plugins"`),
		},
		{
			name:     "compiler failure",
			platform: "arm64-linux",
			setup: func(t *testing.T, f *fixture) {
				f.write(t, "ext/ext.manifest", "name: \"ext\"\n")
				f.write(t, "ext/src/broken.c", "")
			},
			state: StatePerExtensionBuild,
			check: func(t *testing.T, err error) {
				var te *process.ToolchainError
				if !errors.As(err, &te) {
					t.Fatalf("want ToolchainError, got %v", err)
				}
				if te.ExitCode != 1 {
					t.Errorf("want exit code 1, got %d", te.ExitCode)
				}
				var be *BuildError
				if errors.As(err, &be) && !strings.Contains(be.Log, "$ false ") {
					t.Errorf("want failing command in log, got %q", be.Log)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, loadSDK(t))
			if tt.setup != nil {
				tt.setup(t, f)
			}
			e, res, err := f.run(t, tt.platform)
			if err == nil {
				t.Fatalf("want error, got outputs %v", res.Outputs)
			}
			var be *BuildError
			if !errors.As(err, &be) {
				t.Fatalf("want BuildError, got %T: %v", err, err)
			}
			if be.State != tt.state {
				t.Errorf("want failure in %s, got %s: %v", tt.state, be.State, be.Err)
			}
			if be.Stage() != tt.state.String() {
				t.Errorf("want stage %q, got %q", tt.state, be.Stage())
			}
			if e.State() != StateFailed {
				t.Errorf("want %s, got %s", StateFailed, e.State())
			}
			tt.check(t, err)
		})
	}
}

func wantMessage(msg string) func(t *testing.T, err error) {
	return func(t *testing.T, err error) {
		t.Helper()
		if !strings.Contains(err.Error(), msg) {
			t.Errorf("want %q in %q", msg, err.Error())
		}
	}
}

func TestBuildDeterministic(t *testing.T) {
	s := loadSDK(t)
	build := func() string {
		f := newFixture(t, s)
		f.addStandardExtensions(t)
		for i := 0; i < 6; i++ {
			f.write(t, filepath.Join("alpha", "src", "gen", string(rune('a'+i))+".c"), "")
		}
		if _, _, err := f.run(t, "x86_64-linux", func(o *Options) { o.CompileJobs = 4 }); err != nil {
			t.Fatal(err)
		}
		lines := f.rec.lines()
		for i := range lines {
			lines[i] = strings.ReplaceAll(lines[i], f.job, "$JOB")
		}
		// compiles finish in any order, the commands themselves may not vary
		sort.Strings(lines)
		return strings.Join(lines, "\n") + "\n"
	}
	first, second := build(), build()
	if first != second {
		diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(first),
			B:        difflib.SplitLines(second),
			FromFile: "first",
			ToFile:   "second",
			Context:  2,
		})
		t.Errorf("builds differ:\n%s", diff)
	}
}

type fakePods struct {
	req pods.Request
	res *pods.ResolvedPods
}

func (f *fakePods) Resolve(ctx context.Context, req pods.Request) (pods.Option[*pods.ResolvedPods], error) {
	f.req = req
	if f.res == nil {
		return pods.None[*pods.ResolvedPods](), nil
	}
	return pods.Some(f.res), nil
}

func TestBuildWithPods(t *testing.T) {
	f := newFixture(t, loadSDK(t))
	podsDir := t.TempDir()
	src := filepath.Join(podsDir, "Lottie", "Lottie.c")
	writeFile(t, src, "// lottie\n")
	lock := filepath.Join(podsDir, "Podfile.lock")
	writeFile(t, lock, "PODS:\n  - Lottie (4.0)\n")

	fp := &fakePods{res: &pods.ResolvedPods{
		Pods: []*pods.PodBuildSpec{{
			Name:        "Lottie",
			SourceFiles: []string{src},
			Settings:    pods.BuildSettings{Flags: pods.LanguageSet{C: []string{"-fmodules"}}},
		}},
		PodsDir:         podsDir,
		Lockfile:        lock,
		Platform:        "arm64-ios",
		PlatformVersion: "12.0",
	}}
	e, res, err := f.run(t, "arm64-ios", func(o *Options) { o.Pods = fp })
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if fp.req.Platform != "arm64-ios" || fp.req.Configuration != podConfiguration {
		t.Errorf("unexpected pod request %+v", fp.req)
	}
	if fp.req.JobDir != f.upload {
		t.Errorf("want pods searched in %q, got %q", f.upload, fp.req.JobDir)
	}
	if !strings.Contains(res.Log, "$ echo link -lLottie\n") {
		t.Errorf("want pod library linked, got log:\n%s", res.Log)
	}
	want := append(f.outputs("dmengine", "dmengine.sym"), lock)
	sort.Strings(want)
	if !reflect.DeepEqual(res.Outputs, want) {
		t.Errorf("want outputs %v, got %v", want, res.Outputs)
	}
	if got := e.merged.String("env.IOS_VERSION_MIN"); got != "12.0" {
		t.Errorf("want IOS_VERSION_MIN 12.0, got %q", got)
	}
}

func TestBuildWithoutPods(t *testing.T) {
	f := newFixture(t, loadSDK(t))
	fp := &fakePods{}
	_, _, err := f.run(t, "arm64-ios", func(o *Options) { o.Pods = fp })
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if fp.req.Platform != "arm64-ios" {
		t.Errorf("want resolver asked, got %+v", fp.req)
	}
}

type fakeGradle struct {
	req  gradle.Request
	deps []string
}

func (f *fakeGradle) Resolve(ctx context.Context, req gradle.Request) (*gradle.Result, error) {
	f.req = req
	lock := filepath.Join(req.BuildDir, gradle.LockfileName)
	if err := os.WriteFile(lock, []byte("# locked\n"), 0o644); err != nil {
		return nil, err
	}
	return &gradle.Result{Dependencies: f.deps, Outputs: []string{lock}}, nil
}

func TestBuildWithGradle(t *testing.T) {
	f := newFixture(t, loadSDK(t))
	f.write(t, "gamma/ext.manifest", "name: \"gamma\"\n")
	f.write(t, "gamma/src/gamma.cpp", "")
	f.write(t, "gamma/src/Gamma.java", "class Gamma {}\n")
	f.write(t, "gamma/build.gradle", "dependencies {}\n")

	deps := t.TempDir()
	aar := filepath.Join(deps, "androidx.core-core-1.2.0.aar")
	writeFile(t, filepath.Join(aar, "classes.jar"), "")
	writeFile(t, filepath.Join(aar, "libs", "extra.jar"), "")
	writeFile(t, filepath.Join(aar, "res", "values", "values.xml"), "")
	gson := filepath.Join(deps, "gson-2.8.jar")
	writeFile(t, gson, "")

	fg := &fakeGradle{deps: []string{aar, gson}}
	_, res, err := f.run(t, "arm64-android", func(o *Options) { o.Gradle = fg })
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if !fg.req.Jetifier {
		t.Errorf("want jetifier on by default")
	}

	classPath := strings.Join([]string{
		filepath.Join(aar, "classes.jar"),
		filepath.Join(aar, "libs", "extra.jar"),
		gson,
	}, string(os.PathListSeparator))
	if !strings.Contains(res.Log, "$ echo javac "+classPath+"\n") {
		t.Errorf("want dependency jars on the class path, got log:\n%s", res.Log)
	}
	if !strings.Contains(res.Log, filepath.Join(f.build, "gamma.jar")) {
		t.Errorf("want extension jar linked, got log:\n%s", res.Log)
	}

	want := f.outputs("classes.dex", "dmengine", "dmengine.sym", gradle.LockfileName)
	if !reflect.DeepEqual(res.Outputs, want) {
		t.Errorf("want outputs %v, got %v", want, res.Outputs)
	}
}

func TestStateString(t *testing.T) {
	if got := StateLinkEngine.String(); got != "LinkEngine" {
		t.Errorf("want %q, got %q", "LinkEngine", got)
	}
	if got := State(42).String(); got != "State(42)" {
		t.Errorf("want %q, got %q", "State(42)", got)
	}
}

func TestValidate(t *testing.T) {
	f := newFixture(t, loadSDK(t))
	f.addStandardExtensions(t)
	e, err := New(Options{Platform: "x86_64-linux", SDK: f.sdk, UploadDir: f.upload, BuildDir: f.build, Runner: f.rec})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Validate(context.Background()); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if len(f.rec.lines()) != 0 {
		t.Errorf("want no commands run, got %v", f.rec.lines())
	}

	f.write(t, "gamma/ext.manifest", "name: \"gamma\"\nplatforms:\n  common:\n    context:\n      libs: [\"../escape\"]\n")
	e, err = New(Options{Platform: "x86_64-linux", SDK: f.sdk, UploadDir: f.upload, BuildDir: f.build, Runner: f.rec})
	if err != nil {
		t.Fatal(err)
	}
	var ve *manifest.ValidationError
	if err := e.Validate(context.Background()); !errors.As(err, &ve) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if ve.Extension != "gamma" || ve.Field != "libs" {
		t.Errorf("unexpected validation error %+v", ve)
	}
}

func TestBuildErrorDiagnostics(t *testing.T) {
	err := &BuildError{
		State: StatePerExtensionBuild,
		Log:   "$ clang -c /job/upload/alpha/src/a.c\n/job/upload/alpha/src/a.c:3:1: warning: unused\n/job/upload/alpha/src/a.c:7:5: error: expected ';'\n",
	}
	diags := err.Diagnostics()
	if len(diags) != 1 {
		t.Fatalf("want 1 diagnostic, got %v", diags)
	}
	if diags[0].Line != 7 || diags[0].Message != "expected ';'" {
		t.Errorf("unexpected diagnostic %v", diags[0])
	}
}
