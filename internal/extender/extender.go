// Package extender builds an engine for one platform out of the native
// extensions a client uploaded.
//
// A build walks a fixed sequence of states. Each state either advances or
// fails the whole build with a *BuildError naming the state it failed in
// and carrying the toolchain log accumulated so far.
package extender

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/meganerd/extender/internal/gradle"
	"github.com/meganerd/extender/internal/manifest"
	"github.com/meganerd/extender/internal/pods"
	"github.com/meganerd/extender/internal/process"
	"github.com/meganerd/extender/internal/sdk"
	"github.com/meganerd/extender/internal/vars"
)

// State is a step of the build.
type State int

const (
	StateInit State = iota
	StateDiscoverExtensions
	StatePerExtensionBuild
	StateMergeContexts
	StateLinkEngine
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateInit:               "Init",
	StateDiscoverExtensions: "DiscoverExtensions",
	StatePerExtensionBuild:  "PerExtensionBuild",
	StateMergeContexts:      "MergeContexts",
	StateLinkEngine:         "LinkEngine",
	StateDone:               "Done",
	StateFailed:             "Failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// BuildError is a failed build. Log is the runner's cumulative output at
// the time of failure.
type BuildError struct {
	State State
	Err   error
	Log   string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed in %s: %v", e.State, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Stage names the state the build failed in.
func (e *BuildError) Stage() string { return e.State.String() }

// Diagnostics returns the compiler errors found in the log.
func (e *BuildError) Diagnostics() []process.Diagnostic {
	return process.Errors(process.ParseDiagnostics(e.Log))
}

// PodResolver installs CocoaPods dependencies.
type PodResolver interface {
	Resolve(ctx context.Context, req pods.Request) (pods.Option[*pods.ResolvedPods], error)
}

// GradleResolver fetches Android dependencies.
type GradleResolver interface {
	Resolve(ctx context.Context, req gradle.Request) (*gradle.Result, error)
}

var (
	_ PodResolver    = (*pods.Resolver)(nil)
	_ GradleResolver = (*gradle.Service)(nil)
)

// Options configures a build.
type Options struct {
	Platform string
	SDK      *sdk.SDK

	// UploadDir holds the client's files. BuildDir receives every
	// intermediate and output file. JobDir defaults to the parent of
	// UploadDir and is the working directory of every command.
	UploadDir string
	BuildDir  string
	JobDir    string

	// Env is added to the toolchain environment and to the "env.*"
	// context, over the process environment.
	Env map[string]string

	// Runner defaults to a process.Executor in JobDir.
	Runner process.Runner
	Logger zerolog.Logger

	Pods   PodResolver
	Gradle GradleResolver

	// CompileJobs bounds concurrent compiler invocations.
	CompileJobs int
	// HostPlatform defaults to the platform the service runs on.
	HostPlatform string
}

// Result is a finished build.
type Result struct {
	Outputs []string
	Log     string
}

type extension struct {
	name     string
	dir      string
	manifest *manifest.Manifest
	ctx      vars.Context
	lib      string
	jar      string
}

// Extender runs one build. It is not reusable.
type Extender struct {
	opts     Options
	platform *sdk.Platform
	runner   process.Runner
	logger   zerolog.Logger

	env       map[string]string
	app       *manifest.AppManifest
	base      vars.Context
	variant   vars.Context
	appCtx    vars.Context
	validator *manifest.Validator
	prune     map[string][]string
	// appExclude is the excludeSymbols list of the app manifest.
	appExclude []string
	// library builds the extension libraries only.
	library bool

	exts    []*extension
	built   []*extension
	merged  vars.Context
	podCtx  vars.Context
	jars    []string
	resDirs []string
	extra   []string
	javaRan bool

	mu    sync.Mutex
	state State
	index int
}

// New prepares a build. Nothing touches the file system before Build.
func New(opts Options) (*Extender, error) {
	if opts.SDK == nil {
		return nil, fmt.Errorf("extender: no sdk")
	}
	if opts.Platform == "" {
		return nil, fmt.Errorf("extender: no platform")
	}
	if opts.UploadDir == "" || opts.BuildDir == "" {
		return nil, fmt.Errorf("extender: upload and build dirs are required")
	}
	for _, p := range []*string{&opts.UploadDir, &opts.BuildDir, &opts.JobDir} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return nil, fmt.Errorf("extender: %w", err)
		}
		*p = abs
	}
	if opts.JobDir == "" {
		opts.JobDir = filepath.Dir(opts.UploadDir)
	}
	if opts.CompileJobs < 1 {
		opts.CompileJobs = 1
	}
	if opts.HostPlatform == "" {
		opts.HostPlatform = sdk.HostPlatform(runtime.GOOS, runtime.GOARCH)
	}
	logger := opts.Logger.With().Str("component", "extender").Str("platform", opts.Platform).Logger()
	runner := opts.Runner
	if runner == nil {
		runner = process.NewExecutor(opts.JobDir, process.WithLogger(opts.Logger))
	}
	return &Extender{
		opts:   opts,
		runner: runner,
		logger: logger,
		prune:  make(map[string][]string),
		state:  StateInit,
	}, nil
}

// State returns the current build state.
func (e *Extender) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Extender) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.logger.Debug().Stringer("state", s).Msg("build state")
}

type step struct {
	state State
	run   func(context.Context) error
}

// Build runs every build state and returns the output files, sorted. An
// app manifest asking for the "library" artifact stops after the
// extensions are built and returns their libraries.
func (e *Extender) Build(ctx context.Context) (*Result, error) {
	if err := e.runSteps(ctx, []step{
		{StateInit, e.init},
		{StateDiscoverExtensions, e.discover},
		{StatePerExtensionBuild, e.buildExtensions},
	}); err != nil {
		return nil, err
	}
	last := StatePerExtensionBuild
	if !e.library {
		if err := e.runSteps(ctx, []step{
			{StateMergeContexts, e.mergeContexts},
			{StateLinkEngine, e.link},
		}); err != nil {
			return nil, err
		}
		last = StateLinkEngine
	}
	outputs, err := e.outputs()
	if err != nil {
		e.setState(StateFailed)
		return nil, &BuildError{State: last, Err: err, Log: e.runner.Log()}
	}
	e.setState(StateDone)
	e.logger.Info().Int("extensions", len(e.built)).Int("outputs", len(outputs)).Msg("build done")
	return &Result{Outputs: outputs, Log: e.runner.Log()}, nil
}

// Validate checks the uploaded manifests without running any tool.
func (e *Extender) Validate(ctx context.Context) error {
	err := e.runSteps(ctx, []step{
		{StateInit, e.init},
		{StateDiscoverExtensions, e.discover},
		{StatePerExtensionBuild, e.validateExtensions},
	})
	if err == nil {
		e.setState(StateDone)
	}
	return err
}

func (e *Extender) runSteps(ctx context.Context, steps []step) error {
	for _, s := range steps {
		e.setState(s.state)
		if err := s.run(ctx); err != nil {
			e.setState(StateFailed)
			e.logger.Error().Err(err).Stringer("state", s.state).Msg("build failed")
			return &BuildError{State: s.state, Err: err, Log: e.runner.Log()}
		}
	}
	return nil
}

func (e *Extender) init(ctx context.Context) error {
	p, err := e.opts.SDK.Platform(e.opts.Platform)
	if err != nil {
		return err
	}
	e.platform = p
	if err := os.MkdirAll(e.opts.BuildDir, 0o755); err != nil {
		return err
	}

	apps, err := findFiles(e.opts.UploadDir, manifest.AppManifestName)
	if err != nil {
		return err
	}
	switch len(apps) {
	case 0:
		e.app = &manifest.AppManifest{}
	case 1:
		if e.app, err = manifest.ParseAppManifest(apps[0]); err != nil {
			return err
		}
	default:
		return fmt.Errorf("only one %s allowed, found %d", manifest.AppManifestName, len(apps))
	}

	if e.library, err = libraryBuild(e.app.BuildArtifacts()); err != nil {
		return err
	}
	if e.base, err = vars.Merge(e.opts.SDK.Context(), p.Context()); err != nil {
		return err
	}
	if err := e.setupEnv(); err != nil {
		return err
	}

	alts := sdk.Alternatives(e.opts.Platform)
	e.variant = vars.Context{}
	if name := e.app.BaseVariant(); name != "" {
		v, err := e.opts.SDK.Variant(name)
		if err != nil {
			return err
		}
		if e.variant, err = v.PlatformContext(alts); err != nil {
			return err
		}
		e.notePlatformPrune(v.Platforms, alts)
	}
	if e.appCtx, err = e.app.PlatformContext(alts); err != nil {
		return err
	}
	e.appExclude = e.notePlatformPrune(e.app.Platforms, alts)

	cfg := p.Config
	e.validator, err = manifest.NewValidator(nil, cfg.AllowedLibs, cfg.AllowedFlags,
		vars.Union(cfg.AllowedSymbols, e.base.Strings("allowedSymbols")))
	if err != nil {
		return err
	}
	if err := e.validator.Validate(manifest.AppManifestName, e.appCtx); err != nil {
		return err
	}
	e.logger.Info().Int("appManifests", len(apps)).Str("baseVariant", e.app.BaseVariant()).Msg("build initialized")
	return nil
}

func (e *Extender) discover(ctx context.Context) error {
	paths, err := findFiles(e.opts.UploadDir, manifest.ExtensionManifestName)
	if err != nil {
		return err
	}
	seen := make(map[string]string, len(paths))
	for _, path := range paths {
		m, err := manifest.ParseManifest(path)
		if err != nil {
			return err
		}
		if m.Name == "" {
			return fmt.Errorf("%s: extension has no name", path)
		}
		if prev, ok := seen[m.Name]; ok {
			return fmt.Errorf("extension %s declared twice: %s and %s", m.Name, prev, path)
		}
		seen[m.Name] = path
		if err := m.CheckPlatforms(manifest.AllowedPlatforms); err != nil {
			return err
		}
		e.exts = append(e.exts, &extension{name: m.Name, dir: filepath.Dir(path), manifest: m})
	}
	sort.Slice(e.exts, func(i, j int) bool { return e.exts[i].name < e.exts[j].name })
	e.logger.Info().Int("extensions", len(e.exts)).Msg("discovered extensions")
	return nil
}

func (e *Extender) buildExtensions(ctx context.Context) error {
	for _, ext := range e.exts {
		c, err := e.extensionContext(ext)
		if err != nil {
			return err
		}
		ext.ctx = c
	}
	if !e.library {
		if err := e.resolveDependencies(ctx); err != nil {
			return err
		}
	}
	for _, ext := range e.exts {
		if len(vars.PruneItems([]string{ext.name}, nil, e.appExclude)) == 0 {
			e.logger.Info().Str("extension", ext.name).Msg("extension excluded by app manifest")
			continue
		}
		if err := e.buildExtension(ctx, ext); err != nil {
			return fmt.Errorf("%s: %w", ext.name, err)
		}
		e.built = append(e.built, ext)
	}
	return nil
}

func (e *Extender) validateExtensions(ctx context.Context) error {
	for _, ext := range e.exts {
		if _, err := e.extensionContext(ext); err != nil {
			return fmt.Errorf("%s: %w", ext.name, err)
		}
	}
	return nil
}

func (e *Extender) mergeContexts(ctx context.Context) error {
	var err error
	if len(e.built) == 0 {
		merged, err := vars.MergeAll(e.base, e.variant, e.appCtx)
		if err != nil {
			return err
		}
		if e.merged, err = e.createContext(merged); err != nil {
			return err
		}
	} else {
		e.merged = vars.EmptyLike(e.base)
		for _, ext := range e.built {
			if e.merged, err = vars.Merge(e.merged, ext.ctx); err != nil {
				return fmt.Errorf("%s: %w", ext.name, err)
			}
		}
	}
	if e.podCtx != nil {
		if e.merged, err = vars.Merge(e.merged, e.podCtx); err != nil {
			return fmt.Errorf("pods: %w", err)
		}
	}
	return nil
}

// libraryBuild parses the comma separated buildArtifacts setting and reports
// whether it asks for the extension libraries instead of an engine.
func libraryBuild(artifacts string) (bool, error) {
	library := false
	for _, a := range strings.Split(artifacts, ",") {
		switch a = strings.TrimSpace(a); a {
		case "", "engine":
		case "library":
			library = true
		default:
			return false, fmt.Errorf("unsupported build artifact %q", a)
		}
	}
	return library, nil
}

func (e *Extender) notePrune(c vars.Context) {
	for _, k := range []string{
		"includeLibs", "excludeLibs",
		"includeDynamicLibs", "excludeDynamicLibs",
		"includeSymbols", "excludeSymbols",
		"includeJars", "excludeJars",
	} {
		e.prune[k] = vars.Union(e.prune[k], c.Strings(k))
	}
}

// notePlatformPrune records the include/exclude lists of the platform
// alternatives in platforms, which merging drops, and returns their
// excludeSymbols.
func (e *Extender) notePlatformPrune(platforms map[string]vars.Context, alts []string) []string {
	var exclude []string
	for _, alt := range alts {
		if c, ok := platforms[alt]; ok {
			e.notePrune(c)
			exclude = vars.Union(exclude, c.Strings("excludeSymbols"))
		}
	}
	return exclude
}

func (e *Extender) nextIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.index
	e.index++
	return i
}

// findFiles returns every file called name below dir, in walk order.
func findFiles(dir, name string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == name {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}
