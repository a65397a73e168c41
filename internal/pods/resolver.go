package pods

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/meganerd/extender/internal/pool"
	"github.com/meganerd/extender/internal/process"
)

// TrunkRepo is the CDN spec repo added to every new cache dir.
const TrunkRepo = "https://cdn.cocoapods.org/"

// Request describes the pods of one build job.
type Request struct {
	// JobDir is searched for "<ext>/manifests/ios|osx/Podfile".
	JobDir string
	// WorkingDir receives the combined Podfile and the Pods dir.
	WorkingDir    string
	BuildDir      string
	Platform      string // e.g. arm64-ios
	Configuration string // Debug or Release
	// MinVersion is the platform minimum used when no Podfile or podspec
	// declares one, from env.IOS_VERSION_MIN or env.MACOS_VERSION_MIN.
	MinVersion string
}

// Resolver installs the pods requested by a job's extensions and parses
// them into build specs.
type Resolver struct {
	Runner         process.Runner
	Cache          *CacheDir
	CDNConcurrency int
	// SpecJobs bounds concurrent "pod spec cat" calls.
	SpecJobs int
	Logger   zerolog.Logger
}

// TrunkSetup returns a SetupFunc adding the trunk repo with r.
func TrunkSetup(r process.Runner) SetupFunc {
	return func(ctx context.Context, dir string) error {
		_, err := r.Exec(ctx, process.Cmd{
			Line: "pod repo add-cdn trunk " + TrunkRepo + " --verbose",
			Env:  map[string]string{"CP_HOME_DIR": dir},
		})
		return err
	}
}

// UpdateRepo refreshes the spec repo of the current cache dir.
func (r *Resolver) UpdateRepo(ctx context.Context) error {
	_, err := r.Runner.Exec(ctx, process.Cmd{
		Line: "pod repo update --verbose",
		Env:  r.env(r.Cache.Snapshot()),
	})
	return err
}

func (r *Resolver) env(cacheDir string) map[string]string {
	n := r.CDNConcurrency
	if n <= 0 {
		n = 10
	}
	return map[string]string{
		"CP_HOME_DIR":                   cacheDir,
		"COCOAPODS_CDN_MAX_CONCURRENCY": strconv.Itoa(n),
	}
}

// FindPodfiles returns the Podfiles in jobDir meant for podPlatform: those
// whose parent directory name contains it.
func FindPodfiles(jobDir, podPlatform string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(jobDir), "**/Podfile")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range matches {
		if strings.Contains(filepath.Base(filepath.Dir(m)), podPlatform) {
			out = append(out, filepath.Join(jobDir, filepath.FromSlash(m)))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Resolve installs the pods of req. It returns None when no extension
// declares a Podfile for the platform.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Option[*ResolvedPods], error) {
	none := None[*ResolvedPods]()
	log := r.Logger.With().Str("component", "pods").Str("platform", req.Platform).Logger()

	podPlatform, err := PodPlatform(req.Platform)
	if err != nil {
		return none, err
	}
	xcodePlatform, err := XcodePlatform(req.Platform)
	if err != nil {
		return none, err
	}
	podfiles, err := FindPodfiles(req.JobDir, podPlatform)
	if err != nil {
		return none, err
	}
	if len(podfiles) == 0 {
		log.Info().Msg("project has no CocoaPods dependencies")
		return none, nil
	}

	podfile, err := MergePodfiles(podPlatform, req.MinVersion, podfiles)
	if err != nil {
		return none, err
	}
	content, err := podfile.Render()
	if err != nil {
		return none, err
	}
	if err := os.MkdirAll(req.WorkingDir, 0o755); err != nil {
		return none, err
	}
	if err := os.WriteFile(filepath.Join(req.WorkingDir, "Podfile"), []byte(content), 0o644); err != nil {
		return none, err
	}
	log.Debug().Str("podfile", content).Msg("created main Podfile")

	// every pod call of this job uses the same cache dir
	cacheDir := r.Cache.Snapshot()
	if _, err := r.Runner.Exec(ctx, process.Cmd{
		Line: "pod install --verbose",
		Dir:  req.WorkingDir,
		Env:  r.env(cacheDir),
	}); err != nil {
		return none, err
	}

	lockPath := filepath.Join(req.WorkingDir, "Podfile.lock")
	lockData, err := os.ReadFile(lockPath)
	if err != nil {
		return none, fmt.Errorf("Unable to find Podfile.lock in directory %s", req.WorkingDir)
	}
	lock, err := ParseLockfile(lockData)
	if err != nil {
		return none, err
	}

	podsDir := filepath.Join(req.WorkingDir, "Pods")
	g, err := r.parseInstalled(ctx, podsDir, cacheDir, lock, SpecOptions{
		Platform:          podPlatform,
		DefaultMinVersion: podfile.MinVersion,
	}, log)
	if err != nil {
		return none, err
	}

	res := &ResolvedPods{
		Graph:           g,
		PodsDir:         podsDir,
		Lockfile:        lockPath,
		Platform:        req.Platform,
		PlatformVersion: podfile.MinVersion,
	}
	for _, spec := range lock.InstallOrder() {
		if _, ok := g.Root(RootName(spec)); !ok {
			log.Warn().Str("spec", spec).Msg("no podspec for installed spec")
			continue
		}
		id, err := g.Lookup(spec)
		if err != nil {
			return none, err
		}
		res.Selected = append(res.Selected, id)
	}

	parser := &XCConfigParser{
		BuildDir:      req.BuildDir,
		PodsDir:       podsDir,
		Platform:      xcodePlatform,
		Configuration: req.Configuration,
		Arch:          strings.SplitN(req.Platform, "-", 2)[0],
	}
	args := BuildSpecArgs{
		PodsDir:       podsDir,
		BuildDir:      req.BuildDir,
		Platform:      xcodePlatform,
		Configuration: req.Configuration,
		XCConfig:      parser,
	}
	if err := res.buildSpecs(args); err != nil {
		return none, err
	}
	log.Info().Int("pods", len(res.Pods)).Int("specs", len(res.Selected)).Msg("resolved CocoaPods dependencies")
	return Some(res), nil
}

// parseInstalled fetches the podspec of every installed pod and parses
// them into a graph. Fetches run concurrently; parsing is sequential so
// IDs follow the sorted pod order.
func (r *Resolver) parseInstalled(ctx context.Context, podsDir, cacheDir string, lock *Lockfile,
	opts SpecOptions, log zerolog.Logger) (*Graph, error) {
	entries, err := os.ReadDir(podsDir)
	if err != nil {
		return nil, fmt.Errorf("reading Pods dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if !e.IsDir() || n == "Headers" || n == "Target Support Files" || n == "Local Podspecs" || strings.HasSuffix(n, ".xcodeproj") {
			continue
		}
		if _, ok := lock.Version(n); !ok {
			log.Warn().Str("pod", n).Msg("no version information for pod")
			continue
		}
		names = append(names, n)
	}

	limit := r.SpecJobs
	if limit <= 0 {
		limit = 4
	}
	specs, err := pool.Map(ctx, limit, len(names), func(ctx context.Context, i int) (string, error) {
		ver, _ := lock.Version(names[i])
		out, err := r.Runner.Exec(ctx, process.Cmd{
			Line: fmt.Sprintf("pod spec cat --regex ^%s$ --version=%s", SanitizePodName(names[i]), ver),
			Env:  map[string]string{"CP_HOME_DIR": cacheDir},
		})
		if err != nil {
			return "", err
		}
		// pod may print warnings before the json
		start := strings.Index(out, "{")
		if start < 0 {
			return "", fmt.Errorf("pod spec cat %s: no podspec in output", names[i])
		}
		return out[start:], nil
	})
	if err != nil {
		return nil, err
	}

	g := NewGraph()
	for i, data := range specs {
		if _, err := ParseSpec(g, []byte(data), opts, NoID); err != nil {
			return nil, fmt.Errorf("pod %s: %w", names[i], err)
		}
	}
	return g, nil
}

func (r *ResolvedPods) buildSpecs(args BuildSpecArgs) error {
	byPod := make(map[string]*PodBuildSpec)
	added := make(map[ID]bool)
	for _, id := range r.Selected {
		chain := r.Graph.Ancestors(id)
		root := chain[len(chain)-1]
		b, ok := byPod[r.Graph.Spec(root).Name]
		if !ok {
			var err error
			if b, err = NewBuildSpec(r.Graph, args, root); err != nil {
				return err
			}
			byPod[b.Name] = b
			r.Pods = append(r.Pods, b)
			added[root] = true
		}
		for i := len(chain) - 2; i >= 0; i-- {
			if added[chain[i]] {
				continue
			}
			if err := b.AddSubSpec(r.Graph.Spec(chain[i])); err != nil {
				return err
			}
			added[chain[i]] = true
		}
	}
	return nil
}
