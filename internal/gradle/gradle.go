// Package gradle resolves the Android dependencies declared by extension
// build.gradle files and unpacks them into a shared cache.
package gradle

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/meganerd/extender/internal/archive"
	"github.com/meganerd/extender/internal/process"
	"github.com/meganerd/extender/internal/tmpl"
	"github.com/meganerd/extender/internal/vars"
)

const (
	downloadCmd = "gradle downloadDependencies --write-locks --stacktrace --warning-mode all"
	treeCmd     = "gradle dependencies --configuration releaseCompileClasspath"

	// LockfileName is written into the build dir by the generated
	// build.gradle.
	LockfileName       = "gradle.lockfile"
	DependencyTreeName = "gradle.dependencytree"
)

var reportLine = regexp.MustCompile(`^PATH:\s*([\w.\/-]*)\sEXTENSION:\s*([\w.\/-]*)\sTYPE:\s*([\w.\/-]*)\sMODULE_GROUP:\s*([\w.\/-]*)\sMODULE_NAME:\s*([\w.\/-]*)\sMODULE_VERSION:\s*([\w.\/-]*)$`)

// ResolutionError is a dependency report gradle produced but that could
// not be used.
type ResolutionError struct {
	Line string
	Msg  string
}

func (e *ResolutionError) Error() string {
	if e.Line == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %q", e.Msg, e.Line)
}

// ParseDependencies reads the downloadDependencies report in log. The
// result maps "group-name-version.ext" to the downloaded file.
func ParseDependencies(log string) (map[string]string, error) {
	deps := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(log))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "PATH:") {
			continue
		}
		m := reportLine.FindStringSubmatch(line)
		if m == nil {
			return nil, &ResolutionError{Line: line, Msg: "malformed dependency report"}
		}
		path, ext, group, name, version := m[1], m[2], m[4], m[5], m[6]
		deps[fmt.Sprintf("%s-%s-%s.%s", group, name, version, ext)] = path
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return deps, nil
}

// Publish moves tmp to dst. When the move fails because another job
// published dst first, tmp is discarded and the existing dst wins.
func Publish(tmp, dst string) error {
	err := os.Rename(tmp, dst)
	if err == nil {
		return nil
	}
	if exists(tmp) && exists(dst) {
		if rmErr := os.RemoveAll(tmp); rmErr != nil {
			return fmt.Errorf("removing %s: %w", tmp, rmErr)
		}
		return nil
	}
	return fmt.Errorf("publishing %s: %w", dst, err)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Request is one job's gradle resolution.
type Request struct {
	// JobDir holds the uploaded extensions and receives the generated
	// gradle files.
	JobDir   string
	BuildDir string
	// Env supplies ANDROID_SDK_ROOT and ANDROID_SDK_VERSION, falling back
	// to the service environment.
	Env      map[string]string
	Jetifier bool
}

// Result lists the unpacked dependencies and the files to hand back to
// the client.
type Result struct {
	Dependencies []string
	Outputs      []string
}

// Service runs gradle against a shared GRADLE_USER_HOME.
type Service struct {
	home          string
	unpacked      string
	pluginVersion string
	runner        process.Runner
	logger        zerolog.Logger
}

// NewService returns a Service using home as GRADLE_USER_HOME. Unpacked
// dependencies are kept in "<home>/unpacked".
func NewService(home, pluginVersion string, runner process.Runner, logger zerolog.Logger) (*Service, error) {
	abs, err := filepath.Abs(home)
	if err != nil {
		return nil, err
	}
	unpacked := filepath.Join(abs, "unpacked")
	if err := os.MkdirAll(unpacked, 0o755); err != nil {
		return nil, fmt.Errorf("creating gradle cache: %w", err)
	}
	s := &Service{
		home:          abs,
		unpacked:      unpacked,
		pluginVersion: pluginVersion,
		runner:        runner,
		logger:        logger.With().Str("component", "gradle").Logger(),
	}
	s.logger.Info().Str("home", abs).Msg("gradle service ready")
	return s, nil
}

// Home returns GRADLE_USER_HOME.
func (s *Service) Home() string { return s.home }

// Resolve generates the gradle project for req, downloads every dependency
// and unpacks them.
func (s *Service) Resolve(ctx context.Context, req Request) (*Result, error) {
	env := func(key string) string {
		if v, ok := req.Env[key]; ok {
			return v
		}
		return os.Getenv(key)
	}

	mainFile := filepath.Join(req.JobDir, "build.gradle")
	files, err := s.findBuildFiles(req.JobDir, mainFile)
	if err != nil {
		return nil, err
	}
	if err := writeTemplate(mainFile, buildGradleTemplate, vars.Context{
		"gradle_files":          vars.List(files...),
		"compile_sdk_version":   vars.Str(env("ANDROID_SDK_VERSION")),
		"gradle_plugin_version": vars.Str(s.pluginVersion),
	}); err != nil {
		return nil, err
	}
	if err := writeTemplate(filepath.Join(req.JobDir, "gradle.properties"), gradlePropertiesTemplate, vars.Context{
		"android_enable_jetifier": vars.Str(strconv.FormatBool(req.Jetifier)),
	}); err != nil {
		return nil, err
	}
	if err := writeTemplate(filepath.Join(req.JobDir, "local.properties"), localPropertiesTemplate, vars.Context{
		"android_sdk_root": vars.Str(env("ANDROID_SDK_ROOT")),
	}); err != nil {
		return nil, err
	}

	s.logger.Info().Int("files", len(files)).Msg("resolving dependencies")
	out, err := s.gradle(ctx, req.JobDir, downloadCmd)
	if err != nil {
		return nil, fmt.Errorf("downloading dependencies: %w", err)
	}
	deps, err := ParseDependencies(out)
	if err != nil {
		return nil, err
	}
	unpacked, err := s.Unpack(deps, req.JobDir)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Dependencies: unpacked,
		Outputs:      []string{filepath.Join(req.BuildDir, LockfileName)},
	}

	tree, err := s.gradle(ctx, req.JobDir, treeCmd)
	if err != nil {
		return nil, fmt.Errorf("writing dependency tree: %w", err)
	}
	treeFile := filepath.Join(req.BuildDir, DependencyTreeName)
	if err := os.WriteFile(treeFile, []byte(tree), 0o644); err != nil {
		return nil, err
	}
	res.Outputs = append(res.Outputs, treeFile)
	return res, nil
}

func (s *Service) gradle(ctx context.Context, dir, line string) (string, error) {
	out, err := s.runner.Exec(ctx, process.Cmd{
		Line: line,
		Dir:  dir,
		Env:  map[string]string{"GRADLE_USER_HOME": s.home},
	})
	s.logger.Debug().Str("cmd", line).Str("output", out).Msg("gradle finished")
	return out, err
}

// findBuildFiles returns the extension build.gradle files in jobDir, except
// the generated main one.
func (s *Service) findBuildFiles(jobDir, main string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(jobDir), "**/build.gradle")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range matches {
		p := filepath.Join(jobDir, filepath.FromSlash(m))
		if p != main {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func writeTemplate(path, template string, ctx vars.Context) error {
	content, err := tmpl.Render(template, ctx)
	if err != nil {
		return fmt.Errorf("rendering %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// Unpack places every dependency in the shared cache. Archives (.aar) are
// extracted, jars are copied and anything else is used in place. The job
// dir holds the temporary copies until they are published.
func (s *Service) Unpack(deps map[string]string, jobDir string) ([]string, error) {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		src := deps[name]
		if !exists(src) {
			return nil, fmt.Errorf("dependency %s (%s) not found", name, src)
		}
		switch {
		case strings.HasSuffix(src, ".aar"):
			p, err := s.publish(name, src, jobDir, archive.Unzip)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		case strings.HasSuffix(src, ".jar"):
			p, err := s.publish(name, src, jobDir, copyFile)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		default:
			out = append(out, src)
		}
	}
	return out, nil
}

func (s *Service) publish(name, src, jobDir string, place func(src, dst string) error) (string, error) {
	dst := filepath.Join(s.unpacked, name)
	if exists(dst) {
		return dst, nil
	}
	tmp := filepath.Join(jobDir, filepath.Base(src)+".tmp")
	if err := place(src, tmp); err != nil {
		os.RemoveAll(tmp)
		return "", fmt.Errorf("unpacking %s: %w", name, err)
	}
	if err := Publish(tmp, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CacheSize returns the total size of the files under GRADLE_USER_HOME.
func (s *Service) CacheSize() (int64, error) {
	var total int64
	err := filepath.WalkDir(s.home, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}
