package extender

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/meganerd/extender/internal/gradle"
	"github.com/meganerd/extender/internal/pods"
	"github.com/meganerd/extender/internal/sdk"
	"github.com/meganerd/extender/internal/vars"
)

// podConfiguration is the xcode configuration pods are built with.
const podConfiguration = "Release"

func (e *Extender) resolveDependencies(ctx context.Context) error {
	if e.opts.Pods != nil {
		if _, err := pods.PodPlatform(e.opts.Platform); err == nil {
			if err := e.resolvePods(ctx); err != nil {
				return fmt.Errorf("pods: %w", err)
			}
		}
	}
	if e.opts.Gradle != nil && sdk.OS(e.opts.Platform) == "android" {
		found, err := doublestar.Glob(os.DirFS(e.opts.UploadDir), "**/build.gradle")
		if err != nil {
			return err
		}
		if len(found) > 0 {
			if err := e.resolveGradle(ctx); err != nil {
				return fmt.Errorf("gradle: %w", err)
			}
		}
	}
	return nil
}

func (e *Extender) resolvePods(ctx context.Context) error {
	minVersion := e.base.String("env.IOS_VERSION_MIN")
	if sdk.OS(e.opts.Platform) != "ios" {
		minVersion = e.base.String("env.MACOS_VERSION_MIN")
	}
	opt, err := e.opts.Pods.Resolve(ctx, pods.Request{
		JobDir:        e.opts.UploadDir,
		WorkingDir:    filepath.Join(e.opts.JobDir, "pods"),
		BuildDir:      filepath.Join(e.opts.BuildDir, "pods"),
		Platform:      e.opts.Platform,
		Configuration: podConfiguration,
		MinVersion:    minVersion,
	})
	if err != nil {
		return err
	}
	res, ok := opt.Get()
	if !ok {
		return nil
	}
	for _, p := range res.Pods {
		if err := e.buildPod(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p.Name, err)
		}
	}

	resources, err := res.Resources()
	if err != nil {
		return err
	}
	resDir := filepath.Join(e.opts.BuildDir, "resources")
	for _, r := range resources {
		copied, err := CopyTree(r, filepath.Join(resDir, filepath.Base(r)))
		if err != nil {
			return err
		}
		e.extra = append(e.extra, copied...)
	}
	e.extra = append(e.extra, res.Lockfile)

	e.podCtx = vars.Context{
		"frameworks":     vars.List(res.Frameworks()...),
		"weakFrameworks": vars.List(res.WeakFrameworks()...),
		"libs":           vars.List(res.Libraries()...),
		"linkFlags":      vars.List(res.LinkFlags()...),
		"osMinVersion":   vars.Str(res.PlatformVersion),
	}
	if sdk.OS(e.opts.Platform) == "ios" {
		e.podCtx["env.IOS_VERSION_MIN"] = vars.Str(res.PlatformVersion)
	}
	e.logger.Info().Int("pods", len(res.Pods)).Int("resources", len(resources)).Msg("pods built")
	return nil
}

// buildPod compiles the sources of p with its own settings and archives
// them into lib<Pod>.
func (e *Extender) buildPod(ctx context.Context, p *pods.PodBuildSpec) error {
	if len(p.SwiftSourceFiles) > 0 {
		e.logger.Warn().Str("pod", p.Name).Int("files", len(p.SwiftSourceFiles)).Msg("skipping swift sources")
	}
	if len(p.SourceFiles) == 0 {
		return nil
	}
	base, err := vars.MergeAll(e.base, e.variant, e.appCtx)
	if err != nil {
		return err
	}
	base["extension_name"] = vars.Str(p.Name)
	base["extension_name_upper"] = vars.Str(strings.ToUpper(p.Name))
	if base, err = e.createContext(base); err != nil {
		return err
	}
	base["ext.includes"] = vars.List(podIncludes(p)...)
	base["ext.frameworkPaths"] = vars.List(p.Settings.FrameworkSearchPaths...)
	base["ext.frameworks"] = vars.List()
	base["defines"] = vars.List(vars.Union(base.Strings("defines"), p.Settings.Defines)...)

	units := make([]compileUnit, len(p.SourceFiles))
	for i, src := range p.SourceFiles {
		c := base.Clone()
		c["flags"] = vars.List(vars.Union(base.Strings("flags"), languageFlags(p.Settings.Flags, src))...)
		units[i] = compileUnit{src: src, ctx: c}
	}
	objs, err := e.compile(ctx, units)
	if err != nil {
		return err
	}
	_, err = e.archive(ctx, p.Name, base, objs)
	return err
}

func podIncludes(p *pods.PodBuildSpec) []string {
	dirs := append([]string(nil), p.Settings.IncludePaths...)
	for _, h := range p.PublicHeaders {
		dirs = vars.Union(dirs, []string{filepath.Dir(h)})
	}
	if p.SwiftHeader != "" {
		dirs = vars.Union(dirs, []string{filepath.Dir(p.SwiftHeader)})
	}
	return dirs
}

func languageFlags(set pods.LanguageSet, src string) []string {
	switch strings.ToLower(filepath.Ext(src)) {
	case ".c":
		return set.C
	case ".cpp", ".cc", ".cxx":
		return set.CPP
	case ".m":
		return set.ObjC
	case ".mm":
		return set.ObjCPP
	}
	return nil
}

func (e *Extender) resolveGradle(ctx context.Context) error {
	res, err := e.opts.Gradle.Resolve(ctx, gradle.Request{
		JobDir:   e.opts.JobDir,
		BuildDir: e.opts.BuildDir,
		Env:      e.env,
		Jetifier: e.app.Jetifier(),
	})
	if err != nil {
		return err
	}
	for _, dep := range res.Dependencies {
		if !isDir(dep) {
			if strings.HasSuffix(dep, ".jar") {
				e.jars = append(e.jars, dep)
			}
			continue
		}
		// unpacked aar
		if jar := filepath.Join(dep, "classes.jar"); fileExists(jar) {
			e.jars = append(e.jars, jar)
		}
		libs, err := filepath.Glob(filepath.Join(dep, "libs", "*.jar"))
		if err != nil {
			return err
		}
		e.jars = append(e.jars, libs...)
		if resDir := filepath.Join(dep, "res"); isDir(resDir) {
			e.resDirs = append(e.resDirs, resDir)
		}
	}
	e.jars = vars.PruneItems(e.jars, e.prune["includeJars"], e.prune["excludeJars"])
	for _, out := range res.Outputs {
		if fileExists(out) {
			e.extra = append(e.extra, out)
		}
	}
	e.logger.Info().Int("jars", len(e.jars)).Int("resDirs", len(e.resDirs)).Msg("gradle dependencies resolved")
	return nil
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

// CopyTree copies a file or a directory and returns the files written.
func CopyTree(src, dst string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if err := CopyFile(path, target); err != nil {
			return err
		}
		out = append(out, target)
		return nil
	})
	return out, err
}

// CopyFile copies src to dst, keeping its permission bits.
func CopyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
