package extender

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/meganerd/extender/internal/pool"
	"github.com/meganerd/extender/internal/sdk"
	"github.com/meganerd/extender/internal/tmpl"
	"github.com/meganerd/extender/internal/vars"
)

// compileUnit is one source file with the context it compiles in.
type compileUnit struct {
	src string
	ctx vars.Context
}

func (e *Extender) buildExtension(ctx context.Context, ext *extension) error {
	log := e.logger.With().Str("extension", ext.name).Logger()
	sources, javaSources, err := e.sources(filepath.Join(ext.dir, "src"))
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return fmt.Errorf("extension has no source")
	}
	includes, err := e.includeDirs(ext)
	if err != nil {
		return err
	}
	c := ext.ctx.Clone()
	c["ext.includes"] = vars.List(includes...)
	c["ext.frameworks"] = vars.List(e.frameworks(ext)...)
	c["ext.frameworkPaths"] = vars.List(e.frameworkPaths(ext)...)

	units := make([]compileUnit, len(sources))
	for i, src := range sources {
		units[i] = compileUnit{src: src, ctx: c}
	}
	objs, err := e.compile(ctx, units)
	if err != nil {
		return err
	}
	if ext.lib, err = e.archive(ctx, ext.name, c, objs); err != nil {
		return err
	}
	if len(javaSources) > 0 && e.platform.Config.JavacCmd != "" {
		if ext.jar, err = e.buildJava(ctx, ext, c, javaSources); err != nil {
			return err
		}
	}
	log.Info().Int("sources", len(sources)).Int("javaSources", len(javaSources)).Msg("extension built")
	return nil
}

// sources returns the native and Java sources below dir, in walk order.
func (e *Extender) sources(dir string) (native, java []string, err error) {
	if !isDir(dir) {
		return nil, nil, nil
	}
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		switch name := d.Name(); {
		case e.platform.IsSource(name):
			native = append(native, path)
		case e.platform.IsJavaSource(name):
			java = append(java, path)
		}
		return nil
	})
	return native, java, err
}

// compile renders the compile command of every unit and runs them with at
// most CompileJobs in flight. Object names are assigned before anything
// runs, so they do not depend on scheduling.
func (e *Extender) compile(ctx context.Context, units []compileUnit) ([]string, error) {
	objs := make([]string, len(units))
	lines := make([]string, len(units))
	for i, u := range units {
		objs[i] = filepath.Join(e.opts.BuildDir, fmt.Sprintf("%s_%d.o", filepath.Base(u.src), e.nextIndex()))
		c := u.ctx.With("src", vars.Str(u.src)).With("tgt", vars.Str(objs[i]))
		line, err := tmpl.Render(e.platform.Config.CompileCmd, c)
		if err != nil {
			return nil, err
		}
		lines[i] = line
	}
	err := pool.Run(ctx, e.opts.CompileJobs, len(lines), func(ctx context.Context, i int) error {
		_, err := e.runner.Exec(ctx, e.cmd(lines[i]))
		return err
	})
	if err != nil {
		return nil, err
	}
	return objs, nil
}

// archive runs libCmd to bundle objs into the static library of name.
func (e *Extender) archive(ctx context.Context, name string, c vars.Context, objs []string) (string, error) {
	cfg := e.platform.Config
	if cfg.LibCmd == "" {
		return "", fmt.Errorf("platform %s has no libCmd", e.opts.Platform)
	}
	pattern := cfg.WriteLibPattern
	if pattern == "" {
		pattern = "lib%s.a"
	}
	lib := filepath.Join(e.opts.BuildDir, fmt.Sprintf(pattern, name))
	c = c.With("tgt", vars.Str(lib)).With("objs", vars.List(objs...))
	if err := e.run(ctx, cfg.LibCmd, c); err != nil {
		return "", err
	}
	return lib, nil
}

// buildJava compiles the Java sources of ext into a jar.
func (e *Extender) buildJava(ctx context.Context, ext *extension, c vars.Context, sources []string) (string, error) {
	cfg := e.platform.Config
	dir := filepath.Join(e.opts.BuildDir, ext.name)
	classes := filepath.Join(dir, "classes")
	if err := os.MkdirAll(classes, 0o755); err != nil {
		return "", err
	}
	list := filepath.Join(dir, "sources.txt")
	if err := os.WriteFile(list, []byte(strings.Join(sources, "\n")+"\n"), 0o644); err != nil {
		return "", err
	}
	jar := filepath.Join(e.opts.BuildDir, ext.name+".jar")
	c = c.With("classesDir", vars.Str(classes)).
		With("classPath", vars.Str(strings.Join(e.jars, string(os.PathListSeparator)))).
		With("sourcesListFile", vars.Str(list)).
		With("outputJar", vars.Str(jar))
	if err := e.run(ctx, cfg.JavacCmd, c); err != nil {
		return "", err
	}
	if cfg.JarCmd != "" {
		if err := e.run(ctx, cfg.JarCmd, c); err != nil {
			return "", err
		}
	}
	e.jars = append(e.jars, jar)
	e.javaRan = true
	return jar, nil
}

// libDirs returns the existing prebuilt library dirs of ext, most
// specific first.
func (e *Extender) libDirs(ext *extension) []string {
	var dirs []string
	for _, name := range e.platformDirs() {
		if d := filepath.Join(ext.dir, "lib", name); isDir(d) {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// platformDirs names the per-platform subdirectories of an extension, most
// specific first. A platform without an arch part has only one.
func (e *Extender) platformDirs() []string {
	if osName := sdk.OS(e.opts.Platform); osName != e.opts.Platform {
		return []string{e.opts.Platform, osName}
	}
	return []string{e.opts.Platform}
}

// frameworks lists the prebuilt frameworks shipped in the lib dirs of ext.
func (e *Extender) frameworks(ext *extension) []string {
	var out []string
	for _, d := range e.libDirs(ext) {
		entries, _ := os.ReadDir(d)
		for _, en := range entries {
			if name, ok := strings.CutSuffix(en.Name(), ".framework"); ok && en.IsDir() {
				out = append(out, name)
			}
		}
	}
	return out
}

func (e *Extender) frameworkPaths(ext *extension) []string {
	var out []string
	for _, d := range e.libDirs(ext) {
		entries, _ := os.ReadDir(d)
		for _, en := range entries {
			if en.IsDir() && strings.HasSuffix(en.Name(), ".framework") {
				out = vars.Union(out, []string{d})
			}
		}
	}
	return out
}
