package extender

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/meganerd/extender/internal/sdk"
	"github.com/meganerd/extender/internal/tmpl"
	"github.com/meganerd/extender/internal/vars"
)

// EngineMain is the extension name the engine entry point compiles as.
const EngineMain = "ENGINE_MAIN"

// projectLibs are the libraries found on disk for the link step.
type projectLibs struct {
	libs, dynamicLibs, libPaths []string
	frameworks, frameworkPaths  []string
	shared                      []string
}

func (e *Extender) link(ctx context.Context) error {
	cfg := e.platform.Config
	c, err := e.createContext(e.merged)
	if err != nil {
		return err
	}

	var objs []string
	if main := e.opts.SDK.Main(); main != "" {
		obj, err := e.compileMain(ctx, main, c)
		if err != nil {
			return err
		}
		objs = append(objs, obj)
	}

	found, err := e.projectLibs()
	if err != nil {
		return err
	}
	exe, err := e.exeName(c)
	if err != nil {
		return err
	}
	for _, k := range []string{"libs", "engineLibs", "dynamicLibs", "frameworks", "weakFrameworks", "linkFlags"} {
		if _, ok := c[k]; !ok {
			c[k] = vars.List()
		}
	}
	c["src"] = vars.List(objs...)
	c["tgt"] = vars.Str(filepath.Join(e.opts.BuildDir, exe))
	c["ext.libs"] = vars.List(found.libs...)
	c["ext.dynamicLibs"] = vars.List(found.dynamicLibs...)
	c["ext.libPaths"] = vars.List(found.libPaths...)
	c["ext.frameworks"] = vars.List(found.frameworks...)
	c["ext.frameworkPaths"] = vars.List(found.frameworkPaths...)
	c["ext.jars"] = vars.List(e.jars...)
	c["ext.resDirs"] = vars.List(e.resDirs...)

	cmds := e.platform.LinkCommands()
	if len(cmds) == 0 {
		return fmt.Errorf("platform %s has no link command", e.opts.Platform)
	}
	for _, line := range cmds {
		if err := e.run(ctx, line, c); err != nil {
			return err
		}
	}

	if e.app.WithSymbols() && cfg.SymbolCmd != "" {
		if err := e.run(ctx, cfg.SymbolCmd, c.With("src", c["tgt"])); err != nil {
			return err
		}
	}

	for _, lib := range found.shared {
		if err := CopyFile(lib, filepath.Join(e.opts.BuildDir, filepath.Base(lib))); err != nil {
			return err
		}
	}

	if e.javaRan && cfg.DxCmd != "" {
		dx := c.With("classes_dex", vars.Str(filepath.Join(e.opts.BuildDir, "classes.dex"))).
			With("jars", vars.List(e.jars...))
		if err := e.run(ctx, cfg.DxCmd, dx); err != nil {
			return err
		}
	}
	e.logger.Info().Int("libs", len(found.libs)).Int("objects", len(objs)).Str("exe", exe).Msg("engine linked")
	return nil
}

// compileMain renders the engine entry point with the symbols of every
// built extension and compiles it.
func (e *Extender) compileMain(ctx context.Context, main string, c vars.Context) (string, error) {
	var names []string
	for _, ext := range e.built {
		names = append(names, ext.name)
	}
	extSymbols := vars.Union(nil, vars.PruneItems(names, e.prune["includeSymbols"], e.prune["excludeSymbols"]))
	symbols := vars.Union(nil, vars.PruneItems(c.Strings("symbols"), e.prune["includeSymbols"], e.prune["excludeSymbols"]))

	src, err := tmpl.Render(main, c.With("symbols", vars.List(symbols...)).With("ext.symbols", vars.List(extSymbols...)))
	if err != nil {
		return "", err
	}
	path := filepath.Join(e.opts.BuildDir, "main.cpp")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		return "", err
	}

	mc := c.With("extension_name", vars.Str(EngineMain)).With("extension_name_upper", vars.Str(EngineMain))
	mc["ext.includes"] = vars.List(e.opts.BuildDir)
	mc["ext.frameworks"] = vars.List()
	mc["ext.frameworkPaths"] = vars.List()
	objs, err := e.compile(ctx, []compileUnit{{src: path, ctx: mc}})
	if err != nil {
		return "", err
	}
	return objs[0], nil
}

// projectLibs scans the build dir and then the lib dirs of every built
// extension. Names from later dirs are appended without deduplication.
func (e *Extender) projectLibs() (*projectLibs, error) {
	names, err := fileNames(e.opts.BuildDir)
	if err != nil {
		return nil, err
	}
	p := &projectLibs{
		libs:        sdk.LibNames(names, e.platform.StaticLibName),
		dynamicLibs: sdk.LibNames(names, e.platform.SharedLibName),
		libPaths:    []string{e.opts.BuildDir},
	}
	for _, ext := range e.built {
		for _, dir := range e.libDirs(ext) {
			names, err := fileNames(dir)
			if err != nil {
				return nil, err
			}
			p.libPaths = append(p.libPaths, dir)
			p.libs = append(p.libs, sdk.LibNames(names, e.platform.StaticLibName)...)
			p.dynamicLibs = append(p.dynamicLibs, sdk.LibNames(names, e.platform.SharedLibName)...)
			for _, n := range names {
				if _, ok := e.platform.SharedLibName(n); ok {
					p.shared = append(p.shared, filepath.Join(dir, n))
				}
			}
		}
		p.frameworks = append(p.frameworks, e.frameworks(ext)...)
		p.frameworkPaths = vars.Union(p.frameworkPaths, e.frameworkPaths(ext))
	}
	p.libs = vars.PruneItems(p.libs, e.prune["includeLibs"], e.prune["excludeLibs"])
	p.dynamicLibs = vars.PruneItems(p.dynamicLibs, e.prune["includeDynamicLibs"], e.prune["excludeDynamicLibs"])
	return p, nil
}

func (e *Extender) exeName(c vars.Context) (string, error) {
	cfg := e.platform.Config
	if cfg.WriteExePattern == "" {
		return cfg.ExePrefix + "dmengine" + cfg.ExeExt, nil
	}
	return tmpl.Render(cfg.WriteExePattern, c)
}

// outputs lists the result files: build dir files matching the output
// patterns or naming the engine, plus the files dependency resolution
// produced. A library build returns the archives and jars of the built
// extensions.
func (e *Extender) outputs() ([]string, error) {
	if e.library {
		var out []string
		for _, ext := range e.built {
			out = append(out, ext.lib)
			if ext.jar != "" {
				out = append(out, ext.jar)
			}
		}
		sort.Strings(out)
		return out, nil
	}
	names, err := fileNames(e.opts.BuildDir)
	if err != nil {
		return nil, err
	}
	c, err := e.createContext(e.merged)
	if err != nil {
		return nil, err
	}
	exe, err := e.exeName(c)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, n := range names {
		if n == exe || e.platform.IsOutput(n) {
			out = append(out, filepath.Join(e.opts.BuildDir, n))
		}
	}
	out = vars.Union(out, e.extra)
	sort.Strings(out)
	return out, nil
}

// fileNames returns the names of the regular files in dir, sorted.
func fileNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, en := range entries {
		if !en.IsDir() {
			out = append(out, en.Name())
		}
	}
	return out, nil
}
