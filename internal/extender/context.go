package extender

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/meganerd/extender/internal/process"
	"github.com/meganerd/extender/internal/sdk"
	"github.com/meganerd/extender/internal/tmpl"
	"github.com/meganerd/extender/internal/vars"
)

// setupEnv renders the platform environment against the process
// environment and exposes the result as "env.<NAME>" in the base context.
func (e *Extender) setupEnv() error {
	envCtx := vars.Context{
		"dynamo_home":  vars.Str(e.opts.SDK.Dir),
		"build_folder": vars.Str(e.opts.BuildDir),
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			envCtx["env."+k] = vars.Str(v)
		}
	}
	for k, v := range e.opts.Env {
		envCtx["env."+k] = vars.Str(v)
	}

	e.env = make(map[string]string)
	for k, v := range e.opts.Env {
		e.env[k] = v
	}
	for k, v := range e.platform.Env() {
		r, err := tmpl.Render(v, envCtx)
		if err != nil {
			return err
		}
		e.env[k] = r
	}
	for k, v := range e.env {
		e.base["env."+k] = vars.Str(v)
	}
	return nil
}

// createContext sets the keys manifests may not override and expands the
// context against itself.
func (e *Extender) createContext(c vars.Context) (vars.Context, error) {
	c = c.Clone()
	c["dynamo_home"] = vars.Str(e.opts.SDK.Dir)
	c["platform"] = vars.Str(e.opts.Platform)
	c["host_platform"] = vars.Str(e.opts.HostPlatform)
	return tmpl.RenderContext(c)
}

// extensionContext is merge(base, variant, manifest, app), validated per
// platform alternative.
func (e *Extender) extensionContext(ext *extension) (vars.Context, error) {
	c, err := vars.MergeContexts(e.base, e.variant)
	if err != nil {
		return nil, err
	}
	for _, alt := range sdk.Alternatives(e.opts.Platform) {
		pc, ok := ext.manifest.Platforms[alt]
		if !ok {
			continue
		}
		if err := e.validator.Validate(ext.name, pc); err != nil {
			return nil, err
		}
		e.notePrune(pc)
		if c, err = vars.MergeContexts(c, pc); err != nil {
			return nil, err
		}
	}
	if c, err = vars.MergeContexts(c, e.appCtx); err != nil {
		return nil, err
	}
	c["extension_name"] = vars.Str(ext.name)
	c["extension_name_upper"] = vars.Str(strings.ToUpper(ext.name))
	if dir := e.app.DebugSourcePath(); dir != "" {
		c["flags"] = vars.List(vars.Union(c.Strings("flags"), e.debugFlags(dir))...)
	}
	return e.createContext(c)
}

// debugFlags point the debug info of the extension sources at dir and map
// the job dirs to stable names.
func (e *Extender) debugFlags(dir string) []string {
	return []string{
		"-fdebug-compilation-dir=" + dir,
		"-fdebug-prefix-map=" + e.opts.UploadDir + "=extensions",
		"-fdebug-prefix-map=" + e.opts.BuildDir + "=generated",
	}
}

// includeDirs lists the header search path of ext: its own include dirs,
// its build dir and the include dirs of every other extension.
func (e *Extender) includeDirs(ext *extension) ([]string, error) {
	own := filepath.Join(e.opts.BuildDir, ext.name)
	if err := os.MkdirAll(own, 0o755); err != nil {
		return nil, err
	}
	var dirs []string
	for _, name := range append(e.platformDirs(), "") {
		if d := filepath.Join(ext.dir, "include", name); isDir(d) {
			dirs = append(dirs, d)
		}
	}
	dirs = append(dirs, own)
	for _, other := range e.exts {
		if other == ext {
			continue
		}
		if d := filepath.Join(other.dir, "include"); isDir(d) {
			dirs = append(dirs, d)
		}
	}
	return dirs, nil
}

// run renders template against c and executes it.
func (e *Extender) run(ctx context.Context, template string, c vars.Context) error {
	line, err := tmpl.Render(template, c)
	if err != nil {
		return err
	}
	_, err = e.runner.Exec(ctx, e.cmd(line))
	return err
}

func (e *Extender) cmd(line string) process.Cmd {
	return process.Cmd{Line: line, Env: e.env}
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
