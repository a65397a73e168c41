package sdk

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/meganerd/extender/internal/vars"
)

// PlatformConfig is one platform entry of the build descriptor. Command
// fields are templates rendered against the build context.
type PlatformConfig struct {
	Env     map[string]string `yaml:"env"`
	Context map[string]any    `yaml:"context"`

	ExePrefix string `yaml:"exePrefix"`
	ExeExt    string `yaml:"exeExt"`

	SourceRe     string `yaml:"sourceRe"`
	JavaSourceRe string `yaml:"javaSourceRe"`
	StlibRe      string `yaml:"stlibRe"`
	ShlibRe      string `yaml:"shlibRe"`

	CompileCmd string   `yaml:"compileCmd"`
	LinkCmd    string   `yaml:"linkCmd"`
	LinkCmds   []string `yaml:"linkCmds"`
	LibCmd     string   `yaml:"libCmd"`
	SymbolCmd  string   `yaml:"symbolCmd"`
	JavacCmd   string   `yaml:"javacCmd"`
	JarCmd     string   `yaml:"jarCmd"`
	DxCmd      string   `yaml:"dxCmd"`

	WriteLibPattern   string `yaml:"writeLibPattern"`
	WriteExePattern   string `yaml:"writeExePattern"`
	ZipContentPattern string `yaml:"zipContentPattern"`
	SymbolsPattern    string `yaml:"symbolsPattern"`

	AllowedLibs    []string `yaml:"allowedLibs"`
	AllowedFlags   []string `yaml:"allowedFlags"`
	AllowedSymbols []string `yaml:"allowedSymbols"`
}

// overlay returns a copy of c with every non-empty field of o applied.
// Env maps are merged key by key. Contexts are merged separately with
// vars.Merge.
func (c *PlatformConfig) overlay(o *PlatformConfig) *PlatformConfig {
	out := *c
	out.Env = make(map[string]string, len(c.Env)+len(o.Env))
	for k, v := range c.Env {
		out.Env[k] = v
	}
	for k, v := range o.Env {
		out.Env[k] = v
	}
	out.Context = nil

	str := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	list := func(dst *[]string, v []string) {
		if len(v) > 0 {
			*dst = append([]string(nil), v...)
		}
	}
	str(&out.ExePrefix, o.ExePrefix)
	str(&out.ExeExt, o.ExeExt)
	str(&out.SourceRe, o.SourceRe)
	str(&out.JavaSourceRe, o.JavaSourceRe)
	str(&out.StlibRe, o.StlibRe)
	str(&out.ShlibRe, o.ShlibRe)
	str(&out.CompileCmd, o.CompileCmd)
	str(&out.LinkCmd, o.LinkCmd)
	list(&out.LinkCmds, o.LinkCmds)
	str(&out.LibCmd, o.LibCmd)
	str(&out.SymbolCmd, o.SymbolCmd)
	str(&out.JavacCmd, o.JavacCmd)
	str(&out.JarCmd, o.JarCmd)
	str(&out.DxCmd, o.DxCmd)
	str(&out.WriteLibPattern, o.WriteLibPattern)
	str(&out.WriteExePattern, o.WriteExePattern)
	str(&out.ZipContentPattern, o.ZipContentPattern)
	str(&out.SymbolsPattern, o.SymbolsPattern)
	list(&out.AllowedLibs, o.AllowedLibs)
	list(&out.AllowedFlags, o.AllowedFlags)
	list(&out.AllowedSymbols, o.AllowedSymbols)
	return &out
}

// Platform is a resolved platform configuration with its regexes compiled.
type Platform struct {
	Name   string
	Config *PlatformConfig

	context vars.Context

	sourceRe, javaSourceRe, stlibRe, shlibRe *regexp.Regexp
	zipContentRe, symbolsRe                  *regexp.Regexp
}

func newPlatform(name string, c *PlatformConfig, ctx vars.Context) (*Platform, error) {
	ctx = ctx.Clone()
	for k, v := range c.Env {
		ctx["env."+k] = vars.Str(v)
	}
	p := &Platform{Name: name, Config: c, context: ctx}

	for _, f := range []struct {
		name string
		expr string
		dst  **regexp.Regexp
	}{
		{"sourceRe", c.SourceRe, &p.sourceRe},
		{"javaSourceRe", c.JavaSourceRe, &p.javaSourceRe},
		{"stlibRe", c.StlibRe, &p.stlibRe},
		{"shlibRe", c.ShlibRe, &p.shlibRe},
		{"zipContentPattern", c.ZipContentPattern, &p.zipContentRe},
		{"symbolsPattern", c.SymbolsPattern, &p.symbolsRe},
	} {
		if f.expr == "" {
			continue
		}
		re, err := regexp.Compile(f.expr)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = re
	}
	if p.sourceRe == nil {
		return nil, fmt.Errorf("sourceRe is required")
	}
	if c.CompileCmd == "" {
		return nil, fmt.Errorf("compileCmd is required")
	}
	return p, nil
}

// Context returns a copy of the merged platform context, including
// "env.<NAME>" keys for every environment entry.
func (p *Platform) Context() vars.Context { return p.context.Clone() }

// Env returns a copy of the merged toolchain environment.
func (p *Platform) Env() map[string]string {
	out := make(map[string]string, len(p.Config.Env))
	for k, v := range p.Config.Env {
		out[k] = v
	}
	return out
}

// LinkCommands returns linkCmds, or the single linkCmd.
func (p *Platform) LinkCommands() []string {
	if len(p.Config.LinkCmds) > 0 {
		return append([]string(nil), p.Config.LinkCmds...)
	}
	if p.Config.LinkCmd != "" {
		return []string{p.Config.LinkCmd}
	}
	return nil
}

// IsSource reports whether a file name is a native source file.
func (p *Platform) IsSource(name string) bool { return p.sourceRe.MatchString(name) }

// IsJavaSource reports whether a file name is a Java source file. It is
// false when the platform has no Java step.
func (p *Platform) IsJavaSource(name string) bool {
	return p.javaSourceRe != nil && p.javaSourceRe.MatchString(name)
}

// StaticLibName returns the link name of a static library file, taken from
// the first capture group of stlibRe.
func (p *Platform) StaticLibName(file string) (string, bool) { return libName(p.stlibRe, file) }

// SharedLibName is StaticLibName for shlibRe.
func (p *Platform) SharedLibName(file string) (string, bool) { return libName(p.shlibRe, file) }

// IsOutput reports whether a file in the build directory is part of the
// build result.
func (p *Platform) IsOutput(name string) bool {
	for _, re := range []*regexp.Regexp{p.zipContentRe, p.symbolsRe, p.shlibRe} {
		if re != nil && re.MatchString(name) {
			return true
		}
	}
	return false
}

func libName(re *regexp.Regexp, file string) (string, bool) {
	if re == nil {
		return "", false
	}
	m := re.FindStringSubmatch(file)
	if m == nil {
		return "", false
	}
	if len(m) > 1 {
		return m[1], true
	}
	return m[0], true
}

// LibNames returns the sorted link names of the files matched by re in
// names.
func LibNames(names []string, match func(string) (string, bool)) []string {
	var out []string
	for _, n := range names {
		if l, ok := match(n); ok {
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}
