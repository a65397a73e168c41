package manifest

import (
	"fmt"
	"regexp"

	"github.com/meganerd/extender/internal/vars"
)

// ValidationError names the extension, the context field and the value that
// failed validation. Kind is empty when the field name itself is unknown.
type ValidationError struct {
	Extension string
	Field     string
	Kind      string
	Value     string
}

func (e *ValidationError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("manifest context variable unsupported in '%s': %s", e.Extension, e.Field)
	}
	return fmt.Sprintf("invalid %s in extension '%s' - '%s': '%s'", e.Kind, e.Extension, e.Field, e.Value)
}

type family int

const (
	familyDefines family = iota
	familyLibs
	familyFlags
	familySymbols
	familySkip
)

var familyNames = map[family]string{
	familyDefines: "define",
	familyLibs:    "lib",
	familyFlags:   "flag",
	familySymbols: "symbol",
}

// fieldFamilies is the closed set of context fields an extension manifest
// may declare. Fields mapped to familySkip are accepted without checks.
var fieldFamilies = map[string]family{
	"defines":        familyDefines,
	"libs":           familyLibs,
	"dynamicLibs":    familyLibs,
	"engineLibs":     familyLibs,
	"frameworks":     familyLibs,
	"weakFrameworks": familyLibs,
	"flags":          familyFlags,
	"linkFlags":      familyFlags,
	"symbols":        familySymbols,

	"excludeLibs":    familySkip,
	"excludeJars":    familySkip,
	"excludeJsLibs":  familySkip,
	"excludeSymbols": familySkip,

	// deprecated, accepted and ignored
	"aaptExtraPackages":  familySkip,
	"excludeDynamicLibs": familySkip,
}

// Validator checks extension contexts against whitelist patterns before
// any value reaches a command line.
type Validator struct {
	families map[family][]*regexp.Regexp
}

// NewValidator compiles the platform's allowed libs, flags and symbols.
// Defines use DefineRe. Libs and frameworks must match one of allowedLibs.
func NewValidator(w *WhitelistConfig, allowedLibs, allowedFlags, allowedSymbols []string) (*Validator, error) {
	if w == nil {
		w = DefaultWhitelist()
	}
	defines, err := Anchor(DefineRe)
	if err != nil {
		return nil, err
	}
	libs, err := w.Compile(allowedLibs)
	if err != nil {
		return nil, err
	}
	flags, err := w.Compile(allowedFlags)
	if err != nil {
		return nil, err
	}
	symbols, err := w.Compile(allowedSymbols)
	if err != nil {
		return nil, err
	}
	return &Validator{families: map[family][]*regexp.Regexp{
		familyDefines: {defines},
		familyLibs:    libs,
		familyFlags:   flags,
		familySymbols: symbols,
	}}, nil
}

// Validate checks every field of ctx. Fields are visited in sorted order
// and the first failure is returned.
func (v *Validator) Validate(extension string, ctx vars.Context) error {
	for _, k := range ctx.Keys() {
		fam, ok := fieldFamilies[k]
		if !ok {
			return &ValidationError{Extension: extension, Field: k}
		}
		if fam == familySkip {
			continue
		}
		if s, bad := firstUnmatched(v.families[fam], ctx[k].Strings()); bad {
			return &ValidationError{Extension: extension, Field: k, Kind: familyNames[fam], Value: s}
		}
	}
	return nil
}
