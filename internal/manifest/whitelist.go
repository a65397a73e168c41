package manifest

import (
	"fmt"
	"regexp"

	"github.com/meganerd/extender/internal/tmpl"
	"github.com/meganerd/extender/internal/vars"
)

// Fragments available to whitelist patterns as "{{arg}}", "{{number}}",
// and so on.
const (
	ArgRe               = "[a-zA-Z][a-zA-Z0-9-_]+"
	CommaSeparatedArgRe = "[a-zA-Z][a-zA-Z0-9-_]+"
	NumberRe            = "[0-9]+"
	WarningRe           = "[a-zA-Z][a-zA-Z0-9-_+]+"
)

// DefineRe matches a C preprocessor define, with or without a value.
const DefineRe = "[A-Za-z]+[A-Za-z0-9_]+=?[A-Za-z0-9_]+"

// WhitelistConfig expands pattern templates against a fixed vocabulary
// and compiles them into anchored regular expressions.
type WhitelistConfig struct {
	Context vars.Context
}

// DefaultWhitelist returns the standard vocabulary.
func DefaultWhitelist() *WhitelistConfig {
	return &WhitelistConfig{Context: vars.Context{
		"arg":                 vars.Str(ArgRe),
		"comma_separated_arg": vars.Str(CommaSeparatedArgRe),
		"number":              vars.Str(NumberRe),
		"warning":             vars.Str(WarningRe),
	}}
}

// Anchor compiles re so that it only matches whole strings.
func Anchor(re string) (*regexp.Regexp, error) {
	return regexp.Compile(fmt.Sprintf("^(%s)$", re))
}

// Compile expands every pattern and anchors it.
func (w *WhitelistConfig) Compile(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		expanded, err := tmpl.Render(p, w.Context)
		if err != nil {
			return nil, fmt.Errorf("whitelist pattern %q: %w", p, err)
		}
		re, err := Anchor(expanded)
		if err != nil {
			return nil, fmt.Errorf("whitelist pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// firstUnmatched returns the first value not fully matched by any pattern.
func firstUnmatched(patterns []*regexp.Regexp, values []string) (string, bool) {
	for _, s := range values {
		matched := false
		for _, p := range patterns {
			if p.MatchString(s) {
				matched = true
				break
			}
		}
		if !matched {
			return s, true
		}
	}
	return "", false
}
