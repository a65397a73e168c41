// Package tmpl renders the logic-less command templates used by SDK
// platform configs against a vars.Context.
package tmpl

import (
	"fmt"
	"strings"

	"github.com/cbroglie/mustache"

	"github.com/meganerd/extender/internal/vars"
)

func init() {
	// A placeholder left unresolved would end up verbatim in a command line.
	mustache.AllowMissingVariables = false
}

// TemplateError reports a template that failed to parse or referenced a
// variable missing from the context.
type TemplateError struct {
	Template string
	Err      error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %q: %v", abbreviate(e.Template, 120), e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// list is rendered space-joined by "{{key}}" and iterated by
// "{{#key}}...{{/key}}" sections.
type list []string

func (l list) String() string { return strings.Join(l, " ") }

// Render substitutes the variables in template from ctx. Dotted names such
// as "{{ext.includes}}" resolve against dotted context keys. Values are
// inserted verbatim.
func Render(template string, ctx vars.Context) (string, error) {
	if !strings.Contains(template, "{{") {
		return template, nil
	}
	return render(template, data(ctx))
}

// RenderList renders every element of templates against ctx.
func RenderList(templates []string, ctx vars.Context) ([]string, error) {
	d := data(ctx)
	out := make([]string, 0, len(templates))
	for _, t := range templates {
		s, err := render(t, d)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// RenderContext expands every scalar and list item of ctx against ctx
// itself in a single pass. A value that expands to another placeholder is
// not expanded again. A value referencing a key missing from ctx fails with
// a *TemplateError naming the key.
func RenderContext(ctx vars.Context) (vars.Context, error) {
	d := data(ctx)
	out := make(vars.Context, len(ctx))
	for _, k := range ctx.Keys() {
		v := ctx[k]
		switch v.Kind() {
		case vars.KindString:
			s, err := renderValue(k, v.String(), d)
			if err != nil {
				return nil, err
			}
			out[k] = vars.Str(s)
		case vars.KindList:
			items := v.Strings()
			for i, s := range items {
				r, err := renderValue(k, s, d)
				if err != nil {
					return nil, err
				}
				items[i] = r
			}
			out[k] = vars.List(items...)
		default:
			out[k] = v
		}
	}
	return out, nil
}

func renderValue(key, s string, d map[string]any) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	r, err := render(s, d)
	if err != nil {
		return "", fmt.Errorf("context key %s: %w", key, err)
	}
	return r, nil
}

func render(template string, d map[string]any) (string, error) {
	t, err := mustache.ParseStringRaw(template, true)
	if err != nil {
		return "", &TemplateError{Template: template, Err: err}
	}
	s, err := t.Render(d)
	if err != nil {
		return "", &TemplateError{Template: template, Err: err}
	}
	return s, nil
}

func data(ctx vars.Context) map[string]any {
	n := ctx.Nested()
	wrapLists(n)
	return n
}

func wrapLists(m map[string]any) {
	for k, v := range m {
		switch t := v.(type) {
		case []string:
			m[k] = list(t)
		case map[string]any:
			wrapLists(t)
		}
	}
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
