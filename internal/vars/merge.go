package vars

import (
	"fmt"
	"regexp"
	"strings"
)

// ReplaceSuffix marks an overlay list that replaces the base list instead
// of being unioned with it, e.g. "flags_replace".
const ReplaceSuffix = "_replace"

// TypeMismatchError is returned when both sides of a merge hold the same
// key with different kinds.
type TypeMismatchError struct {
	Key  string
	Want Kind
	Got  Kind
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("wrong context variable type for %s: expected %s, got %s", e.Key, e.Want, e.Got)
}

// TypeError is returned when a decoded value is neither a string nor a list
// of strings. Index is the offending list position, or -1 for the value
// itself.
type TypeError struct {
	Key   string
	Index int
	Got   string
}

func (e *TypeError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("context variables only support lists of strings: %s[%d] has type %s", e.Key, e.Index, e.Got)
	}
	return fmt.Sprintf("context variables only support strings or lists of strings: %s has type %s", e.Key, e.Got)
}

// Merge returns a copy of base with overlay applied:
//
//   - keys missing from base are added as-is
//   - list + list is base followed by the novel overlay items
//   - scalar + scalar is replaced by the overlay value
//   - Null + Null removes the key, Null on either side keeps the other side
//   - "<key>_replace" in overlay replaces the base list outright
//   - a list on one side and a scalar on the other is a *TypeMismatchError
func Merge(base, overlay Context) (Context, error) {
	out := make(Context, len(base)+len(overlay))
	for k, v := range base {
		out[strings.TrimSuffix(k, ReplaceSuffix)] = v.clone()
	}

	// Sorted so that "x_replace" is applied after "x" when both are present.
	for _, k := range overlay.Keys() {
		ov := overlay[k]
		key, replace := strings.CutSuffix(k, ReplaceSuffix)

		bv, exists := out[key]
		if !exists {
			if !ov.IsNull() {
				out[key] = ov.clone()
			}
			continue
		}

		switch {
		case bv.IsNull() && ov.IsNull():
			delete(out, key)
		case ov.IsNull():
			// keep base
		case bv.IsNull():
			out[key] = ov.clone()
		case bv.kind != ov.kind:
			return nil, &TypeMismatchError{Key: k, Want: bv.kind, Got: ov.kind}
		case ov.kind == KindList && !replace:
			out[key] = Value{kind: KindList, list: Union(bv.list, ov.list)}
		default:
			out[key] = ov.clone()
		}
	}
	return out, nil
}

// MergeAll folds Merge over ctxs from left to right.
func MergeAll(ctxs ...Context) (Context, error) {
	out := Context{}
	for _, c := range ctxs {
		var err error
		if out, err = Merge(out, c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// EmptyLike returns a context with the same keys as c where scalars are ""
// and lists are empty. It seeds accumulators that are folded with Merge.
func EmptyLike(c Context) Context {
	out := make(Context, len(c))
	for k, v := range c {
		switch v.kind {
		case KindList:
			out[k] = List()
		case KindString:
			out[k] = Str("")
		default:
			out[k] = Null
		}
	}
	return out
}

// Union returns a followed by the items of b not already present,
// deduplicated in first-occurrence order.
func Union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

type pruneRule struct {
	target, include, exclude string
}

var pruneRules = []pruneRule{
	{"libs", "includeLibs", "excludeLibs"},
	{"engineLibs", "includeLibs", "excludeLibs"},
	{"engineJsLibs", "includeJsLibs", "excludeJsLibs"},
	{"objectFiles", "includeObjectFiles", "excludeObjectFiles"},
	{"dynamicLibs", "includeDynamicLibs", "excludeDynamicLibs"},
	{"symbols", "includeSymbols", "excludeSymbols"},
	{"jars", "includeJars", "excludeJars"},
	{"frameworks", "includeFrameworks", "excludeFrameworks"},
}

// MergeContexts merges overlay into base and then prunes the target lists
// using the include/exclude lists declared by overlay. The include/exclude
// keys themselves are dropped from the result.
func MergeContexts(base, overlay Context) (Context, error) {
	out, err := Merge(base, overlay)
	if err != nil {
		return nil, err
	}
	for _, r := range pruneRules {
		delete(out, r.include)
		delete(out, r.exclude)
		items := out[r.target]
		if items.Len() == 0 {
			continue
		}
		if items.kind != KindList {
			return nil, &TypeMismatchError{Key: r.target, Want: KindList, Got: items.kind}
		}
		out[r.target] = List(PruneItems(items.list, overlay.Strings(r.include), overlay.Strings(r.exclude))...)
	}
	return out, nil
}

// PruneItems removes the items matching any exclude expression and then
// re-appends the items matching any include expression. Expressions match
// either literally or as whole-string regular expressions. Template
// placeholders such as "{{platform}}" inside an expression are matched
// literally.
func PruneItems(items, include, exclude []string) []string {
	inc := matchItems(items, include, true)
	out := matchItems(items, exclude, false)
	seen := make(map[string]bool, len(out))
	for _, s := range out {
		seen[s] = true
	}
	for _, s := range inc {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func matchItems(items, expressions []string, keep bool) []string {
	literal := make(map[string]bool, len(expressions))
	var patterns []*regexp.Regexp
	for _, e := range expressions {
		literal[e] = true
		if re, err := regexp.Compile("^(?:" + quotePlaceholders(e) + ")$"); err == nil {
			patterns = append(patterns, re)
		}
	}
	out := []string{}
	for _, item := range items {
		matched := literal[item]
		for _, re := range patterns {
			if matched {
				break
			}
			matched = re.MatchString(item)
		}
		if matched == keep {
			out = append(out, item)
		}
	}
	return out
}

// quotePlaceholders escapes every "{{...}}" section of expr so the rest can
// be compiled as a regular expression.
func quotePlaceholders(expr string) string {
	var b strings.Builder
	for {
		begin := strings.Index(expr, "{{")
		if begin < 0 {
			b.WriteString(expr)
			return b.String()
		}
		end := strings.Index(expr[begin+2:], "}}")
		if end < 0 {
			b.WriteString(expr)
			return b.String()
		}
		end += begin + 4
		b.WriteString(expr[:begin])
		b.WriteString(regexp.QuoteMeta(expr[begin:end]))
		expr = expr[end:]
	}
}
