// Package vars implements the build context: a map from key to either a
// scalar string or an ordered list of strings, plus the rules used to merge
// contexts coming from the SDK, platform, manifests and app manifest.
package vars

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindList:
		return "list"
	default:
		return "null"
	}
}

// Value is a context value: Null, a scalar string or a list of strings.
// The zero Value is Null.
type Value struct {
	kind Kind
	str  string
	list []string
}

// Null is an absent scalar, as produced by a YAML "~" or empty key.
var Null = Value{}

// Str returns a scalar value.
func Str(s string) Value { return Value{kind: KindString, str: s} }

// List returns a list value holding a copy of items.
func List(items ...string) Value {
	l := make([]string, len(items))
	copy(l, items)
	return Value{kind: KindList, list: l}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) IsList() bool { return v.kind == KindList }

// String returns the scalar text. Lists are joined with single spaces so a
// list can be used where a command template expects a scalar.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindList:
		return strings.Join(v.list, " ")
	default:
		return ""
	}
}

// Strings returns a copy of the list items. A scalar yields a one element
// list and Null yields nil.
func (v Value) Strings() []string {
	switch v.kind {
	case KindList:
		out := make([]string, len(v.list))
		copy(out, v.list)
		return out
	case KindString:
		return []string{v.str}
	default:
		return nil
	}
}

// Len is the number of list items, 1 for a scalar and 0 for Null.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindString:
		return 1
	default:
		return 0
	}
}

// Equal reports whether both values have the same kind and contents.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if v.list[i] != o.list[i] {
				return false
			}
		}
	}
	return true
}

// GoString renders the value for debugging and diffs.
func (v Value) GoString() string {
	switch v.kind {
	case KindString:
		return strconv.Quote(v.str)
	case KindList:
		q := make([]string, len(v.list))
		for i, s := range v.list {
			q[i] = strconv.Quote(s)
		}
		return "[" + strings.Join(q, ", ") + "]"
	default:
		return "null"
	}
}

func (v Value) clone() Value {
	if v.kind == KindList {
		return List(v.list...)
	}
	return v
}

// Context maps keys to values. Functions in this package never mutate their
// Context arguments; they return fresh copies.
type Context map[string]Value

// Clone returns a deep copy of c.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v.clone()
	}
	return out
}

// Keys returns the keys of c in sorted order.
func (c Context) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the scalar form of key, or "" when absent.
func (c Context) String(key string) string { return c[key].String() }

// Strings returns the list form of key, or nil when absent.
func (c Context) Strings(key string) []string { return c[key].Strings() }

// Bool interprets a scalar as a boolean. Missing or unparsable values are
// false.
func (c Context) Bool(key string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(c[key].String()))
	return b
}

// With returns a copy of c with key set to v.
func (c Context) With(key string, v Value) Context {
	out := c.Clone()
	out[key] = v.clone()
	return out
}

// Dump renders c one key per line in sorted order. The output is stable, so
// it can be diffed between builds.
func (c Context) Dump() string {
	var b strings.Builder
	for _, k := range c.Keys() {
		fmt.Fprintf(&b, "%s: %#v\n", k, c[k])
	}
	return b.String()
}

// FromAny converts decoded YAML/JSON into a Context. Strings, numbers and
// booleans become scalars, nil becomes Null and a list must hold only
// scalars. Anything else is rejected with a *TypeError.
func FromAny(m map[string]any) (Context, error) {
	out := make(Context, len(m))
	for k, raw := range m {
		v, err := valueOf(k, raw)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func valueOf(key string, raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null, nil
	case []any:
		items := make([]string, 0, len(t))
		for i, e := range t {
			s, ok := scalarText(e)
			if !ok {
				return Null, &TypeError{Key: key, Index: i, Got: fmt.Sprintf("%T", e)}
			}
			items = append(items, s)
		}
		return Value{kind: KindList, list: items}, nil
	case []string:
		return List(t...), nil
	default:
		s, ok := scalarText(raw)
		if !ok {
			return Null, &TypeError{Key: key, Index: -1, Got: fmt.Sprintf("%T", raw)}
		}
		return Str(s), nil
	}
}

func scalarText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return "", false
	}
}

// Nested converts c into the nested map form expected by the template
// engine: "ext.includes" becomes {"ext": {"includes": ...}}. Lists stay
// []string. A dotted key that collides with a scalar is also kept verbatim
// at the top level.
func (c Context) Nested() map[string]any {
	out := make(map[string]any, len(c))
	for _, k := range c.Keys() {
		v := c[k]
		var val any
		switch v.kind {
		case KindList:
			val = v.Strings()
		case KindString:
			val = v.str
		default:
			continue
		}
		out[k] = val
		if !strings.Contains(k, ".") {
			continue
		}
		parts := strings.Split(k, ".")
		m := out
		ok := true
		for _, p := range parts[:len(parts)-1] {
			next, exists := m[p]
			if !exists {
				nm := map[string]any{}
				m[p] = nm
				m = nm
				continue
			}
			nm, isMap := next.(map[string]any)
			if !isMap {
				ok = false
				break
			}
			m = nm
		}
		if ok {
			m[parts[len(parts)-1]] = val
		}
	}
	return out
}
