package pods

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ExpandBraces expands shell style braces: "core/{A,B}/file.h" becomes
// "core/A/file.h" and "core/B/file.h". Nested braces expand outer to
// inner and alternatives keep their listed order. A string without a
// balanced brace pair is returned as the only element.
func ExpandBraces(s string) []string {
	open := strings.IndexByte(s, '{')
	if open < 0 {
		return []string{s}
	}
	depth, end := 0, -1
	var cuts []int
	for i := open; i < len(s) && end < 0; i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i
			}
		case ',':
			if depth == 1 {
				cuts = append(cuts, i)
			}
		}
	}
	if end < 0 {
		return []string{s}
	}
	prefix, suffix := s[:open], s[end+1:]
	start := open + 1
	var out []string
	for _, c := range append(cuts, end) {
		out = append(out, ExpandBraces(prefix+s[start:c]+suffix)...)
		start = c + 1
	}
	return out
}

// ExpandAll applies ExpandBraces to every pattern.
func ExpandAll(patterns []string) []string {
	var out []string
	for _, p := range patterns {
		out = append(out, ExpandBraces(p)...)
	}
	return out
}

// Glob returns the absolute paths under root matching pattern, sorted.
// Ruby treats "foo/**/*.h" as also matching "foo/*.h", so the pattern is
// tried a second time with the first "/**/" collapsed to "/". Matching
// directories, such as bundles, are included.
func Glob(root, pattern string) ([]string, error) {
	pattern = strings.TrimPrefix(filepath.ToSlash(pattern), "./")
	patterns := []string{pattern}
	if strings.Contains(pattern, "/**/") {
		patterns = append(patterns, strings.Replace(pattern, "/**/", "/", 1))
	}
	fsys := os.DirFS(root)
	seen := make(map[string]bool)
	var out []string
	for _, p := range patterns {
		matches, err := doublestar.Glob(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("glob %q in %s: %w", pattern, root, err)
		}
		for _, m := range matches {
			abs := filepath.Join(root, filepath.FromSlash(m))
			if !seen[abs] {
				seen[abs] = true
				out = append(out, abs)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// GlobAll expands braces in every pattern and globs the results.
func GlobAll(root string, patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, p := range ExpandAll(patterns) {
		matches, err := Glob(root, p)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out, nil
}
