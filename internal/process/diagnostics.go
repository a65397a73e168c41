package process

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Diagnostic is one compiler error or warning with file attribution.
type Diagnostic struct {
	File     string
	Line     int
	Severity string // "error", "warning", "fatal error" or "note"
	Message  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d: %s: %s", d.File, d.Line, d.Severity, d.Message)
}

// clangPattern matches clang/gcc output: "path/file.cpp:line:col: error: message".
// The column is optional.
var clangPattern = regexp.MustCompile(`^([^:\s][^:]*):(\d+)(?::\d+)?:\s+(fatal error|error|warning|note):\s+(.+)$`)

// javacPattern matches javac output: "path/File.java:line: error: message".
var javacPattern = regexp.MustCompile(`^([^:\s][^:]*\.java):(\d+):\s+(error|warning):\s+(.+)$`)

// ParseDiagnostics extracts file-attributed diagnostics from a process log.
// Duplicates are dropped and the original order is kept.
func ParseDiagnostics(log string) []Diagnostic {
	var diags []Diagnostic
	seen := map[string]bool{}

	for _, line := range strings.Split(log, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "$ ") {
			continue
		}
		m := javacPattern.FindStringSubmatch(line)
		if m == nil {
			m = clangPattern.FindStringSubmatch(line)
		}
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[2])
		d := Diagnostic{File: filepath.Clean(m[1]), Line: n, Severity: m[3], Message: m[4]}

		key := d.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		diags = append(diags, d)
	}
	return diags
}

// Errors filters diags down to errors and fatal errors.
func Errors(diags []Diagnostic) []Diagnostic {
	var out []Diagnostic
	for _, d := range diags {
		if d.Severity == "error" || d.Severity == "fatal error" {
			out = append(out, d)
		}
	}
	return out
}

// RelativeTo rewrites absolute diagnostic paths below dir as relative paths,
// so job directories do not leak into what clients see.
func RelativeTo(diags []Diagnostic, dir string) []Diagnostic {
	out := make([]Diagnostic, len(diags))
	for i, d := range diags {
		if filepath.IsAbs(d.File) {
			if r, err := filepath.Rel(dir, d.File); err == nil && !strings.HasPrefix(r, "..") {
				d.File = r
			}
		}
		out[i] = d
	}
	return out
}

// Summary returns the first n lines of log as a brief display string.
func Summary(log string, n int) string {
	lines := strings.Split(strings.TrimSpace(log), "\n")
	if len(lines) > n {
		total := len(lines)
		lines = lines[:n]
		lines = append(lines, fmt.Sprintf("... (%d lines truncated)", total-n))
	}
	return strings.Join(lines, "\n")
}
