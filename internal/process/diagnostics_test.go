package process

import (
	"strings"
	"testing"
)

func TestParseDiagnostics(t *testing.T) {
	log := `
$ clang++ -c src/a.cpp -o build/a_0.o
src/a.cpp:12:5: error: use of undeclared identifier 'foo'
src/a.cpp:12:5: error: use of undeclared identifier 'foo'
/job/upload/ext/src/b.mm:3:1: warning: unused variable 'x'
include/c.h:7: fatal error: 'missing.h' file not found
src/Main.java:4: error: cannot find symbol
1 error generated.
`
	diags := ParseDiagnostics(log)
	if len(diags) != 4 {
		t.Fatalf("want 4 diagnostics, got %d: %+v", len(diags), diags)
	}
	if diags[0].File != "src/a.cpp" || diags[0].Line != 12 || diags[0].Severity != "error" {
		t.Errorf("unexpected first diagnostic: %+v", diags[0])
	}
	if diags[2].Severity != "fatal error" {
		t.Errorf("want fatal error, got %q", diags[2].Severity)
	}
	if diags[3].File != "src/Main.java" || diags[3].Message != "cannot find symbol" {
		t.Errorf("unexpected javac diagnostic: %+v", diags[3])
	}

	errs := Errors(diags)
	if len(errs) != 3 {
		t.Errorf("want 3 errors, got %d", len(errs))
	}

	rel := RelativeTo(diags, "/job/upload")
	if rel[1].File != "ext/src/b.mm" {
		t.Errorf("want relative path, got %q", rel[1].File)
	}
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name string
		log  string
		n    int
		want string
	}{
		{"short log unchanged", "a\nb", 5, "a\nb"},
		{"truncated", "a\nb\nc\nd", 2, "a\nb\n... (2 lines truncated)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summary(tt.log, tt.n)
			if got != tt.want {
				t.Errorf("want %q, got %q", tt.want, got)
			}
		})
	}
	if strings.Contains(Summary("\n\nx\n\n", 1), "truncated") {
		t.Error("surrounding blank lines must not count")
	}
}
