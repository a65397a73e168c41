package pods

import (
	"reflect"
	"testing"
)

const testLockfile = `PODS:
  - FirebaseAnalytics (8.13.0):
    - FirebaseAnalytics/AdIdSupport (= 8.13.0)
    - FirebaseCore (~> 8.0)
  - FirebaseAnalytics/AdIdSupport (8.13.0):
    - FirebaseCore (~> 8.0)
    - GoogleUtilities/Environment (~> 7.7)
  - FirebaseCore (8.13.0):
    - GoogleUtilities/Environment (~> 7.7)
  - GoogleUtilities/Environment (7.10.0)

DEPENDENCIES:
  - FirebaseAnalytics (= 8.13.0)

COCOAPODS: 1.12.1
`

func TestParseLockfile(t *testing.T) {
	l, err := ParseLockfile([]byte(testLockfile))
	if err != nil {
		t.Fatal(err)
	}
	if len(l.Entries) != 4 {
		t.Fatalf("want 4 entries, got %d", len(l.Entries))
	}
	if v, ok := l.Version("GoogleUtilities"); !ok || v != "7.10.0" {
		t.Errorf("want version of root pod from subspec entry, got %q", v)
	}
	if v, _ := l.Version("FirebaseAnalytics"); v != "8.13.0" {
		t.Errorf("want 8.13.0, got %q", v)
	}
	want := []string{"FirebaseCore", "GoogleUtilities/Environment"}
	if got := l.Entries[1].Deps; !reflect.DeepEqual(got, want) {
		t.Errorf("want deps %q, got %q", want, got)
	}
}

func TestInstallOrder(t *testing.T) {
	l, err := ParseLockfile([]byte(testLockfile))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"GoogleUtilities/Environment",
		"FirebaseCore",
		"FirebaseAnalytics/AdIdSupport",
		"FirebaseAnalytics",
	}
	if got := l.InstallOrder(); !reflect.DeepEqual(got, want) {
		t.Errorf("want %q, got %q", want, got)
	}
}

func TestParseLockfileRejectsGarbage(t *testing.T) {
	if _, err := ParseLockfile([]byte("PODS: [1, 2")); err == nil {
		t.Error("want yaml error")
	}
	if _, err := ParseLockfile([]byte("PODS:\n  - [a, b]\n")); err == nil {
		t.Error("want error for nested list entry")
	}
}
